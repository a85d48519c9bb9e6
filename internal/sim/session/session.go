// Package session is the type-erased face of the engine used by the tools.
//
// A Session picks the rule, topology and simulator variant from a run
// config and speaks in Frames and Deltas of encoded cells. Generation
// numbers continue from the start frame's generation, so a run resumed from
// a snapshot keeps its numbering.
package session

import (
	"context"
	"fmt"
	"log"

	"cellsim.ai/internal/config"
	"cellsim.ai/internal/sim/pattern"
	"cellsim.ai/internal/sim/simulator"
)

// Info describes a running session.
type Info struct {
	Rule       string `json:"rule"`
	Topology   string `json:"topology"`
	Mode       string `json:"mode"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	ChunkExp   uint   `json:"chunk_exp,omitempty"`
	Base       uint64 `json:"base_generation"`
	Generation uint64 `json:"highest_generation"`
}

type Session struct {
	cfg  config.Config
	base uint64
	eng  Engine
}

// New starts a session at start. logger may be nil.
func New(cfg config.Config, start Frame, logger *log.Logger) (*Session, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if start.Rule != "" && start.Rule != cfg.Rule {
		return nil, fmt.Errorf("start frame is %q, config wants %q", start.Rule, cfg.Rule)
	}
	if start.Topology != "" && start.Topology != cfg.Topology {
		return nil, fmt.Errorf("start frame is %s, config wants %s", start.Topology, cfg.Topology)
	}
	f, err := lookup(cfg.Rule)
	if err != nil {
		return nil, err
	}
	backend, err := simulator.ParseBackend(cfg.Backend)
	if err != nil {
		return nil, err
	}
	eng, err := f(cfg, start.Cells, simulator.Options{Backend: backend, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", cfg.Rule, err)
	}
	return &Session{cfg: cfg, base: start.Generation, eng: eng}, nil
}

// StartFrame builds generation 0 from the config's pattern or inline
// pattern text, placed at (pattern_x, pattern_y). Without either it returns
// an empty frame.
func StartFrame(cfg config.Config) (Frame, error) {
	cfg.Normalize()
	f := Frame{Rule: cfg.Rule, Topology: cfg.Topology, Width: cfg.Width, Height: cfg.Height}
	if cfg.Topology == config.TopologyInfinite {
		f.ChunkExp = cfg.ChunkExp
	}
	var (
		p   pattern.Pattern
		err error
	)
	switch {
	case cfg.Pattern != "":
		p, err = pattern.Load(cfg.Pattern)
	case cfg.PatternText != "":
		p, err = pattern.ParseString(cfg.PatternText)
	default:
		f.Cells = []Cell{}
		return f, nil
	}
	if err != nil {
		return Frame{}, err
	}
	f.Cells = make([]Cell, 0, len(p.Cells))
	for _, c := range p.Cells {
		f.Cells = append(f.Cells, Cell{X: int64(c.X) + cfg.PatternX, Y: int64(c.Y) + cfg.PatternY, Code: c.Code})
	}
	SortCells(f.Cells)
	return f, nil
}

func (s *Session) Config() config.Config { return s.cfg }

// Info reports the session shape and its highest generation.
func (s *Session) Info() Info {
	info := Info{
		Rule:       s.cfg.Rule,
		Topology:   s.cfg.Topology,
		Mode:       s.cfg.Mode,
		Base:       s.base,
		Generation: s.HighestGeneration(),
	}
	if s.cfg.Topology == config.TopologyBounded {
		info.Width, info.Height = s.cfg.Width, s.cfg.Height
	} else {
		info.ChunkExp = s.cfg.ChunkExp
	}
	return info
}

// Run schedules n more generations.
func (s *Session) Run(n uint64) { s.eng.Run(n) }

// BaseGeneration is the generation of the start frame.
func (s *Session) BaseGeneration() uint64 { return s.base }

func (s *Session) HighestGeneration() uint64 { return s.base + s.eng.HighestGeneration() }

// Frame returns generation g. It reports false for generations before the
// start frame or not scheduled yet. In async mode it waits for the compute
// worker.
func (s *Session) Frame(ctx context.Context, g uint64) (Frame, bool, error) {
	if g < s.base {
		return Frame{}, false, nil
	}
	cells, ok, err := s.eng.Cells(ctx, g-s.base)
	if err != nil || !ok {
		return Frame{}, false, err
	}
	f := Frame{
		Generation: g,
		Rule:       s.cfg.Rule,
		Topology:   s.cfg.Topology,
		Cells:      cells,
	}
	if s.cfg.Topology == config.TopologyBounded {
		f.Width, f.Height = s.cfg.Width, s.cfg.Height
	} else {
		f.ChunkExp = s.cfg.ChunkExp
	}
	return f, true, nil
}

// Delta returns the cells that changed from generation from to generation
// to. from must not exceed to.
func (s *Session) Delta(ctx context.Context, from, to uint64) (Delta, bool, error) {
	if from > to {
		return Delta{}, false, fmt.Errorf("delta from %d to earlier generation %d", from, to)
	}
	if from < s.base {
		return Delta{}, false, nil
	}
	changes, ok, err := s.eng.Changes(ctx, from-s.base, to-s.base)
	if err != nil || !ok {
		return Delta{}, false, err
	}
	return Delta{From: from, To: to, Changes: changes}, true, nil
}

// Close stops the simulator.
func (s *Session) Close() { s.eng.Close() }
