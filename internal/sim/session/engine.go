package session

import (
	"context"
	"fmt"

	"cellsim.ai/internal/config"
	"cellsim.ai/internal/sim/chunkgrid"
	"cellsim.ai/internal/sim/grid"
	"cellsim.ai/internal/sim/simulator"
	"cellsim.ai/internal/sim/universe"
)

// Engine is a simulator with its universe type erased. Generations are
// counted from the start frame.
type Engine interface {
	Run(n uint64)
	HighestGeneration() uint64
	Cells(ctx context.Context, g uint64) ([]Cell, bool, error)
	Changes(ctx context.Context, from, to uint64) ([]Cell, bool, error)
	Close()
}

// Factory builds an engine for one rule. start holds the non-quiescent cells
// of generation 0.
type Factory func(cfg config.Config, start []Cell, opts simulator.Options) (Engine, error)

// RuleOf returns the factory for cell type C on either topology.
func RuleOf[C universe.Cell[C]]() Factory {
	return func(cfg config.Config, start []Cell, opts simulator.Options) (Engine, error) {
		switch cfg.Topology {
		case config.TopologyBounded:
			g, err := boundedStart[C](cfg.Width, cfg.Height, start)
			if err != nil {
				return nil, err
			}
			sim, err := newSimulator[*grid.Grid[C], grid.Diff[C]](cfg, g, opts)
			if err != nil {
				return nil, err
			}
			return &boundedEngine[C]{sim: sim}, nil
		case config.TopologyInfinite:
			g, err := infiniteStart[C](cfg.ChunkExp, start)
			if err != nil {
				return nil, err
			}
			sim, err := newSimulator[*chunkgrid.Grid[C], chunkgrid.Diff[C]](cfg, g, opts)
			if err != nil {
				return nil, err
			}
			return &infiniteEngine[C]{sim: sim}, nil
		default:
			return nil, fmt.Errorf("unknown topology %q", cfg.Topology)
		}
	}
}

func newSimulator[U universe.Universe[U, D], D universe.Delta[U, D]](cfg config.Config, start U, opts simulator.Options) (simulator.Simulator[U, D], error) {
	switch cfg.Mode {
	case config.ModeSync:
		return simulator.NewSync[U, D](start, cfg.CheckpointEvery, opts)
	case config.ModeAsync:
		return simulator.NewAsync[U, D](start, cfg.CheckpointEvery, opts)
	default:
		return nil, fmt.Errorf("unknown mode %q", cfg.Mode)
	}
}

func decode[C universe.Cell[C]](c Cell) (C, error) {
	var zero C
	v, err := zero.Decode(c.Code)
	if err != nil {
		return zero, fmt.Errorf("cell (%d,%d): %w", c.X, c.Y, err)
	}
	return v, nil
}

func boundedStart[C universe.Cell[C]](w, h int, start []Cell) (*grid.Grid[C], error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("invalid board size %dx%d", w, h)
	}
	g := grid.New[C](w, h)
	for _, c := range start {
		if c.X < 0 || c.Y < 0 || c.X >= int64(w) || c.Y >= int64(h) {
			return nil, fmt.Errorf("cell (%d,%d) outside %dx%d board", c.X, c.Y, w, h)
		}
		v, err := decode[C](c)
		if err != nil {
			return nil, err
		}
		g.Set(grid.Loc{X: uint(c.X), Y: uint(c.Y)}, v)
	}
	return g, nil
}

func infiniteStart[C universe.Cell[C]](k uint, start []Cell) (*chunkgrid.Grid[C], error) {
	if k > chunkgrid.MaxChunkExp {
		return nil, fmt.Errorf("chunk exponent %d above %d", k, chunkgrid.MaxChunkExp)
	}
	if b := universe.BoundaryOf[C](); 1<<k <= b {
		return nil, fmt.Errorf("chunk side %d must exceed neighborhood boundary %d", 1<<k, b)
	}
	g := chunkgrid.New[C](k)
	for _, c := range start {
		v, err := decode[C](c)
		if err != nil {
			return nil, err
		}
		g.Set(chunkgrid.Loc{X: c.X, Y: c.Y}, v)
	}
	return g, nil
}

type boundedEngine[C universe.Cell[C]] struct {
	sim simulator.Simulator[*grid.Grid[C], grid.Diff[C]]
}

func (e *boundedEngine[C]) Run(n uint64)              { e.sim.Run(n) }
func (e *boundedEngine[C]) HighestGeneration() uint64 { return e.sim.HighestGeneration() }
func (e *boundedEngine[C]) Close()                    { e.sim.Close() }

func (e *boundedEngine[C]) Cells(ctx context.Context, g uint64) ([]Cell, bool, error) {
	u, ok, err := e.sim.Generation(ctx, g)
	if err != nil || !ok {
		return nil, ok, err
	}
	cells := make([]Cell, 0, u.Population())
	u.Each(func(l grid.Loc, c C) {
		cells = append(cells, Cell{X: int64(l.X), Y: int64(l.Y), Code: c.Encode()})
	})
	return cells, true, nil
}

func (e *boundedEngine[C]) Changes(ctx context.Context, from, to uint64) ([]Cell, bool, error) {
	d, ok, err := e.sim.Difference(ctx, from, to)
	if err != nil || !ok {
		return nil, ok, err
	}
	changes := d.Changes()
	out := make([]Cell, 0, len(changes))
	for _, ch := range changes {
		out = append(out, Cell{X: int64(ch.Loc.X), Y: int64(ch.Loc.Y), Code: ch.Cell.Encode()})
	}
	return out, true, nil
}

type infiniteEngine[C universe.Cell[C]] struct {
	sim simulator.Simulator[*chunkgrid.Grid[C], chunkgrid.Diff[C]]
}

func (e *infiniteEngine[C]) Run(n uint64)              { e.sim.Run(n) }
func (e *infiniteEngine[C]) HighestGeneration() uint64 { return e.sim.HighestGeneration() }
func (e *infiniteEngine[C]) Close()                    { e.sim.Close() }

func (e *infiniteEngine[C]) Cells(ctx context.Context, g uint64) ([]Cell, bool, error) {
	u, ok, err := e.sim.Generation(ctx, g)
	if err != nil || !ok {
		return nil, ok, err
	}
	return entries(u.Cells()), true, nil
}

func (e *infiniteEngine[C]) Changes(ctx context.Context, from, to uint64) ([]Cell, bool, error) {
	d, ok, err := e.sim.Difference(ctx, from, to)
	if err != nil || !ok {
		return nil, ok, err
	}
	return entries(d.Changes()), true, nil
}

func entries[C universe.Cell[C]](es []chunkgrid.Entry[C]) []Cell {
	out := make([]Cell, 0, len(es))
	for _, e := range es {
		out = append(out, Cell{X: e.Loc.X, Y: e.Loc.Y, Code: e.Cell.Encode()})
	}
	return out
}
