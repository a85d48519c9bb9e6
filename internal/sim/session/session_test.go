package session_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"cellsim.ai/internal/config"
	"cellsim.ai/internal/sim/session"
)

const blinker = ".O.\n.O.\n.O.\n"

func boundedConfig(mode string) config.Config {
	cfg := config.Defaults()
	cfg.Width, cfg.Height = 5, 5
	cfg.Mode = mode
	cfg.CheckpointEvery = 3
	cfg.PatternText = blinker
	cfg.PatternX, cfg.PatternY = 1, 1
	return cfg
}

func open(t *testing.T, cfg config.Config) *session.Session {
	t.Helper()
	start, err := session.StartFrame(cfg)
	if err != nil {
		t.Fatalf("StartFrame: %v", err)
	}
	s, err := session.New(cfg, start, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func ctxT(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestStartFrame_PlacesPattern(t *testing.T) {
	f, err := session.StartFrame(boundedConfig(config.ModeSync))
	if err != nil {
		t.Fatalf("StartFrame: %v", err)
	}
	want := []session.Cell{{X: 2, Y: 1, Code: 1}, {X: 2, Y: 2, Code: 1}, {X: 2, Y: 3, Code: 1}}
	if len(f.Cells) != len(want) {
		t.Fatalf("cells = %v", f.Cells)
	}
	for i := range want {
		if f.Cells[i] != want[i] {
			t.Fatalf("cell %d = %+v want %+v", i, f.Cells[i], want[i])
		}
	}
	if f.Generation != 0 || f.Width != 5 || f.Height != 5 || f.Rule != "life" {
		t.Fatalf("frame header: %+v", f)
	}
}

func TestSession_BlinkerBothModes(t *testing.T) {
	for _, mode := range []string{config.ModeSync, config.ModeAsync} {
		t.Run(mode, func(t *testing.T) {
			s := open(t, boundedConfig(mode))
			ctx := ctxT(t)
			s.Run(4)
			if got := s.HighestGeneration(); got != 4 {
				t.Fatalf("highest = %d", got)
			}
			g0, ok, err := s.Frame(ctx, 0)
			if err != nil || !ok {
				t.Fatalf("frame 0: ok=%v err=%v", ok, err)
			}
			g1, ok, err := s.Frame(ctx, 1)
			if err != nil || !ok {
				t.Fatalf("frame 1: ok=%v err=%v", ok, err)
			}
			want := []session.Cell{{X: 1, Y: 2, Code: 1}, {X: 2, Y: 2, Code: 1}, {X: 3, Y: 2, Code: 1}}
			if len(g1.Cells) != 3 {
				t.Fatalf("gen 1 = %v", g1.Cells)
			}
			for i := range want {
				if g1.Cells[i] != want[i] {
					t.Fatalf("gen 1 cell %d = %+v", i, g1.Cells[i])
				}
			}
			g4, _, err := s.Frame(ctx, 4)
			if err != nil {
				t.Fatalf("frame 4: %v", err)
			}
			if g4.Digest() != g0.Digest() {
				t.Fatalf("period 2 oscillator: gen 4 differs from gen 0")
			}
			if _, ok, _ := s.Frame(ctx, 5); ok {
				t.Fatalf("generation 5 was never scheduled")
			}

			d, ok, err := s.Delta(ctx, 0, 1)
			if err != nil || !ok {
				t.Fatalf("delta: ok=%v err=%v", ok, err)
			}
			if len(d.Changes) != 4 {
				t.Fatalf("blinker flip changes 4 cells, got %v", d.Changes)
			}
			if got := g0.Apply(d); got.Digest() != g1.Digest() || got.Generation != 1 {
				t.Fatalf("frame 0 + delta(0,1) != frame 1")
			}
			if _, _, err := s.Delta(ctx, 3, 1); err == nil {
				t.Fatalf("expected error for reversed delta")
			}
		})
	}
}

func TestSession_InfiniteLWSS(t *testing.T) {
	cfg := config.Defaults()
	cfg.Topology = config.TopologyInfinite
	cfg.ChunkExp = 2
	cfg.CheckpointEvery = 5
	cfg.PatternText = "O..O.\n....O\nO...O\n.OOOO\n"
	cfg.PatternX, cfg.PatternY = -3, -2
	s := open(t, cfg)
	ctx := ctxT(t)

	start, _, err := s.Frame(ctx, 0)
	if err != nil {
		t.Fatalf("frame 0: %v", err)
	}
	s.Run(20)
	end, ok, err := s.Frame(ctx, 20)
	if err != nil || !ok {
		t.Fatalf("frame 20: ok=%v err=%v", ok, err)
	}
	if len(end.Cells) != len(start.Cells) {
		t.Fatalf("population changed: %d -> %d", len(start.Cells), len(end.Cells))
	}
	for i, c := range start.Cells {
		moved := session.Cell{X: c.X + 10, Y: c.Y, Code: c.Code}
		if end.Cells[i] != moved {
			t.Fatalf("cell %d = %+v want %+v", i, end.Cells[i], moved)
		}
	}
	if end.ChunkExp != 2 || end.Topology != config.TopologyInfinite {
		t.Fatalf("frame header: %+v", end)
	}
}

func TestSession_SyncAsyncAgree(t *testing.T) {
	sync := open(t, boundedConfig(config.ModeSync))
	async := open(t, boundedConfig(config.ModeAsync))
	ctx := ctxT(t)
	sync.Run(7)
	async.Run(7)
	for g := uint64(0); g <= 7; g++ {
		a, _, err := sync.Frame(ctx, g)
		if err != nil {
			t.Fatalf("sync %d: %v", g, err)
		}
		b, _, err := async.Frame(ctx, g)
		if err != nil {
			t.Fatalf("async %d: %v", g, err)
		}
		if a.Digest() != b.Digest() {
			t.Fatalf("generation %d differs between modes", g)
		}
	}
}

func TestSession_ResumedNumbering(t *testing.T) {
	cfg := boundedConfig(config.ModeSync)
	start, err := session.StartFrame(cfg)
	if err != nil {
		t.Fatalf("StartFrame: %v", err)
	}
	start.Generation = 100
	s, err := session.New(cfg, start, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()
	s.Run(2)
	ctx := ctxT(t)
	if got := s.HighestGeneration(); got != 102 {
		t.Fatalf("highest = %d", got)
	}
	if _, ok, _ := s.Frame(ctx, 99); ok {
		t.Fatalf("generation before the start frame must be absent")
	}
	f, ok, err := s.Frame(ctx, 102)
	if err != nil || !ok || f.Generation != 102 {
		t.Fatalf("frame 102: %+v ok=%v err=%v", f, ok, err)
	}
	if f.Digest() != start.Digest() {
		t.Fatalf("blinker after two steps must match the start")
	}
	if info := s.Info(); info.Base != 100 || info.Generation != 102 || info.Width != 5 {
		t.Fatalf("info = %+v", info)
	}
}

func TestSession_BriansBrain(t *testing.T) {
	cfg := config.Defaults()
	cfg.Rule = "briansbrain"
	cfg.Width, cfg.Height = 6, 6
	cfg.PatternText = "11\n"
	cfg.PatternX, cfg.PatternY = 2, 2
	s := open(t, cfg)
	s.Run(1)
	f, ok, err := s.Frame(ctxT(t), 1)
	if err != nil || !ok {
		t.Fatalf("frame 1: ok=%v err=%v", ok, err)
	}
	dying := 0
	for _, c := range f.Cells {
		if (c.X == 2 || c.X == 3) && c.Y == 2 {
			if c.Code != 2 {
				t.Fatalf("firing cell must be dying, got %+v", c)
			}
			dying++
		}
	}
	if dying != 2 {
		t.Fatalf("cells = %v", f.Cells)
	}
}

func TestNew_Errors(t *testing.T) {
	cfg := boundedConfig(config.ModeSync)
	start, err := session.StartFrame(cfg)
	if err != nil {
		t.Fatalf("StartFrame: %v", err)
	}

	bad := cfg
	bad.Rule = "seeds"
	_, err = session.New(bad, session.Frame{}, nil)
	if err == nil || !strings.Contains(err.Error(), "life") {
		t.Fatalf("unknown rule must list known rules, got %v", err)
	}

	if _, err := session.New(cfg, session.Frame{Cells: []session.Cell{{X: 5, Y: 0, Code: 1}}}, nil); err == nil {
		t.Fatalf("expected out-of-bounds start cell to fail")
	}
	if _, err := session.New(cfg, session.Frame{Cells: []session.Cell{{X: 0, Y: 0, Code: 9}}}, nil); err == nil {
		t.Fatalf("expected unknown life code to fail")
	}

	other := start
	other.Rule = "briansbrain"
	if _, err := session.New(cfg, other, nil); err == nil {
		t.Fatalf("expected rule mismatch to fail")
	}

	gpu := cfg
	gpu.Backend = config.BackendGPU
	if _, err := session.New(gpu, start, nil); err == nil {
		t.Fatalf("built-in rules have no GPU path")
	}
}

func TestRules_Registered(t *testing.T) {
	got := session.Rules()
	if len(got) != 2 || got[0] != "briansbrain" || got[1] != "life" {
		t.Fatalf("rules = %v", got)
	}
	defer func() {
		if recover() == nil {
			t.Fatalf("expected duplicate registration to panic")
		}
	}()
	session.Register("life", nil)
}
