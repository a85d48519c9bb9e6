// Package simulator drives a universe forward and records every generation.
//
// Sync runs the evolution on the caller's goroutine. Async hands it to a
// compute worker that streams generations into a detached history, so Run
// returns immediately and reads block until the generation exists.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"cellsim.ai/internal/sim/universe"
)

// ErrNoGPU is returned when the GPU backend is asked for a universe without
// a GPU evolve path.
var ErrNoGPU = errors.New("universe has no gpu evolve path")

// Simulator is the surface shared by Sync and Async.
type Simulator[U, D any] interface {
	// Run schedules n more generations.
	Run(n uint64)
	// HighestGeneration is the newest generation scheduled so far.
	HighestGeneration() uint64
	// Generation returns generation g, or false when g was never scheduled.
	Generation(ctx context.Context, g uint64) (U, bool, error)
	// Difference returns the delta from generation from to generation to.
	// from > to panics.
	Difference(ctx context.Context, from, to uint64) (D, bool, error)
	// Close releases the workers. The simulator must not be used afterwards.
	Close()
}

// Backend selects the evolve path.
type Backend uint8

const (
	BackendCPU Backend = iota
	BackendGPU
)

func (b Backend) String() string {
	switch b {
	case BackendCPU:
		return "cpu"
	case BackendGPU:
		return "gpu"
	default:
		return fmt.Sprintf("Backend(%d)", uint8(b))
	}
}

// ParseBackend maps "cpu" or "gpu" to a Backend.
func ParseBackend(s string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cpu":
		return BackendCPU, nil
	case "gpu":
		return BackendGPU, nil
	default:
		return 0, fmt.Errorf("unknown backend %q", s)
	}
}

// Options configures a simulator. The zero value runs on the CPU without
// logging.
type Options struct {
	Backend Backend
	Logger  *log.Logger
}

func (o Options) logger() *log.Logger {
	if o.Logger == nil {
		return log.New(io.Discard, "", 0)
	}
	return o.Logger
}

// evolvePath is the pair of stepping functions picked at construction.
type evolvePath[U any] struct {
	once func(U) U
	many func(u U, n uint64, fn func(U)) U
}

// advance evolves u by n generations, calling fn with each. A single
// generation takes the once path.
func (p evolvePath[U]) advance(u U, n uint64, fn func(U)) U {
	if n == 1 {
		u = p.once(u)
		fn(u)
		return u
	}
	return p.many(u, n, fn)
}

func pathFor[U universe.Evolver[U]](start U, b Backend) (evolvePath[U], error) {
	switch b {
	case BackendCPU:
		return evolvePath[U]{
			once: func(u U) U { return u.EvolveOnce() },
			many: universe.EvolveNCallback[U],
		}, nil
	case BackendGPU:
		if _, ok := any(start).(universe.GPUEvolver[U]); !ok {
			return evolvePath[U]{}, fmt.Errorf("simulator: %T: %w", start, ErrNoGPU)
		}
		return evolvePath[U]{
			once: func(u U) U { return any(u).(universe.GPUEvolver[U]).GPUEvolveOnce() },
			many: func(u U, n uint64, fn func(U)) U {
				if n == 0 {
					return u
				}
				return any(u).(universe.GPUEvolver[U]).GPUEvolveNCallback(n, fn)
			},
		}, nil
	default:
		return evolvePath[U]{}, fmt.Errorf("simulator: unknown backend %s", b)
	}
}
