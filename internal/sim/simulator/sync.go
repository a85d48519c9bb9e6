package simulator

import (
	"context"
	"sync"

	"cellsim.ai/internal/sim/history"
	"cellsim.ai/internal/sim/universe"
)

// Sync evolves on the caller's goroutine. It is safe for concurrent use; Run
// holds the lock for the whole batch.
type Sync[U universe.Universe[U, D], D universe.Delta[U, D]] struct {
	mu      sync.Mutex
	hist    *history.History[U, D]
	path    evolvePath[U]
	highest uint64
}

// NewSync builds a synchronous simulator starting at start with a checkpoint
// every checkpointEvery generations (0 keeps the start only).
func NewSync[U universe.Universe[U, D], D universe.Delta[U, D]](start U, checkpointEvery uint64, opts Options) (*Sync[U, D], error) {
	p, err := pathFor(start, opts.Backend)
	if err != nil {
		return nil, err
	}
	return &Sync[U, D]{
		hist: history.New[U, D](start.Clone(), checkpointEvery),
		path: p,
	}, nil
}

// NewSyncCPU is NewSync on the CPU path.
func NewSyncCPU[U universe.Universe[U, D], D universe.Delta[U, D]](start U, checkpointEvery uint64) *Sync[U, D] {
	s, _ := NewSync[U, D](start, checkpointEvery, Options{})
	return s
}

// NewSyncGPU is NewSync on the GPU path.
func NewSyncGPU[U universe.Universe[U, D], D universe.Delta[U, D]](start U, checkpointEvery uint64) (*Sync[U, D], error) {
	return NewSync[U, D](start, checkpointEvery, Options{Backend: BackendGPU})
}

func (s *Sync[U, D]) Run(n uint64) {
	if n == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.path.advance(s.hist.Last(), n, s.hist.Push)
	s.highest += n
}

// Step advances one generation.
func (s *Sync[U, D]) Step() { s.Run(1) }

func (s *Sync[U, D]) HighestGeneration() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.highest
}

// Generation never blocks beyond the replay itself; ctx is accepted to
// satisfy Simulator.
func (s *Sync[U, D]) Generation(_ context.Context, g uint64) (U, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.hist.Generation(g)
	return u, ok, nil
}

func (s *Sync[U, D]) Difference(_ context.Context, from, to uint64) (D, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.hist.Difference(from, to)
	return d, ok, nil
}

// Close is a no-op; Sync owns no goroutines.
func (s *Sync[U, D]) Close() {}
