package simulator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"cellsim.ai/internal/channel"
	"cellsim.ai/internal/sim/history"
	"cellsim.ai/internal/sim/universe"
)

// ErrComputeFailed is returned by reads on an Async whose compute worker
// crashed before producing the generation. Generations it did produce stay
// readable.
var ErrComputeFailed = errors.New("simulator compute worker failed")

// Async evolves on a compute worker and keeps the history on a second
// worker. Methods are safe for concurrent use, but reads are answered one at
// a time by the history worker.
type Async[U universe.Universe[U, D], D universe.Delta[U, D]] struct {
	work    *channel.SimpleSender[uint64]
	master  *channel.Master[history.Request[U], history.Response[U, D]]
	highest atomic.Uint64

	computeDone chan struct{}
	computeErr  atomic.Bool
	historyDone <-chan struct{}
	once        sync.Once
	logger      *log.Logger
}

// NewAsync builds an asynchronous simulator and starts its two workers.
func NewAsync[U universe.Universe[U, D], D universe.Delta[U, D]](start U, checkpointEvery uint64, opts Options) (*Async[U, D], error) {
	p, err := pathFor(start, opts.Backend)
	if err != nil {
		return nil, err
	}
	logger := opts.logger()

	master, slave := history.Endpoints[U, D]()
	historyDone := history.New[U, D](start.Clone(), checkpointEvery).Detach(slave, logger)

	tx, rx := channel.OneWay[uint64]()
	a := &Async[U, D]{
		work:        tx,
		master:      master,
		computeDone: make(chan struct{}),
		historyDone: historyDone,
		logger:      logger,
	}
	go a.compute(start, p, rx, master.ThirdParty())
	return a, nil
}

// NewAsyncCPU is NewAsync on the CPU path.
func NewAsyncCPU[U universe.Universe[U, D], D universe.Delta[U, D]](start U, checkpointEvery uint64) *Async[U, D] {
	a, _ := NewAsync[U, D](start, checkpointEvery, Options{})
	return a
}

// NewAsyncGPU is NewAsync on the GPU path.
func NewAsyncGPU[U universe.Universe[U, D], D universe.Delta[U, D]](start U, checkpointEvery uint64) (*Async[U, D], error) {
	return NewAsync[U, D](start, checkpointEvery, Options{Backend: BackendGPU})
}

// compute owns the live universe. It advances it by every n received and
// pushes each generation to the history. It stops when the work channel is
// closed and drained, or when the history no longer accepts pushes.
func (a *Async[U, D]) compute(cur U, p evolvePath[U], rx *channel.SimpleReceiver[uint64], sink channel.ThirdPartySender[history.Request[U], history.Response[U, D]]) {
	defer close(a.computeDone)
	defer rx.Close()
	defer func() {
		if r := recover(); r != nil {
			a.computeErr.Store(true)
			a.logger.Printf("compute worker stopped: %v", r)
		}
	}()
	for {
		n, err := rx.Recv(context.Background())
		if err != nil {
			return
		}
		dead := false
		cur = p.advance(cur, n, func(u U) {
			if dead {
				return
			}
			if err := sink.Send(history.Push(u)); err != nil {
				dead = true
			}
		})
		if dead {
			return
		}
	}
}

// Run schedules n generations and returns without waiting for them.
func (a *Async[U, D]) Run(n uint64) {
	if n == 0 {
		return
	}
	a.highest.Add(n)
	if err := a.work.Send(n); err != nil {
		a.logger.Printf("run %d: %v", n, err)
	}
}

func (a *Async[U, D]) HighestGeneration() uint64 { return a.highest.Load() }

// Generation blocks until generation g has been computed. Generations beyond
// HighestGeneration are reported absent without waiting.
func (a *Async[U, D]) Generation(ctx context.Context, g uint64) (U, bool, error) {
	var zero U
	if g > a.highest.Load() {
		return zero, false, nil
	}
	resp, err := a.request(ctx, history.GetGen[U](g, true))
	if err != nil {
		return zero, false, fmt.Errorf("generation %d: %w", g, err)
	}
	return resp.Universe, resp.OK, nil
}

// Difference blocks until generation to has been computed.
func (a *Async[U, D]) Difference(ctx context.Context, from, to uint64) (D, bool, error) {
	var zero D
	if from > to {
		panic(fmt.Sprintf("simulator: difference from %d to earlier generation %d", from, to))
	}
	if to > a.highest.Load() {
		return zero, false, nil
	}
	resp, err := a.request(ctx, history.GetDiff[U](from, to, true))
	if err != nil {
		return zero, false, fmt.Errorf("difference %d..%d: %w", from, to, err)
	}
	return resp.Diff, resp.OK, nil
}

// request stops waiting when the compute worker dies, since a blocking read
// could otherwise wait for a generation that will never arrive. Once the
// worker is gone every push it made is queued ahead of a new request, so a
// non-blocking retry still answers generations it did produce.
func (a *Async[U, D]) request(ctx context.Context, req history.Request[U]) (history.Response[U, D], error) {
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-a.computeDone:
			cancel()
		case <-wctx.Done():
		}
	}()
	resp, err := a.master.Request(wctx, req)
	if err == nil || ctx.Err() != nil || !a.computeStopped() {
		return resp, err
	}
	req.Blocking = false
	resp, err = a.master.Request(ctx, req)
	if err == nil && resp.OK {
		return resp, nil
	}
	if a.computeErr.Load() {
		return resp, ErrComputeFailed
	}
	return resp, err
}

func (a *Async[U, D]) computeStopped() bool {
	select {
	case <-a.computeDone:
		return true
	default:
		return false
	}
}

// Close stops accepting work, shuts the history worker down and waits for
// it. The compute worker exits at its next push.
func (a *Async[U, D]) Close() {
	a.once.Do(func() {
		a.work.Close()
		a.master.Close()
		<-a.historyDone
	})
}

// Wait blocks until the compute worker has exited.
func (a *Async[U, D]) Wait() { <-a.computeDone }
