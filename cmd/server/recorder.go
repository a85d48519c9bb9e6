package main

import (
	"context"
	"log"
	"sync"
	"time"

	"cellsim.ai/internal/persistence/indexdb"
	persistlog "cellsim.ai/internal/persistence/log"
	"cellsim.ai/internal/sim/session"
)

type recordSource interface {
	BaseGeneration() uint64
	HighestGeneration() uint64
	Frame(ctx context.Context, g uint64) (session.Frame, bool, error)
	Delta(ctx context.Context, from, to uint64) (session.Delta, bool, error)
}

type generationWriter interface {
	WriteGeneration(e persistlog.GenerationEntry) error
}

type generationIndex interface {
	RecordGeneration(r indexdb.GenerationRow)
}

// recorder follows the session and writes one entry per generation to the
// generation log and the index.
type recorder struct {
	src    recordSource
	out    generationWriter
	idx    generationIndex
	logger *log.Logger

	next uint64

	mu   sync.Mutex
	last session.Frame
	have bool
}

func newRecorder(src recordSource, out generationWriter, idx generationIndex, logger *log.Logger) *recorder {
	return &recorder{src: src, out: out, idx: idx, logger: logger, next: src.BaseGeneration()}
}

// Last is the newest recorded frame.
func (r *recorder) Last() (session.Frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last, r.have
}

// catchUp records every generation up to the current highest one.
func (r *recorder) catchUp(ctx context.Context) error {
	for r.next <= r.src.HighestGeneration() {
		f, ok, err := r.src.Frame(ctx, r.next)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		changed := 0
		if prev, ok := r.Last(); ok {
			d, ok, err := r.src.Delta(ctx, prev.Generation, f.Generation)
			if err != nil {
				return err
			}
			if ok {
				changed = len(d.Changes)
			}
		}
		digest := f.Digest()
		pop := f.Population()
		if r.out != nil {
			if err := r.out.WriteGeneration(persistlog.GenerationEntry{Generation: f.Generation, Population: pop, Changed: changed, Digest: digest}); err != nil {
				r.logger.Printf("generation log: %v", err)
			}
		}
		if r.idx != nil {
			r.idx.RecordGeneration(indexdb.GenerationRow{Generation: f.Generation, Population: pop, Changed: changed, Digest: digest})
		}
		r.mu.Lock()
		r.last, r.have = f, true
		r.mu.Unlock()
		r.next++
	}
	return nil
}

// run polls until ctx is done.
func (r *recorder) run(ctx context.Context, poll time.Duration) error {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		if err := r.catchUp(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
