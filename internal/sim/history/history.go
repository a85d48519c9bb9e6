// Package history keeps every generation of a run as checkpoints plus
// deltas, and can serve it from a background goroutine.
package history

import (
	"fmt"

	"cellsim.ai/internal/sim/universe"
)

// History records generations 0..Len(). Generation 0 is the start universe.
//
// With every > 0 a full checkpoint is kept each every generations, so
// materializing any generation costs at most every-1 delta applications. With
// every == 0 only the start is kept and reads replay the deltas from it.
type History[U universe.Universe[U, D], D universe.Delta[U, D]] struct {
	diffs       []D
	checkpoints []U
	every       uint64
	last        U
}

// New starts a history at start. The history takes ownership of start.
func New[U universe.Universe[U, D], D universe.Delta[U, D]](start U, every uint64) *History[U, D] {
	return &History[U, D]{
		checkpoints: []U{start},
		every:       every,
		last:        start,
	}
}

// Len returns the number of generations pushed after the start.
func (h *History[U, D]) Len() uint64 { return uint64(len(h.diffs)) }

// Checkpoints returns how many full universes are held, the start included.
func (h *History[U, D]) Checkpoints() int { return len(h.checkpoints) }

// Last returns the newest generation. Callers must not modify it.
func (h *History[U, D]) Last() U { return h.last }

// Push appends the next generation. The history takes ownership of u.
func (h *History[U, D]) Push(u U) {
	h.diffs = append(h.diffs, h.last.Diff(u))
	if n := uint64(len(h.diffs)); h.every > 0 && n%h.every == 0 {
		h.checkpoints = append(h.checkpoints, u)
	}
	h.last = u
}

// Generation materializes generation g as a fresh universe. It reports false
// when g has not been pushed yet.
func (h *History[U, D]) Generation(g uint64) (U, bool) {
	if g > h.Len() {
		var zero U
		return zero, false
	}
	var idx, shift uint64
	if h.every > 0 {
		idx, shift = g/h.every, g%h.every
	} else {
		shift = g
	}
	combined := universe.StackMany[U](h.diffs[g-shift : g])
	return combined.Apply(h.checkpoints[idx]), true
}

// Difference returns the delta from generation from to generation to. It
// reports false when to has not been pushed yet; from > to panics.
func (h *History[U, D]) Difference(from, to uint64) (D, bool) {
	if from > to {
		panic(fmt.Sprintf("history: difference from %d to earlier generation %d", from, to))
	}
	if to > h.Len() {
		var zero D
		return zero, false
	}
	return universe.StackMany[U](h.diffs[from:to]), true
}
