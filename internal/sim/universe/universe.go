// Package universe defines the contracts every automaton and spatial layout
// implements, plus the stepping helpers written against them.
package universe

import "errors"

// ErrUnknownCode is returned when decoding a value no cell state maps to.
var ErrUnknownCode = errors.New("unknown cell code")

// Offset is a relative position inside a neighborhood.
type Offset struct {
	DX, DY int
}

// Neighborhood is a read-only window centred on the cell being updated.
// At(0, 0) is the cell itself.
type Neighborhood[C any] interface {
	At(dx, dy int) C
}

// Cell is the state held at one location.
//
// The zero value is the quiescent state: a zero cell whose whole neighborhood
// is zero must stay zero. Sparse universes depend on it.
type Cell[C any] interface {
	comparable

	// Encode maps the state to a fixed-width code. Decode(Encode(c)) == c.
	Encode() uint32
	// Decode ignores its receiver and returns the state for code.
	Decode(code uint32) (C, error)
	// Neighbors lists the offsets Next may read. It must not depend on the
	// receiver's value.
	Neighbors() []Offset
	// Next computes the following state from the current neighborhood.
	Next(n Neighborhood[C]) C
}

// Boundary is the largest one-axis distance over offsets, i.e. how far a
// change can propagate in one step.
func Boundary(offsets []Offset) int {
	b := 0
	for _, o := range offsets {
		if d := abs(o.DX); d > b {
			b = d
		}
		if d := abs(o.DY); d > b {
			b = d
		}
	}
	return b
}

// BoundaryOf is Boundary for the neighborhood of cell type C.
func BoundaryOf[C Cell[C]]() int {
	var zero C
	return Boundary(zero.Neighbors())
}

// Evolver produces the next generation. EvolveOnce must not modify its
// receiver; the result is a new value.
type Evolver[U any] interface {
	EvolveOnce() U
}

// Universe is a whole spatial state with its own difference type D.
type Universe[U any, D any] interface {
	Evolver[U]
	// Clone returns an independent copy.
	Clone() U
	// Diff returns the delta that turns the receiver into target.
	Diff(target U) D
}

// Delta is the difference algebra of a universe. The zero value of D is the
// empty delta.
type Delta[U any, D any] interface {
	// Apply returns base with the delta applied; base is left untouched.
	Apply(base U) U
	// Stack returns the receiver followed by each of next, in order. Later
	// writes win. Neither the receiver nor next is modified.
	Stack(next ...D) D
}

// StackMany composes ds left to right starting from the empty delta.
func StackMany[U any, D Delta[U, D]](ds []D) D {
	var empty D
	return empty.Stack(ds...)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
