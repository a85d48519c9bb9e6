package grid

import (
	"fmt"
	"sort"

	"cellsim.ai/internal/sim/universe"
)

// Diff maps linear inner indices (y*W + x) to the new cell value. The zero
// Diff is the empty delta.
type Diff[C universe.Cell[C]] struct {
	W, H  int
	Cells map[int]C
}

// Change is one entry of a Diff.
type Change[C any] struct {
	Loc  Loc
	Cell C
}

// Diff returns the delta turning g into target. Both grids must have the
// same size.
func (g *Grid[C]) Diff(target *Grid[C]) Diff[C] {
	if g.w != target.w || g.h != target.h {
		panic(fmt.Sprintf("grid: diff between %dx%d and %dx%d", g.w, g.h, target.w, target.h))
	}
	d := Diff[C]{W: g.w, H: g.h, Cells: map[int]C{}}
	for y := 0; y < g.h; y++ {
		a := g.index(0, y)
		b := target.index(0, y)
		for x := 0; x < g.w; x++ {
			if c := target.cells[b+x]; g.cells[a+x] != c {
				d.Cells[y*g.w+x] = c
			}
		}
	}
	return d
}

// Len returns the number of changed cells.
func (d Diff[C]) Len() int { return len(d.Cells) }

// Apply returns a copy of base with the delta written over it.
func (d Diff[C]) Apply(base *Grid[C]) *Grid[C] {
	out := base.Clone()
	if len(d.Cells) == 0 {
		return out
	}
	if d.W != base.w || d.H != base.h {
		panic(fmt.Sprintf("grid: applying %dx%d diff to %dx%d grid", d.W, d.H, base.w, base.h))
	}
	for i, c := range d.Cells {
		out.cells[out.index(i%d.W, i/d.W)] = c
	}
	return out
}

// Stack returns d followed by next; for an index present in several deltas
// the last one wins.
func (d Diff[C]) Stack(next ...Diff[C]) Diff[C] {
	size := len(d.Cells)
	for _, n := range next {
		size += len(n.Cells)
	}
	out := Diff[C]{W: d.W, H: d.H, Cells: make(map[int]C, size)}
	for i, c := range d.Cells {
		out.Cells[i] = c
	}
	for _, n := range next {
		if len(n.Cells) == 0 {
			continue
		}
		switch {
		case out.W == 0 && out.H == 0:
			out.W, out.H = n.W, n.H
		case out.W != n.W || out.H != n.H:
			panic(fmt.Sprintf("grid: stacking %dx%d diff onto %dx%d", n.W, n.H, out.W, out.H))
		}
		for i, c := range n.Cells {
			out.Cells[i] = c
		}
	}
	return out
}

// Changes lists the entries in row-major order.
func (d Diff[C]) Changes() []Change[C] {
	idx := make([]int, 0, len(d.Cells))
	for i := range d.Cells {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	out := make([]Change[C], 0, len(idx))
	for _, i := range idx {
		out = append(out, Change[C]{Loc: Loc{X: uint(i % d.W), Y: uint(i / d.W)}, Cell: d.Cells[i]})
	}
	return out
}
