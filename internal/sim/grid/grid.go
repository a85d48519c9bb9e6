// Package grid implements a bounded 2D universe.
//
// Cells are stored row-major in a flat slice padded by a margin as wide as
// the neighborhood reaches, so reads near the edge never branch. The margin
// holds quiescent cells and is never written.
package grid

import (
	"fmt"

	"cellsim.ai/internal/sim/universe"
)

// Loc addresses a cell inside the grid.
type Loc struct {
	X, Y uint
}

// Grid is a bounded universe of W×H cells of type C.
type Grid[C universe.Cell[C]] struct {
	w, h   int
	margin int
	stride int
	cells  []C
}

// New returns a quiescent grid of the given size.
func New[C universe.Cell[C]](w, h int) *Grid[C] {
	if w <= 0 || h <= 0 {
		panic(fmt.Sprintf("grid: invalid size %dx%d", w, h))
	}
	m := universe.BoundaryOf[C]()
	stride := w + 2*m
	return &Grid[C]{
		w:      w,
		h:      h,
		margin: m,
		stride: stride,
		cells:  make([]C, stride*(h+2*m)),
	}
}

// Width returns the inner width.
func (g *Grid[C]) Width() int { return g.w }

// Height returns the inner height.
func (g *Grid[C]) Height() int { return g.h }

// Margin returns the padding kept around the inner area.
func (g *Grid[C]) Margin() int { return g.margin }

// InBounds reports whether l addresses an inner cell.
func (g *Grid[C]) InBounds(l Loc) bool {
	return l.X < uint(g.w) && l.Y < uint(g.h)
}

func (g *Grid[C]) mustInBounds(l Loc) {
	if !g.InBounds(l) {
		panic(fmt.Sprintf("grid: location (%d,%d) outside %dx%d", l.X, l.Y, g.w, g.h))
	}
}

func (g *Grid[C]) index(x, y int) int {
	return (y+g.margin)*g.stride + x + g.margin
}

// Get returns the cell at l. l must be in bounds.
func (g *Grid[C]) Get(l Loc) C {
	g.mustInBounds(l)
	return g.cells[g.index(int(l.X), int(l.Y))]
}

// Set stores c at l. l must be in bounds.
func (g *Grid[C]) Set(l Loc, c C) {
	g.mustInBounds(l)
	g.cells[g.index(int(l.X), int(l.Y))] = c
}

// Clone returns an independent copy.
func (g *Grid[C]) Clone() *Grid[C] {
	out := *g
	out.cells = make([]C, len(g.cells))
	copy(out.cells, g.cells)
	return &out
}

// window reads a neighborhood relative to base in the padded slice.
type window[C any] struct {
	cells  []C
	stride int
	base   int
}

func (w *window[C]) At(dx, dy int) C {
	return w.cells[w.base+dy*w.stride+dx]
}

// EvolveOnce returns the next generation. The receiver is not modified.
func (g *Grid[C]) EvolveOnce() *Grid[C] {
	next := &Grid[C]{
		w:      g.w,
		h:      g.h,
		margin: g.margin,
		stride: g.stride,
		cells:  make([]C, len(g.cells)),
	}
	win := &window[C]{cells: g.cells, stride: g.stride}
	for y := 0; y < g.h; y++ {
		row := g.index(0, y)
		for x := 0; x < g.w; x++ {
			i := row + x
			win.base = i
			next.cells[i] = g.cells[i].Next(win)
		}
	}
	return next
}

// Equal reports whether both grids have the same size and contents.
func (g *Grid[C]) Equal(o *Grid[C]) bool {
	if g.w != o.w || g.h != o.h {
		return false
	}
	for y := 0; y < g.h; y++ {
		a := g.index(0, y)
		b := o.index(0, y)
		for x := 0; x < g.w; x++ {
			if g.cells[a+x] != o.cells[b+x] {
				return false
			}
		}
	}
	return true
}

// Each calls fn for every non-quiescent cell in row-major order.
func (g *Grid[C]) Each(fn func(Loc, C)) {
	var zero C
	for y := 0; y < g.h; y++ {
		row := g.index(0, y)
		for x := 0; x < g.w; x++ {
			if c := g.cells[row+x]; c != zero {
				fn(Loc{X: uint(x), Y: uint(y)}, c)
			}
		}
	}
}

// Population counts non-quiescent cells.
func (g *Grid[C]) Population() int {
	n := 0
	g.Each(func(Loc, C) { n++ })
	return n
}

// Codes returns the encoded inner cells in row-major order.
func (g *Grid[C]) Codes() []uint32 {
	out := make([]uint32, 0, g.w*g.h)
	for y := 0; y < g.h; y++ {
		row := g.index(0, y)
		for x := 0; x < g.w; x++ {
			out = append(out, g.cells[row+x].Encode())
		}
	}
	return out
}

// FromCodes builds a grid from row-major encoded cells.
func FromCodes[C universe.Cell[C]](w, h int, codes []uint32) (*Grid[C], error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("grid: invalid size %dx%d", w, h)
	}
	if len(codes) != w*h {
		return nil, fmt.Errorf("grid: %d codes for %dx%d grid", len(codes), w, h)
	}
	g := New[C](w, h)
	var zero C
	for i, code := range codes {
		c, err := zero.Decode(code)
		if err != nil {
			return nil, fmt.Errorf("grid: cell %d: %w", i, err)
		}
		g.cells[g.index(i%w, i/w)] = c
	}
	return g, nil
}
