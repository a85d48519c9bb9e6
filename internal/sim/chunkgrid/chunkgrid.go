// Package chunkgrid implements an unbounded 2D universe stored as a sparse
// map of square chunks.
//
// A chunk is 2^k cells on a side. Absent chunks read as quiescent. Any chunk
// within the neighborhood boundary of a non-quiescent cell is kept
// materialized, so evolving only the materialized chunks is exact.
package chunkgrid

import (
	"fmt"
	"sort"

	"cellsim.ai/internal/sim/universe"
)

// MaxChunkExp bounds the chunk side to 2^MaxChunkExp cells.
const MaxChunkExp = 12

// Loc is a signed cell coordinate.
type Loc struct {
	X, Y int64
}

// ChunkKey addresses a chunk.
type ChunkKey struct {
	CX, CY int64
}

// Split returns the chunk holding l and l's position inside it.
func (l Loc) Split(k uint) (ChunkKey, int, int) {
	mask := int64(1)<<k - 1
	return ChunkKey{CX: l.X >> k, CY: l.Y >> k}, int(l.X & mask), int(l.Y & mask)
}

// Origin returns the location of the chunk's (0, 0) cell.
func (c ChunkKey) Origin(k uint) Loc {
	return Loc{X: c.CX << k, Y: c.CY << k}
}

// Entry is one non-quiescent cell.
type Entry[C any] struct {
	Loc  Loc
	Cell C
}

type chunk[C any] struct {
	cells []C
}

// Grid is an unbounded universe of cells of type C.
type Grid[C universe.Cell[C]] struct {
	k        uint
	side     int
	boundary int
	chunks   map[ChunkKey]*chunk[C]
}

// New returns an empty grid with chunks of side 2^k. The side must exceed the
// neighborhood boundary of C.
func New[C universe.Cell[C]](k uint) *Grid[C] {
	if k > MaxChunkExp {
		panic(fmt.Sprintf("chunkgrid: chunk exponent %d above %d", k, MaxChunkExp))
	}
	b := universe.BoundaryOf[C]()
	side := 1 << k
	if side <= b {
		panic(fmt.Sprintf("chunkgrid: chunk side %d must exceed neighborhood boundary %d", side, b))
	}
	return &Grid[C]{
		k:        k,
		side:     side,
		boundary: b,
		chunks:   map[ChunkKey]*chunk[C]{},
	}
}

// ChunkExp returns k.
func (g *Grid[C]) ChunkExp() uint { return g.k }

// ChunkCount returns the number of materialized chunks.
func (g *Grid[C]) ChunkCount() int { return len(g.chunks) }

// Keys lists the materialized chunks sorted by (CY, CX).
func (g *Grid[C]) Keys() []ChunkKey {
	keys := make([]ChunkKey, 0, len(g.chunks))
	for k := range g.chunks {
		keys = append(keys, k)
	}
	sortKeys(keys)
	return keys
}

func sortKeys(keys []ChunkKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CY != keys[j].CY {
			return keys[i].CY < keys[j].CY
		}
		return keys[i].CX < keys[j].CX
	})
}

// Get returns the cell at l. Unset cells read quiescent.
func (g *Grid[C]) Get(l Loc) C {
	key, x, y := l.Split(g.k)
	ch, ok := g.chunks[key]
	if !ok {
		var zero C
		return zero
	}
	return ch.cells[y*g.side+x]
}

// Set stores c at l. A non-quiescent write materializes every chunk within
// the neighborhood boundary of l.
func (g *Grid[C]) Set(l Loc, c C) {
	var zero C
	key, x, y := l.Split(g.k)
	ch, ok := g.chunks[key]
	if !ok {
		if c == zero {
			return
		}
		ch = g.ensure(key)
	}
	ch.cells[y*g.side+x] = c
	if c != zero {
		g.ensureAround(key, x, y)
	}
}

func (g *Grid[C]) ensure(key ChunkKey) *chunk[C] {
	if ch, ok := g.chunks[key]; ok {
		return ch
	}
	ch := &chunk[C]{cells: make([]C, g.side*g.side)}
	g.chunks[key] = ch
	return ch
}

// ensureAround materializes the neighbors of key that lie within boundary
// cells of (x, y).
func (g *Grid[C]) ensureAround(key ChunkKey, x, y int) {
	if g.boundary == 0 {
		return
	}
	xs := [3]int64{0}
	ys := [3]int64{0}
	nx, ny := 1, 1
	if x < g.boundary {
		xs[nx] = -1
		nx++
	}
	if x >= g.side-g.boundary {
		xs[nx] = 1
		nx++
	}
	if y < g.boundary {
		ys[ny] = -1
		ny++
	}
	if y >= g.side-g.boundary {
		ys[ny] = 1
		ny++
	}
	for _, dy := range ys[:ny] {
		for _, dx := range xs[:nx] {
			if dx == 0 && dy == 0 {
				continue
			}
			g.ensure(ChunkKey{CX: key.CX + dx, CY: key.CY + dy})
		}
	}
}

// Clone returns an independent copy.
func (g *Grid[C]) Clone() *Grid[C] {
	out := &Grid[C]{
		k:        g.k,
		side:     g.side,
		boundary: g.boundary,
		chunks:   make(map[ChunkKey]*chunk[C], len(g.chunks)),
	}
	for key, ch := range g.chunks {
		cells := make([]C, len(ch.cells))
		copy(cells, ch.cells)
		out.chunks[key] = &chunk[C]{cells: cells}
	}
	return out
}

// window reads around one cell of a chunk, falling back to the grid for
// reads that cross the chunk edge.
type window[C universe.Cell[C]] struct {
	g      *Grid[C]
	ch     *chunk[C]
	origin Loc
	x, y   int
}

func (w *window[C]) At(dx, dy int) C {
	x, y := w.x+dx, w.y+dy
	if x >= 0 && x < w.g.side && y >= 0 && y < w.g.side {
		return w.ch.cells[y*w.g.side+x]
	}
	return w.g.Get(Loc{X: w.origin.X + int64(x), Y: w.origin.Y + int64(y)})
}

// EvolveOnce returns the next generation. Chunks that end up fully quiescent
// are dropped and the margin around the survivors is re-materialized.
func (g *Grid[C]) EvolveOnce() *Grid[C] {
	var zero C
	next := &Grid[C]{
		k:        g.k,
		side:     g.side,
		boundary: g.boundary,
		chunks:   make(map[ChunkKey]*chunk[C], len(g.chunks)),
	}
	win := &window[C]{g: g}
	for key, ch := range g.chunks {
		out := make([]C, len(ch.cells))
		live := false
		win.ch = ch
		win.origin = key.Origin(g.k)
		for y := 0; y < g.side; y++ {
			win.y = y
			for x := 0; x < g.side; x++ {
				win.x = x
				c := ch.cells[y*g.side+x].Next(win)
				out[y*g.side+x] = c
				if c != zero {
					live = true
				}
			}
		}
		if live {
			next.chunks[key] = &chunk[C]{cells: out}
		}
	}
	for _, key := range next.Keys() {
		next.ensureEdges(key)
	}
	return next
}

// ensureEdges materializes neighbors for the non-quiescent cells near the
// edge of chunk key.
func (g *Grid[C]) ensureEdges(key ChunkKey) {
	var zero C
	ch := g.chunks[key]
	for y := 0; y < g.side; y++ {
		inner := y >= g.boundary && y < g.side-g.boundary
		for x := 0; x < g.side; x++ {
			if inner && x >= g.boundary && x < g.side-g.boundary {
				x = g.side - g.boundary - 1
				continue
			}
			if ch.cells[y*g.side+x] != zero {
				g.ensureAround(key, x, y)
			}
		}
	}
}

// Each calls fn for every non-quiescent cell, chunk by chunk in key order and
// row-major inside a chunk.
func (g *Grid[C]) Each(fn func(Loc, C)) {
	var zero C
	for _, key := range g.Keys() {
		ch := g.chunks[key]
		origin := key.Origin(g.k)
		for i, c := range ch.cells {
			if c != zero {
				fn(Loc{X: origin.X + int64(i%g.side), Y: origin.Y + int64(i/g.side)}, c)
			}
		}
	}
}

// Cells lists the non-quiescent cells sorted by (Y, X).
func (g *Grid[C]) Cells() []Entry[C] {
	var out []Entry[C]
	g.Each(func(l Loc, c C) { out = append(out, Entry[C]{Loc: l, Cell: c}) })
	sortEntries(out)
	return out
}

func sortEntries[C any](es []Entry[C]) {
	sort.Slice(es, func(i, j int) bool {
		if es[i].Loc.Y != es[j].Loc.Y {
			return es[i].Loc.Y < es[j].Loc.Y
		}
		return es[i].Loc.X < es[j].Loc.X
	})
}

// Population counts non-quiescent cells.
func (g *Grid[C]) Population() int {
	n := 0
	g.Each(func(Loc, C) { n++ })
	return n
}

// Equal reports whether both grids hold the same cells. Which chunks happen
// to be materialized does not matter.
func (g *Grid[C]) Equal(o *Grid[C]) bool {
	return g.covers(o) && o.covers(g)
}

func (g *Grid[C]) covers(o *Grid[C]) bool {
	for key, ch := range g.chunks {
		origin := key.Origin(g.k)
		for i, c := range ch.cells {
			if o.Get(Loc{X: origin.X + int64(i%g.side), Y: origin.Y + int64(i/g.side)}) != c {
				return false
			}
		}
	}
	return true
}
