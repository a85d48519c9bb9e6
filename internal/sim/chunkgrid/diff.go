package chunkgrid

import (
	"fmt"

	"cellsim.ai/internal/sim/universe"
)

// Diff holds, per chunk, the changed cells keyed by chunk-local index
// (y<<k + x). The zero Diff is the empty delta.
type Diff[C universe.Cell[C]] struct {
	K      uint
	Chunks map[ChunkKey]map[int]C
}

// Diff returns the delta turning g into target. Both grids must use the same
// chunk size.
func (g *Grid[C]) Diff(target *Grid[C]) Diff[C] {
	if g.k != target.k {
		panic(fmt.Sprintf("chunkgrid: diff between chunk exponents %d and %d", g.k, target.k))
	}
	d := Diff[C]{K: g.k, Chunks: map[ChunkKey]map[int]C{}}
	var zero C
	n := g.side * g.side
	cellAt := func(ch *chunk[C], i int) C {
		if ch == nil {
			return zero
		}
		return ch.cells[i]
	}
	visit := func(key ChunkKey) {
		if _, done := d.Chunks[key]; done {
			return
		}
		from, to := g.chunks[key], target.chunks[key]
		var changed map[int]C
		for i := 0; i < n; i++ {
			if c := cellAt(to, i); cellAt(from, i) != c {
				if changed == nil {
					changed = map[int]C{}
				}
				changed[i] = c
			}
		}
		if changed != nil {
			d.Chunks[key] = changed
		}
	}
	for key := range g.chunks {
		visit(key)
	}
	for key := range target.chunks {
		visit(key)
	}
	return d
}

// Len returns the number of changed cells.
func (d Diff[C]) Len() int {
	n := 0
	for _, cells := range d.Chunks {
		n += len(cells)
	}
	return n
}

// Apply returns a copy of base with the delta written over it.
func (d Diff[C]) Apply(base *Grid[C]) *Grid[C] {
	out := base.Clone()
	if len(d.Chunks) == 0 {
		return out
	}
	if d.K != base.k {
		panic(fmt.Sprintf("chunkgrid: applying exponent %d diff to exponent %d grid", d.K, base.k))
	}
	for key, cells := range d.Chunks {
		origin := key.Origin(d.K)
		for i, c := range cells {
			out.Set(Loc{X: origin.X + int64(i%out.side), Y: origin.Y + int64(i/out.side)}, c)
		}
	}
	return out
}

// Stack returns d followed by next; for a cell present in several deltas the
// last one wins.
func (d Diff[C]) Stack(next ...Diff[C]) Diff[C] {
	out := Diff[C]{K: d.K, Chunks: make(map[ChunkKey]map[int]C, len(d.Chunks))}
	merge := func(src Diff[C]) {
		for key, cells := range src.Chunks {
			dst, ok := out.Chunks[key]
			if !ok {
				dst = make(map[int]C, len(cells))
				out.Chunks[key] = dst
			}
			for i, c := range cells {
				dst[i] = c
			}
		}
	}
	merge(d)
	for _, n := range next {
		if len(n.Chunks) == 0 {
			continue
		}
		switch {
		case len(out.Chunks) == 0:
			out.K = n.K
		case out.K != n.K:
			panic(fmt.Sprintf("chunkgrid: stacking exponent %d diff onto exponent %d", n.K, out.K))
		}
		merge(n)
	}
	return out
}

// Changes lists the entries sorted by (Y, X).
func (d Diff[C]) Changes() []Entry[C] {
	side := 1 << d.K
	out := make([]Entry[C], 0, d.Len())
	for key, cells := range d.Chunks {
		origin := key.Origin(d.K)
		for i, c := range cells {
			out = append(out, Entry[C]{Loc: Loc{X: origin.X + int64(i%side), Y: origin.Y + int64(i/side)}, Cell: c})
		}
	}
	sortEntries(out)
	return out
}
