package chunkgrid_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"cellsim.ai/internal/sim/chunkgrid"
	"cellsim.ai/internal/sim/rules/life"
	"cellsim.ai/internal/sim/universe"
)

var (
	_ universe.Universe[*chunkgrid.Grid[life.Cell], chunkgrid.Diff[life.Cell]] = (*chunkgrid.Grid[life.Cell])(nil)
	_ universe.Delta[*chunkgrid.Grid[life.Cell], chunkgrid.Diff[life.Cell]]    = chunkgrid.Diff[life.Cell]{}
)

type pt struct{ x, y int64 }

func build(k uint, dx, dy int64, pts []pt) *chunkgrid.Grid[life.Cell] {
	g := chunkgrid.New[life.Cell](k)
	for _, p := range pts {
		g.Set(chunkgrid.Loc{X: p.x + dx, Y: p.y + dy}, life.Alive)
	}
	return g
}

func parse(rows ...string) []pt {
	var out []pt
	for y, r := range rows {
		for x, c := range r {
			if c == 'O' {
				out = append(out, pt{int64(x), int64(y)})
			}
		}
	}
	return out
}

func TestSplit(t *testing.T) {
	cases := []struct {
		loc    chunkgrid.Loc
		key    chunkgrid.ChunkKey
		ix, iy int
	}{
		{chunkgrid.Loc{X: 0, Y: 0}, chunkgrid.ChunkKey{CX: 0, CY: 0}, 0, 0},
		{chunkgrid.Loc{X: 5, Y: 3}, chunkgrid.ChunkKey{CX: 1, CY: 0}, 1, 3},
		{chunkgrid.Loc{X: -1, Y: -5}, chunkgrid.ChunkKey{CX: -1, CY: -2}, 3, 3},
		{chunkgrid.Loc{X: -4, Y: -8}, chunkgrid.ChunkKey{CX: -1, CY: -2}, 0, 0},
	}
	for _, c := range cases {
		key, ix, iy := c.loc.Split(2)
		if key != c.key || ix != c.ix || iy != c.iy {
			t.Fatalf("Split(%v) = %v,%d,%d want %v,%d,%d", c.loc, key, ix, iy, c.key, c.ix, c.iy)
		}
		if o := key.Origin(2); o.X+int64(ix) != c.loc.X || o.Y+int64(iy) != c.loc.Y {
			t.Fatalf("origin+offset does not rebuild %v", c.loc)
		}
	}
}

func TestChunkSideMustExceedBoundary(t *testing.T) {
	require.Panics(t, func() { chunkgrid.New[life.Cell](0) })
	require.NotPanics(t, func() { chunkgrid.New[life.Cell](1) })
}

func TestSetMaterializesNeighbors(t *testing.T) {
	g := chunkgrid.New[life.Cell](2)
	require.Equal(t, life.Dead, g.Get(chunkgrid.Loc{X: 1000, Y: -1000}))

	g.Set(chunkgrid.Loc{X: 1, Y: 1}, life.Alive)
	require.Equal(t, 1, g.ChunkCount(), "interior write stays in its chunk")

	g.Set(chunkgrid.Loc{X: 0, Y: 0}, life.Alive)
	require.Equal(t, []chunkgrid.ChunkKey{
		{CX: -1, CY: -1}, {CX: 0, CY: -1},
		{CX: -1, CY: 0}, {CX: 0, CY: 0},
	}, g.Keys())

	g.Set(chunkgrid.Loc{X: 100, Y: 100}, life.Dead)
	require.Equal(t, 4, g.ChunkCount(), "quiescent write into an absent chunk is a no-op")
}

func TestEvolveDropsDeadChunks(t *testing.T) {
	g := build(2, 0, 0, []pt{{1, 1}})
	next := g.EvolveOnce()
	require.Equal(t, 0, next.Population())
	require.Equal(t, 0, next.ChunkCount())
	require.Equal(t, 1, g.Population(), "EvolveOnce must not modify its receiver")
}

func TestLWSS(t *testing.T) {
	start := parse("O..O.", "....O", "O...O", ".OOOO")
	phases := [][]pt{
		start,
		{{1, 2}, {1, 3}, {2, 2}, {2, 3}, {2, 4}, {3, 1}, {3, 3}, {3, 4}, {4, 1}, {4, 2}, {4, 3}, {5, 2}},
		{{1, 2}, {1, 4}, {2, 1}, {3, 1}, {4, 1}, {4, 4}, {5, 1}, {5, 2}, {5, 3}},
		{{2, 1}, {2, 2}, {3, 0}, {3, 1}, {3, 2}, {4, 0}, {4, 1}, {4, 3}, {5, 1}, {5, 2}, {5, 3}, {6, 2}},
	}
	const ox, oy = -3, -2
	g := build(2, ox, oy, start)
	for step := 1; step <= 24; step++ {
		g = g.EvolveOnce()
		shift := int64(2 * (step / 4))
		want := build(2, ox+shift, oy, phases[step%4])
		if !g.Equal(want) {
			t.Fatalf("step %d: got %v", step, g.Cells())
		}
	}
}

func randomGrid(r *rand.Rand) *chunkgrid.Grid[life.Cell] {
	g := chunkgrid.New[life.Cell](2)
	for i := 0; i < 40; i++ {
		g.Set(chunkgrid.Loc{X: int64(r.Intn(16) - 8), Y: int64(r.Intn(16) - 8)}, life.Alive)
	}
	return g
}

func TestDiffLaws(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	for i := 0; i < 20; i++ {
		u := randomGrid(r)
		v := u.EvolveOnce().EvolveOnce()
		w := randomGrid(r)

		var empty chunkgrid.Diff[life.Cell]
		require.True(t, empty.Apply(u).Equal(u))
		require.True(t, u.Diff(v).Apply(u).Equal(v))
		require.True(t, v.Diff(u).Apply(v).Equal(u))
		require.True(t, u.Diff(v).Stack(v.Diff(w)).Apply(u).Equal(w))

		d1, d2, d3 := u.Diff(v), v.Diff(w), w.Diff(u)
		left := d1.Stack(d2).Stack(d3)
		right := d1.Stack(d2.Stack(d3))
		require.Equal(t, left.Changes(), right.Changes())
		many := universe.StackMany[*chunkgrid.Grid[life.Cell]]([]chunkgrid.Diff[life.Cell]{d1, d2, d3})
		require.Equal(t, left.Changes(), many.Changes())
	}
}

func TestDiffIgnoresMaterialization(t *testing.T) {
	a := build(2, 0, 0, []pt{{0, 0}})
	a.Set(chunkgrid.Loc{X: 0, Y: 0}, life.Dead)
	b := chunkgrid.New[life.Cell](2)
	require.True(t, a.Equal(b))
	require.Equal(t, 0, a.Diff(b).Len())
}

func TestDiffMismatchPanics(t *testing.T) {
	a := chunkgrid.New[life.Cell](2)
	b := chunkgrid.New[life.Cell](3)
	require.Panics(t, func() { a.Diff(b) })
	d := a.Diff(build(2, 0, 0, []pt{{1, 1}}))
	require.Panics(t, func() { d.Apply(b) })
}
