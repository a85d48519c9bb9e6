package universe

import "testing"

// counter is a toy universe whose generations are consecutive integers.
type counter int

func (c counter) EvolveOnce() counter { return c + 1 }

type batched struct {
	v     int
	calls *int
}

func (b batched) EvolveOnce() batched { return batched{v: b.v + 1, calls: b.calls} }

func (b batched) EvolveNCallback(n uint64, fn func(batched)) batched {
	*b.calls++
	return Stepwise(b, n, batched.EvolveOnce, fn)
}

func TestBoundary(t *testing.T) {
	cases := []struct {
		offsets []Offset
		want    int
	}{
		{nil, 0},
		{[]Offset{{0, 0}}, 0},
		{[]Offset{{-1, 0}, {1, 1}}, 1},
		{[]Offset{{0, -3}, {2, 0}}, 3},
	}
	for _, c := range cases {
		if got := Boundary(c.offsets); got != c.want {
			t.Fatalf("Boundary(%v) = %d want %d", c.offsets, got, c.want)
		}
	}
}

func TestEvolveNCallback_OrderAndResult(t *testing.T) {
	var seen []counter
	got := EvolveNCallback(counter(3), 4, func(c counter) { seen = append(seen, c) })
	if got != 7 {
		t.Fatalf("got %d want 7", got)
	}
	want := []counter{4, 5, 6, 7}
	if len(seen) != len(want) {
		t.Fatalf("callback count %d want %d", len(seen), len(want))
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("callback %d saw %d want %d", i, seen[i], want[i])
		}
	}
	if EvolveN(counter(0), 0) != 0 {
		t.Fatalf("zero steps must return the input")
	}
}

func TestEvolveNCallback_UsesBatchEvolver(t *testing.T) {
	calls := 0
	got := EvolveN(batched{calls: &calls}, 5)
	if got.v != 5 {
		t.Fatalf("got %d want 5", got.v)
	}
	if calls != 1 {
		t.Fatalf("batch path used %d times want 1", calls)
	}
}
