package universe

// BatchEvolver is implemented by universes that can advance several
// generations at once faster than repeated EvolveOnce calls. fn, when not
// nil, receives every intermediate generation in order.
type BatchEvolver[U any] interface {
	EvolveNCallback(n uint64, fn func(U)) U
}

// GPUEvolver is implemented by universes with an accelerated evolve path.
// Results must be identical to the CPU path generation by generation, and
// fn must observe generations in order.
type GPUEvolver[U any] interface {
	GPUEvolveOnce() U
	GPUEvolveNCallback(n uint64, fn func(U)) U
}

// EvolveN advances u by n generations.
func EvolveN[U Evolver[U]](u U, n uint64) U {
	return EvolveNCallback(u, n, nil)
}

// EvolveNCallback advances u by n generations, calling fn after every step.
// It defers to BatchEvolver when u implements it.
func EvolveNCallback[U Evolver[U]](u U, n uint64, fn func(U)) U {
	if n == 0 {
		return u
	}
	if b, ok := any(u).(BatchEvolver[U]); ok {
		return b.EvolveNCallback(n, fn)
	}
	return Stepwise(u, n, func(v U) U { return v.EvolveOnce() }, fn)
}

// Stepwise drives step n times, calling fn after each step. It is the
// reference behaviour every batched evolve path must match.
func Stepwise[U any](u U, n uint64, step func(U) U, fn func(U)) U {
	for i := uint64(0); i < n; i++ {
		u = step(u)
		if fn != nil {
			fn(u)
		}
	}
	return u
}
