// Package rules holds pieces shared by the concrete automata.
package rules

import "cellsim.ai/internal/sim/universe"

// Moore is the 8-cell neighborhood at Chebyshev distance 1.
var Moore = []universe.Offset{
	{DX: -1, DY: -1}, {DX: 0, DY: -1}, {DX: 1, DY: -1},
	{DX: -1, DY: 0}, {DX: 1, DY: 0},
	{DX: -1, DY: 1}, {DX: 0, DY: 1}, {DX: 1, DY: 1},
}

// CountMoore counts the Moore neighbors of the window centre equal to c.
func CountMoore[C comparable](n universe.Neighborhood[C], c C) int {
	count := 0
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			if n.At(dx, dy) == c {
				count++
			}
		}
	}
	return count
}
