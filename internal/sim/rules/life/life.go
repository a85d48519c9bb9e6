// Package life implements Conway's Game of Life (B3/S23) as a cell rule.
package life

import (
	"fmt"

	"cellsim.ai/internal/sim/rules"
	"cellsim.ai/internal/sim/universe"
)

// Cell is a Game of Life state.
type Cell uint8

const (
	Dead Cell = iota
	Alive
)

// Name identifies the rule.
const Name = "life"

func (c Cell) Encode() uint32 { return uint32(c) }

func (Cell) Decode(code uint32) (Cell, error) {
	switch code {
	case 0:
		return Dead, nil
	case 1:
		return Alive, nil
	}
	return Dead, fmt.Errorf("life: %w: %d", universe.ErrUnknownCode, code)
}

func (Cell) Neighbors() []universe.Offset { return rules.Moore }

// Next applies birth on exactly 3 live neighbors and survival on 2 or 3.
func (c Cell) Next(n universe.Neighborhood[Cell]) Cell {
	neighbors := rules.CountMoore(n, Alive)
	if (c == Alive && (neighbors == 2 || neighbors == 3)) || (c == Dead && neighbors == 3) {
		return Alive
	}
	return Dead
}
