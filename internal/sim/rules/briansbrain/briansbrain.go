// Package briansbrain implements Brian's Brain as a cell rule.
package briansbrain

import (
	"fmt"

	"cellsim.ai/internal/sim/rules"
	"cellsim.ai/internal/sim/universe"
)

// Cell is a Brian's Brain state.
type Cell uint8

const (
	Off Cell = iota
	On
	Dying
)

// Name identifies the rule.
const Name = "briansbrain"

func (c Cell) Encode() uint32 { return uint32(c) }

func (Cell) Decode(code uint32) (Cell, error) {
	if code > uint32(Dying) {
		return Off, fmt.Errorf("briansbrain: %w: %d", universe.ErrUnknownCode, code)
	}
	return Cell(code), nil
}

func (Cell) Neighbors() []universe.Offset { return rules.Moore }

// Next fires an Off cell with exactly two firing neighbors; firing cells
// start dying and dying cells switch off.
func (c Cell) Next(n universe.Neighborhood[Cell]) Cell {
	switch c {
	case On:
		return Dying
	case Dying:
		return Off
	}
	if rules.CountMoore(n, On) == 2 {
		return On
	}
	return Off
}
