// Package pattern reads plaintext start patterns.
//
// Each non-comment line is one row. '.' is code 0, 'O' and '*' are code 1,
// and a digit is that code. Lines starting with '!' are comments; a
// "!Name:" comment names the pattern.
package pattern

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Cell is one non-zero cell of a pattern, relative to its top-left corner.
type Cell struct {
	X, Y int
	Code uint32
}

// Pattern is a parsed plaintext pattern.
type Pattern struct {
	Name   string
	Width  int
	Height int
	Cells  []Cell
}

// Parse reads a plaintext pattern from r.
func Parse(r io.Reader) (Pattern, error) {
	var p Pattern
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimRight(sc.Text(), " \t\r")
		if strings.HasPrefix(text, "!") {
			if name, ok := strings.CutPrefix(text, "!Name:"); ok && p.Name == "" {
				p.Name = strings.TrimSpace(name)
			}
			continue
		}
		y := p.Height
		for x, ch := range text {
			var code uint32
			switch {
			case ch == '.':
				continue
			case ch == 'O' || ch == '*':
				code = 1
			case ch >= '0' && ch <= '9':
				code = uint32(ch - '0')
			default:
				return Pattern{}, fmt.Errorf("line %d col %d: unexpected %q", line, x+1, ch)
			}
			if code != 0 {
				p.Cells = append(p.Cells, Cell{X: x, Y: y, Code: code})
			}
		}
		if n := len(text); n > p.Width {
			p.Width = n
		}
		p.Height++
	}
	if err := sc.Err(); err != nil {
		return Pattern{}, err
	}
	return p, nil
}

// ParseString is Parse over an in-memory pattern.
func ParseString(s string) (Pattern, error) {
	return Parse(strings.NewReader(s))
}

// Load reads a pattern file.
func Load(path string) (Pattern, error) {
	f, err := os.Open(path)
	if err != nil {
		return Pattern{}, err
	}
	defer f.Close()
	p, err := Parse(f)
	if err != nil {
		return Pattern{}, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Shift returns the cells moved by (dx, dy).
func (p Pattern) Shift(dx, dy int) []Cell {
	out := make([]Cell, len(p.Cells))
	for i, c := range p.Cells {
		out[i] = Cell{X: c.X + dx, Y: c.Y + dy, Code: c.Code}
	}
	return out
}
