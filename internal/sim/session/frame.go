package session

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sort"
)

// Cell is one cell of a frame or delta in wire-neutral form.
type Cell struct {
	X    int64  `json:"x"`
	Y    int64  `json:"y"`
	Code uint32 `json:"code"`
}

// Frame is a full generation: every non-quiescent cell, sorted by (Y, X).
type Frame struct {
	Generation uint64 `json:"generation"`
	Rule       string `json:"rule"`
	Topology   string `json:"topology"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	ChunkExp   uint   `json:"chunk_exp,omitempty"`
	Cells      []Cell `json:"cells"`
}

// Delta lists the cells that changed between two generations, including
// cells that went back to code 0.
type Delta struct {
	From    uint64 `json:"from"`
	To      uint64 `json:"to"`
	Changes []Cell `json:"changes"`
}

// SortCells orders cells by (Y, X).
func SortCells(cells []Cell) {
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].Y != cells[j].Y {
			return cells[i].Y < cells[j].Y
		}
		return cells[i].X < cells[j].X
	})
}

// Population counts the non-quiescent cells.
func (f Frame) Population() int {
	n := 0
	for _, c := range f.Cells {
		if c.Code != 0 {
			n++
		}
	}
	return n
}

// Digest is the hex SHA-256 of the non-quiescent cells in (Y, X) order. It
// depends only on cell contents.
func (f Frame) Digest() string {
	cells := make([]Cell, 0, len(f.Cells))
	for _, c := range f.Cells {
		if c.Code != 0 {
			cells = append(cells, c)
		}
	}
	SortCells(cells)
	h := sha256.New()
	var tmp [20]byte
	for _, c := range cells {
		binary.LittleEndian.PutUint64(tmp[0:8], uint64(c.X))
		binary.LittleEndian.PutUint64(tmp[8:16], uint64(c.Y))
		binary.LittleEndian.PutUint32(tmp[16:20], c.Code)
		h.Write(tmp[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Apply returns f with d written over it. The generation becomes d.To.
func (f Frame) Apply(d Delta) Frame {
	type key struct{ x, y int64 }
	m := make(map[key]uint32, len(f.Cells)+len(d.Changes))
	for _, c := range f.Cells {
		m[key{c.X, c.Y}] = c.Code
	}
	for _, c := range d.Changes {
		m[key{c.X, c.Y}] = c.Code
	}
	out := f
	out.Generation = d.To
	out.Cells = make([]Cell, 0, len(m))
	for k, code := range m {
		if code != 0 {
			out.Cells = append(out.Cells, Cell{X: k.x, Y: k.y, Code: code})
		}
	}
	SortCells(out.Cells)
	return out
}
