package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"cellsim.ai/internal/config"
	"cellsim.ai/internal/sim/encoding"
	"cellsim.ai/internal/sim/session"
)

const Version = 1

type Header struct {
	Version    int    `json:"version"`
	Rule       string `json:"rule"`
	Generation uint64 `json:"generation"`
}

type SnapshotV1 struct {
	Header Header `json:"header"`

	Topology string `json:"topology"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	ChunkExp uint   `json:"chunk_exp,omitempty"`

	// Grid is the RLE of every cell of a bounded board, row by row.
	Grid string `json:"grid,omitempty"`
	// Cells lists the non-quiescent cells of an infinite universe.
	Cells []CellV1 `json:"cells,omitempty"`

	Digest string `json:"digest"`
}

type CellV1 struct {
	X    int64  `json:"x"`
	Y    int64  `json:"y"`
	Code uint32 `json:"code"`
}

// FromFrame captures f. Bounded frames are flattened into an RLE grid.
func FromFrame(f session.Frame) (SnapshotV1, error) {
	snap := SnapshotV1{
		Header:   Header{Version: Version, Rule: f.Rule, Generation: f.Generation},
		Topology: f.Topology,
		Digest:   f.Digest(),
	}
	switch f.Topology {
	case config.TopologyBounded:
		if f.Width <= 0 || f.Height <= 0 {
			return SnapshotV1{}, fmt.Errorf("bounded frame has size %dx%d", f.Width, f.Height)
		}
		snap.Width, snap.Height = f.Width, f.Height
		codes := make([]uint32, f.Width*f.Height)
		for _, c := range f.Cells {
			if c.X < 0 || c.Y < 0 || c.X >= int64(f.Width) || c.Y >= int64(f.Height) {
				return SnapshotV1{}, fmt.Errorf("cell (%d,%d) outside %dx%d board", c.X, c.Y, f.Width, f.Height)
			}
			codes[int(c.Y)*f.Width+int(c.X)] = c.Code
		}
		snap.Grid = encoding.EncodeRLE(codes)
	case config.TopologyInfinite:
		snap.ChunkExp = f.ChunkExp
		snap.Cells = make([]CellV1, 0, len(f.Cells))
		for _, c := range f.Cells {
			if c.Code != 0 {
				snap.Cells = append(snap.Cells, CellV1{X: c.X, Y: c.Y, Code: c.Code})
			}
		}
	default:
		return SnapshotV1{}, fmt.Errorf("unknown topology %q", f.Topology)
	}
	return snap, nil
}

// Frame rebuilds the captured frame and checks it against the stored digest.
func (s SnapshotV1) Frame() (session.Frame, error) {
	if s.Header.Version != Version {
		return session.Frame{}, fmt.Errorf("unsupported snapshot version %d", s.Header.Version)
	}
	f := session.Frame{
		Generation: s.Header.Generation,
		Rule:       s.Header.Rule,
		Topology:   s.Topology,
	}
	switch s.Topology {
	case config.TopologyBounded:
		if s.Width <= 0 || s.Height <= 0 {
			return session.Frame{}, fmt.Errorf("bounded snapshot has size %dx%d", s.Width, s.Height)
		}
		codes, err := encoding.DecodeRLEN(s.Grid, s.Width*s.Height)
		if err != nil {
			return session.Frame{}, fmt.Errorf("grid: %w", err)
		}
		if len(codes) != s.Width*s.Height {
			return session.Frame{}, fmt.Errorf("grid has %d cells, want %d", len(codes), s.Width*s.Height)
		}
		f.Width, f.Height = s.Width, s.Height
		f.Cells = []session.Cell{}
		for i, code := range codes {
			if code != 0 {
				f.Cells = append(f.Cells, session.Cell{X: int64(i % s.Width), Y: int64(i / s.Width), Code: code})
			}
		}
	case config.TopologyInfinite:
		f.ChunkExp = s.ChunkExp
		f.Cells = make([]session.Cell, 0, len(s.Cells))
		for _, c := range s.Cells {
			f.Cells = append(f.Cells, session.Cell{X: c.X, Y: c.Y, Code: c.Code})
		}
		session.SortCells(f.Cells)
	default:
		return session.Frame{}, fmt.Errorf("unknown topology %q", s.Topology)
	}
	if s.Digest != "" && f.Digest() != s.Digest {
		return session.Frame{}, fmt.Errorf("digest mismatch at generation %d", s.Header.Generation)
	}
	return f, nil
}

// PathFor names the snapshot of generation gen under dir.
func PathFor(dir string, gen uint64) string {
	return filepath.Join(dir, "snapshots", fmt.Sprintf("%012d.snap.zst", gen))
}

func Write(path string, snap SnapshotV1) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

func Read(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// The header line is for tools that only peek; gob carries it too.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}

// ReadHeader decodes only the header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("header: %w", err)
	}
	return h, nil
}
