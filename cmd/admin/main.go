package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"cellsim.ai/internal/persistence/snapshot"
	"cellsim.ai/internal/sim/session"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "export":
			exportCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "run":
			runCmd(os.Args[2:])
			return
		case "frame":
			frameCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	snaps, err := listSnapshots(*dataDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, s := range snaps {
		fmt.Printf("%d\t%s\n", s.Generation, s.Path)
	}
}

func exportCmd(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	snapPath := fs.String("snapshot", "", "snapshot path (optional; defaults to latest)")
	ascii := fs.Bool("ascii", false, "render a bounded frame as text instead of JSON")
	_ = fs.Parse(args)

	path := strings.TrimSpace(*snapPath)
	if path == "" {
		snaps, err := listSnapshots(*dataDir)
		if err != nil || len(snaps) == 0 {
			fmt.Fprintln(os.Stderr, "no snapshot found; provide -snapshot or run server until it writes one")
			os.Exit(2)
		}
		path = snaps[len(snaps)-1].Path
	}

	snap, err := snapshot.Read(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	f, err := snap.Frame()
	if err != nil {
		fmt.Fprintln(os.Stderr, "decode snapshot:", err)
		os.Exit(1)
	}
	if !*ascii {
		printJSON(f)
		return
	}
	if err := renderASCII(os.Stdout, f); err != nil {
		fmt.Fprintln(os.Stderr, "render:", err)
		os.Exit(2)
	}
}

type snapshotFile struct {
	Generation uint64
	Path       string
}

// listSnapshots returns the snapshots under dataDir ordered by generation.
func listSnapshots(dataDir string) ([]snapshotFile, error) {
	dir := filepath.Join(dataDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []snapshotFile
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		gen, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		out = append(out, snapshotFile{Generation: gen, Path: filepath.Join(dir, name)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Generation < out[j].Generation })
	return out, nil
}

// renderASCII writes one line per row: '.' for code 0, 'O' for code 1 and
// the decimal code otherwise (codes above 9 print as '#').
func renderASCII(w io.Writer, f session.Frame) error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("frame has no bounds (topology=%s)", f.Topology)
	}
	rows := make([][]byte, f.Height)
	for y := range rows {
		rows[y] = []byte(strings.Repeat(".", f.Width))
	}
	for _, c := range f.Cells {
		if c.X < 0 || c.Y < 0 || c.X >= int64(f.Width) || c.Y >= int64(f.Height) {
			return fmt.Errorf("cell (%d,%d) out of bounds", c.X, c.Y)
		}
		var b byte
		switch {
		case c.Code == 0:
			b = '.'
		case c.Code == 1:
			b = 'O'
		case c.Code <= 9:
			b = byte('0' + c.Code)
		default:
			b = '#'
		}
		rows[c.Y][c.X] = b
	}
	for _, r := range rows {
		if _, err := fmt.Fprintf(w, "%s\n", r); err != nil {
			return err
		}
	}
	return nil
}
