package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	from := fs.Uint64("from", 0, "first generation (generations)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "cellsim.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := runQuery(db, os.Stdout, q, *from, *limit); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if strings.HasPrefix(err.Error(), "unknown query") {
			fmt.Fprintln(os.Stderr, "usage: admin db [-data ./data|-db PATH] [-from G] [-limit N] snapshots|generations|meta")
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func runQuery(db *sql.DB, w io.Writer, q string, from uint64, limit int) error {
	if limit <= 0 {
		limit = 20
	}
	switch q {
	case "snapshots":
		rows, err := db.Query(`SELECT generation,path,rule,topology,width,height,chunk_exp,cells,digest,recorded_at FROM snapshots ORDER BY generation DESC LIMIT ?`, limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Generation int64  `json:"generation"`
				Path       string `json:"path"`
				Rule       string `json:"rule"`
				Topology   string `json:"topology"`
				Width      int    `json:"width"`
				Height     int    `json:"height"`
				ChunkExp   int    `json:"chunk_exp"`
				Cells      int    `json:"cells"`
				Digest     string `json:"digest"`
				RecordedAt string `json:"recorded_at"`
			}
			if err := rows.Scan(&r.Generation, &r.Path, &r.Rule, &r.Topology, &r.Width, &r.Height, &r.ChunkExp, &r.Cells, &r.Digest, &r.RecordedAt); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			printJSONTo(w, r)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows: %w", err)
		}

	case "generations":
		rows, err := db.Query(`SELECT generation,population,changed,digest FROM generations WHERE generation >= ? ORDER BY generation LIMIT ?`, int64(from), limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Generation int64  `json:"generation"`
				Population int    `json:"population"`
				Changed    int    `json:"changed"`
				Digest     string `json:"digest"`
			}
			if err := rows.Scan(&r.Generation, &r.Population, &r.Changed, &r.Digest); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			printJSONTo(w, r)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows: %w", err)
		}

	case "meta":
		rows, err := db.Query(`SELECT key,value FROM meta ORDER BY key`)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		out := map[string]string{}
		for rows.Next() {
			var k, v string
			if err := rows.Scan(&k, &v); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			out[k] = v
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows: %w", err)
		}
		printJSONTo(w, out)

	default:
		return fmt.Errorf("unknown query: %s", q)
	}
	return nil
}

func printJSON(v any) { printJSONTo(os.Stdout, v) }

func printJSONTo(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
