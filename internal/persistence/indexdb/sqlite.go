package indexdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"cellsim.ai/internal/persistence/snapshot"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan write
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropGeneration atomic.Uint64
	dropSnapshot   atomic.Uint64
}

// Stats reports writer queue pressure.
type Stats struct {
	QueueDepth          int
	QueueCapacity       int
	DropGenerationTotal uint64
	DropSnapshotTotal   uint64
}

// write is one queued row; it runs inside the writer's open transaction.
type write interface {
	exec(tx *sql.Tx, st *statements) error
}

func (r GenerationRow) exec(tx *sql.Tx, st *statements) error {
	_, err := tx.Stmt(st.generation).Exec(int64(r.Generation), r.Population, r.Changed, r.Digest)
	return err
}

func (r SnapshotRow) exec(tx *sql.Tx, st *statements) error {
	_, err := tx.Stmt(st.snapshot).Exec(int64(r.Generation), r.Path, r.Rule, r.Topology,
		r.Width, r.Height, int64(r.ChunkExp), r.Cells, r.Digest, r.RecordedAt)
	return err
}

// GenerationRow is one simulated generation.
type GenerationRow struct {
	Generation uint64
	Population int
	Changed    int
	Digest     string
}

// SnapshotRow is one snapshot written to disk.
type SnapshotRow struct {
	Generation uint64
	Path       string
	Rule       string
	Topology   string
	Width      int
	Height     int
	ChunkExp   uint
	Cells      int
	Digest     string
	RecordedAt string
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		// Long runs emit a row per generation; keep the simulation from stalling on bursts.
		ch: make(chan write, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

var schema = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
	`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS generations (
		generation INTEGER PRIMARY KEY,
		population INTEGER NOT NULL,
		changed    INTEGER NOT NULL,
		digest     TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS snapshots (
		generation  INTEGER PRIMARY KEY,
		path        TEXT NOT NULL,
		rule        TEXT NOT NULL,
		topology    TEXT NOT NULL,
		width       INTEGER NOT NULL,
		height      INTEGER NOT NULL,
		chunk_exp   INTEGER NOT NULL,
		cells       INTEGER NOT NULL,
		digest      TEXT NOT NULL,
		recorded_at TEXT NOT NULL
	)`,
	`INSERT OR REPLACE INTO meta(key, value) VALUES ('schema_version', '1')`,
}

func migrate(db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("schema step %d: %w", i, err)
		}
	}
	return nil
}

// Close drains the queue, commits and closes the database.
func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:          len(s.ch),
		QueueCapacity:       cap(s.ch),
		DropGenerationTotal: s.dropGeneration.Load(),
		DropSnapshotTotal:   s.dropSnapshot.Load(),
	}
}

// RecordGeneration enqueues a generation row. It never blocks; rows are
// dropped when the writer falls behind.
func (s *SQLiteIndex) RecordGeneration(r GenerationRow) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		// The generation log remains the source of truth.
		s.dropGeneration.Add(1)
	}
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil || s.closed.Load() {
		return
	}
	cells := len(snap.Cells)
	if f, err := snap.Frame(); err == nil {
		cells = len(f.Cells)
	}
	r := SnapshotRow{
		Generation: snap.Header.Generation,
		Path:       path,
		Rule:       snap.Header.Rule,
		Topology:   snap.Topology,
		Width:      snap.Width,
		Height:     snap.Height,
		ChunkExp:   snap.ChunkExp,
		Cells:      cells,
		Digest:     snap.Digest,
		RecordedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	select {
	case s.ch <- r:
	default:
		s.dropSnapshot.Add(1)
	}
}

// GenerationStats returns the row for gen, if it has been written.
func (s *SQLiteIndex) GenerationStats(ctx context.Context, gen uint64) (GenerationRow, bool, error) {
	var r GenerationRow
	var g int64
	err := s.db.QueryRowContext(ctx,
		`SELECT generation,population,changed,digest FROM generations WHERE generation=?`, int64(gen),
	).Scan(&g, &r.Population, &r.Changed, &r.Digest)
	if errors.Is(err, sql.ErrNoRows) {
		return GenerationRow{}, false, nil
	}
	if err != nil {
		return GenerationRow{}, false, err
	}
	r.Generation = uint64(g)
	return r, true, nil
}

// LatestSnapshot returns the snapshot with the highest generation.
func (s *SQLiteIndex) LatestSnapshot(ctx context.Context) (SnapshotRow, bool, error) {
	var r SnapshotRow
	var g int64
	var k int64
	err := s.db.QueryRowContext(ctx,
		`SELECT generation,path,rule,topology,width,height,chunk_exp,cells,digest,recorded_at
		 FROM snapshots ORDER BY generation DESC LIMIT 1`,
	).Scan(&g, &r.Path, &r.Rule, &r.Topology, &r.Width, &r.Height, &k, &r.Cells, &r.Digest, &r.RecordedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return SnapshotRow{}, false, nil
	}
	if err != nil {
		return SnapshotRow{}, false, err
	}
	r.Generation = uint64(g)
	r.ChunkExp = uint(k)
	return r, true, nil
}

type statements struct {
	generation *sql.Stmt
	snapshot   *sql.Stmt
}

func prepare(db *sql.DB) (*statements, error) {
	gen, err := db.Prepare(`INSERT OR REPLACE INTO generations(generation, population, changed, digest) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return nil, err
	}
	snap, err := db.Prepare(`INSERT OR REPLACE INTO snapshots(generation, path, rule, topology, width, height, chunk_exp, cells, digest, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = gen.Close()
		return nil, err
	}
	return &statements{generation: gen, snapshot: snap}, nil
}

func (st *statements) close() {
	_ = st.generation.Close()
	_ = st.snapshot.Close()
}

// batch groups queued writes into one transaction, committed after
// maxRows rows or maxAge, whichever comes first.
type batch struct {
	db      *sql.DB
	tx      *sql.Tx
	rows    int
	opened  time.Time
	maxRows int
	maxAge  time.Duration
}

func (b *batch) add(w write, st *statements) {
	if b.tx == nil {
		tx, err := b.db.Begin()
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		b.tx, b.rows, b.opened = tx, 0, time.Now()
	}
	if err := w.exec(b.tx, st); err != nil {
		_ = b.tx.Rollback()
		b.tx = nil
		return
	}
	b.rows++
	if b.rows >= b.maxRows || time.Since(b.opened) >= b.maxAge {
		b.commit()
	}
}

func (b *batch) commit() {
	if b.tx == nil {
		return
	}
	_ = b.tx.Commit()
	b.tx = nil
}

func (s *SQLiteIndex) loop() {
	st, err := prepare(s.db)
	if err != nil {
		// Nothing can be written; keep draining so Close does not hang.
		for range s.ch {
		}
		return
	}
	defer st.close()

	b := &batch{db: s.db, maxRows: 2000, maxAge: 2 * time.Second}
	for w := range s.ch {
		b.add(w, st)
	}
	b.commit()
}
