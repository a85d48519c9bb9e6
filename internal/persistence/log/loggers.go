package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// JSONLZstdWriter appends JSON lines to zstd-compressed files, one file per
// UTC hour: <dir>/<prefix>-YYYY-MM-DD-HH.jsonl.zst. Reopening an existing
// hour appends a new zstd frame to it.
type JSONLZstdWriter struct {
	dir    string
	prefix string
	now    func() time.Time

	mu  sync.Mutex
	seg *segment
}

// segment is the open file for one hour.
type segment struct {
	hour string
	f    *os.File
	enc  *zstd.Encoder
	buf  *bufio.Writer
}

func openSegment(path, hour string) (*segment, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &segment{hour: hour, f: f, enc: enc, buf: bufio.NewWriterSize(enc, 128*1024)}, nil
}

func (s *segment) writeLine(b []byte) error {
	if _, err := s.buf.Write(b); err != nil {
		return err
	}
	if err := s.buf.WriteByte('\n'); err != nil {
		return err
	}
	return s.buf.Flush()
}

// close ends the zstd frame. The file is closed even when that fails.
func (s *segment) close() error {
	ferr := s.buf.Flush()
	if err := s.enc.Close(); ferr == nil {
		ferr = err
	}
	if err := s.f.Close(); ferr == nil {
		ferr = err
	}
	return ferr
}

func NewJSONLZstdWriter(dir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{dir: dir, prefix: prefix, now: time.Now}
}

// Write appends v as one line, switching files when the hour changes.
func (w *JSONLZstdWriter) Write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if w.seg == nil || w.seg.hour != hour {
		if err := w.closeLocked(); err != nil {
			return err
		}
		seg, err := openSegment(w.pathFor(hour), hour)
		if err != nil {
			return err
		}
		w.seg = seg
	}
	return w.seg.writeLine(b)
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) closeLocked() error {
	if w.seg == nil {
		return nil
	}
	err := w.seg.close()
	w.seg = nil
	return err
}

func (w *JSONLZstdWriter) pathFor(hour string) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// GenerationEntry is one line of the generation log.
type GenerationEntry struct {
	Generation uint64 `json:"generation"`
	Population int    `json:"population"`
	Changed    int    `json:"changed"`
	Digest     string `json:"digest"`
}

// GenerationLogger writes one JSONL entry per generation (compressed).
type GenerationLogger struct{ w *JSONLZstdWriter }

func NewGenerationLogger(dataDir string) *GenerationLogger {
	return &GenerationLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "generations"), "generations")}
}

func (l *GenerationLogger) WriteGeneration(e GenerationEntry) error { return l.w.Write(e) }
func (l *GenerationLogger) Close() error                           { return l.w.Close() }

// ReadGenerations decodes every generation log under dataDir in file name
// order, which is chronological.
func ReadGenerations(dataDir string) ([]GenerationEntry, error) {
	dir := filepath.Join(dataDir, "generations")
	des, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, de := range des {
		if !de.IsDir() && strings.HasPrefix(de.Name(), "generations-") && strings.HasSuffix(de.Name(), ".jsonl.zst") {
			names = append(names, de.Name())
		}
	}
	sort.Strings(names)

	var out []GenerationEntry
	for _, name := range names {
		entries, err := readFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out = append(out, entries...)
	}
	return out, nil
}

func readFile(path string) ([]GenerationEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []GenerationEntry
	jd := json.NewDecoder(dec)
	for {
		var e GenerationEntry
		if err := jd.Decode(&e); err != nil {
			if err == io.EOF {
				return out, nil
			}
			return nil, err
		}
		out = append(out, e)
	}
}
