package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cellsim.ai/internal/persistence/indexdb"
	"cellsim.ai/internal/persistence/snapshot"
)

type runtimeIndex interface {
	Close() error
	RecordGeneration(r indexdb.GenerationRow)
	RecordSnapshot(path string, snap snapshot.SnapshotV1)
	LatestSnapshot(ctx context.Context) (indexdb.SnapshotRow, bool, error)
	Stats() indexdb.Stats
}

// openRuntimeIndex opens the read-model index. CS_INDEX_BACKEND selects the
// backend; "sqlite" is the default.
func openRuntimeIndex(dataDir string, enabled bool) (runtimeIndex, error) {
	if !enabled {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("CS_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		return indexdb.OpenSQLite(filepath.Join(dataDir, "index", "cellsim.sqlite"))
	default:
		return nil, fmt.Errorf("unsupported CS_INDEX_BACKEND: %s", backend)
	}
}
