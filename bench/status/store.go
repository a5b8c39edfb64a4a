// Package status persists the latest status batch of each node and follows
// those snapshots on behalf of the router.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/loadbench/loadbench/bench"
)

// ErrNotFound is returned by Load when a node has not persisted any status yet.
var ErrNotFound = errors.New("no status persisted")

// tmpSuffix marks in-progress writes; followers ignore these files.
const tmpSuffix = ".tmp"

// FileStore keeps one JSON file per node, <dir>/<node-id>.
// Save writes a temp file in the same directory, syncs it and renames it over
// the target, so readers see either the previous batch or the new one.
type FileStore struct {
	dir    string
	encode func(w io.Writer, batch bench.ReportBatch) error
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating status dir: %w", err)
	}
	return &FileStore{dir: dir, encode: encodeJSON}, nil
}

func encodeJSON(w io.Writer, batch bench.ReportBatch) error {
	return json.NewEncoder(w).Encode(batch)
}

// Dir returns the status directory.
func (s *FileStore) Dir() string { return s.dir }

// Path returns the file holding nodeID's status.
func (s *FileStore) Path(nodeID string) string {
	return filepath.Join(s.dir, nodeID)
}

// Save implements bench.StatusStore.
func (s *FileStore) Save(_ context.Context, batch bench.ReportBatch) error {
	if batch.NodeID == "" {
		return fmt.Errorf("saving status: empty node id")
	}
	tmp, err := os.CreateTemp(s.dir, "."+batch.NodeID+"-*"+tmpSuffix)
	if err != nil {
		return fmt.Errorf("creating temp status file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if err := s.encode(tmp, batch); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing status for %s: %w", batch.NodeID, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("syncing status for %s: %w", batch.NodeID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing status for %s: %w", batch.NodeID, err)
	}
	if err := os.Rename(tmpName, s.Path(batch.NodeID)); err != nil {
		return fmt.Errorf("publishing status for %s: %w", batch.NodeID, err)
	}
	committed = true
	return nil
}

// Load implements bench.StatusStore.
func (s *FileStore) Load(_ context.Context, nodeID string) (bench.ReportBatch, error) {
	data, err := os.ReadFile(s.Path(nodeID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return bench.ReportBatch{}, fmt.Errorf("%s: %w", nodeID, ErrNotFound)
		}
		return bench.ReportBatch{}, fmt.Errorf("reading status for %s: %w", nodeID, err)
	}
	var batch bench.ReportBatch
	if err := json.Unmarshal(data, &batch); err != nil {
		return bench.ReportBatch{}, fmt.Errorf("decoding status for %s: %w", nodeID, err)
	}
	return batch, nil
}

// isStatusFile reports whether name (a base name) can hold a node status.
func isStatusFile(name string) bool {
	return name != "" && !strings.HasPrefix(name, ".") && !strings.HasSuffix(name, tmpSuffix)
}
