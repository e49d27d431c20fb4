package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// DiskStore writes each Run as a JSON file named after its ID.
type DiskStore struct {
	mu  sync.Mutex
	dir string
}

// NewDiskStore creates a DiskStore rooted at dir. An empty dir selects a
// temp directory created lazily on first use; a named dir is created on
// first use if missing.
func NewDiskStore(dir string) *DiskStore {
	return &DiskStore{dir: dir}
}

// Save writes a Run to disk, replacing any earlier record with the same ID.
func (s *DiskStore) Save(run *Run) error {
	if err := checkID(run.ID); err != nil {
		return err
	}
	dir, err := s.ensureDir()
	if err != nil {
		return err
	}
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshalling run %s: %w", run.ID, err)
	}

	// Write then rename so a concurrent Load never sees a partial file.
	tmp, err := os.CreateTemp(dir, run.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("writing run %s: %w", run.ID, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing run %s: %w", run.ID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing run %s: %w", run.ID, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, run.ID+".json")); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing run %s: %w", run.ID, err)
	}
	return nil
}

// Load reads a Run from disk.
func (s *DiskStore) Load(runID string) (*Run, error) {
	if err := checkID(runID); err != nil {
		return nil, err
	}
	dir, err := s.ensureDir()
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, runID+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading run %s: %w", runID, err)
	}
	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("unmarshalling run %s: %w", runID, err)
	}
	return &run, nil
}

// Dir returns the directory runs are written to, creating it if needed.
func (s *DiskStore) Dir() (string, error) {
	return s.ensureDir()
}

func (s *DiskStore) ensureDir() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dir != "" {
		if err := os.MkdirAll(s.dir, 0o755); err != nil {
			return "", fmt.Errorf("creating run directory: %w", err)
		}
		return s.dir, nil
	}
	dir, err := os.MkdirTemp("", "tankbridge-runs-*")
	if err != nil {
		return "", fmt.Errorf("creating run directory: %w", err)
	}
	s.dir = dir
	return dir, nil
}

// checkID rejects IDs that would escape the store directory.
func checkID(id string) error {
	if id == "" || id != filepath.Base(id) || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return fmt.Errorf("invalid run id %q", id)
	}
	return nil
}
