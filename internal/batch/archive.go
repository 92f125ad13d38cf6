package batch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// ArchivedStatus is the local status recorded for every archived batch.
const ArchivedStatus = "archived"

const archiveTimeLayout = "2006-01-02 15:04:05"

// ArchiveEntry is one record of the archive index.
type ArchiveEntry struct {
	Status      string `json:"status"`
	BatchStatus string `json:"batch_status"`
	Timestamp   string `json:"timestamp"`
}

// ArchiveIndex is the local record of batches no longer of interest.
// Membership is monotonic. The whole index is rewritten on every change;
// concurrent writers against the same file are not supported.
type ArchiveIndex struct {
	path    string
	entries map[string]ArchiveEntry
	now     func() time.Time
}

// LoadArchiveIndex reads the index at path. A missing file yields an empty index.
func LoadArchiveIndex(path string) (*ArchiveIndex, error) {
	idx := &ArchiveIndex{
		path:    path,
		entries: make(map[string]ArchiveEntry),
		now:     time.Now,
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return idx, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read archive index: %w", err)
	}
	if len(data) == 0 {
		return idx, nil
	}
	if err := json.Unmarshal(data, &idx.entries); err != nil {
		return nil, fmt.Errorf("failed to parse archive index %s: %w", path, err)
	}
	if idx.entries == nil {
		idx.entries = make(map[string]ArchiveEntry)
	}
	return idx, nil
}

// Path returns the index file location.
func (a *ArchiveIndex) Path() string {
	return a.path
}

// Contains reports whether batchID is archived.
func (a *ArchiveIndex) Contains(batchID string) bool {
	_, ok := a.entries[batchID]
	return ok
}

// Get returns the entry for batchID.
func (a *ArchiveIndex) Get(batchID string) (ArchiveEntry, bool) {
	e, ok := a.entries[batchID]
	return e, ok
}

// Len returns the number of archived batches.
func (a *ArchiveIndex) Len() int {
	return len(a.entries)
}

// IDs returns the archived batch ids in sorted order.
func (a *ArchiveIndex) IDs() []string {
	ids := make([]string, 0, len(a.entries))
	for id := range a.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Archive records batchID with the provider status it had at archive time and
// persists the full index before returning. Archiving an already archived batch
// keeps the original entry and reports added=false.
func (a *ArchiveIndex) Archive(batchID, batchStatus string) (added bool, err error) {
	if batchID == "" {
		return false, fmt.Errorf("cannot archive a batch without an id")
	}
	if a.Contains(batchID) {
		return false, nil
	}

	a.entries[batchID] = ArchiveEntry{
		Status:      ArchivedStatus,
		BatchStatus: batchStatus,
		Timestamp:   a.now().Format(archiveTimeLayout),
	}
	if err := a.save(); err != nil {
		delete(a.entries, batchID)
		return false, err
	}
	return true, nil
}

func (a *ArchiveIndex) save() error {
	data, err := json.MarshalIndent(a.entries, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal archive index: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}
	if err := writeFileAtomic(a.path, append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write archive index: %w", err)
	}
	return nil
}
