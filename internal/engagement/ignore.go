package engagement

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// IgnoreFileName is the ignore list file inside the data directory.
const IgnoreFileName = "ignored_groups.json"

// IgnoreList is the persisted set of conversations excluded from engagement.
type IgnoreList struct {
	path string

	mu  sync.RWMutex
	ids map[string]struct{}
}

// LoadIgnoreList reads <dataDir>/ignored_groups.json, creating an empty list
// when the file is missing.
func LoadIgnoreList(dataDir string) (*IgnoreList, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	l := &IgnoreList{
		path: filepath.Join(dataDir, IgnoreFileName),
		ids:  make(map[string]struct{}),
	}

	data, err := os.ReadFile(l.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return l, l.save()
	case err != nil:
		return nil, fmt.Errorf("failed to read ignore list: %w", err)
	}

	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("failed to decode ignore list: %w", err)
	}
	for _, id := range ids {
		l.ids[id] = struct{}{}
	}
	return l, nil
}

// Contains reports whether id is ignored.
func (l *IgnoreList) Contains(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.ids[id]
	return ok
}

// Add ignores id. It reports whether the list changed.
func (l *IgnoreList) Add(id string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.ids[id]; ok {
		return false, nil
	}
	l.ids[id] = struct{}{}
	if err := l.save(); err != nil {
		delete(l.ids, id)
		return false, err
	}
	return true, nil
}

// Remove stops ignoring id. It reports whether the list changed.
func (l *IgnoreList) Remove(id string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.ids[id]; !ok {
		return false, nil
	}
	delete(l.ids, id)
	if err := l.save(); err != nil {
		l.ids[id] = struct{}{}
		return false, err
	}
	return true, nil
}

// List returns the ignored ids sorted.
func (l *IgnoreList) List() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sorted()
}

func (l *IgnoreList) sorted() []string {
	ids := make([]string, 0, len(l.ids))
	for id := range l.ids {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (l *IgnoreList) save() error {
	data, err := json.MarshalIndent(l.sorted(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode ignore list: %w", err)
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write ignore list: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("failed to replace ignore list: %w", err)
	}
	return nil
}
