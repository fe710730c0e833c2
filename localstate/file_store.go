package localstate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fedlab/fedflow/types"
)

// FileStore is a file-based implementation of Store. Each state is one
// JSON file under baseDir/<planKey>/<refKey>.json. Suitable for
// single-node deployments where state must survive a restart.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
	closed  bool
}

// fileEntry is the on-disk format of one state.
type fileEntry struct {
	Ref  types.StateRef `json:"ref"`
	Data []byte         `json:"data"`
}

// NewFileStore creates a file-based state store rooted at baseDir.
func NewFileStore(baseDir string) (*FileStore, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("file store requires a base directory")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) planDir(planKey string) string {
	return filepath.Join(s.baseDir, planKey)
}

func (s *FileStore) statePath(planKey, refKey string) string {
	return filepath.Join(s.planDir(planKey), refKey+".json")
}

// Save persists the payload of one state.
func (s *FileStore) Save(ctx context.Context, planKey string, ref types.StateRef, data []byte) error {
	if ref.Key == "" {
		return ErrInvalidRef
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	if err := os.MkdirAll(s.planDir(planKey), 0o755); err != nil {
		return fmt.Errorf("create plan dir: %w", err)
	}

	buf, err := json.Marshal(fileEntry{Ref: ref, Data: data})
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	// Write through a temp file so readers never observe a partial state.
	path := s.statePath(planKey, ref.Key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return os.Rename(tmp, path)
}

// Get returns the payload saved for refKey.
func (s *FileStore) Get(ctx context.Context, planKey, refKey string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	buf, err := os.ReadFile(s.statePath(planKey, refKey))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}

	var e fileEntry
	if err := json.Unmarshal(buf, &e); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return e.Data, nil
}

// Delete removes one state.
func (s *FileStore) Delete(ctx context.Context, planKey, refKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	err := os.Remove(s.statePath(planKey, refKey))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete state: %w", err)
	}
	return nil
}

// DeleteBefore removes every state of the plan below the given round.
func (s *FileStore) DeleteBefore(ctx context.Context, planKey string, round int) (int, error) {
	refs, err := s.List(ctx, planKey)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, ref := range refs {
		if ref.Round >= round {
			continue
		}
		if err := s.Delete(ctx, planKey, ref.Key); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// List returns the refs of every state saved for the plan.
func (s *FileStore) List(ctx context.Context, planKey string) ([]types.StateRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	entries, err := os.ReadDir(s.planDir(planKey))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list states: %w", err)
	}

	var refs []types.StateRef
	for _, de := range entries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		buf, err := os.ReadFile(filepath.Join(s.planDir(planKey), de.Name()))
		if err != nil {
			return nil, fmt.Errorf("read state: %w", err)
		}
		var e fileEntry
		if err := json.Unmarshal(buf, &e); err != nil {
			return nil, fmt.Errorf("decode state %s: %w", de.Name(), err)
		}
		refs = append(refs, e.Ref)
	}
	return refs, nil
}

// Ping checks if the store directory is accessible.
func (s *FileStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	_, err := os.Stat(s.baseDir)
	return err
}

// Close closes the store.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ Store = (*FileStore)(nil)
