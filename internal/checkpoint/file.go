package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/veildata-systems/veilpipe/internal/model"
)

// FileStore keeps checkpoints on local disk: latest.json is replaced
// atomically via rename, history files are pruned to maxHistory.
// Single-instance deployments only.
type FileStore struct {
	basePath   string
	maxHistory int
}

// NewFileStore creates the directory layout if needed.
func NewFileStore(basePath string, maxHistory int) (*FileStore, error) {
	if basePath == "" {
		basePath = "/var/lib/veilpipe/checkpoints"
	}
	if err := os.MkdirAll(filepath.Join(basePath, "history"), 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory: %w", err)
	}
	return &FileStore{basePath: basePath, maxHistory: maxHistory}, nil
}

// Save writes the checkpoint to a temp file and renames it over latest.json,
// so a crash mid-write never leaves partial state behind.
func (s *FileStore) Save(ctx context.Context, cp *model.Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmp := filepath.Join(s.basePath, ".latest.json.tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint temp file: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(s.basePath, "latest.json")); err != nil {
		return fmt.Errorf("replace latest checkpoint: %w", err)
	}

	historyFile := filepath.Join(s.basePath, "history", fmt.Sprintf("checkpoint_%020d.json", cp.Timestamp.UnixNano()))
	if err := os.WriteFile(historyFile, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint history: %w", err)
	}

	return s.prune()
}

// Latest reads latest.json; a missing file means no checkpoint yet.
func (s *FileStore) Latest(ctx context.Context) (*model.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(s.basePath, "latest.json"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read latest checkpoint: %w", err)
	}

	var cp model.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse latest checkpoint: %w", err)
	}
	return &cp, nil
}

// List returns history entries, newest first.
func (s *FileStore) List(ctx context.Context, limit int) ([]*model.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.maxHistory
	}

	names, err := s.historyNames()
	if err != nil {
		return nil, err
	}

	var checkpoints []*model.Checkpoint
	for i := len(names) - 1; i >= 0 && len(checkpoints) < limit; i-- {
		data, err := os.ReadFile(filepath.Join(s.basePath, "history", names[i]))
		if err != nil {
			continue
		}
		var cp model.Checkpoint
		if err := json.Unmarshal(data, &cp); err != nil {
			continue
		}
		checkpoints = append(checkpoints, &cp)
	}
	return checkpoints, nil
}

func (s *FileStore) historyNames() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.basePath, "history"))
	if err != nil {
		return nil, fmt.Errorf("read checkpoint history: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *FileStore) prune() error {
	names, err := s.historyNames()
	if err != nil {
		return err
	}
	for len(names) > s.maxHistory {
		if err := os.Remove(filepath.Join(s.basePath, "history", names[0])); err != nil {
			return fmt.Errorf("prune checkpoint history: %w", err)
		}
		names = names[1:]
	}
	return nil
}
