package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/veildata-systems/veilpipe/common/logging"
	"github.com/veildata-systems/veilpipe/internal/model"
)

// FileStore writes each dead-letter entry to its own JSON file under
// basePath. File names embed the write time so a directory listing is
// already in arrival order.
type FileStore struct {
	basePath string
	log      *logging.Logger

	mu sync.Mutex
}

// NewFileStore creates the dead-letter directory if needed.
func NewFileStore(basePath string, log *logging.Logger) (*FileStore, error) {
	if basePath == "" {
		basePath = "/var/lib/veilpipe/dlq"
	}
	if log == nil {
		log = logging.Default()
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create dead-letter directory: %w", err)
	}
	return &FileStore{basePath: basePath, log: log}, nil
}

// Write persists an entry as dl_<unixnano>_<id>.json.
func (s *FileStore) Write(ctx context.Context, entry *model.DeadLetterEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal dead-letter entry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := fmt.Sprintf("dl_%020d_%s.json", time.Now().UnixNano(), entry.ID)
	if err := os.WriteFile(filepath.Join(s.basePath, name), data, 0o644); err != nil {
		return fmt.Errorf("write dead-letter entry: %w", err)
	}

	s.log.Debug("dead-letter entry written",
		logging.RecordID(entry.Envelope.ID),
		logging.Reason(entry.Reason),
	)
	return nil
}

// List returns up to limit entries, oldest first.
func (s *FileStore) List(ctx context.Context, limit int) ([]*model.DeadLetterEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.entryNames()
	if err != nil {
		return nil, err
	}

	var entries []*model.DeadLetterEntry
	for _, name := range names {
		if limit > 0 && len(entries) >= limit {
			break
		}
		entry, err := s.readEntry(name)
		if err != nil {
			s.log.Warn("skipping unreadable dead-letter file",
				slog.String("file", name), logging.Error(err))
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Get returns the entry with the given id, or nil.
func (s *FileStore) Get(ctx context.Context, id string) (*model.DeadLetterEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name, err := s.findEntry(id)
	if err != nil || name == "" {
		return nil, err
	}
	return s.readEntry(name)
}

// Remove deletes the entry with the given id.
func (s *FileStore) Remove(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name, err := s.findEntry(id)
	if err != nil {
		return err
	}
	if name == "" {
		return nil
	}
	if err := os.Remove(filepath.Join(s.basePath, name)); err != nil {
		return fmt.Errorf("remove dead-letter entry: %w", err)
	}
	return nil
}

// Purge deletes all entries.
func (s *FileStore) Purge(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.entryNames()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, name := range names {
		if err := os.Remove(filepath.Join(s.basePath, name)); err != nil {
			return removed, fmt.Errorf("purge dead-letter entry: %w", err)
		}
		removed++
	}
	return removed, nil
}

// Close is a no-op for the file backend.
func (s *FileStore) Close() error { return nil }

func (s *FileStore) entryNames() ([]string, error) {
	dirEntries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, fmt.Errorf("read dead-letter directory: %w", err)
	}
	names := make([]string, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasPrefix(de.Name(), "dl_") {
			continue
		}
		names = append(names, de.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (s *FileStore) findEntry(id string) (string, error) {
	names, err := s.entryNames()
	if err != nil {
		return "", err
	}
	suffix := "_" + id + ".json"
	for _, name := range names {
		if strings.HasSuffix(name, suffix) {
			return name, nil
		}
	}
	return "", nil
}

func (s *FileStore) readEntry(name string) (*model.DeadLetterEntry, error) {
	data, err := os.ReadFile(filepath.Join(s.basePath, name))
	if err != nil {
		return nil, fmt.Errorf("read dead-letter entry: %w", err)
	}
	var entry model.DeadLetterEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("parse dead-letter entry %s: %w", name, err)
	}
	return &entry, nil
}
