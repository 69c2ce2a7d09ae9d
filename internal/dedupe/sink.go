// ABOUTME: Append-only file sink for the persisted discovery log.
// ABOUTME: One value per line, synced on every write, serialized through a single writer.

package dedupe

import (
	"fmt"
	"os"
	"sync"
)

// FileSink appends accepted values to a file, one per line. Writes are
// serialized and synced so a crash immediately after an acceptance still
// leaves the value on disk.
type FileSink struct {
	mu sync.Mutex
	f  *os.File
}

// NewFileSink opens (or creates) the log file at path in append mode.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening discovery log: %w", err)
	}
	return &FileSink{f: f}, nil
}

// Append writes value followed by a newline and syncs the file.
func (s *FileSink) Append(value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.f.WriteString(value + "\n"); err != nil {
		return fmt.Errorf("appending to discovery log: %w", err)
	}
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("syncing discovery log: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
