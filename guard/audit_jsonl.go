package guard

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// JSONLAuditSink appends one JSON object per decision, rotating the file by
// size with a timestamp suffix.
type JSONLAuditSink struct {
	path           string
	rotateMaxBytes int64

	mu   sync.Mutex
	file *os.File
	size int64
}

func NewJSONLAuditSink(path string, rotateMaxBytes int64) (*JSONLAuditSink, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("missing jsonl path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	s := &JSONLAuditSink{path: path, rotateMaxBytes: rotateMaxBytes}
	if err := s.openLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *JSONLAuditSink) Emit(ctx context.Context, e AuditEvent) error {
	if s == nil {
		return nil
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	raw = append(raw, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return fmt.Errorf("audit sink is closed")
	}
	if err := s.rotateIfNeededLocked(int64(len(raw))); err != nil {
		return err
	}
	n, err := s.file.Write(raw)
	s.size += int64(n)
	return err
}

func (s *JSONLAuditSink) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func (s *JSONLAuditSink) rotateIfNeededLocked(incoming int64) error {
	if s.rotateMaxBytes <= 0 || s.size == 0 || s.size+incoming <= s.rotateMaxBytes {
		return nil
	}
	if err := s.file.Close(); err != nil {
		return err
	}
	s.file = nil
	rotated := fmt.Sprintf("%s.%s", s.path, time.Now().UTC().Format("20060102T150405.000000000"))
	if err := os.Rename(s.path, rotated); err != nil {
		return err
	}
	return s.openLocked()
}

func (s *JSONLAuditSink) openLocked() error {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	s.file = f
	s.size = st.Size()
	return nil
}
