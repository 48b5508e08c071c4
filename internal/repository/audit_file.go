package repository

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mealhelper/tracelog/internal/model"
)

// FileAuditSink appends records as JSON lines to logDir/audit-YYYY-MM-DD.jsonl.
// The file rolls over when the date changes.
type FileAuditSink struct {
	dir string

	mu   sync.Mutex
	day  string
	file *os.File
	enc  *json.Encoder
}

func NewFileAuditSink(logDir string) (*FileAuditSink, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, err
	}
	s := &FileAuditSink{dir: logDir}
	if err := s.rotate(time.Now()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileAuditSink) Name() string { return "file" }

func (s *FileAuditSink) Insert(_ context.Context, entry *model.AuditRecord) error {
	if entry == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return os.ErrClosed
	}
	if err := s.rotate(time.Now()); err != nil {
		return err
	}
	return s.enc.Encode(entry)
}

// rotate must be called with mu held (or before the sink is shared).
func (s *FileAuditSink) rotate(now time.Time) error {
	day := now.Format("2006-01-02")
	if day == s.day && s.file != nil {
		return nil
	}
	filename := filepath.Join(s.dir, "audit-"+day+".jsonl")
	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if s.file != nil {
		_ = s.file.Close()
	}
	s.day = day
	s.file = f
	s.enc = json.NewEncoder(f)
	return nil
}

func (s *FileAuditSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
