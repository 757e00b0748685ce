package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// dailySink writes log lines to <dir>/signet-YYYY-MM-DD.log, rolling the
// file when the local date changes.
type dailySink struct {
	mu   sync.Mutex
	dir  string
	date string
	file *os.File
}

func newDailySink(dir string) (*dailySink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	s := &dailySink{dir: dir}
	if err := s.roll(time.Now()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *dailySink) roll(now time.Time) error {
	date := now.Format("2006-01-02")
	if date == s.date && s.file != nil {
		return nil
	}
	if s.file != nil {
		_ = s.file.Close()
	}
	path := filepath.Join(s.dir, fmt.Sprintf("signet-%s.log", date))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	s.date = date
	s.file = f
	return nil
}

func (s *dailySink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.roll(time.Now()); err != nil {
		return 0, err
	}
	return s.file.Write(p)
}

func (s *dailySink) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	return s.file.Sync()
}
