package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const (
	currentFile     = "audit.log"
	defaultMaxSize  = 100 << 20
	defaultMaxFiles = 10
)

var errFileLoggerClosed = errors.New("audit file logger is closed")

// FileLoggerConfig configures the file sink
type FileLoggerConfig struct {
	BasePath string
	Rotate   bool
	MaxSize  int64 // bytes written to audit.log before it is rotated
	MaxFiles int   // rotated files kept
}

// FileLogger appends events as JSON lines to <BasePath>/audit.log. Rotated
// files are named audit-<utc time>-<seq>.log so lexical order is age order.
type FileLogger struct {
	cfg FileLoggerConfig

	mu   sync.Mutex
	f    *os.File
	size int64
	seq  int
}

func NewFileLogger(cfg FileLoggerConfig) (*FileLogger, error) {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = defaultMaxSize
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = defaultMaxFiles
	}
	if err := os.MkdirAll(cfg.BasePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory %s: %w", cfg.BasePath, err)
	}

	l := &FileLogger{cfg: cfg}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *FileLogger) path() string {
	return filepath.Join(l.cfg.BasePath, currentFile)
}

func (l *FileLogger) open() error {
	f, err := os.OpenFile(l.path(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to stat audit log: %w", err)
	}
	l.f, l.size = f, info.Size()
	return nil
}

// rotate must be called with mu held
func (l *FileLogger) rotate() error {
	if err := l.f.Close(); err != nil {
		return err
	}
	l.f = nil

	l.seq++
	name := fmt.Sprintf("audit-%s-%06d.log", time.Now().UTC().Format("20060102T150405"), l.seq)
	if err := os.Rename(l.path(), filepath.Join(l.cfg.BasePath, name)); err != nil {
		return err
	}
	if err := l.prune(); err != nil {
		return err
	}
	return l.open()
}

func (l *FileLogger) prune() error {
	rotated, err := filepath.Glob(filepath.Join(l.cfg.BasePath, "audit-*.log"))
	if err != nil || len(rotated) <= l.cfg.MaxFiles {
		return err
	}
	sort.Strings(rotated)
	for _, name := range rotated[:len(rotated)-l.cfg.MaxFiles] {
		if err := os.Remove(name); err != nil {
			return err
		}
	}
	return nil
}

func (l *FileLogger) Log(_ context.Context, event *AuditEvent) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode audit event: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return errFileLoggerClosed
	}
	if l.cfg.Rotate && l.size > 0 && l.size >= l.cfg.MaxSize {
		if err := l.rotate(); err != nil {
			return fmt.Errorf("failed to rotate audit log: %w", err)
		}
	}

	n, err := l.f.Write(line)
	l.size += int64(n)
	if err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

// ReadLogs returns the first count events of the current file, or all of
// them when count <= 0
func (l *FileLogger) ReadLogs(count int) ([]*AuditEvent, error) {
	f, err := os.Open(l.path())
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	var events []*AuditEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64<<10), 4<<20)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		event := new(AuditEvent)
		if err := json.Unmarshal(scanner.Bytes(), event); err != nil {
			return nil, fmt.Errorf("failed to decode audit log line %d: %w", len(events)+1, err)
		}
		events = append(events, event)
		if count > 0 && len(events) == count {
			break
		}
	}
	return events, scanner.Err()
}
