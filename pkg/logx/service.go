package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

type Config struct {
	Level   string
	Console bool
	File    FileConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

const defaultLogFile = "./sigbatch.log"

// Service owns the process sinks (stderr console, optional JSON file).
// Loggers derived from it follow Apply without being rebuilt.
type Service struct {
	mu   sync.Mutex
	file *os.File

	cur atomic.Pointer[zerolog.Logger]
}

func (s *Service) zl() zerolog.Logger {
	if p := s.cur.Load(); p != nil {
		return *p
	}
	return zerolog.Nop()
}

// New builds the service from cfg. If the log file cannot be opened, logging
// continues on the console and the failure is logged there.
func New(cfg Config) (*Service, Logger) {
	s := &Service{}
	l := Logger{src: s}
	if err := s.Apply(cfg); err != nil {
		l.Warn("log file unavailable; logging to console only", Err(err))
	}
	return s, l
}

func (s *Service) Logger() Logger { return Logger{src: s} }

// Apply swaps level and sinks. A file that fails to open is replaced by the
// console and the error is returned.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		outs    []io.Writer
		openErr error
	)
	if cfg.Console {
		outs = append(outs, consoleWriter())
	}
	var next *os.File
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = defaultLogFile
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			openErr = fmt.Errorf("open log file %q: %w", path, err)
		} else {
			next = f
			outs = append(outs, zerolog.SyncWriter(f))
		}
	}
	if len(outs) == 0 {
		outs = append(outs, consoleWriter())
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(outs...)).
		Level(parseLevel(cfg.Level, LevelInfo)).
		With().Timestamp().Logger()
	s.cur.Store(&zl)

	if s.file != nil {
		_ = s.file.Close()
	}
	s.file = next
	return openErr
}

func (s *Service) Close() error {
	s.mu.Lock()
	f := s.file
	s.file = nil
	s.mu.Unlock()
	if f == nil {
		return nil
	}
	return f.Close()
}

func consoleWriter() io.Writer {
	return zerolog.ConsoleWriter{
		Out:          os.Stderr,
		TimeFormat:   timeLayout,
		FormatCaller: func(i any) string { s, _ := i.(string); return s },
	}
}
