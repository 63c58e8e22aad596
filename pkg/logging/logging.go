package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rexliu/splitsconnect/pkg/config"
)

// Level orders message severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps a config string to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger wraps the standard log.Logger with level gating.
type Logger struct {
	*log.Logger
	mu    sync.RWMutex
	level Level
}

// New returns a logger writing to stdout at info level.
func New(prefix string) *Logger {
	return &Logger{Logger: log.New(os.Stdout, prefix+" ", log.LstdFlags|log.Lshortfile), level: LevelInfo}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return &Logger{Logger: log.New(io.Discard, "", 0), level: LevelError + 1}
}

// With returns a logger sharing output and level with a longer prefix.
func (l *Logger) With(component string) *Logger {
	child := &Logger{Logger: log.New(l.Writer(), l.Prefix()+component+": ", l.Flags())}
	child.level = l.currentLevel()
	return child
}

// Configure applies logging settings from config.
func (l *Logger) Configure(cfg config.LoggingConfig) error {
	if l == nil || l.Logger == nil {
		return nil
	}
	l.mu.Lock()
	l.level = ParseLevel(cfg.Level)
	l.mu.Unlock()
	if cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o700); err != nil {
			return err
		}
		writer, err := newRollingFile(cfg.FilePath, cfg.FileMaxSize)
		if err != nil {
			return err
		}
		l.SetOutput(io.MultiWriter(os.Stdout, writer))
	}
	return nil
}

func (l *Logger) currentLevel() Level {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}

func (l *Logger) logAt(level Level, tag, format string, v ...any) {
	if l == nil || l.Logger == nil || level < l.currentLevel() {
		return
	}
	_ = l.Output(3, tag+" "+fmt.Sprintf(format, v...))
}

// Printf logs at info level so the logger satisfies the package Logger
// interfaces.
func (l *Logger) Printf(format string, v ...any) {
	l.logAt(LevelInfo, "INFO", format, v...)
}

func (l *Logger) Debugf(format string, v ...any) {
	l.logAt(LevelDebug, "DEBUG", format, v...)
}

func (l *Logger) Warnf(format string, v ...any) {
	l.logAt(LevelWarn, "WARN", format, v...)
}

func (l *Logger) Errorf(format string, v ...any) {
	l.logAt(LevelError, "ERROR", format, v...)
}

type rollingFile struct {
	mu   sync.Mutex
	path string
	max  int
	file *os.File
}

func newRollingFile(path string, maxMB int) (*rollingFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, err
	}
	return &rollingFile{path: path, max: maxMB, file: f}, nil
}

func (r *rollingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.max > 0 {
		if info, err := r.file.Stat(); err == nil && info.Size()+int64(len(p)) > int64(r.max)*1024*1024 {
			r.file.Close()
			os.Rename(r.path, r.path+".1")
			newFile, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
			if err != nil {
				return 0, err
			}
			r.file = newFile
		}
	}
	return r.file.Write(p)
}
