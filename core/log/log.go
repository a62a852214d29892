// Package log provides the node-wide logging backend. It follows the
// teacher's pattern of a Backend that hands out named *logging.Logger
// instances (see server/cborplugin/client.go: logBackend.GetLogger("client")),
// with an added rotating file sink.
package log

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/natefinch/lumberjack"
	logging "gopkg.in/op/go-logging.v1"
)

// Backend owns the shared go-logging backend configuration and hands out
// per-subsystem loggers. Typical subsystem names used across this repo:
// "mac", "timesync", "uplink", "schedule", "dataphase", "wakeup", "stream".
type Backend struct {
	mu      sync.Mutex
	level   logging.Level
	writer  io.Writer
	loggers map[string]*logging.Logger
}

// Config controls where log output goes and at what level.
type Config struct {
	// Level is the minimum level emitted, e.g. logging.DEBUG, logging.INFO.
	Level logging.Level

	// File, if non-empty, is the path to a rotating log file. When empty,
	// output goes to stderr only.
	File string

	// MaxSizeMB is the rotation threshold for File.
	MaxSizeMB int

	// MaxBackups is how many rotated files to retain.
	MaxBackups int
}

// NewBackend constructs a Backend. Output always includes stderr; when
// cfg.File is set, a lumberjack-rotated file writer is added alongside it.
func NewBackend(cfg Config) *Backend {
	var w io.Writer = os.Stderr
	if cfg.File != "" {
		fileWriter := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    maxOrDefault(cfg.MaxSizeMB, 50),
			MaxBackups: maxOrDefault(cfg.MaxBackups, 5),
			Compress:   true,
		}
		w = io.MultiWriter(os.Stderr, fileWriter)
	}
	lvl := cfg.Level
	if lvl == 0 {
		lvl = logging.INFO
	}
	return &Backend{
		level:   lvl,
		writer:  w,
		loggers: make(map[string]*logging.Logger),
	}
}

// defaultBackend backs the package-level GetLogger below, so subsystem
// packages (mac, timesync, uplink, schedule, dataphase, wakeup, stream)
// can grab a named logger at init time without threading a *Backend
// through every constructor. Call Configure once at startup, before any
// package-level logger is used, to point it at the real sink.
var defaultBackend = NewBackend(Config{})

// Configure replaces the backend used by the package-level GetLogger,
// typically from the loaded Config.Log at node startup.
func Configure(cfg Config) {
	defaultBackend = NewBackend(cfg)
}

// GetLogger returns the named logger from the default backend.
func GetLogger(name string) *logging.Logger {
	return defaultBackend.GetLogger(name)
}

func maxOrDefault(v, d int) int {
	if v <= 0 {
		return d
	}
	return v
}

var logFormat = logging.MustStringFormatter(
	`%{time:15:04:05.000} %{level:.4s} %{module}: %{message}`,
)

// GetLogger returns the named logger, creating it on first use.
func (b *Backend) GetLogger(name string) *logging.Logger {
	b.mu.Lock()
	defer b.mu.Unlock()

	if l, ok := b.loggers[name]; ok {
		return l
	}

	backend := logging.NewLogBackend(b.writer, "", 0)
	formatted := logging.NewBackendFormatter(backend, logFormat)
	leveled := logging.AddModuleLevel(formatted)
	leveled.SetLevel(b.level, name)

	l := logging.MustGetLogger(name)
	l.SetBackend(leveled)
	b.loggers[name] = l
	return l
}

// GetLogWriter returns an io.Writer that logs each line written to it at
// the given level under the named logger, mirroring the teacher's use of
// this pattern to proxy subprocess stderr into structured logs.
func (b *Backend) GetLogWriter(name, level string) io.Writer {
	l := b.GetLogger(name)
	return &lineWriter{log: l, level: level}
}

type lineWriter struct {
	log   *logging.Logger
	level string
}

func (lw *lineWriter) Write(p []byte) (int, error) {
	switch lw.level {
	case "DEBUG":
		lw.log.Debug(string(p))
	case "WARNING":
		lw.log.Warning(string(p))
	case "ERROR":
		lw.log.Error(string(p))
	default:
		lw.log.Info(string(p))
	}
	return len(p), nil
}

// ParseLevel converts a textual log level, as it would appear in a config
// file, into a logging.Level, returning an error for unrecognized values.
func ParseLevel(s string) (logging.Level, error) {
	lvl, err := logging.LogLevel(s)
	if err != nil {
		return 0, fmt.Errorf("log: invalid level %q: %w", s, err)
	}
	return lvl, nil
}
