// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	"log/syslog"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// Config controls the global logger set up by Init.
type Config struct {
	// Debug enables debug-level output. Default level is info.
	Debug bool

	// Console pretty-prints to stderr instead of emitting JSON.
	Console bool

	// SyslogHost/SyslogPort, when set, ship a copy of every event to a
	// remote syslog daemon over UDP.
	SyslogHost string
	SyslogPort int
}

var root zerolog.Logger

func init() {
	// Usable before Init for tests and early startup failures.
	root = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// Init sets up the global logger. Call once at startup.
func Init(cfg Config) error {
	level := zerolog.InfoLevel
	if cfg.Debug {
		level = zerolog.DebugLevel
	}

	var out io.Writer = os.Stderr
	if cfg.Console {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	writers := []io.Writer{out}
	if cfg.SyslogHost != "" {
		addr := net.JoinHostPort(cfg.SyslogHost, strconv.Itoa(cfg.SyslogPort))
		w, err := syslog.Dial("udp", addr, syslog.LOG_INFO|syslog.LOG_DAEMON, "keyserver")
		if err != nil {
			return err
		}
		writers = append(writers, zerolog.SyslogLevelWriter(w))
	}

	root = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().Timestamp().Logger()
	return nil
}

// WithComponent returns a logger tagged with the given component name.
func WithComponent(name string) zerolog.Logger {
	return root.With().Str("component", name).Logger()
}
