// Package logging builds the process logger from configuration.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/deixis/tankbridge/internal/config"
	"github.com/sirupsen/logrus"
)

// New returns a logger configured from cfg and a closer for its output.
// Output goes to stderr unless a file is configured; stdout is reserved
// for command output and the stdio MCP transport. debug forces DebugLevel.
func New(cfg *config.Config, debug bool) (*logrus.Logger, io.Closer, error) {
	l := logrus.New()
	l.SetLevel(cfg.LogLevel())
	if debug {
		l.SetLevel(logrus.DebugLevel)
	}

	switch cfg.Log.Format {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if cfg.Log.File == "" {
		l.SetOutput(os.Stderr)
		return l, nopCloser{}, nil
	}

	f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}
	l.SetOutput(f)
	return l, f, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
