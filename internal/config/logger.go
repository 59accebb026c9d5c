package config

import (
	"fmt"
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
)

// NewLogger builds the root logger. The returned closer releases the log
// file, if any.
func NewLogger(name string, c LogConfig) (hclog.Logger, io.Closer, error) {
	level := hclog.Info
	if c.Level != "" {
		level = hclog.LevelFromString(c.Level)
		if level == hclog.NoLevel {
			return nil, nil, fmt.Errorf("unknown log level %q", c.Level)
		}
	}

	var (
		out    io.Writer = os.Stderr
		closer io.Closer = nopCloser{}
	)
	if c.File != "" {
		f, err := os.OpenFile(c.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out, closer = f, f
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:       name,
		Level:      level,
		Output:     out,
		JSONFormat: c.JSON,
	})
	return logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
