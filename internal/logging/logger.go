package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects the application logger's level, format and file output
type Options struct {
	Verbose bool
	Format  string // "text" or "json"
	File    string // optional size-rotated log file
}

// NewLogger builds the application logger. The returned closer releases the
// log file, if any.
func NewLogger(opts Options, stderr io.Writer) (*logrus.Logger, io.Closer, error) {
	logger := logrus.New()

	switch opts.Format {
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, nil, fmt.Errorf("unknown log format %q", opts.Format)
	}

	if opts.Verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	if stderr == nil {
		stderr = os.Stderr
	}

	if opts.File == "" {
		logger.SetOutput(stderr)
		return logger, nopCloser{}, nil
	}

	w := &lumberjack.Logger{
		Filename: opts.File,
		MaxSize:  64, // MB
		MaxAge:   14,
		Compress: true,
	}
	logger.SetOutput(io.MultiWriter(stderr, w))
	return logger, w, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
