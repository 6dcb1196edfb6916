// Package logging builds the writer shared by every component logger:
// stderr, plus a size-rotated log file when one is configured.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the log output.
type Options struct {
	// File is the log file path. Empty disables file logging.
	File string

	// MaxSizeMB is the size at which the file is rotated.
	MaxSizeMB int

	// MaxBackups is how many rotated files are kept.
	MaxBackups int

	// MaxAgeDays is how long rotated files are kept.
	MaxAgeDays int

	// Compress gzips rotated files.
	Compress bool

	// Quiet drops the stderr copy.
	Quiet bool
}

// Output is the destination for all loggers created from it.
type Output struct {
	w    io.Writer
	file *lumberjack.Logger
}

// New builds an Output from opts.
func New(opts Options) (*Output, error) {
	var writers []io.Writer
	if !opts.Quiet {
		writers = append(writers, os.Stderr)
	}

	out := &Output{}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return nil, err
		}
		out.file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		}
		writers = append(writers, out.file)
	}

	switch len(writers) {
	case 0:
		out.w = io.Discard
	case 1:
		out.w = writers[0]
	default:
		out.w = io.MultiWriter(writers...)
	}
	return out, nil
}

// Discard returns an Output that drops everything.
func Discard() *Output {
	return &Output{w: io.Discard}
}

// Logger returns a logger writing to the output with a bracketed prefix,
// e.g. Logger("tracker") prefixes lines with "[tracker] ".
func (o *Output) Logger(component string) *log.Logger {
	return log.New(o.w, "["+component+"] ", log.LstdFlags)
}

// Writer returns the underlying writer.
func (o *Output) Writer() io.Writer {
	return o.w
}

// Close closes the log file, if any.
func (o *Output) Close() error {
	if o.file == nil {
		return nil
	}
	return o.file.Close()
}
