// Package logging builds the loggers used by the sync engine and daemon.
// File logging goes through lumberjack so long-running daemons never fill
// the disk with sync chatter.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures a logger.
type Options struct {
	// File is the log file path. Empty means stderr only.
	File string

	// MaxSizeMB and MaxBackups bound file rotation.
	MaxSizeMB  int
	MaxBackups int

	// Quiet suppresses the stderr copy (daemon mode).
	Quiet bool
}

// New returns a logger with the given prefix, writing to stderr and,
// when configured, a rotating log file.
func New(prefix string, opts Options) *log.Logger {
	var writers []io.Writer
	if !opts.Quiet {
		writers = append(writers, os.Stderr)
	}
	if opts.File != "" {
		if opts.MaxSizeMB <= 0 {
			opts.MaxSizeMB = 10
		}
		if opts.MaxBackups <= 0 {
			opts.MaxBackups = 3
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
		})
	}
	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}

	return log.New(io.MultiWriter(writers...), prefix, log.LstdFlags)
}
