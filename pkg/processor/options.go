package processor

import (
	"log/slog"
	"time"
)

// Config holds the Processor's tunables. Zero value is not valid; use
// DefaultConfig (applied automatically by New) as a base.
type Config struct {
	// MaxConcurrentWrites bounds how many frame writes the builder may
	// have outstanding to the durable log at once.
	MaxConcurrentWrites int
	// MaxReadAtOnce bounds how many operations are pulled off the intake
	// queue per loop iteration.
	MaxReadAtOnce int
	// ShutdownTimeout bounds how long Stop waits for in-flight writes to
	// drain before giving up and returning anyway.
	ShutdownTimeout time.Duration
	// FrameCapacity is the byte capacity of each data frame.
	FrameCapacity uint
	// Logger receives structured log lines for processor start, frame
	// commit, frame write failure, fatal error, a shutdown timeout, and a
	// snapshot writer that could not be created. Defaults to slog.Default().
	Logger *slog.Logger
	// CheckpointDir, if non-empty, enables point-in-time metadata
	// snapshots alongside checkpoint operations: every time the
	// checkpoint policy's byte threshold fires, a snapshot of container
	// metadata is also written under this directory. Empty disables
	// snapshot writing (the checkpoint operation itself still fires).
	CheckpointDir string
}

// DefaultConfig returns the Config New uses when no options override it:
// MaxConcurrentWrites=1, MaxReadAtOnce=1000, ShutdownTimeout=10s,
// FrameCapacity=1MiB, Logger=slog.Default().
func DefaultConfig() Config {
	return Config{
		MaxConcurrentWrites: 1,
		MaxReadAtOnce:       1000,
		ShutdownTimeout:     10 * time.Second,
		FrameCapacity:       1 << 20,
		Logger:              slog.Default(),
	}
}

// Option mutates a Config at construction time.
type Option func(*Config)

// WithMaxConcurrentWrites overrides the default of 1.
func WithMaxConcurrentWrites(n int) Option {
	return func(c *Config) { c.MaxConcurrentWrites = n }
}

// WithMaxReadAtOnce overrides the default of 1000.
func WithMaxReadAtOnce(n int) Option {
	return func(c *Config) { c.MaxReadAtOnce = n }
}

// WithShutdownTimeout overrides the default of 10s.
func WithShutdownTimeout(d time.Duration) Option {
	return func(c *Config) { c.ShutdownTimeout = d }
}

// WithFrameCapacity overrides the default frame byte capacity of 1 MiB.
func WithFrameCapacity(n uint) Option {
	return func(c *Config) { c.FrameCapacity = n }
}

// WithLogger overrides the default logger (slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithCheckpointDir enables on-disk metadata snapshots under dir, written
// every time the checkpoint policy's byte threshold fires. Disabled by
// default.
func WithCheckpointDir(dir string) Option {
	return func(c *Config) { c.CheckpointDir = dir }
}
