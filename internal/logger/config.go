package logger

import (
	"time"

	"github.com/hcikit/hcilog/internal/interp"
	"github.com/hcikit/hcilog/internal/loader"
	"github.com/hcikit/hcilog/internal/logspec"
)

// Defaults for Config fields left at their zero value.
const (
	DefaultShutdownTimeout = 5 * time.Second
	DefaultWatchDebounce   = 250 * time.Millisecond
	DefaultMaxIncludeDepth = 32
)

// Config describes where the logging documents live and how the manager
// keeps them current.
type Config struct {
	// Paths are the top-level documents, merged in order (later wins).
	Paths []string

	// Env is the variable snapshot used for interpolation. Nil takes a
	// fresh snapshot of the process environment on every load.
	Env *interp.Environment

	// ReloadInterval re-reads the documents periodically. Zero uses
	// global.reload_interval from the documents; negative disables.
	ReloadInterval time.Duration

	// WatchFiles reloads when a loaded document changes on disk.
	WatchFiles bool

	// WatchDebounce coalesces bursts of file events into one reload.
	WatchDebounce time.Duration

	// ShutdownTimeout bounds Shutdown when its context has no deadline.
	ShutdownTimeout time.Duration

	// MaxIncludeDepth guards include chains.
	MaxIncludeDepth int
}

func (c Config) withDefaults() Config {
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.WatchDebounce <= 0 {
		c.WatchDebounce = DefaultWatchDebounce
	}
	if c.MaxIncludeDepth <= 0 {
		c.MaxIncludeDepth = DefaultMaxIncludeDepth
	}
	return c
}

func (c Config) environment() interp.Environment {
	if c.Env != nil {
		return *c.Env
	}
	return interp.SnapshotEnvironment()
}

// Resolve loads and resolves the documents of c without opening any sink.
// It returns the resolved configuration and every file that was read.
func Resolve(c Config, opts ...loader.Option) (*logspec.ResolvedConfig, []string, error) {
	c = c.withDefaults()
	l := loader.New(append([]loader.Option{loader.WithMaxDepth(c.MaxIncludeDepth)}, opts...)...)
	return resolve(l, c)
}

func resolve(l *loader.Loader, c Config) (*logspec.ResolvedConfig, []string, error) {
	docs := &loader.Documents{}
	if len(c.Paths) > 0 {
		var err error
		if docs, err = l.LoadAll(c.Paths); err != nil {
			return nil, nil, err
		}
	}
	cfg, err := logspec.NewResolver(c.environment()).Resolve(docs.Trees)
	if err != nil {
		return nil, nil, err
	}
	return cfg, docs.Files, nil
}
