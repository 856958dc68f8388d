// Package logspec holds the resolved logging data model and the resolver
// that turns loaded configuration trees into it.
package logspec

import (
	"bytes"
	"time"

	"gopkg.in/yaml.v3"
)

// EnableState is the three-state enable flag of a logger. Inherited only
// exists while layers are merged; resolved specs are enabled or disabled.
type EnableState uint8

const (
	StateInherited EnableState = iota
	StateDisabled
	StateEnabled
)

func (s EnableState) String() string {
	switch s {
	case StateDisabled:
		return "disabled"
	case StateEnabled:
		return "enabled"
	default:
		return "inherited"
	}
}

func (s EnableState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// HandlerType names a sink kind.
type HandlerType string

const (
	HandlerConsole HandlerType = "console"
	HandlerFile    HandlerType = "file"
	HandlerSyslog  HandlerType = "syslog"
	HandlerWindow  HandlerType = "window"
)

// RotationKind selects the file rotation policy.
type RotationKind string

const (
	RotateNone RotationKind = "none"
	RotateSize RotationKind = "size"
	RotateTime RotationKind = "time"
)

// Rotation describes when a file sink starts a new file and how many old
// files it keeps.
type Rotation struct {
	Kind        RotationKind `yaml:"kind"`
	MaxSize     int64        `yaml:"max_size"`
	When        string       `yaml:"when,omitempty"`     // S, M, H, D, MIDNIGHT, W0-W6
	Interval    int          `yaml:"interval,omitempty"` // multiples of When
	UTC         bool         `yaml:"utc,omitempty"`
	BackupCount int          `yaml:"backup_count"`
}

// FilterKind selects what a filter pattern is matched against.
type FilterKind string

const (
	FilterModule FilterKind = "module"
	FilterRegex  FilterKind = "regex"
)

// FilterAction decides what a matching filter does.
type FilterAction string

const (
	ActionInclude FilterAction = "include"
	ActionExclude FilterAction = "exclude"
)

// FilterSpec is one entry of a logger's filter chain.
type FilterSpec struct {
	Kind    FilterKind   `yaml:"kind"`
	Pattern string       `yaml:"pattern"`
	Action  FilterAction `yaml:"action"`
	Enabled bool         `yaml:"enabled"`
}

// HandlerSpec is the fully merged description of one handler of a logger.
type HandlerSpec struct {
	Name    string      `yaml:"name"`
	Type    HandlerType `yaml:"type"`
	Enabled bool        `yaml:"enabled"`
	Level   Level       `yaml:"level"`
	Format  string      `yaml:"format,omitempty"` // empty means the logger format

	// file
	Filename string `yaml:"filename,omitempty"`
	Mode     string `yaml:"mode,omitempty"` // "a" appends, "w" truncates on open

	// console
	Stream string `yaml:"stream,omitempty"`
	Color  string `yaml:"color,omitempty"` // auto, always, never

	// syslog
	Network  string `yaml:"network,omitempty"`
	Address  string `yaml:"address,omitempty"`
	Facility string `yaml:"facility,omitempty"`
	Tag      string `yaml:"tag,omitempty"`

	Rotation       Rotation      `yaml:"rotation"`
	BufferSize     int           `yaml:"buffer_size,omitempty"`
	FlushInterval  time.Duration `yaml:"flush_interval,omitempty"`
	EnqueueTimeout time.Duration `yaml:"enqueue_timeout,omitempty"`
	RateLimit      int           `yaml:"rate_limit,omitempty"`
	Redact         bool          `yaml:"redact,omitempty"`
}

// Permits reports whether the handler accepts an event at level.
func (h *HandlerSpec) Permits(level Level) bool {
	return h.Enabled && h.Level.Enabled(level)
}

// LoggerSpec is the effective configuration of one declared logger key.
type LoggerSpec struct {
	Name       string            `yaml:"name"`
	Level      Level             `yaml:"level"`
	State      EnableState       `yaml:"state"`
	Propagate  bool              `yaml:"propagate"`
	Format     string            `yaml:"format"`
	DateFormat string            `yaml:"date_format"` // Go time layout
	Handlers   []HandlerSpec     `yaml:"handlers"`    // declaration order
	Filters    []FilterSpec      `yaml:"filters"`
	Fields     map[string]string `yaml:"fields,omitempty"`
	Chain      []string          `yaml:"chain,omitempty"` // inheritance linearization, root first
}

// Enabled reports whether the logger emits at all.
func (s *LoggerSpec) Enabled() bool { return s.State != StateDisabled }

// Handler returns the handler with the given name.
func (s *LoggerSpec) Handler(name string) (*HandlerSpec, bool) {
	for i := range s.Handlers {
		if s.Handlers[i].Name == name {
			return &s.Handlers[i], true
		}
	}
	return nil, false
}

// MergeMode is the policy for additional_handlers.
type MergeMode string

const (
	MergeAdditive MergeMode = "additive"
	MergeOverride MergeMode = "override"
)

// Global holds the resolved global section.
type Global struct {
	BaseDir            string            `yaml:"base_dir"`
	LogDir             string            `yaml:"log_dir"`
	MaxFileSize        int64             `yaml:"max_file_size"`
	MaxFiles           int               `yaml:"max_files"`
	RootLevel          Level             `yaml:"root_level"`
	DateFormat         string            `yaml:"date_format"`
	AdditionalHandlers MergeMode         `yaml:"additional_handlers"`
	ReloadInterval     time.Duration     `yaml:"reload_interval,omitempty"`
	Variables          map[string]string `yaml:"variables,omitempty"`
}

// ResolvedConfig is the immutable output of one resolve pass.
type ResolvedConfig struct {
	Global   Global
	Default  *LoggerSpec
	Loggers  map[string]*LoggerSpec
	Order    []string // logger keys in declaration order
	Warnings []string
}

// Logger returns the spec declared under key.
func (c *ResolvedConfig) Logger(key string) (*LoggerSpec, bool) {
	s, ok := c.Loggers[key]
	return s, ok
}

// Specs returns the default spec followed by every declared spec in order.
func (c *ResolvedConfig) Specs() []*LoggerSpec {
	out := make([]*LoggerSpec, 0, len(c.Order)+1)
	out = append(out, c.Default)
	for _, key := range c.Order {
		out = append(out, c.Loggers[key])
	}
	return out
}

type canonicalConfig struct {
	Global   Global        `yaml:"global"`
	Default  *LoggerSpec   `yaml:"default_logger"`
	Loggers  []*LoggerSpec `yaml:"loggers"`
	Warnings []string      `yaml:"warnings,omitempty"`
}

// Canonical encodes the config as YAML with loggers in declaration order.
// Equal configs encode to identical bytes.
func (c *ResolvedConfig) Canonical() ([]byte, error) {
	doc := canonicalConfig{
		Global:   c.Global,
		Default:  c.Default,
		Warnings: c.Warnings,
	}
	for _, key := range c.Order {
		doc.Loggers = append(doc.Loggers, c.Loggers[key])
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
