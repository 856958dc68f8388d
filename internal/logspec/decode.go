package logspec

import (
	"fmt"
	"maps"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/hcikit/hcilog/internal/errors"
	"github.com/hcikit/hcilog/internal/interp"
	"github.com/hcikit/hcilog/internal/loader"
)

// fieldReader interpolates and decodes the scalar fields of one section.
type fieldReader struct {
	p      *pass
	scope  *interp.Scope
	path   string
	fields map[string]*loader.Node
}

func (fr *fieldReader) fail(key string, n *loader.Node, err error) error {
	pe := &errors.ConfigParseError{Key: fr.path + "." + key, Err: err}
	if n != nil {
		pe.Path, pe.Line = n.Source, n.Line
	}
	return pe
}

// str returns the interpolated value of key. Missing and null keys report ok=false.
func (fr *fieldReader) str(key string) (string, bool, error) {
	n, ok := fr.fields[key]
	if !ok || n == nil || n.Null {
		return "", false, nil
	}
	if !n.IsScalar() {
		return "", false, fr.fail(key, n, fmt.Errorf("expected a scalar, got %s", n.Kind))
	}
	v, err := fr.p.in.Resolve(n.Value, fr.scope)
	if err != nil {
		var pe *errors.ConfigParseError
		if errors.As(err, &pe) && pe.Path == "" {
			out := *pe
			out.Path, out.Line, out.Key = n.Source, n.Line, fr.path+"."+key
			return "", false, &out
		}
		return "", false, fmt.Errorf("%s: %s.%s: %w", n.Position(), fr.path, key, err)
	}
	return v, true, nil
}

func (fr *fieldReader) text(key, def string) (string, error) {
	v, ok, err := fr.str(key)
	if err != nil || !ok {
		return def, err
	}
	return v, nil
}

func (fr *fieldReader) boolean(key string, def bool) (bool, error) {
	v, ok, err := fr.str(key)
	if err != nil || !ok {
		return def, err
	}
	b, err := ParseBool(v)
	if err != nil {
		return def, fr.fail(key, fr.fields[key], err)
	}
	return b, nil
}

func (fr *fieldReader) integer(key string, def int) (int, error) {
	v, ok, err := fr.str(key)
	if err != nil || !ok {
		return def, err
	}
	n, err := ParseInt(v)
	if err != nil {
		return def, fr.fail(key, fr.fields[key], err)
	}
	if n < 0 {
		return def, fr.fail(key, fr.fields[key], fmt.Errorf("must not be negative"))
	}
	return n, nil
}

func (fr *fieldReader) size(key string, def int64) (int64, error) {
	v, ok, err := fr.str(key)
	if err != nil || !ok {
		return def, err
	}
	n, err := ParseSize(v)
	if err != nil {
		return def, fr.fail(key, fr.fields[key], err)
	}
	return n, nil
}

func (fr *fieldReader) duration(key string, def time.Duration) (time.Duration, error) {
	v, ok, err := fr.str(key)
	if err != nil || !ok {
		return def, err
	}
	d, err := ParseDuration(v)
	if err != nil {
		return def, fr.fail(key, fr.fields[key], err)
	}
	return d, nil
}

func (fr *fieldReader) level(key string, def Level) (Level, error) {
	v, ok, err := fr.str(key)
	if err != nil || !ok {
		return def, err
	}
	l, err := ParseLevel(v)
	if err != nil {
		return def, fr.fail(key, fr.fields[key], err)
	}
	return l, nil
}

func (fr *fieldReader) layout(key, def string) (string, error) {
	v, ok, err := fr.str(key)
	if err != nil || !ok {
		return def, err
	}
	l, err := TimeLayout(v)
	if err != nil {
		return def, fr.fail(key, fr.fields[key], err)
	}
	return l, nil
}

func entries(n *loader.Node) map[string]*loader.Node {
	out := make(map[string]*loader.Node, n.Len())
	for k, v := range n.Entries() {
		out[k] = v
	}
	return out
}

var globalKeys = []string{
	"base_dir", "log_dir", "max_file_size", "max_files", "root_level",
	"date_format", "additional_handlers", "reload_interval", "variables", "vars",
}

func (p *pass) decodeGlobal(n *loader.Node, userVars map[string]string) (Global, error) {
	d := p.defaults
	fr := &fieldReader{p: p, scope: p.global, path: "global", fields: entries(n)}
	for k, v := range n.Entries() {
		if !slices.Contains(globalKeys, k) {
			p.warn(fmt.Sprintf("%s: global: unknown key %q", v.Position(), k))
		}
	}

	var g Global
	var err error
	if g.BaseDir, err = fr.text("base_dir", d.BaseDir); err != nil {
		return g, err
	}
	if g.LogDir, err = fr.text("log_dir", d.LogDir); err != nil {
		return g, err
	}
	g.BaseDir = filepath.Clean(g.BaseDir)
	if !filepath.IsAbs(g.LogDir) {
		g.LogDir = filepath.Join(g.BaseDir, g.LogDir)
	}
	g.LogDir = filepath.Clean(g.LogDir)

	if g.MaxFileSize, err = fr.size("max_file_size", d.MaxFileSize); err != nil {
		return g, err
	}
	if g.MaxFiles, err = fr.integer("max_files", d.MaxFiles); err != nil {
		return g, err
	}
	if g.RootLevel, err = fr.level("root_level", d.RootLevel); err != nil {
		return g, err
	}
	if g.DateFormat, err = fr.layout("date_format", d.DateFormat); err != nil {
		return g, err
	}
	if g.ReloadInterval, err = fr.duration("reload_interval", d.ReloadInterval); err != nil {
		return g, err
	}

	mode, err := fr.text("additional_handlers", string(d.AdditionalHandlers))
	if err != nil {
		return g, err
	}
	switch MergeMode(strings.ToLower(mode)) {
	case MergeAdditive:
		g.AdditionalHandlers = MergeAdditive
	case MergeOverride:
		g.AdditionalHandlers = MergeOverride
	default:
		return g, fr.fail("additional_handlers", fr.fields["additional_handlers"], fmt.Errorf("expected additive or override, got %q", mode))
	}

	if len(userVars) > 0 {
		g.Variables = make(map[string]string, len(userVars))
		for _, k := range slices.Sorted(maps.Keys(userVars)) {
			v, err := p.in.Resolve(userVars[k], p.global)
			if err != nil {
				return g, fmt.Errorf("variable %s: %w", k, err)
			}
			g.Variables[k] = v
		}
	}
	return g, nil
}

// decodeLogger interpolates and decodes a fully layered stack.
func (p *pass) decodeLogger(name, path string, st *stack, chain []string) (*LoggerSpec, error) {
	scope := interp.NewScope(p.global, path, st.vars)
	fr := &fieldReader{p: p, scope: scope, path: path, fields: st.scalars}

	spec := &LoggerSpec{Name: name, Chain: chain}
	var err error
	if spec.Level, err = fr.level("level", p.cfg.RootLevel); err != nil {
		return nil, err
	}
	enabled, err := fr.boolean("enabled", true)
	if err != nil {
		return nil, err
	}
	spec.State = StateDisabled
	if enabled {
		spec.State = StateEnabled
	}
	if spec.Propagate, err = fr.boolean("propagate", false); err != nil {
		return nil, err
	}
	if spec.Format, err = fr.text("format", DefaultFormat); err != nil {
		return nil, err
	}
	if spec.DateFormat, err = fr.layout("date_format", p.cfg.DateFormat); err != nil {
		return nil, err
	}

	for _, hname := range st.handlerOrder {
		h, err := p.decodeHandler(hname, st.handlers[hname], scope, path+".handlers."+hname)
		if err != nil {
			return nil, err
		}
		spec.Handlers = append(spec.Handlers, h)
	}

	for i, fn := range st.filters {
		f, err := p.decodeFilter(fn, scope, fmt.Sprintf("%s.filters[%d]", path, i))
		if err != nil {
			return nil, err
		}
		spec.Filters = append(spec.Filters, f)
	}

	if len(st.fields) > 0 {
		spec.Fields = make(map[string]string, len(st.fields))
		ffr := &fieldReader{p: p, scope: scope, path: path + ".additional_fields", fields: st.fields}
		for _, k := range slices.Sorted(maps.Keys(st.fields)) {
			if spec.Fields[k], err = ffr.text(k, ""); err != nil {
				return nil, err
			}
		}
	}
	return spec, nil
}

var handlerKeys = []string{
	"type", "enabled", "level", "format",
	"filename", "mode", "encoding",
	"stream", "color",
	"network", "address", "facility", "tag",
	"rotation", "max_size", "max_bytes", "when", "interval", "utc", "backup_count",
	"buffer_size", "flush_interval", "enqueue_timeout", "rate_limit", "redact",
}

var rotationKeys = []string{"kind", "max_size", "max_bytes", "when", "interval", "utc", "backup_count"}

// checkHandlerKeys warns about unknown keys. Messages carry only the
// source position so a template shared by many loggers warns once.
func (p *pass) checkHandlerKeys(n *loader.Node) {
	for k, v := range n.Entries() {
		if !slices.Contains(handlerKeys, k) {
			p.warn(fmt.Sprintf("%s: unknown handler key %q", v.Position(), k))
		}
		if k == "rotation" && v.IsMapping() {
			for rk, rv := range v.Entries() {
				if !slices.Contains(rotationKeys, rk) {
					p.warn(fmt.Sprintf("%s: unknown rotation key %q", rv.Position(), rk))
				}
			}
		}
	}
}

// handlerFields flattens a handler mapping; keys of a rotation sub-mapping
// take precedence over the same keys at handler level.
func handlerFields(n *loader.Node) map[string]*loader.Node {
	fields := entries(n)
	if rot, ok := fields["rotation"]; ok && rot.IsMapping() {
		delete(fields, "rotation")
		for k, v := range rot.Entries() {
			if k == "kind" {
				k = "rotation"
			}
			fields[k] = v
		}
	}
	if _, ok := fields["max_size"]; !ok {
		if mb, ok := fields["max_bytes"]; ok {
			fields["max_size"] = mb
		}
	}
	return fields
}

func inferHandlerType(name string) (HandlerType, bool) {
	n := strings.ToLower(name)
	switch {
	case strings.Contains(n, "window"):
		return HandlerWindow, true
	case strings.Contains(n, "syslog"):
		return HandlerSyslog, true
	case strings.Contains(n, "file"):
		return HandlerFile, true
	case strings.Contains(n, "console"), strings.Contains(n, "stream"), n == "stdout", n == "stderr":
		return HandlerConsole, true
	}
	return "", false
}

func parseHandlerType(s string) (HandlerType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "console", "stream":
		return HandlerConsole, true
	case "file", "rotating_file":
		return HandlerFile, true
	case "syslog":
		return HandlerSyslog, true
	case "window", "log_window":
		return HandlerWindow, true
	}
	return "", false
}

var syslogFacilities = []string{
	"kern", "user", "mail", "daemon", "auth", "syslog", "lpr", "news",
	"uucp", "cron", "authpriv", "ftp",
	"local0", "local1", "local2", "local3", "local4", "local5", "local6", "local7",
}

var rotationWhen = []string{"S", "M", "H", "D", "MIDNIGHT", "W0", "W1", "W2", "W3", "W4", "W5", "W6"}

func (p *pass) decodeHandler(name string, n *loader.Node, scope *interp.Scope, path string) (HandlerSpec, error) {
	p.checkHandlerKeys(n)
	fr := &fieldReader{p: p, scope: scope, path: path, fields: handlerFields(n)}
	h := HandlerSpec{Name: name}
	var err error

	typ, ok, err := fr.str("type")
	if err != nil {
		return h, err
	}
	if ok {
		if h.Type, ok = parseHandlerType(typ); !ok {
			return h, fr.fail("type", fr.fields["type"], fmt.Errorf("unknown handler type %q", typ))
		}
	} else if h.Type, ok = inferHandlerType(name); !ok {
		return h, &errors.ConfigParseError{Path: n.Source, Line: n.Line, Key: path, Msg: "cannot infer handler type from name; set type"}
	}

	if h.Enabled, err = fr.boolean("enabled", true); err != nil {
		return h, err
	}
	if h.Level, err = fr.level("level", LevelTrace); err != nil {
		return h, err
	}
	if h.Format, err = fr.text("format", ""); err != nil {
		return h, err
	}
	if h.BufferSize, err = fr.integer("buffer_size", DefaultBufferSize); err != nil {
		return h, err
	}
	if h.BufferSize == 0 {
		h.BufferSize = DefaultBufferSize
	}
	if h.FlushInterval, err = fr.duration("flush_interval", DefaultFlushInterval); err != nil {
		return h, err
	}
	if h.EnqueueTimeout, err = fr.duration("enqueue_timeout", DefaultEnqueueTimeout); err != nil {
		return h, err
	}
	if h.Redact, err = fr.boolean("redact", false); err != nil {
		return h, err
	}

	switch h.Type {
	case HandlerFile:
		err = p.decodeFileHandler(&h, fr)
	case HandlerConsole:
		err = decodeConsoleHandler(&h, fr)
	case HandlerSyslog:
		err = decodeSyslogHandler(&h, fr)
	case HandlerWindow:
		if h.RateLimit, err = fr.integer("rate_limit", DefaultRateLimit); err != nil {
			return h, err
		}
		if h.FlushInterval, err = fr.duration("flush_interval", 100*time.Millisecond); err != nil {
			return h, err
		}
		err = decodeColor(&h, fr)
	}
	return h, err
}

func (p *pass) decodeFileHandler(h *HandlerSpec, fr *fieldReader) error {
	filename, err := fr.text("filename", "")
	if err != nil {
		return err
	}
	if filename == "" {
		if h.Enabled {
			return fr.fail("filename", nil, fmt.Errorf("file handler requires a filename"))
		}
	} else {
		if !filepath.IsAbs(filename) {
			filename = filepath.Join(p.cfg.LogDir, filename)
		}
		h.Filename = filepath.Clean(filename)
	}

	mode, err := fr.text("mode", "a")
	if err != nil {
		return err
	}
	switch mode {
	case "a", "w":
		h.Mode = mode
	default:
		return fr.fail("mode", fr.fields["mode"], fmt.Errorf("expected a or w, got %q", mode))
	}
	if enc, err := fr.text("encoding", "utf-8"); err != nil {
		return err
	} else if e := strings.ToLower(strings.ReplaceAll(enc, "-", "")); e != "utf8" {
		p.warn(fmt.Sprintf("%s: encoding %q is ignored, files are written as UTF-8", fr.fields["encoding"].Position(), enc))
	}

	rot := &h.Rotation
	if rot.MaxSize, err = fr.size("max_size", p.cfg.MaxFileSize); err != nil {
		return err
	}
	if rot.BackupCount, err = fr.integer("backup_count", p.cfg.MaxFiles); err != nil {
		return err
	}
	when, err := fr.text("when", "")
	if err != nil {
		return err
	}
	if when != "" {
		rot.When = strings.ToUpper(when)
		if !slices.Contains(rotationWhen, rot.When) {
			return fr.fail("when", fr.fields["when"], fmt.Errorf("unsupported rotation interval unit %q", when))
		}
	}
	if rot.Interval, err = fr.integer("interval", 1); err != nil {
		return err
	}
	if rot.Interval == 0 {
		rot.Interval = 1
	}
	if rot.UTC, err = fr.boolean("utc", false); err != nil {
		return err
	}

	kind, err := fr.text("rotation", "")
	if err != nil {
		return err
	}
	switch RotationKind(strings.ToLower(kind)) {
	case "":
		switch {
		case rot.When != "":
			rot.Kind = RotateTime
		case rot.MaxSize > 0:
			rot.Kind = RotateSize
		default:
			rot.Kind = RotateNone
		}
	case RotateSize:
		rot.Kind = RotateSize
		if rot.MaxSize == 0 {
			return fr.fail("max_size", fr.fields["max_size"], fmt.Errorf("size rotation needs max_size > 0"))
		}
	case RotateTime:
		rot.Kind = RotateTime
		if rot.When == "" {
			rot.When = "MIDNIGHT"
		}
	case RotateNone:
		rot.Kind = RotateNone
	default:
		return fr.fail("rotation", fr.fields["rotation"], fmt.Errorf("unknown rotation kind %q", kind))
	}
	if rot.Kind != RotateTime {
		rot.When, rot.Interval, rot.UTC = "", 0, false
	}
	return nil
}

func decodeConsoleHandler(h *HandlerSpec, fr *fieldReader) error {
	stream, err := fr.text("stream", "stderr")
	if err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimPrefix(stream, "ext://sys.")) {
	case "stdout":
		h.Stream = "stdout"
	case "stderr":
		h.Stream = "stderr"
	default:
		return fr.fail("stream", fr.fields["stream"], fmt.Errorf("expected stdout or stderr, got %q", stream))
	}
	return decodeColor(h, fr)
}

func decodeColor(h *HandlerSpec, fr *fieldReader) error {
	color, err := fr.text("color", "auto")
	if err != nil {
		return err
	}
	switch strings.ToLower(color) {
	case "auto":
		h.Color = "auto"
	case "always", "true", "yes", "on":
		h.Color = "always"
	case "never", "false", "no", "off":
		h.Color = "never"
	default:
		return fr.fail("color", fr.fields["color"], fmt.Errorf("expected auto, always or never, got %q", color))
	}
	return nil
}

func decodeSyslogHandler(h *HandlerSpec, fr *fieldReader) error {
	addr, err := fr.text("address", "")
	if err != nil {
		return err
	}
	network, err := fr.text("network", "")
	if err != nil {
		return err
	}
	if scheme, rest, ok := strings.Cut(addr, "://"); ok {
		network, addr = scheme, rest
	}
	if network == "" {
		switch {
		case addr == "":
		case strings.HasPrefix(addr, "/"):
			network = "unixgram"
		default:
			network = "udp"
		}
	}
	switch network {
	case "", "unix", "unixgram":
	case "udp", "tcp":
		if !strings.Contains(addr, ":") {
			addr += ":514"
		}
	default:
		return fr.fail("network", fr.fields["network"], fmt.Errorf("unsupported syslog network %q", network))
	}
	h.Network, h.Address = network, addr

	if h.Facility, err = fr.text("facility", DefaultSyslogFacility); err != nil {
		return err
	}
	h.Facility = strings.ToLower(h.Facility)
	if !slices.Contains(syslogFacilities, h.Facility) {
		return fr.fail("facility", fr.fields["facility"], fmt.Errorf("unknown syslog facility %q", h.Facility))
	}
	h.Tag, err = fr.text("tag", DefaultSyslogTag)
	return err
}

var filterKeys = []string{"type", "kind", "name", "pattern", "action", "enabled"}

func (p *pass) decodeFilter(n *loader.Node, scope *interp.Scope, path string) (FilterSpec, error) {
	var f FilterSpec
	if !n.IsMapping() {
		return f, &errors.ConfigParseError{Path: n.Source, Line: n.Line, Key: path, Msg: "expected a mapping"}
	}
	for k, v := range n.Entries() {
		if !slices.Contains(filterKeys, k) {
			p.warn(fmt.Sprintf("%s: %s: unknown filter key %q", v.Position(), path, k))
		}
	}
	fr := &fieldReader{p: p, scope: scope, path: path, fields: entries(n)}

	kind, err := fr.text("type", "")
	if err != nil {
		return f, err
	}
	if kind == "" {
		if kind, err = fr.text("kind", ""); err != nil {
			return f, err
		}
	}
	name, hasName, err := fr.str("name")
	if err != nil {
		return f, err
	}
	pattern, hasPattern, err := fr.str("pattern")
	if err != nil {
		return f, err
	}

	switch FilterKind(strings.ToLower(kind)) {
	case FilterModule:
		f.Kind = FilterModule
	case FilterRegex:
		f.Kind = FilterRegex
	case "":
		f.Kind = FilterModule
		if !hasName && hasPattern {
			f.Kind = FilterRegex
		}
	default:
		return f, fr.fail("type", fr.fields["type"], fmt.Errorf("unknown filter type %q", kind))
	}

	f.Pattern = pattern
	if !hasPattern || (f.Kind == FilterModule && hasName) {
		f.Pattern = name
	}
	if f.Pattern == "" {
		return f, &errors.ConfigParseError{Path: n.Source, Line: n.Line, Key: path, Msg: "filter needs a name or pattern"}
	}
	if f.Kind == FilterRegex {
		if _, err := regexp.Compile(f.Pattern); err != nil {
			return f, &errors.ConfigParseError{Path: n.Source, Line: n.Line, Key: path + ".pattern", Err: err}
		}
	}

	action, err := fr.text("action", string(ActionInclude))
	if err != nil {
		return f, err
	}
	switch FilterAction(strings.ToLower(action)) {
	case ActionInclude:
		f.Action = ActionInclude
	case ActionExclude:
		f.Action = ActionExclude
	default:
		return f, fr.fail("action", fr.fields["action"], fmt.Errorf("expected include or exclude, got %q", action))
	}

	f.Enabled, err = fr.boolean("enabled", true)
	return f, err
}
