//go:build !windows && !plan9

package sink

import (
	"context"
	"fmt"
	"log/syslog"
	"sync"

	"github.com/hcikit/hcilog/internal/errors"
	"github.com/hcikit/hcilog/internal/logspec"
)

var facilities = map[string]syslog.Priority{
	"kern":     syslog.LOG_KERN,
	"user":     syslog.LOG_USER,
	"mail":     syslog.LOG_MAIL,
	"daemon":   syslog.LOG_DAEMON,
	"auth":     syslog.LOG_AUTH,
	"syslog":   syslog.LOG_SYSLOG,
	"lpr":      syslog.LOG_LPR,
	"news":     syslog.LOG_NEWS,
	"uucp":     syslog.LOG_UUCP,
	"cron":     syslog.LOG_CRON,
	"authpriv": syslog.LOG_AUTHPRIV,
	"ftp":      syslog.LOG_FTP,
	"local0":   syslog.LOG_LOCAL0,
	"local1":   syslog.LOG_LOCAL1,
	"local2":   syslog.LOG_LOCAL2,
	"local3":   syslog.LOG_LOCAL3,
	"local4":   syslog.LOG_LOCAL4,
	"local5":   syslog.LOG_LOCAL5,
	"local6":   syslog.LOG_LOCAL6,
	"local7":   syslog.LOG_LOCAL7,
}

// syslogSink forwards lines to a syslog daemon, one message per line.
type syslogSink struct {
	counters

	mu     sync.Mutex
	w      *syslog.Writer
	closed bool
}

func newSyslogSink(key string, h *logspec.HandlerSpec, f *Factory) (Sink, error) {
	facility, ok := facilities[h.Facility]
	if !ok {
		if h.Facility != "" {
			return nil, fmt.Errorf("unknown syslog facility %q", h.Facility)
		}
		facility = syslog.LOG_USER
	}
	tag := h.Tag
	if tag == "" {
		tag = logspec.DefaultSyslogTag
	}
	w, err := syslog.Dial(h.Network, h.Address, facility|syslog.LOG_INFO, tag)
	if err != nil {
		return nil, fmt.Errorf("connect to syslog %s: %w", key, err)
	}
	return &syslogSink{
		counters: counters{key: key, kind: logspec.HandlerSyslog, observer: f.observer},
		w:        w,
	}, nil
}

func (s *syslogSink) Write(_ context.Context, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.ErrSinkClosed
	}

	var err error
	switch {
	case e.Level >= logspec.LevelCritical:
		err = s.w.Crit(e.Line)
	case e.Level >= logspec.LevelError:
		err = s.w.Err(e.Line)
	case e.Level >= logspec.LevelWarning:
		err = s.w.Warning(e.Line)
	case e.Level >= logspec.LevelInfo:
		err = s.w.Info(e.Line)
	default:
		err = s.w.Debug(e.Line)
	}
	if err != nil {
		s.failed()
		return err
	}
	s.wrote(1, len(e.Line))
	return nil
}

func (s *syslogSink) Flush(context.Context) error { return nil }

func (s *syslogSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.w.Close()
}
