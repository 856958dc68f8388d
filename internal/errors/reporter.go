// Package errors - optional reporter integration
package errors

import (
	"fmt"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
)

// Reporter receives errors built while reporting is active.
type Reporter interface {
	ReportError(err *EnhancedError)
	IsEnabled() bool
}

var (
	globalReporter     atomic.Pointer[Reporter]
	hasActiveReporting atomic.Bool
)

// SetReporter installs the process-wide reporter. Pass nil to disable.
func SetReporter(r Reporter) {
	if r == nil {
		globalReporter.Store(nil)
		hasActiveReporting.Store(false)
		return
	}
	globalReporter.Store(&r)
	hasActiveReporting.Store(r.IsEnabled())
}

// GetReporter returns the current reporter or nil.
func GetReporter() Reporter {
	if p := globalReporter.Load(); p != nil {
		return *p
	}
	return nil
}

func reportError(ee *EnhancedError) {
	if r := GetReporter(); r != nil && r.IsEnabled() {
		r.ReportError(ee)
	}
}

// SentryReporter delivers errors to a dedicated Sentry hub so the engine
// never touches the process-global hub of its host application.
type SentryReporter struct {
	hub *sentry.Hub
}

// NewSentryReporter creates a reporter for dsn. An empty dsn yields a
// disabled reporter.
func NewSentryReporter(dsn, environment string) (*SentryReporter, error) {
	if dsn == "" {
		return &SentryReporter{}, nil
	}
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		AttachStacktrace: true,
	})
	if err != nil {
		return nil, fmt.Errorf("sentry client: %w", err)
	}
	return &SentryReporter{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

// NewSentryReporterWithTransport is used by tests to capture events in memory.
func NewSentryReporterWithTransport(transport sentry.Transport) (*SentryReporter, error) {
	client, err := sentry.NewClient(sentry.ClientOptions{Transport: transport})
	if err != nil {
		return nil, err
	}
	return &SentryReporter{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

// IsEnabled returns whether the reporter has a live hub
func (sr *SentryReporter) IsEnabled() bool {
	return sr != nil && sr.hub != nil
}

// ReportError sends ee once, with its category and component as tags.
func (sr *SentryReporter) ReportError(ee *EnhancedError) {
	if !sr.IsEnabled() || ee.IsReported() {
		return
	}

	message := scrubMessage(fmt.Sprintf("[%s] %s", ee.Category, ee.Error()))

	sr.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", ee.GetComponent())
		scope.SetTag("category", string(ee.Category))
		scope.SetTag("error_type", fmt.Sprintf("%T", ee.Err))
		for key, value := range ee.GetContext() {
			if s, ok := value.(string); ok {
				value = scrubMessage(s)
			}
			scope.SetContext(key, map[string]any{"value": value})
		}
		scope.SetLevel(levelForCategory(ee.Category))
		scope.SetFingerprint([]string{ee.GetComponent(), string(ee.Category)})

		event := sentry.NewEvent()
		event.Message = message
		event.Level = levelForCategory(ee.Category)
		event.Exception = []sentry.Exception{{Type: string(ee.Category), Value: message}}
		sr.hub.CaptureEvent(event)
	})

	ee.MarkReported()
}

// Flush waits for queued events up to timeout.
func (sr *SentryReporter) Flush(timeout time.Duration) bool {
	if !sr.IsEnabled() {
		return true
	}
	return sr.hub.Flush(timeout)
}

func levelForCategory(category ErrorCategory) sentry.Level {
	switch category {
	case CategoryBackpressure, CategoryDispatch, CategoryNetwork:
		return sentry.LevelWarning
	default:
		return sentry.LevelError
	}
}

var (
	urlQueryRegex = regexp.MustCompile(`(https?://[^?\s]+)\?\S*`)
	secretRegex   = regexp.MustCompile(`(?i)((?:api[_-]?key|token|secret|password|link[_-]?key|pin)[=:]\s*)\S+`)
)

// scrubMessage strips URL query strings and obvious secrets before delivery.
func scrubMessage(message string) string {
	message = urlQueryRegex.ReplaceAllString(message, "$1?[REDACTED]")
	return secretRegex.ReplaceAllString(message, "${1}[REDACTED]")
}
