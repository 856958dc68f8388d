package errors

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildWithoutReporter(t *testing.T) {
	t.Parallel()

	ee := New(fmt.Errorf("test error")).Build()

	assert.Equal(t, "test error", ee.Error())
	assert.Equal(t, ComponentUnknown, ee.GetComponent())
	assert.Equal(t, CategoryGeneric, ee.Category)
}

func TestBuildDetectsCategoryFromTypedError(t *testing.T) {
	t.Parallel()

	cause := &UnresolvedVariableError{Name: "LOG_DIR", Input: "${LOG_DIR}/x"}
	ee := New(fmt.Errorf("resolving filename: %w", cause)).Build()

	assert.Equal(t, CategoryUnresolvedVar, ee.Category)
	assert.True(t, IsCategory(ee, CategoryUnresolvedVar))

	var target *UnresolvedVariableError
	require.True(t, As(ee, &target))
	assert.Equal(t, "LOG_DIR", target.Name)
}

func TestBuilderContextAndPriority(t *testing.T) {
	t.Parallel()

	ee := Newf("rotate %s", "a.log").
		Component("sink").
		Category(CategoryFileIO).
		Priority("bogus").
		Context("path", "/tmp/a.log").
		Timing("rotate", 1500*time.Millisecond).
		Build()

	assert.Equal(t, "sink", ee.GetComponent())
	assert.Equal(t, PriorityMedium, ee.Priority)
	ctx := ee.GetContext()
	assert.Equal(t, "/tmp/a.log", ctx["path"])
	assert.Equal(t, int64(1500), ctx["duration_ms"])

	// returned context is a copy
	ctx["path"] = "changed"
	assert.Equal(t, "/tmp/a.log", ee.GetContext()["path"])
}

func TestEnhancedErrorIsMatchesCategory(t *testing.T) {
	t.Parallel()

	a := New(NewStd("a")).Category(CategoryReload).Build()
	b := New(NewStd("b")).Category(CategoryReload).Build()
	c := New(NewStd("c")).Category(CategoryShutdown).Build()

	assert.True(t, Is(a, b))
	assert.False(t, Is(a, c))
	assert.True(t, Is(New(ErrSinkClosed).Build(), ErrSinkClosed))
}

func TestTaxonomyMessages(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		category ErrorCategory
		contains string
	}{
		{"parse", &ConfigParseError{Path: "a.yaml", Line: 3, Key: "loggers.x.level", Msg: "bad level"}, CategoryConfigParse, "a.yaml:3: loggers.x.level: bad level"},
		{"cyclic", &CyclicReferenceError{Chain: []string{"A", "B", "A"}}, CategoryCyclicReference, "A -> B -> A"},
		{"include", &IncludeCycleError{Chain: []string{"a.yaml", "b.yaml", "a.yaml"}}, CategoryIncludeCycle, "a.yaml -> b.yaml"},
		{"inherit", &InheritanceCycleError{Cycle: []string{"x", "y", "x"}}, CategoryInheritanceCycle, "x -> y -> x"},
		{"handler", &HandlerInitError{Handler: "file", Key: "file:/x", Err: NewStd("denied")}, CategoryHandlerInit, "denied"},
		{"backpressure", &SinkBackpressureError{Key: "file:/x", Wait: time.Second}, CategoryBackpressure, "queue full"},
		{"dispatch", &RuntimeDispatchError{Logger: "hci", Handler: "console", Key: "console:stderr", Err: NewStd("broken pipe")}, CategoryDispatch, "broken pipe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Contains(t, tt.err.Error(), tt.contains)
			assert.True(t, IsCategory(tt.err, tt.category))
		})
	}
}

func TestScrubMessage(t *testing.T) {
	t.Parallel()

	out := scrubMessage("fetch https://example.com/x?token=abc failed, link_key=00112233 pin: 1234")
	assert.NotContains(t, out, "abc")
	assert.NotContains(t, out, "00112233")
	assert.NotContains(t, out, "1234")
	assert.Contains(t, out, "https://example.com/x?[REDACTED]")
}

type memoryTransport struct {
	mu     sync.Mutex
	events []*sentry.Event
}

func (m *memoryTransport) Configure(sentry.ClientOptions) {}

func (m *memoryTransport) SendEvent(event *sentry.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

func (m *memoryTransport) Flush(time.Duration) bool { return true }

func (m *memoryTransport) FlushWithContext(context.Context) bool { return true }

func (m *memoryTransport) Close() {}

func (m *memoryTransport) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func TestSentryReporterReportsOnce(t *testing.T) {
	t.Parallel()

	transport := &memoryTransport{}
	reporter, err := NewSentryReporterWithTransport(transport)
	require.NoError(t, err)
	require.True(t, reporter.IsEnabled())

	ee := &EnhancedError{Err: NewStd("write failed"), Category: CategoryDispatch, component: "sink", detected: true}
	reporter.ReportError(ee)
	reporter.ReportError(ee)

	assert.True(t, ee.IsReported())
	assert.Equal(t, 1, transport.count())
}

func TestSentryReporterDisabledWithoutDSN(t *testing.T) {
	t.Parallel()

	reporter, err := NewSentryReporter("", "test")
	require.NoError(t, err)
	assert.False(t, reporter.IsEnabled())
	assert.True(t, reporter.Flush(time.Millisecond))
}
