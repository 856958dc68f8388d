package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hcikit/hcilog/internal/errors"
)

type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

//nolint:gocritic // slog.Handler interface requires record by value, not pointer
func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	h.records = append(h.records, r)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler      { return h }

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.records)
}

func TestFallbackThrottlesTextOutput(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	extra := &recordingHandler{}
	ch := make(chan error, 1)
	f := NewFallback(
		WithFallbackWriter(&out),
		WithFallbackHandler(extra),
		WithFallbackChannel(ch),
		WithFallbackThrottle(2, time.Hour),
	)

	for range 5 {
		f.Report(&errors.RuntimeDispatchError{Logger: "bluetooth.hci", Handler: "file", Key: "file:/tmp/hci.log", Err: errors.ErrSinkClosed})
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "category=runtime-dispatch")
	assert.Contains(t, lines[0], "component=hcilog")
	assert.Equal(t, 5, extra.count(), "extra handlers are not throttled")

	stats := f.Stats()
	assert.Equal(t, uint64(5), stats.Reports)
	assert.Equal(t, uint64(3), stats.Throttled)
	assert.Equal(t, uint64(4), stats.Overflow)
	assert.Equal(t, map[string]uint64{"runtime-dispatch": 5}, stats.ByCategory)

	var dispatchErr *errors.RuntimeDispatchError
	require.ErrorAs(t, <-ch, &dispatchErr)
	assert.Equal(t, "bluetooth.hci", dispatchErr.Logger)
}

func TestFallbackKeepsEnhancedCategory(t *testing.T) {
	t.Parallel()

	f := NewFallback(WithFallbackWriter(&bytes.Buffer{}))
	err := errors.Newf("reload failed").Category(errors.CategoryReload).Build()
	assert.Equal(t, errors.CategoryReload, f.Report(err))
	assert.Equal(t, errors.ErrorCategory(""), f.Report(nil))
	assert.Equal(t, uint64(1), f.Stats().Reports)
}
