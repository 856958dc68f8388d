package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hcikit/hcilog/internal/errors"
	"github.com/hcikit/hcilog/internal/logspec"
	"github.com/hcikit/hcilog/internal/testutil"
)

func fileSpec(path string) *logspec.HandlerSpec {
	return &logspec.HandlerSpec{
		Name:           "file",
		Type:           logspec.HandlerFile,
		Enabled:        true,
		Filename:       path,
		Mode:           "a",
		Rotation:       logspec.Rotation{Kind: logspec.RotateNone},
		BufferSize:     1000,
		FlushInterval:  time.Hour,
		EnqueueTimeout: time.Second,
	}
}

func newTestFileSink(t *testing.T, h *logspec.HandlerSpec, opts ...Option) *FileSink {
	t.Helper()
	f := NewFactory(opts...)
	s, err := f.GetOrCreate(h)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.CloseAll(context.Background()) })
	fs, ok := s.(*FileSink)
	require.True(t, ok)
	return fs
}

func writeLine(t *testing.T, s Sink, line string) {
	t.Helper()
	require.NoError(t, s.Write(context.Background(), &Entry{Time: time.Now(), Level: logspec.LevelInfo, Line: line}))
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path) //nolint:gosec // test file path from t.TempDir()
	require.NoError(t, err)
	text := strings.TrimSuffix(string(data), "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

func TestFileSinkFlushWritesQueuedLines(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "hci.log")
	s := newTestFileSink(t, fileSpec(path))

	writeLine(t, s, "first")
	writeLine(t, s, "second")
	require.NoError(t, s.Flush(context.Background()))

	assert.Equal(t, []string{"first", "second"}, readLines(t, path))
	stats := s.Stats()
	assert.Equal(t, uint64(2), stats.Lines)
	assert.Equal(t, uint64(len("first\nsecond\n")), stats.Bytes)
	assert.Equal(t, uint64(1), stats.Batches)
}

func TestFileSinkAppendsAndTruncates(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "mode.log")
	require.NoError(t, os.WriteFile(path, []byte("old\n"), 0o600))

	appendSpec := fileSpec(path)
	s := newTestFileSink(t, appendSpec)
	writeLine(t, s, "new")
	require.NoError(t, s.Close(context.Background()))
	assert.Equal(t, []string{"old", "new"}, readLines(t, path))

	truncSpec := fileSpec(path)
	truncSpec.Mode = "w"
	s = newTestFileSink(t, truncSpec)
	writeLine(t, s, "fresh")
	require.NoError(t, s.Close(context.Background()))
	assert.Equal(t, []string{"fresh"}, readLines(t, path))
}

func TestFileSinkRotatesOnceAtMaxSize(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "big.log")
	h := fileSpec(path)
	h.Rotation = logspec.Rotation{Kind: logspec.RotateSize, MaxSize: 5_000_000, BackupCount: 3}
	s := newTestFileSink(t, h)

	line := strings.Repeat("x", 4999) // 5000 bytes with the newline
	for range 10 {
		for range 110 {
			writeLine(t, s, line)
		}
		require.NoError(t, s.Flush(context.Background()))
	}
	require.NoError(t, s.Close(context.Background()))

	stats := s.Stats()
	assert.Equal(t, uint64(1), stats.Rotations)
	assert.Equal(t, uint64(5_500_000), stats.Bytes)

	active, err := os.Stat(path)
	require.NoError(t, err)
	backup, err := os.Stat(path + ".1")
	require.NoError(t, err)
	assert.Equal(t, int64(5_500_000), active.Size()+backup.Size())
	assert.Less(t, backup.Size(), int64(5_000_000))
	assert.NoFileExists(t, path+".2")
}

func TestFileSinkShiftsBackups(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "shift.log")
	h := fileSpec(path)
	h.Rotation = logspec.Rotation{Kind: logspec.RotateSize, MaxSize: 10, BackupCount: 2}
	s := newTestFileSink(t, h)

	// every flushed batch of 10 bytes fills the file, so each later batch rotates first
	for i := range 4 {
		writeLine(t, s, fmt.Sprintf("batch-%03d", i))
		require.NoError(t, s.Flush(context.Background()))
	}
	require.NoError(t, s.Close(context.Background()))

	assert.Equal(t, uint64(3), s.Stats().Rotations)
	assert.Equal(t, []string{"batch-003"}, readLines(t, path))
	assert.Equal(t, []string{"batch-002"}, readLines(t, path+".1"))
	assert.Equal(t, []string{"batch-001"}, readLines(t, path+".2"))
	assert.NoFileExists(t, path+".3")
}

func TestFileSinkZeroBackupsTruncates(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "trunc.log")
	h := fileSpec(path)
	h.Rotation = logspec.Rotation{Kind: logspec.RotateSize, MaxSize: 10, BackupCount: 0}
	s := newTestFileSink(t, h)

	writeLine(t, s, "aaaaaaaaa")
	require.NoError(t, s.Flush(context.Background()))
	writeLine(t, s, "bbbbbbbbb")
	require.NoError(t, s.Close(context.Background()))

	assert.Equal(t, []string{"bbbbbbbbb"}, readLines(t, path))
	assert.NoFileExists(t, path+".1")
	assert.Equal(t, uint64(1), s.Stats().Rotations)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestFileSinkRotatesOnTimeBoundary(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
	path := filepath.Join(t.TempDir(), "timed.log")
	h := fileSpec(path)
	h.Rotation = logspec.Rotation{Kind: logspec.RotateTime, When: "M", Interval: 1, BackupCount: 2}
	s := newTestFileSink(t, h, WithClock(clock.Now))

	writeLine(t, s, "minute one")
	require.NoError(t, s.Flush(context.Background()))
	clock.Advance(30 * time.Second)
	writeLine(t, s, "still minute one")
	require.NoError(t, s.Flush(context.Background()))
	clock.Advance(31 * time.Second)
	writeLine(t, s, "minute two")
	require.NoError(t, s.Close(context.Background()))

	assert.Equal(t, uint64(1), s.Stats().Rotations)
	assert.Equal(t, []string{"minute one", "still minute one"}, readLines(t, path+".1"))
	assert.Equal(t, []string{"minute two"}, readLines(t, path))
}

func TestFileSinkConcurrentProducersKeepOrder(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "concurrent.log")
	h := fileSpec(path)
	h.BufferSize = 64
	h.FlushInterval = 5 * time.Millisecond
	s := newTestFileSink(t, h)

	const producers, perProducer = 8, 500
	var wg sync.WaitGroup
	for p := range producers {
		wg.Go(func() {
			for i := range perProducer {
				line := fmt.Sprintf("p%d %d %s", p, i, strings.Repeat("z", 40))
				assert.NoError(t, s.Write(context.Background(), &Entry{Line: line}))
			}
		})
	}
	wg.Wait()
	require.NoError(t, s.Close(context.Background()))

	lines := readLines(t, path)
	require.Len(t, lines, producers*perProducer)
	next := make(map[string]int)
	for _, line := range lines {
		fields := strings.Fields(line)
		require.Len(t, fields, 3, "line split or merged: %q", line)
		seq, err := strconv.Atoi(fields[1])
		require.NoError(t, err)
		assert.Equal(t, next[fields[0]], seq, "producer %s out of order", fields[0])
		next[fields[0]] = seq + 1
	}
}

// gatedClock blocks the writer goroutine inside the rotation check until
// released, so tests can hold the queue full.
type gatedClock struct {
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
	now     time.Time
}

func newGatedClock() *gatedClock {
	return &gatedClock{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
		now:     time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func (c *gatedClock) Now() time.Time {
	if c.armed.Load() {
		select {
		case c.entered <- struct{}{}:
		default:
		}
		<-c.release
	}
	return c.now
}

func blockedWriterSink(t *testing.T, clock *gatedClock) *FileSink {
	t.Helper()
	h := fileSpec(filepath.Join(t.TempDir(), "blocked.log"))
	h.BufferSize = 2
	h.EnqueueTimeout = 20 * time.Millisecond
	h.Rotation = logspec.Rotation{Kind: logspec.RotateTime, When: "H", Interval: 1}
	s := newTestFileSink(t, h, WithClock(clock.Now))

	clock.armed.Store(true)
	writeLine(t, s, "one") // reaches the high-water mark and wakes the writer
	testutil.WaitForChannel(t, clock.entered, testutil.DefaultTestTimeout, "writer never reached the clock")
	return s
}

func TestFileSinkBackpressure(t *testing.T) {
	t.Parallel()

	clock := newGatedClock()
	s := blockedWriterSink(t, clock)

	writeLine(t, s, "two")
	writeLine(t, s, "three")
	err := s.Write(context.Background(), &Entry{Line: "four"})

	var bp *errors.SinkBackpressureError
	require.ErrorAs(t, err, &bp)
	assert.Equal(t, s.Key(), bp.Key)
	assert.Equal(t, 20*time.Millisecond, bp.Wait)
	assert.Equal(t, uint64(1), s.Stats().Backpressure)

	close(clock.release)
	require.NoError(t, s.Close(context.Background()))
	assert.Equal(t, []string{"one", "two", "three"}, readLines(t, s.Path()))
}

func TestFileSinkCloseDeadlineReportsLoss(t *testing.T) {
	t.Parallel()

	clock := newGatedClock()
	s := blockedWriterSink(t, clock)
	writeLine(t, s, "two")
	writeLine(t, s, "three")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Close(ctx)
	require.Error(t, err)
	// "one" is held by the stuck writer and counts as lost with the queue
	assert.Contains(t, err.Error(), "3 lines lost")
	assert.True(t, errors.IsCategory(err, errors.CategoryShutdown))

	close(clock.release)
	require.NoError(t, s.Close(context.Background()))
	assert.Equal(t, uint64(3), s.Stats().Dropped)
	assert.Empty(t, readLines(t, s.Path()))
}

func TestFileSinkCloseDeadlineWaitsForFileClose(t *testing.T) {
	t.Parallel()

	clock := newGatedClock()
	s := blockedWriterSink(t, clock)
	writeLine(t, s, "two")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	go func() {
		<-s.abort
		close(clock.release)
	}()
	err := s.Close(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 lines lost")

	select {
	case <-s.done:
	default:
		t.Fatal("Close returned before the writer closed the file")
	}
	assert.Nil(t, s.file)
	assert.Equal(t, uint64(2), s.Stats().Dropped)
	assert.Empty(t, readLines(t, s.Path()))
}

func TestFileSinkReconfigure(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "app.log")
	h := fileSpec(path)
	h.Rotation = logspec.Rotation{Kind: logspec.RotateSize, MaxSize: 1_000_000, BackupCount: 2}
	s := newTestFileSink(t, h)

	smaller := *h
	smaller.Rotation.MaxSize = 200
	smaller.EnqueueTimeout = 5 * time.Millisecond
	require.NoError(t, s.Reconfigure(&smaller))
	assert.Equal(t, int64(5*time.Millisecond), s.enqueueTimeout.Load())

	line := strings.Repeat("x", 100)
	for range 21 {
		writeLine(t, s, line)
		require.NoError(t, s.Flush(context.Background()))
	}
	assert.FileExists(t, path+".1")
	assert.Positive(t, s.Stats().Rotations)

	resized := smaller
	resized.BufferSize = 10
	err := s.Reconfigure(&resized)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryReload))
	assert.Contains(t, err.Error(), "buffer_size 10")

	require.NoError(t, s.Close(context.Background()))
	require.ErrorIs(t, s.Reconfigure(&smaller), errors.ErrSinkClosed)
}

func TestFactoryReconfigureLiveSink(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "shared.log")
	h := fileSpec(path)
	f := NewFactory()
	t.Cleanup(func() { _ = f.CloseAll(context.Background()) })

	require.NoError(t, f.Reconfigure(h), "no live sink yet")
	s, err := f.GetOrCreate(h)
	require.NoError(t, err)

	rotating := *h
	rotating.Name = "other"
	rotating.Rotation = logspec.Rotation{Kind: logspec.RotateSize, MaxSize: 10, BackupCount: 1}
	require.NoError(t, f.Reconfigure(&rotating))

	writeLine(t, s, "first line")
	require.NoError(t, s.Flush(context.Background()))
	writeLine(t, s, "second line")
	require.NoError(t, s.Flush(context.Background()))
	assert.Equal(t, []string{"first line"}, readLines(t, path+".1"))
	assert.Equal(t, []string{"second line"}, readLines(t, path))
}

func TestFileSinkRejectsWritesAfterClose(t *testing.T) {
	t.Parallel()

	s := newTestFileSink(t, fileSpec(filepath.Join(t.TempDir(), "closed.log")))
	require.NoError(t, s.Close(context.Background()))
	require.NoError(t, s.Close(context.Background()))
	require.NoError(t, s.Flush(context.Background()))

	err := s.Write(context.Background(), &Entry{Line: "late"})
	require.ErrorIs(t, err, errors.ErrSinkClosed)
}

func TestNextRollover(t *testing.T) {
	t.Parallel()

	// a Wednesday
	base := time.Date(2025, 3, 5, 13, 45, 10, 0, time.UTC)
	tests := []struct {
		rotation logspec.Rotation
		want     time.Time
	}{
		{logspec.Rotation{When: "S", Interval: 30}, base.Add(30 * time.Second)},
		{logspec.Rotation{When: "H", Interval: 2}, base.Add(2 * time.Hour)},
		{logspec.Rotation{When: "D"}, base.Add(24 * time.Hour)},
		{logspec.Rotation{When: "midnight"}, time.Date(2025, 3, 6, 0, 0, 0, 0, time.UTC)},
		{logspec.Rotation{When: "W0"}, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)},
		{logspec.Rotation{When: "W2"}, time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, nextRollover(tt.rotation, base), tt.rotation.When)
	}
}
