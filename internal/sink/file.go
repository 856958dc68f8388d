package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hcikit/hcilog/internal/errors"
	"github.com/hcikit/hcilog/internal/logspec"
)

const (
	// FilePermissions is the mode of newly created log files.
	FilePermissions = 0o644
	// DirPermissions is the mode of newly created log directories.
	DirPermissions = 0o755

	// abortGrace bounds how long Close waits for the writer after a
	// deadline has cut the drain short.
	abortGrace = 100 * time.Millisecond
)

// FileSink appends lines to a file from a single writer goroutine.
// Producers enqueue complete lines on a bounded queue; the writer drains
// the queue when it is three quarters full or when the flush interval
// elapses, rotating the file before a write when the policy says so.
type FileSink struct {
	counters

	path           string
	enqueueTimeout atomic.Int64 // nanoseconds
	highWater      int
	clock          func() time.Time
	onError        ErrorHandler

	// mu guards closed against in-flight enqueues; Close takes the write
	// lock so no line can be queued after the writer starts its last drain.
	mu     sync.RWMutex
	closed bool
	dead   atomic.Bool

	queue    chan []byte
	wake     chan struct{}
	flushReq chan chan error
	reconf   chan fileSettings
	closing  chan struct{}
	abort    chan struct{}
	done     chan struct{}

	closeOnce sync.Once
	abortOnce sync.Once
	closeErr  error

	// lines taken off the queue by a drain that has not finished
	inflight atomic.Int64

	// owned by the writer goroutine
	rotation      logspec.Rotation
	flushInterval time.Duration
	file          *os.File
	size          int64
	rollover      time.Time
	batch         []byte
}

// fileSettings are the handler fields the writer goroutine applies on a
// reload.
type fileSettings struct {
	rotation      logspec.Rotation
	flushInterval time.Duration
}

func bufferSize(h *logspec.HandlerSpec) int {
	if h.BufferSize <= 0 {
		return logspec.DefaultBufferSize
	}
	return h.BufferSize
}

func flushInterval(h *logspec.HandlerSpec) time.Duration {
	if h.FlushInterval <= 0 {
		return logspec.DefaultFlushInterval
	}
	return h.FlushInterval
}

func newFileSink(key string, h *logspec.HandlerSpec, f *Factory) (*FileSink, error) {
	capacity := bufferSize(h)
	path, err := filepath.Abs(h.Filename)
	if err != nil {
		return nil, err
	}

	s := &FileSink{
		counters:      counters{key: key, kind: logspec.HandlerFile, observer: f.observer},
		path:          path,
		rotation:      h.Rotation,
		flushInterval: flushInterval(h),
		highWater:     max(capacity*3/4, 1),
		clock:         f.clock,
		onError:       f.onError,
		queue:         make(chan []byte, capacity),
		wake:          make(chan struct{}, 1),
		flushReq:      make(chan chan error),
		reconf:        make(chan fileSettings),
		closing:       make(chan struct{}),
		abort:         make(chan struct{}),
		done:          make(chan struct{}),
	}
	s.enqueueTimeout.Store(int64(h.EnqueueTimeout))

	if err := os.MkdirAll(filepath.Dir(path), DirPermissions); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if h.Mode == "w" {
		flags |= os.O_TRUNC
	}
	if err := s.open(flags); err != nil {
		return nil, err
	}
	if s.rotation.Kind == logspec.RotateTime {
		s.rollover = nextRollover(s.rotation, s.clock())
	}

	go s.run()
	return s, nil
}

func (s *FileSink) open(flags int) error {
	file, err := os.OpenFile(s.path, flags, FilePermissions) //nolint:gosec // path comes from the logging config
	if err != nil {
		return fmt.Errorf("open log file %s: %w", s.path, err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("stat log file %s: %w", s.path, err)
	}
	s.file = file
	s.size = info.Size()
	return nil
}

// Path returns the absolute path of the active file.
func (s *FileSink) Path() string { return s.path }

// Write enqueues one line. It blocks only while the queue is full, for at
// most the configured enqueue timeout.
func (s *FileSink) Write(ctx context.Context, e *Entry) error {
	line := make([]byte, 0, len(e.Line)+1)
	line = append(line, e.Line...)
	line = append(line, '\n')

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed || s.dead.Load() {
		return errors.ErrSinkClosed
	}

	select {
	case s.queue <- line:
	default:
		s.signal()
		if err := s.enqueueSlow(ctx, line); err != nil {
			return err
		}
	}
	if len(s.queue) >= s.highWater {
		s.signal()
	}
	return nil
}

func (s *FileSink) enqueueSlow(ctx context.Context, line []byte) error {
	wait := time.Duration(s.enqueueTimeout.Load())
	if wait <= 0 {
		return s.rejectFull()
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case s.queue <- line:
		return nil
	case <-timer.C:
		return s.rejectFull()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *FileSink) rejectFull() error {
	s.counters.backpressure.Add(1)
	s.observer.ObserveBackpressure(s.key)
	return &errors.SinkBackpressureError{Key: s.key, Wait: time.Duration(s.enqueueTimeout.Load())}
}

func (s *FileSink) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Flush waits until every line queued before the call has been written.
func (s *FileSink) Flush(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case s.flushReq <- reply:
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reconfigure hands h's rotation, flush interval and enqueue timeout to
// the open sink. The queue is sized at creation, so a different
// buffer_size is returned as an error and otherwise ignored.
func (s *FileSink) Reconfigure(h *logspec.HandlerSpec) error {
	s.enqueueTimeout.Store(int64(h.EnqueueTimeout))
	select {
	case s.reconf <- fileSettings{rotation: h.Rotation, flushInterval: flushInterval(h)}:
	case <-s.done:
		return errors.ErrSinkClosed
	}
	if want := bufferSize(h); want != cap(s.queue) {
		return errors.New(fmt.Errorf("sink %s: buffer_size %d takes effect after restart, keeping %d", s.key, want, cap(s.queue))).
			Category(errors.CategoryReload).
			Context("sink", s.key).
			Context("handler", h.Name).
			Build()
	}
	return nil
}

// Close rejects new writes, drains the queue, syncs and closes the file.
// If ctx expires first the remaining lines, including a batch the writer
// has not yet written, are dropped and counted. Close then waits up to
// abortGrace for the file to be closed.
func (s *FileSink) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.closing)
	})

	select {
	case <-s.done:
		return s.closeErr
	case <-ctx.Done():
	}

	before := s.dropped.Load()
	s.abortOnce.Do(func() { close(s.abort) })
	timer := time.NewTimer(abortGrace)
	defer timer.Stop()
	var lost int
	select {
	case <-s.done:
		lost = int(s.dropped.Load() - before)
	case <-timer.C:
		// the writer is stuck; whatever it holds is dropped once it returns
		lost = len(s.queue) + int(s.inflight.Load())
	}
	return errors.New(fmt.Errorf("sink %s: close deadline exceeded, %d lines lost: %w", s.key, lost, ctx.Err())).
		Category(errors.CategoryShutdown).
		Context("sink", s.key).
		Context("lost_lines", lost).
		Build()
}

func (s *FileSink) run() {
	defer close(s.done)
	defer func() {
		if r := recover(); r != nil {
			s.dead.Store(true)
			s.report(fmt.Errorf("file writer panic: %v", r))
			s.discard()
		}
		s.closeFile()
	}()

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.abort:
			s.discard()
			return
		default:
		}

		select {
		case <-s.wake:
			s.drain()
		case <-ticker.C:
			s.drain()
		case reply := <-s.flushReq:
			reply <- s.drain()
		case c := <-s.reconf:
			s.apply(c, ticker)
		case <-s.abort:
			s.discard()
			return
		case <-s.closing:
			for len(s.queue) > 0 {
				select {
				case <-s.abort:
					s.discard()
					return
				default:
				}
				s.drain()
			}
			return
		}
	}
}

func (s *FileSink) apply(c fileSettings, ticker *time.Ticker) {
	if c.rotation != s.rotation {
		s.rotation = c.rotation
		if c.rotation.Kind == logspec.RotateTime {
			s.rollover = nextRollover(c.rotation, s.clock())
		}
	}
	if c.flushInterval != s.flushInterval {
		s.flushInterval = c.flushInterval
		ticker.Reset(c.flushInterval)
	}
}

// drain writes everything currently queued with one Write call. A batch
// taken before an abort is dropped rather than written.
func (s *FileSink) drain() error {
	n := len(s.queue)
	if n == 0 {
		return nil
	}
	defer s.inflight.Store(0)
	s.batch = s.batch[:0]
	for range n {
		s.batch = append(s.batch, <-s.queue...)
		s.inflight.Add(1)
	}

	if err := s.maybeRotate(len(s.batch)); err != nil {
		s.failed()
		s.report(err)
		if s.file == nil {
			s.dropped.Add(uint64(n))
			return err
		}
	}

	select {
	case <-s.abort:
		s.dropped.Add(uint64(n))
		return errors.ErrSinkClosed
	default:
	}

	written, err := s.file.Write(s.batch)
	s.size += int64(written)
	if err != nil {
		s.failed()
		s.dropped.Add(uint64(n))
		s.report(fmt.Errorf("write %s: %w", s.path, err))
		return err
	}
	s.wrote(n, written)

	if cap(s.batch) > 4<<20 {
		s.batch = nil
	}
	return nil
}

func (s *FileSink) maybeRotate(pending int) error {
	switch s.rotation.Kind {
	case logspec.RotateSize:
		if s.rotation.MaxSize <= 0 || s.size == 0 || s.size+int64(pending) < s.rotation.MaxSize {
			return nil
		}
	case logspec.RotateTime:
		now := s.clock()
		if now.Before(s.rollover) {
			return nil
		}
		s.rollover = nextRollover(s.rotation, now)
	default:
		return nil
	}
	return s.rotate()
}

func (s *FileSink) rotate() error {
	if s.file != nil {
		if err := s.file.Close(); err != nil {
			s.report(fmt.Errorf("close before rotation: %w", err))
		}
		s.file = nil
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if s.rotation.BackupCount <= 0 {
		flags |= os.O_TRUNC
	} else if err := shiftBackups(s.path, s.rotation.BackupCount); err != nil {
		// keep writing to the active file rather than losing lines
		if openErr := s.open(flags); openErr != nil {
			return errors.Join(err, openErr)
		}
		return err
	}
	if err := s.open(flags); err != nil {
		return err
	}
	s.rotations.Add(1)
	s.observer.ObserveRotation(s.key)
	return nil
}

func (s *FileSink) discard() {
	var n uint64
	for {
		select {
		case <-s.queue:
			n++
		default:
			if n > 0 {
				s.dropped.Add(n)
			}
			return
		}
	}
}

func (s *FileSink) closeFile() {
	if s.file == nil {
		return
	}
	var errs []error
	if err := s.file.Sync(); err != nil {
		errs = append(errs, fmt.Errorf("sync %s: %w", s.path, err))
	}
	if err := s.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close %s: %w", s.path, err))
	}
	s.file = nil
	s.closeErr = errors.Join(errs...)
}

func (s *FileSink) report(err error) {
	if s.onError != nil {
		s.onError(s.key, err)
	}
}
