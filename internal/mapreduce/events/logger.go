package events

import (
	"fmt"
	"sync"
	"time"
)

const (
	defaultBatchSize     = 20
	defaultFlushInterval = 2 * time.Second
)

// Logger buffers events in memory and flushes them to every configured
// Writer on batch-size threshold, flush-interval, or explicit Flush
// (spec section 4.8). Event timestamps are stamped monotonically
// non-decreasing within a single Logger instance, per spec section 5's
// ordering guarantee.
type Logger struct {
	writers       []Writer
	batchSize     int
	flushInterval time.Duration

	mu      sync.Mutex
	batch   []Event
	lastTS  time.Time
	stopped bool
	timer   *time.Timer
}

// NewLogger constructs a Logger with the given writers and default
// batch-size/flush-interval. Call Start to begin the interval-flush
// goroutine and Close to stop it and flush any remaining events.
func NewLogger(writers ...Writer) *Logger {
	return &Logger{
		writers:       writers,
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
	}
}

// Log buffers an event, stamping its timestamp to be monotonically
// non-decreasing, and flushes immediately if the batch threshold is
// reached.
func (l *Logger) Log(e Event) error {
	l.mu.Lock()
	if e.Timestamp.Before(l.lastTS) {
		e.Timestamp = l.lastTS
	}
	l.lastTS = e.Timestamp
	l.batch = append(l.batch, e)
	shouldFlush := len(l.batch) >= l.batchSize
	l.mu.Unlock()

	if shouldFlush {
		return l.Flush()
	}
	return nil
}

// Flush guarantees all prior Log calls are durably written by every
// configured writer before returning.
func (l *Logger) Flush() error {
	l.mu.Lock()
	batch := l.batch
	l.batch = nil
	l.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	var firstErr error
	for _, w := range l.writers {
		if err := w.Write(batch); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("writer flush: %w", err)
		}
	}
	return firstErr
}

// Start runs a background goroutine that flushes on flushInterval. The
// goroutine exits once Close is called.
func (l *Logger) Start() {
	l.timer = time.AfterFunc(l.flushInterval, l.tick)
}

func (l *Logger) tick() {
	l.mu.Lock()
	stopped := l.stopped
	l.mu.Unlock()
	if stopped {
		return
	}
	_ = l.Flush()
	l.timer.Reset(l.flushInterval)
}

// Close stops the interval-flush goroutine and flushes any remaining
// buffered events.
func (l *Logger) Close() error {
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()
	if l.timer != nil {
		l.timer.Stop()
	}
	return l.Flush()
}
