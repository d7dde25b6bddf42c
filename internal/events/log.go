package events

import (
	"log"
	"sync"
	"time"
)

// Log is the append-only progress log. Records fan out to subscriber
// channels and to any attached sinks. Publishing is non-blocking: a full
// subscriber channel drops the record for that subscriber rather than
// stalling the scheduler.
type Log struct {
	mu     sync.RWMutex
	subs   []chan Record
	sinks  []Sink
	closed bool
}

// NewLog creates an empty progress log.
func NewLog() *Log {
	return &Log{}
}

// AttachSink registers a durable sink. Sinks receive every record in
// publish order from the publishing goroutine.
func (l *Log) AttachSink(s Sink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sinks = append(l.sinks, s)
}

// Subscribe returns a channel receiving future records. bufSize defaults to
// 256 if <= 0.
func (l *Log) Subscribe(bufSize int) <-chan Record {
	if bufSize <= 0 {
		bufSize = 256
	}
	ch := make(chan Record, bufSize)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		close(ch)
		return ch
	}
	l.subs = append(l.subs, ch)
	return ch
}

// Publish stamps and emits a record.
func (l *Log) Publish(rec Record) {
	if rec.At.IsZero() {
		rec.At = time.Now()
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}

	for _, s := range l.sinks {
		if err := s.Append(rec); err != nil {
			log.Printf("WARNING: progress sink append failed: %v", err)
		}
	}
	for _, ch := range l.subs {
		select {
		case ch <- rec:
		default:
			// Subscriber is behind, drop for it.
		}
	}
}

// Close closes all subscriber channels. Idempotent.
func (l *Log) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	for _, ch := range l.subs {
		close(ch)
	}
}
