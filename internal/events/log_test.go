package events

import (
	"sync"
	"testing"
	"time"
)

type captureSink struct {
	mu   sync.Mutex
	recs []Record
}

func (c *captureSink) Append(rec Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs = append(c.recs, rec)
	return nil
}

func (c *captureSink) all() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Record(nil), c.recs...)
}

func TestPublishFansOut(t *testing.T) {
	l := NewLog()
	defer l.Close()

	sink := &captureSink{}
	l.AttachSink(sink)
	sub := l.Subscribe(8)

	l.Publish(Record{ProjectID: "p1", Kind: KindProjectCreated})
	l.Publish(Record{ProjectID: "p1", Kind: KindProjectState, Detail: "planning"})

	got := sink.all()
	if len(got) != 2 {
		t.Fatalf("sink received %d records, want 2", len(got))
	}
	if got[0].Kind != KindProjectCreated || got[1].Detail != "planning" {
		t.Errorf("sink records = %+v", got)
	}
	if got[0].At.IsZero() {
		t.Error("Publish did not stamp the record")
	}

	for i := 0; i < 2; i++ {
		select {
		case rec := <-sub:
			if rec.ProjectID != "p1" {
				t.Errorf("subscriber record = %+v", rec)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive record")
		}
	}
}

func TestPublishDropsForSlowSubscriber(t *testing.T) {
	l := NewLog()
	defer l.Close()

	slow := l.Subscribe(1)
	fast := l.Subscribe(8)

	// The second record overflows the slow subscriber; Publish must not
	// block and the fast subscriber must still see everything.
	l.Publish(Record{Kind: KindTaskReady})
	l.Publish(Record{Kind: KindTaskLeased})

	if got := len(fast); got != 2 {
		t.Errorf("fast subscriber buffered %d records, want 2", got)
	}
	if got := len(slow); got != 1 {
		t.Errorf("slow subscriber buffered %d records, want 1", got)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	l := NewLog()
	sub := l.Subscribe(1)

	l.Close()
	l.Close()

	if _, open := <-sub; open {
		t.Error("subscriber channel not closed")
	}

	// Publishing after close is a no-op, not a panic.
	l.Publish(Record{Kind: KindTaskDone})

	// Subscribing after close returns a closed channel.
	if _, open := <-l.Subscribe(1); open {
		t.Error("post-close subscription returned an open channel")
	}
}
