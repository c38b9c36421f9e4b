package status

import (
	"fmt"
	"io"
	"log/slog"
	"testing"
)

func newTestPublisher() *Publisher {
	return NewPublisher(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestPublishDeliversToKeySubscribersOnly(t *testing.T) {
	p := newTestPublisher()
	a := p.Subscribe("paper_v1")
	b := p.Subscribe("paper_v1")
	other := p.Subscribe("other_v1")
	defer p.Reset()

	p.Publish("paper_v1", "1", map[string]any{"loadingStatus": "WAITING"})

	for _, sub := range []*Subscription{a, b} {
		select {
		case u := <-sub.Updates():
			if u.PaperKey != "paper_v1" || u.Type != "document_update" {
				t.Errorf("update = %+v", u)
			}
			if u.Data["loadingStatus"] != "WAITING" {
				t.Errorf("data = %v", u.Data)
			}
		default:
			t.Fatal("subscriber got no update")
		}
	}
	select {
	case u := <-other.Updates():
		t.Fatalf("unrelated subscriber got %+v", u)
	default:
	}
}

func TestPublishNoSubscribers(t *testing.T) {
	p := newTestPublisher()
	// Must not panic or block.
	p.Publish("nobody_v1", "1", map[string]any{"x": 1})
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	p := newTestPublisher()
	sub := p.Subscribe("k_v1")
	p.Unsubscribe(sub)

	if _, open := <-sub.Updates(); open {
		t.Error("channel still open after Unsubscribe")
	}
	if n := p.SubscriberCount("k_v1"); n != 0 {
		t.Errorf("SubscriberCount = %d", n)
	}
	// Double unsubscribe is a no-op.
	p.Unsubscribe(sub)
}

func TestSlowSubscriberEvicted(t *testing.T) {
	p := newTestPublisher()
	slow := p.Subscribe("k_v1")
	fast := p.Subscribe("k_v1")
	defer p.Reset()

	// Fill slow's buffer plus one; the overflow publish evicts it.
	for i := 0; i <= subscriberBuffer; i++ {
		p.Publish("k_v1", "1", map[string]any{"seq": fmt.Sprint(i)})
		// Keep fast drained so only slow falls behind.
		<-fast.Updates()
	}

	if n := p.SubscriberCount("k_v1"); n != 1 {
		t.Fatalf("SubscriberCount = %d, want 1", n)
	}

	// Slow still receives the buffered updates, then sees the close.
	received := 0
	for range slow.Updates() {
		received++
	}
	if received != subscriberBuffer {
		t.Errorf("received = %d, want %d", received, subscriberBuffer)
	}
}
