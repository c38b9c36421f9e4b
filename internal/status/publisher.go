// Package status fans out import-job stage updates to subscribers keyed by
// (paper, version). There is no history or replay: a subscriber joining
// after an update was published never receives it, so callers fetch
// current state separately on subscribe.
package status

import (
	"log/slog"
	"sync"
)

// Update is one published message. Type is always "document_update"; Data
// is a loosely-typed envelope whose shape varies by stage.
type Update struct {
	PaperKey string         `json:"paperKey"`
	Version  string         `json:"version"`
	Type     string         `json:"type"`
	Data     map[string]any `json:"data"`
}

// subscriberBuffer bounds how far a slow consumer may fall behind before
// it is evicted.
const subscriberBuffer = 16

// Subscription is one live subscriber. Updates delivers published
// messages; the channel is closed on eviction or Unsubscribe.
type Subscription struct {
	key string
	ch  chan Update
}

func (s *Subscription) Updates() <-chan Update { return s.ch }

// Publisher is a process-scoped registry of subscribers. It is safe for
// concurrent Subscribe/Unsubscribe/Publish across unrelated keys.
type Publisher struct {
	mu   sync.Mutex
	subs map[string]map[*Subscription]struct{}
	log  *slog.Logger
}

func NewPublisher(log *slog.Logger) *Publisher {
	return &Publisher{
		subs: make(map[string]map[*Subscription]struct{}),
		log:  log,
	}
}

// Subscribe registers a new subscriber for the given paper key.
func (p *Publisher) Subscribe(key string) *Subscription {
	sub := &Subscription{key: key, ch: make(chan Update, subscriberBuffer)}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.subs[key] == nil {
		p.subs[key] = make(map[*Subscription]struct{})
	}
	p.subs[key][sub] = struct{}{}
	return sub
}

// Unsubscribe removes the subscriber and closes its channel. Safe to call
// after the subscriber was already evicted.
func (p *Publisher) Unsubscribe(sub *Subscription) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLocked(sub)
}

func (p *Publisher) removeLocked(sub *Subscription) {
	set, ok := p.subs[sub.key]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	close(sub.ch)
	if len(set) == 0 {
		delete(p.subs, sub.key)
	}
}

// Publish fans the payload out to every current subscriber for key. A
// subscriber that cannot accept the update (gone, or hopelessly behind) is
// evicted; delivery continues to the rest.
func (p *Publisher) Publish(key, version string, data map[string]any) {
	update := Update{
		PaperKey: key,
		Version:  version,
		Type:     "document_update",
		Data:     data,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	set := p.subs[key]
	if len(set) == 0 {
		p.log.Debug("no subscribers for update", "key", key)
		return
	}
	var evicted []*Subscription
	for sub := range set {
		select {
		case sub.ch <- update:
		default:
			evicted = append(evicted, sub)
		}
	}
	for _, sub := range evicted {
		p.log.Warn("evicting unresponsive subscriber", "key", key)
		p.removeLocked(sub)
	}
}

// SubscriberCount reports how many subscribers are registered for key.
func (p *Publisher) SubscriberCount(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs[key])
}

// Reset drops every subscriber, closing all channels. Used by tests.
func (p *Publisher) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, set := range p.subs {
		for sub := range set {
			close(sub.ch)
		}
	}
	p.subs = make(map[string]map[*Subscription]struct{})
}
