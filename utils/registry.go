package utils

import (
	"sync"
	"time"

	"omnibox/models"

	"github.com/google/uuid"
)

const (
	DefaultSubscriberTimeout = 30 * time.Minute
	DefaultSubscriberBuffer  = 8
)

// Registry tracks live listeners per topic and fans snapshots out to them.
type Registry interface {
	Subscribe(topic models.Topic) *Subscriber
	Unsubscribe(sub *Subscriber)
	Broadcast(topic models.Topic, snapshot models.Snapshot) int
}

// Subscriber is the handle for one connected listener. The connection
// handler drains Updates until Done is closed.
type Subscriber struct {
	ID    string
	Topic models.Topic

	updates chan models.Snapshot
	done    chan struct{}
	once    sync.Once
	timer   *time.Timer
	err     error
}

// Updates yields snapshots in broadcast order.
func (s *Subscriber) Updates() <-chan models.Snapshot { return s.updates }

// Done is closed once the subscriber has been removed from the registry.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

// Err reports why the subscriber ended. Valid after Done is closed; nil for a
// plain unsubscribe.
func (s *Subscriber) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// deliver makes one non-blocking delivery attempt. The updates channel is
// never closed, so a concurrent teardown cannot make this panic.
func (s *Subscriber) deliver(snapshot models.Snapshot) error {
	select {
	case <-s.done:
		return ErrSubscriberClosed
	default:
	}

	select {
	case s.updates <- snapshot:
		return nil
	default:
		return ErrSubscriberBacklogged
	}
}

// end closes the subscriber once and reports whether this call did it.
func (s *Subscriber) end(reason error) bool {
	ended := false
	s.once.Do(func() {
		if s.timer != nil {
			s.timer.Stop()
		}
		s.err = reason
		close(s.done)
		ended = true
	})
	return ended
}

type topicSet struct {
	mu   sync.Mutex
	subs map[string]*Subscriber
}

func (t *topicSet) snapshot() []*Subscriber {
	t.mu.Lock()
	defer t.mu.Unlock()

	subs := make([]*Subscriber, 0, len(t.subs))
	for _, sub := range t.subs {
		subs = append(subs, sub)
	}
	return subs
}

// RegistryOptions tunes listener lifetime and per-listener backlog.
type RegistryOptions struct {
	Timeout time.Duration
	Buffer  int
}

// SubscriberRegistry is the process-wide Registry. Each topic has its own lock;
// the outer lock only guards the topic table.
type SubscriberRegistry struct {
	mu      sync.RWMutex
	topics  map[models.Topic]*topicSet
	timeout time.Duration
	buffer  int
	closed  bool
}

// NewSubscriberRegistry creates a registry with the given options.
func NewSubscriberRegistry(opts RegistryOptions) *SubscriberRegistry {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultSubscriberTimeout
	}
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultSubscriberBuffer
	}
	return &SubscriberRegistry{
		topics:  make(map[models.Topic]*topicSet),
		timeout: opts.Timeout,
		buffer:  opts.Buffer,
	}
}

func (r *SubscriberRegistry) topic(topic models.Topic, create bool) *topicSet {
	r.mu.RLock()
	set, ok := r.topics[topic]
	r.mu.RUnlock()
	if ok || !create {
		return set
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if set, ok = r.topics[topic]; !ok {
		set = &topicSet{subs: make(map[string]*Subscriber)}
		r.topics[topic] = set
	}
	return set
}

// Subscribe registers a new listener on topic. The listener is removed after
// the registry timeout unless it goes away earlier.
func (r *SubscriberRegistry) Subscribe(topic models.Topic) *Subscriber {
	sub := &Subscriber{
		ID:      uuid.New().String(),
		Topic:   topic,
		updates: make(chan models.Snapshot, r.buffer),
		done:    make(chan struct{}),
	}

	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		sub.end(ErrSubscriberClosed)
		return sub
	}

	set := r.topic(topic, true)
	set.mu.Lock()
	set.subs[sub.ID] = sub
	count := len(set.subs)
	// Armed under the set lock; the callback takes the same lock in remove.
	sub.timer = time.AfterFunc(r.timeout, func() {
		r.remove(sub, ErrSubscriberExpired)
	})
	set.mu.Unlock()

	liveSubscribers.WithLabelValues(string(topic)).Set(float64(count))
	Log.Debug("Subscriber %s joined %s (%d listening)", sub.ID, topic, count)
	return sub
}

// Unsubscribe removes sub. Calling it more than once is harmless.
func (r *SubscriberRegistry) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	r.remove(sub, nil)
}

// remove ends sub under its topic lock, which Subscribe also holds while it
// arms the timer.
func (r *SubscriberRegistry) remove(sub *Subscriber, reason error) {
	set := r.topic(sub.Topic, false)
	if set == nil {
		sub.end(reason)
		return
	}

	set.mu.Lock()
	ended := sub.end(reason)
	_, present := set.subs[sub.ID]
	delete(set.subs, sub.ID)
	count := len(set.subs)
	set.mu.Unlock()

	if !present {
		return
	}

	liveSubscribers.WithLabelValues(string(sub.Topic)).Set(float64(count))
	if ended {
		prunedSubscribers.WithLabelValues(string(sub.Topic), pruneReason(reason)).Inc()
	}
	if reason != nil {
		Log.Info("Subscriber %s removed from %s: %v", sub.ID, sub.Topic, reason)
	}
}

// Broadcast offers snapshot to every listener registered on topic when the
// call starts. Listeners that cannot take it are removed after the sweep.
// It returns the number of successful deliveries.
func (r *SubscriberRegistry) Broadcast(topic models.Topic, snapshot models.Snapshot) int {
	set := r.topic(topic, false)
	if set == nil {
		return 0
	}

	var failed []*DeliveryFailure
	var failedSubs []*Subscriber
	delivered := 0

	for _, sub := range set.snapshot() {
		if err := sub.deliver(snapshot); err != nil {
			failed = append(failed, &DeliveryFailure{SubscriberID: sub.ID, Topic: string(topic), Err: err})
			failedSubs = append(failedSubs, sub)
			continue
		}
		delivered++
	}

	for i, sub := range failedSubs {
		r.remove(sub, failed[i].Err)
	}

	if len(failed) > 0 {
		Log.Warn("Broadcast on %s: %d delivered, %d pruned", topic, delivered, len(failed))
	}
	return delivered
}

// Count returns the number of listeners on topic.
func (r *SubscriberRegistry) Count(topic models.Topic) int {
	set := r.topic(topic, false)
	if set == nil {
		return 0
	}
	set.mu.Lock()
	defer set.mu.Unlock()
	return len(set.subs)
}

// Close removes every listener and refuses new ones.
func (r *SubscriberRegistry) Close() {
	r.mu.Lock()
	r.closed = true
	sets := make([]*topicSet, 0, len(r.topics))
	for _, set := range r.topics {
		sets = append(sets, set)
	}
	r.mu.Unlock()

	for _, set := range sets {
		for _, sub := range set.snapshot() {
			r.remove(sub, ErrSubscriberClosed)
		}
	}
}
