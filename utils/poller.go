package utils

import (
	"context"
	"sync"
	"time"

	"omnibox/models"
)

const DefaultPollInterval = 10 * time.Second

// PollState is the position of a poller in its cycle.
type PollState int

const (
	StateIdle PollState = iota
	StateFetching
	StateAggregating
	StateBroadcasting
)

func (s PollState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateAggregating:
		return "aggregating"
	case StateBroadcasting:
		return "broadcasting"
	}
	return "unknown"
}

// Source is what a poller refreshes from: a channel collaborator plus the
// aggregation path for that channel.
type Source interface {
	Topic() models.Topic
	Fetch(ctx context.Context) ([]models.Message, error)
	Aggregate(messages []models.Message) ([]models.Conversation, error)
}

// Poller drives fetch, aggregate and broadcast for one channel. Cycles run on
// a single goroutine, so they never overlap.
type Poller struct {
	source   Source
	registry Registry
	interval time.Duration
	log      *Logger
	now      func() time.Time

	cycleMu sync.Mutex
	trigger chan struct{}

	mu       sync.RWMutex
	state    PollState
	current  []models.Conversation
	lastPoll time.Time
	lastErr  error
}

// NewPoller creates a poller for source broadcasting on registry.
func NewPoller(source Source, registry Registry, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		source:   source,
		registry: registry,
		interval: interval,
		log:      Log.WithField("channel", source.Topic()),
		now:      time.Now,
		trigger:  make(chan struct{}, 1),
	}
}

// Topic returns the channel this poller serves.
func (p *Poller) Topic() models.Topic { return p.source.Topic() }

// Run polls immediately and then once per interval, measured from the end of
// the previous cycle, until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	p.log.Info("Poller started, interval %s", p.interval)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info("Poller stopped")
			return
		case <-timer.C:
		case <-p.trigger:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		_ = p.RunOnce(ctx)
		timer.Reset(p.interval)
	}
}

// Trigger asks Run for an early cycle. Requests made while a cycle is pending
// or running collapse into one.
func (p *Poller) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// RunOnce performs one full cycle. On failure the previous conversation list
// stays current and nothing is broadcast.
func (p *Poller) RunOnce(ctx context.Context) error {
	p.cycleMu.Lock()
	defer p.cycleMu.Unlock()

	topic := string(p.source.Topic())
	started := p.now()
	defer func() {
		p.setState(StateIdle)
		pollDuration.WithLabelValues(topic).Observe(time.Since(started).Seconds())
	}()

	p.setState(StateFetching)
	messages, err := p.source.Fetch(ctx)
	if err != nil {
		return p.fail("fetch", err)
	}

	p.setState(StateAggregating)
	conversations, err := p.source.Aggregate(messages)
	if err != nil {
		return p.fail("aggregate", err)
	}

	p.mu.Lock()
	p.current = conversations
	p.lastPoll = started
	p.lastErr = nil
	p.mu.Unlock()

	p.setState(StateBroadcasting)
	delivered := p.registry.Broadcast(p.source.Topic(), models.Snapshot{
		Topic:         p.source.Topic(),
		Conversations: conversations,
		GeneratedAt:   started,
	})

	pollCycles.WithLabelValues(topic, "ok").Inc()
	conversationsGauge.WithLabelValues(topic).Set(float64(len(conversations)))
	p.log.Debug("Poll cycle done: %d messages, %d conversations, %d listeners", len(messages), len(conversations), delivered)
	return nil
}

func (p *Poller) fail(stage string, err error) error {
	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()

	pollCycles.WithLabelValues(string(p.source.Topic()), stage+"_error").Inc()
	p.log.Error("Poll cycle skipped at %s: %v", stage, err)
	return err
}

func (p *Poller) setState(s PollState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// State returns where the poller is in its cycle.
func (p *Poller) State() PollState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Current returns the conversations of the last successful cycle. The slice
// is shared with subscribers and must not be modified.
func (p *Poller) Current() []models.Conversation {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Snapshot wraps Current for a new listener. ok is false before the first
// successful cycle.
func (p *Poller) Snapshot() (models.Snapshot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.lastPoll.IsZero() {
		return models.Snapshot{}, false
	}
	return models.Snapshot{
		Topic:         p.source.Topic(),
		Conversations: p.current,
		GeneratedAt:   p.lastPoll,
	}, true
}

// LastError returns the failure of the latest cycle, nil if it succeeded.
func (p *Poller) LastError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastErr
}
