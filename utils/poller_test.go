package utils

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"omnibox/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu       sync.Mutex
	messages []models.Message
	err      error
	calls    int32
	inFlight int32
	maxSeen  int32
	delay    time.Duration
}

func (f *fakeSource) Topic() models.Topic { return models.TopicWhatsApp }

func (f *fakeSource) Fetch(ctx context.Context) ([]models.Message, error) {
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		seen := atomic.LoadInt32(&f.maxSeen)
		if n <= seen || atomic.CompareAndSwapInt32(&f.maxSeen, seen, n) {
			break
		}
	}
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages, f.err
}

func (f *fakeSource) Aggregate(messages []models.Message) ([]models.Conversation, error) {
	return GroupByCounterpart(messages, "me"), nil
}

func (f *fakeSource) set(messages []models.Message, err error) {
	f.mu.Lock()
	f.messages, f.err = messages, err
	f.mu.Unlock()
}

func TestRunOnceBroadcastsSnapshot(t *testing.T) {
	src := &fakeSource{}
	src.set([]models.Message{{ID: "1", Sender: "alice", Recipient: "me", SentAt: at(0)}}, nil)
	reg := NewSubscriberRegistry(RegistryOptions{})
	sub := reg.Subscribe(models.TopicWhatsApp)

	p := NewPoller(src, reg, time.Hour)
	_, ok := p.Snapshot()
	assert.False(t, ok)

	require.NoError(t, p.RunOnce(context.Background()))

	got := receive(t, sub)
	assert.Equal(t, models.TopicWhatsApp, got.Topic)
	require.Len(t, got.Conversations, 1)
	assert.Equal(t, "alice", got.Conversations[0].ID)
	assert.Equal(t, StateIdle, p.State())
	assert.Len(t, p.Current(), 1)
}

func TestFailedFetchKeepsPreviousListAndSkipsBroadcast(t *testing.T) {
	src := &fakeSource{}
	src.set([]models.Message{{ID: "1", Sender: "alice", Recipient: "me", SentAt: at(0)}}, nil)
	reg := NewSubscriberRegistry(RegistryOptions{})
	p := NewPoller(src, reg, time.Hour)
	require.NoError(t, p.RunOnce(context.Background()))

	sub := reg.Subscribe(models.TopicWhatsApp)
	fetchErr := &CollaboratorFetchError{Channel: "whatsapp", Err: errors.New("connection refused")}
	src.set(nil, fetchErr)

	err := p.RunOnce(context.Background())
	assert.ErrorIs(t, err, fetchErr)
	assert.Equal(t, fetchErr, p.LastError())
	require.Len(t, p.Current(), 1)
	assert.Equal(t, "alice", p.Current()[0].ID)
	assert.Equal(t, StateIdle, p.State())

	select {
	case <-sub.Updates():
		t.Fatal("failed cycle must not broadcast")
	default:
	}
}

func TestCyclesNeverOverlap(t *testing.T) {
	src := &fakeSource{delay: 20 * time.Millisecond}
	p := NewPoller(src, NewSubscriberRegistry(RegistryOptions{}), time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.RunOnce(context.Background())
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(5), atomic.LoadInt32(&src.calls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&src.maxSeen))
}

func TestRunPollsImmediatelyAndOnTrigger(t *testing.T) {
	src := &fakeSource{}
	p := NewPoller(src, NewSubscriberRegistry(RegistryOptions{}), time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&src.calls) == 1 }, time.Second, 5*time.Millisecond)

	p.Trigger()
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&src.calls) == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}

func TestRunRepeatsOnInterval(t *testing.T) {
	src := &fakeSource{}
	p := NewPoller(src, NewSubscriberRegistry(RegistryOptions{}), 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&src.calls) >= 3 }, 2*time.Second, 5*time.Millisecond)
}
