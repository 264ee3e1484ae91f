package live

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/ama-live/pkg/ama"
	"github.com/astromechza/ama-live/pkg/amatest"
	"github.com/astromechza/ama-live/pkg/api"
	"github.com/astromechza/ama-live/pkg/metrics"
	"github.com/astromechza/ama-live/pkg/wire"
)

type recordingSink struct {
	mu     sync.Mutex
	events []ama.Event
}

func (r *recordingSink) Apply(ev ama.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return true
}

func (r *recordingSink) Events() []ama.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ama.Event(nil), r.events...)
}

type stateLog struct {
	mu     sync.Mutex
	states []State
}

func (l *stateLog) record(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, s)
}

func (l *stateLog) all() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]State(nil), l.states...)
}

type harness struct {
	srv    *amatest.Server
	roomID string
	sink   *recordingSink
	states *stateLog
	sub    *Subscriber
	done   chan error
	cancel context.CancelFunc
}

func start(t *testing.T, tweak func(*Options)) *harness {
	t.Helper()
	h := newHarness(t)
	h.run(t, tweak)
	return h
}

// newHarness prepares the fake service without connecting, so tests can arrange it first.
func newHarness(t *testing.T) *harness {
	t.Helper()
	srv := amatest.New()
	t.Cleanup(srv.Close)
	return &harness{srv: srv, roomID: srv.AddRoom("go"), sink: &recordingSink{}, states: &stateLog{}, done: make(chan error, 1)}
}

func (h *harness) run(t *testing.T, tweak func(*Options)) {
	t.Helper()
	client, err := api.NewClient(h.srv.APIURL())
	require.NoError(t, err)
	opts := Options{
		URL:            client.SubscribeURL(h.roomID),
		RoomID:         h.roomID,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     40 * time.Millisecond,
		OnState:        h.states.record,
		Metrics:        metrics.New(),
	}
	if tweak != nil {
		tweak(&opts)
	}
	h.sub = New(opts, h.sink)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.sub.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-h.done
	})
}

func (h *harness) waitSubscribed(t *testing.T) {
	t.Helper()
	select {
	case got := <-h.srv.Subscribed():
		require.Equal(t, h.roomID, got)
	case <-time.After(5 * time.Second):
		t.Fatal("subscriber never connected")
	}
	require.Eventually(t, func() bool { return h.sub.State() == StateOpen }, 5*time.Second, 5*time.Millisecond)
}

func TestForwardsEvents(t *testing.T) {
	h := start(t, nil)
	h.waitSubscribed(t)

	h.srv.Broadcast(h.roomID, ama.MessageCreated{Message: ama.Message{ID: "m1", RoomID: h.roomID, Text: "hi"}})
	h.srv.Broadcast(h.roomID, ama.ReactionChanged{ID: "m1", Count: 2})
	h.srv.Broadcast(h.roomID, ama.MessageAnswered{ID: "m1"})

	require.Eventually(t, func() bool { return len(h.sink.Events()) == 3 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, []ama.Event{
		ama.MessageCreated{Message: ama.Message{ID: "m1", RoomID: h.roomID, Text: "hi"}},
		ama.ReactionChanged{ID: "m1", Count: 2},
		ama.MessageAnswered{ID: "m1"},
	}, h.sink.Events())
}

func TestMalformedFramesAreDropped(t *testing.T) {
	h := start(t, nil)
	h.waitSubscribed(t)

	h.srv.BroadcastRaw(h.roomID, []byte(`{"kind":"message_created"`))
	h.srv.BroadcastRaw(h.roomID, []byte(`{"kind":"mystery","value":{}}`))
	h.srv.Broadcast(h.roomID, ama.MessageAnswered{ID: "m1"})

	require.Eventually(t, func() bool { return len(h.sink.Events()) == 1 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, ama.MessageAnswered{ID: "m1"}, h.sink.Events()[0])
	assert.Equal(t, StateOpen, h.sub.State())
}

func TestReconnectsAfterDrop(t *testing.T) {
	reconnected := make(chan struct{}, 1)
	h := start(t, func(o *Options) {
		o.OnReconnect = func() { reconnected <- struct{}{} }
	})
	h.waitSubscribed(t)

	h.srv.DropSubscribers(h.roomID)
	h.waitSubscribed(t)
	select {
	case <-reconnected:
	case <-time.After(5 * time.Second):
		t.Fatal("OnReconnect not called")
	}

	h.srv.Broadcast(h.roomID, ama.MessageAnswered{ID: "m9"})
	require.Eventually(t, func() bool { return len(h.sink.Events()) == 1 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, []State{StateConnecting, StateOpen, StateReconnecting, StateOpen}, h.states.all())
}

func TestGivesUpAfterRetryBudget(t *testing.T) {
	h := start(t, func(o *Options) { o.MaxRetries = 2 })
	h.waitSubscribed(t)
	h.srv.RejectSubscriptions(true)
	h.srv.DropSubscribers(h.roomID)

	select {
	case err := <-h.done:
		assert.ErrorIs(t, err, ama.ErrChannelDropped)
		h.done <- err
	case <-time.After(5 * time.Second):
		t.Fatal("subscriber did not give up")
	}
	assert.Equal(t, StateUnavailable, h.sub.State())
	states := h.states.all()
	assert.Equal(t, StateUnavailable, states[len(states)-1])
}

func TestCancelClosesChannel(t *testing.T) {
	h := start(t, nil)
	h.waitSubscribed(t)
	require.Equal(t, 1, h.srv.Subscribers(h.roomID))

	h.cancel()
	select {
	case err := <-h.done:
		assert.NoError(t, err)
		h.done <- err
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, StateClosed, h.sub.State())
	require.Eventually(t, func() bool { return h.srv.Subscribers(h.roomID) == 0 }, 5*time.Second, 5*time.Millisecond)
}

func TestKeepaliveKeepsHealthyChannelOpen(t *testing.T) {
	h := start(t, func(o *Options) { o.PingInterval = 20 * time.Millisecond })
	h.waitSubscribed(t)

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, StateOpen, h.sub.State())
	assert.Equal(t, []State{StateConnecting, StateOpen}, h.states.all())
}

func TestOversizedFrameKeepsChannelOpen(t *testing.T) {
	h := start(t, nil)
	h.waitSubscribed(t)

	long := strings.Repeat("why? ", 14*1024)
	frame, err := wire.EncodeFrame(ama.MessageCreated{Message: ama.Message{ID: "m1", RoomID: h.roomID, Text: long}})
	require.NoError(t, err)
	require.Greater(t, len(frame), 64*1024)

	h.srv.BroadcastRaw(h.roomID, frame)
	h.srv.Broadcast(h.roomID, ama.MessageAnswered{ID: "m1"})

	require.Eventually(t, func() bool { return len(h.sink.Events()) == 2 }, 5*time.Second, 5*time.Millisecond)
	created, ok := h.sink.Events()[0].(ama.MessageCreated)
	require.True(t, ok)
	assert.Equal(t, long, created.Message.Text)
	assert.Equal(t, ama.MessageAnswered{ID: "m1"}, h.sink.Events()[1])
	assert.Equal(t, []State{StateConnecting, StateOpen}, h.states.all())
}

func TestFrameOverLimitCostsTheConnection(t *testing.T) {
	h := start(t, func(o *Options) { o.MaxFrameSize = 1024 })
	h.waitSubscribed(t)

	h.srv.Broadcast(h.roomID, ama.MessageCreated{Message: ama.Message{ID: "m1", RoomID: h.roomID, Text: strings.Repeat("x", 2048)}})
	h.waitSubscribed(t)
	assert.Contains(t, h.states.all(), StateReconnecting)
	assert.Empty(t, h.sink.Events())
}

func TestReconnectHookRunsAfterFailedFirstDial(t *testing.T) {
	h := newHarness(t)
	h.srv.RejectSubscriptions(true)
	reconnected := make(chan struct{}, 1)
	h.run(t, func(o *Options) {
		o.OnReconnect = func() { reconnected <- struct{}{} }
	})

	require.Eventually(t, func() bool { return h.sub.State() == StateReconnecting }, 5*time.Second, 5*time.Millisecond)
	h.srv.RejectSubscriptions(false)
	h.waitSubscribed(t)
	select {
	case <-reconnected:
	case <-time.After(5 * time.Second):
		t.Fatal("OnReconnect not called after the first dial failed")
	}
}
