// Package roomview owns the lifecycle of one room on screen: it fetches the snapshot, seeds the
// store, attaches the live subscriber, and tears everything down when the room changes or the
// view closes.
package roomview

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/astromechza/ama-live/pkg/ama"
	"github.com/astromechza/ama-live/pkg/live"
	"github.com/astromechza/ama-live/pkg/metrics"
	"github.com/astromechza/ama-live/pkg/render"
	"github.com/astromechza/ama-live/pkg/store"
)

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseLoading
	PhaseReady
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseLoading:
		return "loading"
	case PhaseReady:
		return "ready"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Remote is what the view needs from the remote service.
type Remote interface {
	GetRoomMessages(ctx context.Context, roomID string) ([]ama.Message, error)
	SubscribeURL(roomID string) string
}

type Options struct {
	Remote Remote
	// Live carries the reconnect and keepalive settings. URL, RoomID, OnState and OnReconnect
	// are filled in per room.
	Live live.Options
	// ResyncOnReconnect re-fetches the snapshot after the live channel comes back, closing the
	// gap of events missed while it was down.
	ResyncOnReconnect bool
	Logger            *slog.Logger
	Metrics           *metrics.Metrics
}

// State is an immutable picture of the view for rendering.
type State struct {
	RoomID   string
	Phase    Phase
	Err      error
	Live     live.State
	LiveErr  error
	Messages []ama.Message
}

// LiveUnavailable reports whether live updates were given up on.
func (s State) LiveUnavailable() bool {
	return s.Live == live.StateUnavailable
}

type View struct {
	opts   Options
	logger *slog.Logger

	mu        sync.Mutex
	gen       uint64
	roomID    string
	phase     Phase
	err       error
	liveState live.State
	liveErr   error
	store     *store.Store
	active    *activation

	wg      sync.WaitGroup
	changes chan struct{}
}

func New(opts Options) *View {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &View{
		opts:    opts,
		logger:  logger,
		changes: make(chan struct{}, 1),
	}
}

// Changes fires after every state or store change. Bursts are coalesced; receivers should read
// State afterwards.
func (v *View) Changes() <-chan struct{} {
	return v.changes
}

func (v *View) notify() {
	select {
	case v.changes <- struct{}{}:
	default:
	}
}

// activation is the background work of one opened room: its fetch, live channel and resyncs.
type activation struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// stop cancels the work and waits for it. Safe on nil.
func (a *activation) stop() {
	if a == nil {
		return
	}
	a.cancel()
	a.wg.Wait()
}

// spawn runs fn as part of the activation and of the view.
func (v *View) spawn(act *activation, fn func()) {
	v.wg.Add(1)
	act.wg.Add(1)
	v.launch(act, fn)
}

// launch starts fn for counts already added to both wait groups.
func (v *View) launch(act *activation, fn func()) {
	go func() {
		defer v.wg.Done()
		defer act.wg.Done()
		fn()
	}()
}

// Open shows roomID, replacing whatever room was open. The previous room's live channel is closed
// before Open returns; a result it produced while stopping is discarded.
func (v *View) Open(roomID string) {
	ctx, cancel := context.WithCancel(context.Background())
	act := &activation{cancel: cancel}
	st := store.New(roomID)

	v.mu.Lock()
	prev := v.active
	v.gen++
	gen := v.gen
	v.roomID = roomID
	v.store = st
	v.active = act
	// Counted before act is visible, so a concurrent Open or Close waits for it.
	v.wg.Add(1)
	act.wg.Add(1)
	v.phase = PhaseLoading
	v.err = nil
	v.liveState = live.StateClosed
	v.liveErr = nil
	v.mu.Unlock()

	st.OnChange(func() {
		if v.isCurrent(gen) {
			v.notify()
		}
	})
	v.notify()

	// Outside the lock: the old work reports state through update until it exits.
	prev.stop()
	v.logger.Info("opening room", "room", roomID)

	v.launch(act, func() { v.run(ctx, act, gen, roomID, st) })
}

// Reload opens the current room again from scratch, for example after a failed snapshot.
func (v *View) Reload() {
	v.mu.Lock()
	roomID := v.roomID
	v.mu.Unlock()
	if roomID != "" {
		v.Open(roomID)
	}
}

// Close stops all work for the open room and waits for it, so the live channel never outlives
// the view.
func (v *View) Close() {
	v.mu.Lock()
	if v.active != nil {
		v.active.cancel()
		v.active = nil
	}
	v.gen++
	v.roomID = ""
	v.store = nil
	v.phase = PhaseIdle
	v.err = nil
	v.liveState = live.StateClosed
	v.liveErr = nil
	v.mu.Unlock()

	v.wg.Wait()
	v.notify()
}

// State returns the current phase, live status and sorted messages.
func (v *View) State() State {
	v.mu.Lock()
	s := State{
		RoomID:  v.roomID,
		Phase:   v.phase,
		Err:     v.err,
		Live:    v.liveState,
		LiveErr: v.liveErr,
	}
	st := v.store
	v.mu.Unlock()
	if st != nil && s.Phase == PhaseReady {
		s.Messages = render.Sort(st.Messages())
	}
	return s
}

// Store exposes the store of the open room, nil when idle.
func (v *View) Store() *store.Store {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.store
}

func (v *View) isCurrent(gen uint64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.gen == gen
}

// update applies fn under the lock if gen is still the open generation.
func (v *View) update(gen uint64, fn func()) bool {
	v.mu.Lock()
	if v.gen != gen {
		v.mu.Unlock()
		return false
	}
	fn()
	v.mu.Unlock()
	v.notify()
	return true
}

func (v *View) run(ctx context.Context, act *activation, gen uint64, roomID string, st *store.Store) {
	msgs, err := v.opts.Remote.GetRoomMessages(ctx, roomID)
	if !v.isCurrent(gen) {
		v.logger.Debug("discarding stale snapshot", "room", roomID)
		v.opts.Metrics.StaleResult()
		return
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		v.logger.Error("failed to load room", "room", roomID, "err", err)
		v.opts.Metrics.SnapshotFetch("error")
		v.update(gen, func() {
			v.phase = PhaseFailed
			v.err = err
		})
		return
	}
	v.opts.Metrics.SnapshotFetch("ok")

	st.Load(msgs)
	if !v.update(gen, func() { v.phase = PhaseReady }) {
		return
	}
	v.logger.Info("room loaded", "room", roomID, "messages", len(msgs))

	opts := v.opts.Live
	opts.URL = v.opts.Remote.SubscribeURL(roomID)
	opts.RoomID = roomID
	if opts.Logger == nil {
		opts.Logger = v.logger
	}
	if opts.Metrics == nil {
		opts.Metrics = v.opts.Metrics
	}
	opts.OnState = func(s live.State) {
		v.update(gen, func() { v.liveState = s })
	}
	if v.opts.ResyncOnReconnect {
		opts.OnReconnect = func() {
			v.spawn(act, func() { v.resync(ctx, gen, roomID, st) })
		}
	}

	if err := live.New(opts, st).Run(ctx); err != nil {
		v.update(gen, func() { v.liveErr = err })
	}
}

func (v *View) resync(ctx context.Context, gen uint64, roomID string, st *store.Store) {
	since := st.Version()
	msgs, err := v.opts.Remote.GetRoomMessages(ctx, roomID)
	if !v.isCurrent(gen) {
		v.opts.Metrics.StaleResult()
		return
	}
	if err != nil {
		v.logger.Warn("failed to resync room after reconnect", "room", roomID, "err", err)
		v.opts.Metrics.SnapshotFetch("error")
		return
	}
	v.opts.Metrics.SnapshotFetch("ok")
	st.LoadSince(msgs, since)
	v.logger.Info("room resynced", "room", roomID, "messages", len(msgs))
}
