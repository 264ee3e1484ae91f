package tui

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/ama-live/pkg/ama"
	"github.com/astromechza/ama-live/pkg/amatest"
	"github.com/astromechza/ama-live/pkg/api"
	"github.com/astromechza/ama-live/pkg/live"
	"github.com/astromechza/ama-live/pkg/roomview"
	"github.com/astromechza/ama-live/pkg/share"
	"github.com/astromechza/ama-live/pkg/submit"
)

const waitFor = 5 * time.Second
const tick = 5 * time.Millisecond

type fakeSharer struct {
	link string
	res  share.Result
	err  error
}

func (f *fakeSharer) Share(_ context.Context, _, link string) (share.Result, error) {
	f.link = link
	return f.res, f.err
}

type fixture struct {
	srv    *amatest.Server
	view   *roomview.View
	roomID string
	model  *Model
}

func newFixture(t *testing.T, liveOpts live.Options, opts Options) *fixture {
	t.Helper()
	srv := amatest.New()
	t.Cleanup(srv.Close)
	client, err := api.NewClient(srv.APIURL())
	require.NoError(t, err)
	if liveOpts.InitialBackoff == 0 {
		liveOpts.InitialBackoff = 10 * time.Millisecond
		liveOpts.MaxBackoff = 40 * time.Millisecond
	}
	view := roomview.New(roomview.Options{Remote: client, Live: liveOpts})
	t.Cleanup(view.Close)

	opts.View = view
	if opts.Submitter == nil {
		opts.Submitter = submit.New(client)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return &fixture{srv: srv, view: view, roomID: srv.AddRoom("go"), model: New(ctx, opts)}
}

// sync waits for cond on the room view, then lets the model catch up.
func (f *fixture) sync(t *testing.T, cond func(roomview.State) bool) {
	t.Helper()
	require.Eventually(t, func() bool { return cond(f.view.State()) }, waitFor, tick)
	f.model.Update(changedMsg{})
}

func (f *fixture) open(t *testing.T) {
	t.Helper()
	f.view.Open(f.roomID)
	require.Eventually(t, func() bool { return f.srv.Subscribers(f.roomID) == 1 }, waitFor, tick)
	f.sync(t, func(s roomview.State) bool { return s.Phase == roomview.PhaseReady && s.Live == live.StateOpen })
}

func key(k tea.KeyType) tea.KeyMsg {
	return tea.KeyMsg{Type: k}
}

func TestShowsLoadingThenQuestions(t *testing.T) {
	f := newFixture(t, live.Options{}, Options{})
	f.srv.AddMessage(ama.Message{ID: "1", RoomID: f.roomID, Text: "why go?", ReactionCount: 1})
	f.srv.AddMessage(ama.Message{ID: "2", RoomID: f.roomID, Text: "why not rust?", ReactionCount: 4})

	release := f.srv.HoldSnapshots()
	f.view.Open(f.roomID)
	f.model.Update(changedMsg{})
	assert.Contains(t, f.model.View(), "Loading...")
	assert.NotContains(t, f.model.View(), "why go?")

	release()
	f.sync(t, func(s roomview.State) bool { return s.Phase == roomview.PhaseReady })
	out := f.model.View()
	assert.NotContains(t, out, "Loading...")
	require.Contains(t, out, "why go?")
	assert.Less(t, strings.Index(out, "why not rust?"), strings.Index(out, "why go?"))
}

func TestShowsErrorStateAndReloads(t *testing.T) {
	f := newFixture(t, live.Options{}, Options{})
	f.srv.FailRequests(http.StatusInternalServerError)
	f.view.Open(f.roomID)
	f.sync(t, func(s roomview.State) bool { return s.Phase == roomview.PhaseFailed })
	assert.Contains(t, f.model.View(), "Could not load questions")

	f.srv.FailRequests(0)
	f.model.Update(key(tea.KeyCtrlR))
	f.sync(t, func(s roomview.State) bool { return s.Phase == roomview.PhaseReady })
	assert.Contains(t, f.model.View(), "No questions yet")
}

func TestBlankInputIsIgnored(t *testing.T) {
	f := newFixture(t, live.Options{}, Options{})
	f.open(t)
	f.model.input.SetValue("   ")
	_, cmd := f.model.Update(key(tea.KeyEnter))
	assert.Nil(t, cmd)
	assert.Zero(t, f.srv.Requests("POST /api/rooms/{room_id}/messages"))
}

func TestSubmitShowsQuestionOnlyAfterLiveEvent(t *testing.T) {
	f := newFixture(t, live.Options{}, Options{})
	f.open(t)

	f.model.input.SetValue("is this live?")
	_, cmd := f.model.Update(key(tea.KeyEnter))
	require.NotNil(t, cmd)
	msg := cmd()
	res, ok := msg.(submittedMsg)
	require.True(t, ok)
	require.NoError(t, res.err)
	f.model.Update(msg)
	assert.Empty(t, f.model.input.Value())

	f.sync(t, func(s roomview.State) bool { return len(s.Messages) == 1 })
	assert.Contains(t, f.model.View(), "is this live?")
}

func TestSubmitFailureShowsToastAndKeepsInput(t *testing.T) {
	f := newFixture(t, live.Options{}, Options{ToastTTL: time.Millisecond})
	f.open(t)
	f.srv.FailRequests(http.StatusServiceUnavailable)

	f.model.input.SetValue("will this fail?")
	_, cmd := f.model.Update(key(tea.KeyEnter))
	require.NotNil(t, cmd)
	_, toastCmd := f.model.Update(cmd())
	assert.Contains(t, f.model.View(), submit.FailureText)
	assert.Equal(t, "will this fail?", f.model.input.Value())
	assert.Empty(t, f.view.State().Messages)

	require.NotNil(t, toastCmd)
	f.model.Update(toastCmd())
	assert.NotContains(t, f.model.View(), submit.FailureText)
}

func TestShareShowsConfirmation(t *testing.T) {
	sharer := &fakeSharer{res: share.Result{Method: share.MethodClipboard, Confirmation: "Room link copied to clipboard!"}}
	f := newFixture(t, live.Options{}, Options{Sharer: sharer, ShareURL: "http://ama.example"})
	f.open(t)

	_, cmd := f.model.Update(key(tea.KeyCtrlS))
	require.NotNil(t, cmd)
	f.model.Update(cmd())
	assert.Equal(t, "http://ama.example/room/"+f.roomID, sharer.link)
	assert.Contains(t, f.model.View(), "Room link copied to clipboard!")
}

func TestShareFailureShowsToast(t *testing.T) {
	sharer := &fakeSharer{err: errors.Join(share.ErrNoShareTarget, errors.New("no clipboard"))}
	f := newFixture(t, live.Options{}, Options{Sharer: sharer, ShareURL: "http://ama.example"})
	f.open(t)

	_, cmd := f.model.Update(key(tea.KeyCtrlS))
	f.model.Update(cmd())
	assert.Contains(t, f.model.View(), "Could not share the room link.")
}

func TestLiveUnavailableIndicator(t *testing.T) {
	f := newFixture(t, live.Options{MaxRetries: 1, InitialBackoff: 5 * time.Millisecond, MaxBackoff: 10 * time.Millisecond}, Options{})
	f.srv.RejectSubscriptions(true)
	f.view.Open(f.roomID)
	f.sync(t, func(s roomview.State) bool { return s.LiveUnavailable() && s.Phase == roomview.PhaseReady })
	assert.Contains(t, f.model.View(), "live updates unavailable")
}

func TestQuitKeys(t *testing.T) {
	f := newFixture(t, live.Options{}, Options{})
	for _, k := range []tea.KeyType{tea.KeyEsc, tea.KeyCtrlC} {
		_, cmd := f.model.Update(key(k))
		require.NotNil(t, cmd)
		assert.IsType(t, tea.QuitMsg{}, cmd())
	}
}

func TestWaitForChange(t *testing.T) {
	f := newFixture(t, live.Options{}, Options{})
	f.view.Open(f.roomID)
	msg := f.model.waitForChange()()
	assert.IsType(t, changedMsg{}, msg)
}
