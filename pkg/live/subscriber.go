// Package live keeps a room scoped websocket subscription open and feeds decoded events into a
// sink, reconnecting with exponential backoff when the channel drops.
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/astromechza/ama-live/pkg/ama"
	"github.com/astromechza/ama-live/pkg/metrics"
	"github.com/astromechza/ama-live/pkg/wire"
)

const (
	DefaultMaxRetries     = 8
	DefaultInitialBackoff = 500 * time.Millisecond
	DefaultMaxBackoff     = 30 * time.Second
	// DefaultMaxFrameSize bounds a single inbound frame. Questions have no length limit upstream,
	// so it is generous; a frame over it costs the connection, not just the frame.
	DefaultMaxFrameSize = 1 << 20

	writeWait = 5 * time.Second
)

// Sink receives decoded events. It reports whether the event changed anything.
type Sink interface {
	Apply(ev ama.Event) bool
}

// Options configure a Subscriber. URL and RoomID are required.
type Options struct {
	URL    string
	RoomID string

	// MaxRetries caps consecutive failed connection attempts. Zero means DefaultMaxRetries and a
	// negative value retries forever.
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// PingInterval enables keepalive pings; a connection that misses two pongs is dropped.
	PingInterval time.Duration
	// MaxFrameSize is the read limit in bytes. Zero means DefaultMaxFrameSize.
	MaxFrameSize int64

	Dialer  *websocket.Dialer
	OnState func(State)
	// OnReconnect runs whenever the channel opens after a failed or dropped attempt.
	OnReconnect func()
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

type Subscriber struct {
	opts   Options
	sink   Sink
	logger *slog.Logger

	mu    sync.Mutex
	state State
}

func New(opts Options, sink Sink) *Subscriber {
	if opts.MaxRetries == 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = DefaultInitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = DefaultMaxBackoff
	}
	if opts.MaxFrameSize <= 0 {
		opts.MaxFrameSize = DefaultMaxFrameSize
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{
		opts:   opts,
		sink:   sink,
		logger: logger.With("room", opts.RoomID),
		state:  StateClosed,
	}
}

// State is the current lifecycle state.
func (s *Subscriber) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Subscriber) setState(next State) {
	s.mu.Lock()
	if s.state == next {
		s.mu.Unlock()
		return
	}
	prev := s.state
	s.state = next
	s.mu.Unlock()

	s.logger.Debug("live state changed", "from", prev.String(), "to", next.String())
	s.opts.Metrics.LiveState(next.String(), stateNames())
	if s.opts.OnState != nil {
		s.opts.OnState(next)
	}
}

func (s *Subscriber) newBackOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.opts.InitialBackoff
	eb.MaxInterval = s.opts.MaxBackoff
	eb.MaxElapsedTime = 0
	var b backoff.BackOff = eb
	if s.opts.MaxRetries > 0 {
		b = backoff.WithMaxRetries(eb, uint64(s.opts.MaxRetries))
	}
	b.Reset()
	return b
}

// Run connects and delivers events until ctx is cancelled, in which case it returns nil with the
// connection closed, or until the retry budget is spent, in which case it returns an error
// wrapping ama.ErrChannelDropped and the state is StateUnavailable.
func (s *Subscriber) Run(ctx context.Context) error {
	b := s.newBackOff()
	s.setState(StateConnecting)

	// Every open after the first attempt may have missed events, whether the earlier attempt
	// dropped an open channel or never got one.
	for attempt := 0; ; attempt++ {
		opened, err := s.connectAndReceive(ctx, attempt > 0)
		if ctx.Err() != nil {
			s.setState(StateClosed)
			return nil
		}
		if opened {
			b.Reset()
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			s.logger.Error("giving up on live updates", "err", err)
			s.setState(StateUnavailable)
			return fmt.Errorf("%w: giving up after %d attempts: %w", ama.ErrChannelDropped, s.opts.MaxRetries, err)
		}
		s.logger.Warn("live channel lost, reconnecting", "err", err, "wait", wait)
		s.setState(StateReconnecting)
		s.opts.Metrics.ReconnectAttempt()

		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			s.setState(StateClosed)
			return nil
		}
	}
}

func (s *Subscriber) connectAndReceive(ctx context.Context, reconnect bool) (bool, error) {
	conn, resp, err := s.opts.Dialer.DialContext(ctx, s.opts.URL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return false, fmt.Errorf("failed to dial (status %d): %w", resp.StatusCode, err)
		}
		return false, fmt.Errorf("failed to dial: %w", err)
	}
	defer conn.Close()
	conn.SetReadLimit(s.opts.MaxFrameSize)

	// Deferred in this order so the keepalive goroutine is cancelled before it is waited on.
	wg := new(sync.WaitGroup)
	defer wg.Wait()
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(connCtx, func() {
		_ = conn.Close()
	})
	defer stop()

	if s.opts.PingInterval > 0 {
		s.armKeepalive(connCtx, conn, wg)
	}

	s.logger.Info("live channel open", "url", s.opts.URL)
	s.setState(StateOpen)
	if reconnect && s.opts.OnReconnect != nil {
		s.opts.OnReconnect()
	}

	for {
		if err := s.readAndReceiveFrame(conn); err != nil {
			return true, err
		}
	}
}

func (s *Subscriber) armKeepalive(ctx context.Context, conn *websocket.Conn, wg *sync.WaitGroup) {
	deadline := func() time.Time { return time.Now().Add(2 * s.opts.PingInterval) }
	_ = conn.SetReadDeadline(deadline())
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(deadline())
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(s.opts.PingInterval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					s.logger.Debug("failed to ping", "err", err)
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (s *Subscriber) readAndReceiveFrame(conn *websocket.Conn) error {
	mt, p, err := conn.ReadMessage()
	if err != nil {
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) {
			return fmt.Errorf("%w: closed by server: %w", ama.ErrChannelDropped, err)
		}
		return fmt.Errorf("%w: failed to read frame: %w", ama.ErrChannelDropped, err)
	}
	switch mt {
	case websocket.TextMessage, websocket.BinaryMessage:
		s.opts.Metrics.FrameReceived()
		ev, err := wire.DecodeFrame(s.opts.RoomID, p)
		if err != nil {
			s.logger.Warn("dropping malformed frame", "err", err, "size", len(p))
			s.opts.Metrics.FrameDropped()
			return nil
		}
		if s.sink.Apply(ev) {
			s.opts.Metrics.EventApplied(string(ev.Kind()))
		}
	default:
	}
	return nil
}
