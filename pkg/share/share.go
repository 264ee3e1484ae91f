// Package share hands the address of the current room to the user: through a native share
// capability when the host has one, otherwise through the clipboard.
package share

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/aymanbagabas/go-osc52/v2"
)

type Method string

const (
	MethodNative    Method = "native"
	MethodClipboard Method = "clipboard"
	MethodTerminal  Method = "terminal"
)

// Native is a host share sheet.
type Native interface {
	Available() bool
	Share(ctx context.Context, title, link string) error
}

// Result says how the link was shared and what to tell the user.
type Result struct {
	Method       Method
	Confirmation string
}

type Sharer struct {
	native    Native
	clipboard func(string) error
	terminal  io.Writer
	logger    *slog.Logger
}

type Option func(*Sharer)

func WithNative(n Native) Option {
	return func(s *Sharer) { s.native = n }
}

// WithClipboard replaces the system clipboard writer. Nil disables the clipboard step.
func WithClipboard(fn func(string) error) Option {
	return func(s *Sharer) { s.clipboard = fn }
}

// WithTerminal enables the OSC 52 fallback, which asks the terminal emulator to set the
// clipboard. Useful over ssh where no local clipboard exists.
func WithTerminal(w io.Writer) Option {
	return func(s *Sharer) { s.terminal = w }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Sharer) { s.logger = l }
}

func New(opts ...Option) *Sharer {
	s := &Sharer{logger: slog.Default()}
	if !clipboard.Unsupported {
		s.clipboard = clipboard.WriteAll
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ErrNoShareTarget is returned when no share path worked.
var ErrNoShareTarget = errors.New("no way to share on this host")

// Share offers link to the user. It never touches the network.
func (s *Sharer) Share(ctx context.Context, title, link string) (Result, error) {
	if s.native != nil && s.native.Available() {
		err := s.native.Share(ctx, title, link)
		if err == nil {
			return Result{Method: MethodNative, Confirmation: "Shared!"}, nil
		}
		if errors.Is(err, context.Canceled) {
			return Result{}, err
		}
		s.logger.Warn("native share failed, falling back to clipboard", "err", err)
	}

	var errs []error
	if s.clipboard != nil {
		if err := s.clipboard(link); err == nil {
			return Result{Method: MethodClipboard, Confirmation: "Room link copied to clipboard!"}, nil
		} else {
			errs = append(errs, fmt.Errorf("failed to write clipboard: %w", err))
		}
	}
	if s.terminal != nil {
		if _, err := osc52.New(link).WriteTo(s.terminal); err == nil {
			return Result{Method: MethodTerminal, Confirmation: "Room link sent to the terminal clipboard!"}, nil
		} else {
			errs = append(errs, fmt.Errorf("failed to write osc52 sequence: %w", err))
		}
	}
	return Result{}, errors.Join(append([]error{ErrNoShareTarget}, errs...)...)
}

// RoomURL builds the address of a room page: base may contain a "{room}" placeholder, otherwise
// "/room/{id}" is appended.
func RoomURL(base, roomID string) (string, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return "", fmt.Errorf("share url is not configured")
	}
	if strings.Contains(base, "{room}") {
		return strings.ReplaceAll(base, "{room}", url.PathEscape(roomID)), nil
	}
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid share url: %w", err)
	}
	return u.JoinPath("room", roomID).String(), nil
}
