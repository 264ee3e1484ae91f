// Package submit sends new questions to the remote service. It never touches the store: a
// question shows up once the live channel reports it.
package submit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/astromechza/ama-live/pkg/ama"
	"github.com/astromechza/ama-live/pkg/metrics"
)

// FailureText is shown to the user when a question could not be sent.
const FailureText = "Failed to send question, please try again."

// MessageCreator is the remote write used for submissions.
type MessageCreator interface {
	CreateMessage(ctx context.Context, roomID, text string) (string, error)
}

type Level int

const (
	LevelInfo Level = iota
	LevelError
)

// Notification is a short, non-blocking message for the user.
type Notification struct {
	Level Level
	Text  string
	Err   error
}

type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

type Submitter struct {
	creator  MessageCreator
	notifier Notifier
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type Option func(*Submitter)

func WithNotifier(n Notifier) Option {
	return func(s *Submitter) { s.notifier = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Submitter) { s.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Submitter) { s.metrics = m }
}

func New(creator MessageCreator, opts ...Option) *Submitter {
	s := &Submitter{creator: creator, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Validate trims text and rejects blank input.
func Validate(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", fmt.Errorf("%w: question is empty", ama.ErrValidation)
	}
	return trimmed, nil
}

// Submit validates text and sends it to roomID, returning the id the service assigned. Validation
// failures are silent and never reach the network. Remote failures are reported to the notifier
// and returned; nothing is retried.
func (s *Submitter) Submit(ctx context.Context, roomID, text string) (string, error) {
	if roomID == "" {
		return "", fmt.Errorf("%w: no room selected", ama.ErrValidation)
	}
	trimmed, err := Validate(text)
	if err != nil {
		s.metrics.Submission("invalid")
		return "", err
	}

	id, err := s.creator.CreateMessage(ctx, roomID, trimmed)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		s.logger.Error("failed to submit question", "room", roomID, "err", err)
		s.metrics.Submission("failed")
		if s.notifier != nil {
			s.notifier.Notify(Notification{Level: LevelError, Text: FailureText, Err: err})
		}
		return "", err
	}
	s.logger.Info("submitted question", "room", roomID, "id", id)
	s.metrics.Submission("ok")
	return id, nil
}
