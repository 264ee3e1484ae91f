package wire

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/astromechza/ama-live/pkg/ama"
)

// Frame kinds sent by the remote service.
const (
	FrameMessageCreated           = "message_created"
	FrameMessageReactionIncreased = "message_reaction_increased"
	FrameMessageReactionDecreased = "message_reaction_decreased"
	FrameMessageReactionAdded     = "message_reaction_added"
	FrameMessageReactionRemoved   = "message_reaction_removed"
	FrameMessageAnswered          = "message_answered"
)

// Envelope is the outer shape of every live frame.
type Envelope struct {
	Kind  string          `json:"kind"`
	Value json.RawMessage `json:"value"`
}

type messageCreatedValue struct {
	ID            string `json:"id"`
	Message       string `json:"message"`
	ReactionCount *int64 `json:"reaction_count,omitempty"`
	Answered      *bool  `json:"answered,omitempty"`
}

type reactionValue struct {
	ID    string `json:"id"`
	Count *int64 `json:"count"`
}

type answeredValue struct {
	ID string `json:"id"`
}

// DecodeFrame decodes one live frame received on the channel of roomID. The channel is room
// scoped so created messages take their RoomID from it.
func DecodeFrame(roomID string, data []byte) (ama.Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal frame: %w", ama.ErrDecode, err)
	}
	value := bytes.TrimSpace(env.Value)
	if len(value) == 0 || bytes.Equal(value, []byte("null")) {
		return nil, decodeErrorf("frame %q has no value", env.Kind)
	}

	switch env.Kind {
	case FrameMessageCreated:
		var v messageCreatedValue
		if err := json.Unmarshal(value, &v); err != nil {
			return nil, fmt.Errorf("%w: bad %s value: %w", ama.ErrDecode, env.Kind, err)
		}
		if v.ID == "" {
			return nil, decodeErrorf("%s without id", env.Kind)
		}
		m := ama.Message{ID: v.ID, RoomID: roomID, Text: v.Message}
		if v.ReactionCount != nil {
			if *v.ReactionCount < 0 {
				return nil, decodeErrorf("%s with negative reaction count", env.Kind)
			}
			m.ReactionCount = *v.ReactionCount
		}
		if v.Answered != nil {
			m.Answered = *v.Answered
		}
		return ama.MessageCreated{Message: m}, nil

	case FrameMessageReactionIncreased, FrameMessageReactionDecreased,
		FrameMessageReactionAdded, FrameMessageReactionRemoved:
		var v reactionValue
		if err := json.Unmarshal(value, &v); err != nil {
			return nil, fmt.Errorf("%w: bad %s value: %w", ama.ErrDecode, env.Kind, err)
		}
		if v.ID == "" {
			return nil, decodeErrorf("%s without id", env.Kind)
		}
		if v.Count == nil {
			return nil, decodeErrorf("%s without count", env.Kind)
		}
		if *v.Count < 0 {
			return nil, decodeErrorf("%s with negative count %d", env.Kind, *v.Count)
		}
		return ama.ReactionChanged{ID: v.ID, Count: *v.Count}, nil

	case FrameMessageAnswered:
		var v answeredValue
		if err := json.Unmarshal(value, &v); err != nil {
			return nil, fmt.Errorf("%w: bad %s value: %w", ama.ErrDecode, env.Kind, err)
		}
		if v.ID == "" {
			return nil, decodeErrorf("%s without id", env.Kind)
		}
		return ama.MessageAnswered{ID: v.ID}, nil

	case "":
		return nil, decodeErrorf("frame without kind")
	default:
		return nil, decodeErrorf("unknown frame kind %q", env.Kind)
	}
}

// EncodeFrame renders an event the way the remote service sends it. Reaction changes are
// encoded as increases; the client only cares about the absolute count.
func EncodeFrame(ev ama.Event) ([]byte, error) {
	var env struct {
		Kind  string `json:"kind"`
		Value any    `json:"value"`
	}
	switch e := ev.(type) {
	case ama.MessageCreated:
		env.Kind = FrameMessageCreated
		env.Value = messageCreatedValue{ID: e.Message.ID, Message: e.Message.Text}
	case ama.ReactionChanged:
		count := e.Count
		env.Kind = FrameMessageReactionIncreased
		env.Value = reactionValue{ID: e.ID, Count: &count}
	case ama.MessageAnswered:
		env.Kind = FrameMessageAnswered
		env.Value = answeredValue{ID: e.ID}
	default:
		return nil, fmt.Errorf("unsupported event %T", ev)
	}
	return json.Marshal(env)
}
