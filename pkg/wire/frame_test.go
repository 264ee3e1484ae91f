package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/ama-live/pkg/ama"
)

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  ama.Event
	}{
		{
			name:  "created",
			frame: `{"kind":"message_created","value":{"id":"m1","message":"why?"}}`,
			want:  ama.MessageCreated{Message: ama.Message{ID: "m1", RoomID: "r1", Text: "why?"}},
		},
		{
			name:  "created with extras",
			frame: `{"kind":"message_created","value":{"id":"m1","message":"why?","reaction_count":3,"answered":true}}`,
			want:  ama.MessageCreated{Message: ama.Message{ID: "m1", RoomID: "r1", Text: "why?", ReactionCount: 3, Answered: true}},
		},
		{
			name:  "reaction increased",
			frame: `{"kind":"message_reaction_increased","value":{"id":"m1","count":9}}`,
			want:  ama.ReactionChanged{ID: "m1", Count: 9},
		},
		{
			name:  "reaction decreased to zero",
			frame: `{"kind":"message_reaction_decreased","value":{"id":"m1","count":0}}`,
			want:  ama.ReactionChanged{ID: "m1", Count: 0},
		},
		{
			name:  "reaction removed alias",
			frame: `{"kind":"message_reaction_removed","value":{"id":"m1","count":1}}`,
			want:  ama.ReactionChanged{ID: "m1", Count: 1},
		},
		{
			name:  "answered",
			frame: `{"kind":"message_answered","value":{"id":"m1"}}`,
			want:  ama.MessageAnswered{ID: "m1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeFrame("r1", []byte(tt.frame))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeFrameMalformed(t *testing.T) {
	frames := []string{
		``,
		`not json`,
		`{"value":{"id":"m1"}}`,
		`{"kind":"message_created"}`,
		`{"kind":"message_created","value":null}`,
		`{"kind":"message_created","value":{"message":"no id"}}`,
		`{"kind":"message_reaction_increased","value":{"id":"m1"}}`,
		`{"kind":"message_reaction_increased","value":{"id":"m1","count":-2}}`,
		`{"kind":"message_reaction_increased","value":{"id":"m1","count":"many"}}`,
		`{"kind":"message_answered","value":{}}`,
		`{"kind":"room_deleted","value":{"id":"r1"}}`,
	}
	for _, f := range frames {
		_, err := DecodeFrame("r1", []byte(f))
		assert.ErrorIs(t, err, ama.ErrDecode, "frame %q", f)
	}
}

func TestEncodeFrameDecodes(t *testing.T) {
	events := []ama.Event{
		ama.MessageCreated{Message: ama.Message{ID: "m1", RoomID: "r1", Text: "hello"}},
		ama.ReactionChanged{ID: "m1", Count: 7},
		ama.MessageAnswered{ID: "m1"},
	}
	for _, ev := range events {
		data, err := EncodeFrame(ev)
		require.NoError(t, err)
		got, err := DecodeFrame("r1", data)
		require.NoError(t, err)
		assert.Equal(t, ev, got)
	}
}
