// Package wire translates between the remote service's JSON representations and the ama types.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/astromechza/ama-live/pkg/ama"
)

// SnapshotRecord is one element of the room messages array. The remote service serializes its
// database rows without json tags, hence the capitalized names. Pointers let the decoder tell a
// missing field apart from a zero value.
type SnapshotRecord struct {
	ID            *string `json:"ID"`
	RoomID        *string `json:"RoomID"`
	Message       *string `json:"Message"`
	ReactionCount *int64  `json:"ReactionCount"`
	Answered      *bool   `json:"Answered"`
}

func decodeErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ama.ErrDecode, fmt.Sprintf(format, args...))
}

// DecodeSnapshot decodes the full message list of roomID. Every record must carry all five
// fields and belong to roomID.
func DecodeSnapshot(roomID string, data []byte) ([]ama.Message, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, decodeErrorf("empty snapshot body")
	}
	var records []SnapshotRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal snapshot: %w", ama.ErrDecode, err)
	}
	out := make([]ama.Message, 0, len(records))
	for i, r := range records {
		m, err := r.toMessage()
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		if m.RoomID != roomID {
			return nil, decodeErrorf("record %d: message %s belongs to room %q, not %q", i, m.ID, m.RoomID, roomID)
		}
		out = append(out, m)
	}
	return out, nil
}

func (r SnapshotRecord) toMessage() (ama.Message, error) {
	switch {
	case r.ID == nil:
		return ama.Message{}, decodeErrorf("missing field ID")
	case r.RoomID == nil:
		return ama.Message{}, decodeErrorf("missing field RoomID")
	case r.Message == nil:
		return ama.Message{}, decodeErrorf("missing field Message")
	case r.ReactionCount == nil:
		return ama.Message{}, decodeErrorf("missing field ReactionCount")
	case r.Answered == nil:
		return ama.Message{}, decodeErrorf("missing field Answered")
	}
	if *r.ID == "" {
		return ama.Message{}, decodeErrorf("empty ID")
	}
	if *r.ReactionCount < 0 {
		return ama.Message{}, decodeErrorf("negative ReactionCount %d for %s", *r.ReactionCount, *r.ID)
	}
	return ama.Message{
		ID:            *r.ID,
		RoomID:        *r.RoomID,
		Text:          *r.Message,
		ReactionCount: *r.ReactionCount,
		Answered:      *r.Answered,
	}, nil
}

// EncodeSnapshot is the inverse of DecodeSnapshot.
func EncodeSnapshot(msgs []ama.Message) ([]byte, error) {
	records := make([]SnapshotRecord, 0, len(msgs))
	for _, m := range msgs {
		m := m
		records = append(records, SnapshotRecord{
			ID:            &m.ID,
			RoomID:        &m.RoomID,
			Message:       &m.Text,
			ReactionCount: &m.ReactionCount,
			Answered:      &m.Answered,
		})
	}
	return json.Marshal(records)
}
