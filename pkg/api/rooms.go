package api

import (
	"context"
	"fmt"
	"net/http"
)

// Room is a question room as described by the remote service.
type Room struct {
	ID    string `json:"ID"`
	Theme string `json:"Theme"`
}

// CreateRoom creates a room with the given theme and returns its id.
func (c *Client) CreateRoom(ctx context.Context, theme string) (string, error) {
	var out idResponse
	body := struct {
		Theme string `json:"theme"`
	}{Theme: theme}
	if err := c.doJSON(ctx, http.MethodPost, []string{"rooms"}, body, decodeInto(&out)); err != nil {
		return "", fmt.Errorf("failed to create room: %w", err)
	}
	return out.ID, nil
}

// GetRooms lists every room.
func (c *Client) GetRooms(ctx context.Context) ([]Room, error) {
	var out []Room
	if err := c.doJSON(ctx, http.MethodGet, []string{"rooms"}, nil, decodeInto(&out)); err != nil {
		return nil, fmt.Errorf("failed to get rooms: %w", err)
	}
	return out, nil
}

// GetRoom fetches one room.
func (c *Client) GetRoom(ctx context.Context, roomID string) (Room, error) {
	var out Room
	if err := c.doJSON(ctx, http.MethodGet, []string{"rooms", roomID}, nil, decodeInto(&out)); err != nil {
		return Room{}, fmt.Errorf("failed to get room %s: %w", roomID, err)
	}
	return out, nil
}

type countResponse struct {
	Count int64 `json:"count"`
}

// React adds a reaction to a message and returns the new count.
func (c *Client) React(ctx context.Context, roomID, messageID string) (int64, error) {
	var out countResponse
	if err := c.doJSON(ctx, http.MethodPatch, []string{"rooms", roomID, "messages", messageID, "react"}, nil, decodeInto(&out)); err != nil {
		return 0, fmt.Errorf("failed to react to message %s: %w", messageID, err)
	}
	return out.Count, nil
}

// RemoveReaction removes a reaction from a message and returns the new count.
func (c *Client) RemoveReaction(ctx context.Context, roomID, messageID string) (int64, error) {
	var out countResponse
	if err := c.doJSON(ctx, http.MethodDelete, []string{"rooms", roomID, "messages", messageID, "react"}, nil, decodeInto(&out)); err != nil {
		return 0, fmt.Errorf("failed to remove reaction from message %s: %w", messageID, err)
	}
	return out.Count, nil
}

// MarkAnswered flags a message as answered.
func (c *Client) MarkAnswered(ctx context.Context, roomID, messageID string) error {
	if err := c.doJSON(ctx, http.MethodPatch, []string{"rooms", roomID, "messages", messageID, "answer"}, nil, nil); err != nil {
		return fmt.Errorf("failed to mark message %s as answered: %w", messageID, err)
	}
	return nil
}
