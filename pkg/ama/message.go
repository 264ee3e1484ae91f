// Package ama holds the types shared by every part of the live question client: the message
// record, the live update events that mutate it, and the error taxonomy.
package ama

// Message is a single question submitted to a room. ID and RoomID are assigned by the remote
// service and never change. Text is fixed at creation.
type Message struct {
	ID            string
	RoomID        string
	Text          string
	ReactionCount int64
	Answered      bool
}

// EventKind names a live update variant.
type EventKind string

const (
	KindMessageCreated  EventKind = "message_created"
	KindReactionChanged EventKind = "reaction_changed"
	KindMessageAnswered EventKind = "message_answered"
)

// Event is a live update delivered over the push channel. The set of implementations is closed.
type Event interface {
	Kind() EventKind
	MessageID() string
	isEvent()
}

// MessageCreated announces a message the remote service has just stored.
type MessageCreated struct {
	Message Message
}

func (e MessageCreated) Kind() EventKind   { return KindMessageCreated }
func (e MessageCreated) MessageID() string { return e.Message.ID }
func (MessageCreated) isEvent()            {}

// ReactionChanged carries the new absolute reaction count for a message.
type ReactionChanged struct {
	ID    string
	Count int64
}

func (e ReactionChanged) Kind() EventKind   { return KindReactionChanged }
func (e ReactionChanged) MessageID() string { return e.ID }
func (ReactionChanged) isEvent()            {}

// MessageAnswered marks a message as answered. There is no reverse transition.
type MessageAnswered struct {
	ID string
}

func (e MessageAnswered) Kind() EventKind   { return KindMessageAnswered }
func (e MessageAnswered) MessageID() string { return e.ID }
func (MessageAnswered) isEvent()            {}
