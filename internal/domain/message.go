package domain

import "time"

// InboundEvent is a chat message received through the session.
type InboundEvent struct {
	ID        string
	Sender    string // chat address of the sender, e.g. 5511999999999@c.us
	Body      string
	PushName  string
	Timestamp time.Time
	IsGroup   bool
	FromMe    bool
}

// OutboundRequest asks the session to deliver a text message.
type OutboundRequest struct {
	To   Address
	Body string
}
