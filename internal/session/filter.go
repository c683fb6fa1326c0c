package session

import (
	"strings"

	"wabridge/internal/domain"
)

// StatusBroadcast is the chat that carries status updates.
const StatusBroadcast = "status@broadcast"

// DropReason says why an inbound event is not relayed. The zero value means
// the event is accepted.
type DropReason string

const (
	Accept        DropReason = ""
	DropEmpty     DropReason = "empty"
	DropBroadcast DropReason = "broadcast"
	DropGroup     DropReason = "group"
	DropSelf      DropReason = "self"
	DropBlank     DropReason = "blank"
)

// Classify applies the inbound filters in order and returns the first one
// that rejects evt.
func Classify(evt *domain.InboundEvent) DropReason {
	switch {
	case evt == nil:
		return DropEmpty
	case evt.Sender == StatusBroadcast:
		return DropBroadcast
	case evt.IsGroup:
		return DropGroup
	case evt.FromMe:
		return DropSelf
	case strings.TrimSpace(evt.Body) == "":
		return DropBlank
	}
	return Accept
}
