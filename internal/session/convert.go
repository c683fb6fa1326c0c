package session

import (
	"fmt"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"wabridge/internal/domain"
)

func toInbound(msg *events.Message) *domain.InboundEvent {
	if msg == nil {
		return nil
	}
	return &domain.InboundEvent{
		ID:        msg.Info.ID,
		Sender:    senderAddress(msg.Info.Chat),
		Body:      messageText(msg.Message),
		PushName:  msg.Info.PushName,
		Timestamp: msg.Info.Timestamp,
		IsGroup:   msg.Info.IsGroup,
		FromMe:    msg.Info.IsFromMe,
	}
}

func messageText(m *waE2E.Message) string {
	if m == nil {
		return ""
	}
	if text := m.GetConversation(); text != "" {
		return text
	}
	return m.GetExtendedTextMessage().GetText()
}

// senderAddress reports phone users in the @c.us form the downstream service
// uses when it replies through /send.
func senderAddress(jid types.JID) string {
	if jid.Server == types.DefaultUserServer {
		return jid.User + domain.UserSuffix
	}
	return jid.ToNonAD().String()
}

// toJID resolves a send destination; @c.us maps to the user server.
func toJID(to domain.Address) (types.JID, error) {
	jid, err := types.ParseJID(to.String())
	if err != nil {
		return types.EmptyJID, fmt.Errorf("%w: %v", domain.ErrInvalidDestination, err)
	}
	if jid.User == "" {
		return types.EmptyJID, fmt.Errorf("%w: %q", domain.ErrInvalidDestination, to.String())
	}
	if jid.Server == types.LegacyUserServer {
		jid.Server = types.DefaultUserServer
	}
	return jid, nil
}
