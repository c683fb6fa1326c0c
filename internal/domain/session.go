package domain

import (
	"context"
	"errors"
)

var (
	ErrSessionNotReady    = errors.New("session not ready")
	ErrInvalidDestination = errors.New("invalid destination")
)

// Session is the messaging session as seen by the HTTP layer.
type Session interface {
	Ready() bool
	SendText(ctx context.Context, to Address, body string) error
}
