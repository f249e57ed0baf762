// Package messaging defines what the relay needs from a chat provider.
package messaging

import (
	"context"
	"errors"
	"net/url"

	"remember2.co/relay/internal/webhook"
)

// ErrReplyFailed is returned when the provider did not accept an outbound reply.
var ErrReplyFailed = errors.New("messaging: reply failed")

// Inbound is a text message pulled out of a provider webhook delivery.
type Inbound struct {
	From          string
	MessageID     string
	PhoneNumberID string
	Text          string
}

// Provider adapts one messaging platform's webhook and send API.
type Provider interface {
	// ParseHandshake reads the subscription handshake from a verification request's query.
	ParseHandshake(query url.Values) webhook.Handshake
	// Extract returns the delivered text message, or false when the payload carries none.
	Extract(payload []byte) (Inbound, bool)
	// Reply answers the message contained in payload with text.
	Reply(ctx context.Context, text string, payload []byte) error
}
