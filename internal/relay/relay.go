// Package relay moves chat text between the messaging provider and the inference backend.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"remember2.co/relay/internal/auth"
	"remember2.co/relay/internal/ids"
	"remember2.co/relay/internal/inference"
	"remember2.co/relay/internal/messaging"
	"remember2.co/relay/internal/obs"
	"remember2.co/relay/internal/webhook"
)

// State is a step of an inbound delivery.
type State string

const (
	StateReceived  State = "received"
	StateExtracted State = "extracted"
	StateInferred  State = "inferred"
	StateReplied   State = "replied"
	StateDone      State = "done"
)

// Delivery outcomes recorded per inbound webhook.
const (
	OutcomeReplied   = "replied"
	OutcomeNoMessage = "no_message"
	OutcomeFailed    = "failed"
)

const StatusCompleted = "completed"

// Status is the acknowledgement returned for a processed webhook delivery.
type Status struct {
	Status string `json:"status"`
}

// Success is returned for every delivery the relay finished, with or without a reply.
var Success = Status{Status: "success"}

// ChatResult describes one completed /chat exchange.
type ChatResult struct {
	JobID                string    `json:"job_id"`
	CallerID             string    `json:"caller_id"`
	Status               string    `json:"status"`
	Reply                string    `json:"reply"`
	StartTime            time.Time `json:"start_time"`
	EndTime              time.Time `json:"end_time"`
	TotalDurationSeconds float64   `json:"total_duration_seconds"`
}

// Service wires a messaging provider to an inference gateway.
type Service struct {
	provider  messaging.Provider
	inference *inference.Gateway
	verifier  *webhook.Verifier
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(provider messaging.Provider, gw *inference.Gateway, verifier *webhook.Verifier, logger *slog.Logger) (*Service, error) {
	switch {
	case provider == nil:
		return nil, errors.New("relay: messaging provider is required")
	case gw == nil:
		return nil, errors.New("relay: inference gateway is required")
	case verifier == nil:
		return nil, errors.New("relay: webhook verifier is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		provider:  provider,
		inference: gw,
		verifier:  verifier,
		logger:    logger.With(slog.String("component", "relay")),
		now:       time.Now,
	}, nil
}

// Handshake answers the provider's subscription check with the challenge.
func (s *Service) Handshake(ctx context.Context, query url.Values) (string, error) {
	return s.verifier.Verify(ctx, s.provider.ParseHandshake(query))
}

// HandleInbound processes one webhook delivery end to end. Deliveries without a text
// message, or with a blank one, are acknowledged without any outbound call.
func (s *Service) HandleInbound(ctx context.Context, payload []byte) (Status, error) {
	s.transition(ctx, StateReceived, slog.Int("bytes", len(payload)))

	in, ok := s.provider.Extract(payload)
	if !ok || strings.TrimSpace(in.Text) == "" {
		s.transition(ctx, StateDone, slog.String("outcome", OutcomeNoMessage))
		obs.ObserveDelivery(OutcomeNoMessage)
		return Success, nil
	}
	s.transition(ctx, StateExtracted, slog.String("message_id", in.MessageID))

	reply, err := s.inference.Generate(ctx, in.Text)
	if err != nil {
		obs.ObserveDelivery(OutcomeFailed)
		return Status{}, fmt.Errorf("relay: inference: %w", err)
	}
	s.transition(ctx, StateInferred, slog.Int("reply_bytes", len(reply)))

	if err := s.provider.Reply(ctx, reply, payload); err != nil {
		obs.ObserveDelivery(OutcomeFailed)
		return Status{}, fmt.Errorf("relay: reply: %w", err)
	}
	s.transition(ctx, StateReplied, slog.String("message_id", in.MessageID))

	s.transition(ctx, StateDone, slog.String("outcome", OutcomeReplied))
	obs.ObserveDelivery(OutcomeReplied)
	return Success, nil
}

// Chat runs inference for an authenticated caller.
func (s *Service) Chat(ctx context.Context, caller *auth.Caller, message string) (ChatResult, error) {
	if caller == nil {
		return ChatResult{}, errors.New("relay: caller is required")
	}
	start := s.now().UTC()
	jobID := ids.New()

	reply, err := s.inference.Generate(ctx, message)
	if err != nil {
		return ChatResult{}, fmt.Errorf("relay: chat %s: %w", jobID, err)
	}
	end := s.now().UTC()

	s.logger.InfoContext(ctx, "chat completed",
		slog.String("job_id", jobID), slog.String("caller_id", caller.ID))
	return ChatResult{
		JobID:                jobID,
		CallerID:             caller.ID,
		Status:               StatusCompleted,
		Reply:                reply,
		StartTime:            start,
		EndTime:              end,
		TotalDurationSeconds: end.Sub(start).Seconds(),
	}, nil
}

func (s *Service) transition(ctx context.Context, state State, attrs ...any) {
	s.logger.DebugContext(ctx, "delivery state", append([]any{slog.String("state", string(state))}, attrs...)...)
}
