// Package whatsapp implements messaging.Provider for the WhatsApp Business Cloud API.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"remember2.co/relay/internal/messaging"
	"remember2.co/relay/internal/obs"
	"remember2.co/relay/internal/webhook"
)

const (
	DefaultBaseURL    = "https://graph.facebook.com"
	DefaultAPIVersion = "v20.0"

	messagingProduct = "whatsapp"
)

// Config holds the Cloud API connection settings.
type Config struct {
	APIToken   string
	BaseURL    string
	APIVersion string
	Timeout    time.Duration
}

// Client talks to the Cloud API on behalf of one business account.
type Client struct {
	token      string
	baseURL    string
	version    string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ messaging.Provider = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.httpClient = c
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(cl *Client) {
		if logger != nil {
			cl.logger = logger
		}
	}
}

func New(cfg Config, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.APIToken) == "" {
		return nil, errors.New("whatsapp: api token is required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("whatsapp: invalid base url: %w", err)
	}
	version := strings.Trim(strings.TrimSpace(cfg.APIVersion), "/")
	if version == "" {
		version = DefaultAPIVersion
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		token:      cfg.APIToken,
		baseURL:    base,
		version:    version,
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("component", "messaging.whatsapp"))
	return c, nil
}

func (c *Client) ParseHandshake(query url.Values) webhook.Handshake {
	return webhook.Handshake{
		Mode:        query.Get("hub.mode"),
		VerifyToken: query.Get("hub.verify_token"),
		Challenge:   query.Get("hub.challenge"),
	}
}

func (c *Client) Extract(payload []byte) (messaging.Inbound, bool) {
	env, ok := decodeEnvelope(payload)
	if !ok {
		c.logger.Debug("undecodable webhook payload", slog.Int("bytes", len(payload)))
		return messaging.Inbound{}, false
	}
	return extract(env)
}

func extract(env *envelope) (messaging.Inbound, bool) {
	v := env.firstValue()
	if v == nil || len(v.Messages) == 0 {
		return messaging.Inbound{}, false
	}
	m := v.Messages[0]
	if m.Type != "text" || m.Text == nil || strings.TrimSpace(m.Text.Body) == "" {
		return messaging.Inbound{}, false
	}
	in := messaging.Inbound{
		From:      m.From,
		MessageID: m.ID,
		Text:      m.Text.Body,
	}
	if v.Metadata != nil {
		in.PhoneNumberID = v.Metadata.PhoneNumberID
	}
	return in, true
}

// Reply sends text as a threaded reply to the message in payload, then marks that message
// read. A rejected reply is an error; a failed read receipt is only logged.
func (c *Client) Reply(ctx context.Context, text string, payload []byte) error {
	if text == "" {
		return nil
	}
	env, ok := decodeEnvelope(payload)
	if !ok {
		return nil
	}
	in, ok := extract(env)
	if !ok {
		return nil
	}
	if in.PhoneNumberID == "" {
		return fmt.Errorf("%w: delivery has no phone number id", messaging.ErrReplyFailed)
	}

	endpoint := c.messagesURL(in.PhoneNumberID)
	status, err := c.post(ctx, endpoint, outboundText{
		MessagingProduct: messagingProduct,
		To:               in.From,
		Text:             textBody{Body: text},
		Context:          messageContext{MessageID: in.MessageID},
	})
	if err != nil {
		return fmt.Errorf("%w: %w", messaging.ErrReplyFailed, err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("%w: status %d", messaging.ErrReplyFailed, status)
	}

	status, err = c.post(ctx, endpoint, readReceipt{
		MessagingProduct: messagingProduct,
		Status:           "read",
		MessageID:        in.MessageID,
	})
	if err != nil || status != http.StatusOK {
		c.logger.WarnContext(ctx, "read receipt failed",
			slog.String("message_id", in.MessageID), slog.Int("status", status), slog.Any("error", err))
	}
	c.logger.DebugContext(ctx, "reply sent",
		slog.String("message_id", in.MessageID), slog.String("reply", obs.Truncate(text, 80)))
	return nil
}

func (c *Client) messagesURL(phoneNumberID string) string {
	return c.baseURL + "/" + c.version + "/" + url.PathEscape(phoneNumberID) + "/messages"
}

func (c *Client) post(ctx context.Context, endpoint string, body any) (int, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, nil
}
