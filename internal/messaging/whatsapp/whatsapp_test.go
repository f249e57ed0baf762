package whatsapp

import (
	"context"
	"errors"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"sync"
	"testing"

	"remember2.co/relay/internal/messaging"
)

const textDelivery = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "102290129340398",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "metadata": {"display_phone_number": "15550783881", "phone_number_id": "106540352242922"},
        "contacts": [{"profile": {"name": "Sheena Nelson"}, "wa_id": "16505551234"}],
        "messages": [{
          "from": "16505551234",
          "id": "wamid.HBgLMTY1MDM4Nzk0MzkVAgASGBQzQTRBNjU5OUFFRTAzODEwMTQ0RgA=",
          "timestamp": "1749416383",
          "type": "text",
          "text": {"body": "Does it come in another color?"}
        }]
      }
    }]
  }]
}`

const statusDelivery = `{
  "object": "whatsapp_business_account",
  "entry": [{"id": "1", "changes": [{"field": "messages", "value": {
    "messaging_product": "whatsapp",
    "metadata": {"phone_number_id": "106540352242922"},
    "statuses": [{"id": "wamid.X", "status": "delivered"}]
  }}]}]
}`

const imageDelivery = `{"entry":[{"changes":[{"value":{"metadata":{"phone_number_id":"1"},"messages":[{"from":"1","id":"m","type":"image","image":{"id":"img"}}]}}]}]}`

type recorded struct {
	path string
	auth string
	body map[string]any
}

type fakeGraph struct {
	mu       sync.Mutex
	requests []recorded
	statuses []int
}

func (f *fakeGraph) count() int {
	return len(f.snapshot())
}

func (f *fakeGraph) snapshot() []recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recorded(nil), f.requests...)
}

func (f *fakeGraph) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(raw, &body)

	f.mu.Lock()
	n := len(f.requests)
	f.requests = append(f.requests, recorded{path: r.URL.Path, auth: r.Header.Get("Authorization"), body: body})
	status := http.StatusOK
	if n < len(f.statuses) {
		status = f.statuses[n]
	}
	f.mu.Unlock()

	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"messaging_product":"whatsapp"}`))
}

func newTestClient(t *testing.T, graph *fakeGraph) *Client {
	t.Helper()
	srv := httptest.NewServer(graph)
	t.Cleanup(srv.Close)
	c, err := New(Config{APIToken: "wa-token", BaseURL: srv.URL + "/"}, WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestParseHandshake(t *testing.T) {
	c, err := New(Config{APIToken: "t"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	q := url.Values{"hub.mode": {"subscribe"}, "hub.verify_token": {"secret"}, "hub.challenge": {"1158201444"}}

	h := c.ParseHandshake(q)
	if h.Mode != "subscribe" || h.VerifyToken != "secret" || h.Challenge != "1158201444" {
		t.Fatalf("unexpected handshake %+v", h)
	}
}

func TestExtract(t *testing.T) {
	c, err := New(Config{APIToken: "t"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	in, ok := c.Extract([]byte(textDelivery))
	if !ok {
		t.Fatal("expected a text message")
	}
	want := messaging.Inbound{
		From:          "16505551234",
		MessageID:     "wamid.HBgLMTY1MDM4Nzk0MzkVAgASGBQzQTRBNjU5OUFFRTAzODEwMTQ0RgA=",
		PhoneNumberID: "106540352242922",
		Text:          "Does it come in another color?",
	}
	if in != want {
		t.Fatalf("got %+v, want %+v", in, want)
	}

	// Sender, id and metadata are all optional; the text alone is enough.
	in, ok = c.Extract([]byte(`{"entry":[{"changes":[{"value":{"messages":[{"type":"text","text":{"body":"hi"}}]}}]}]}`))
	if !ok || in != (messaging.Inbound{Text: "hi"}) {
		t.Fatalf("minimal envelope: got %+v ok=%v", in, ok)
	}

	cases := []struct {
		name    string
		payload string
	}{
		{"invalid json", `{"entry":`},
		{"not an object", `[]`},
		{"empty object", `{}`},
		{"no changes", `{"entry":[{"id":"1"}]}`},
		{"no value", `{"entry":[{"changes":[{"field":"messages"}]}]}`},
		{"no messages", `{"entry":[{"changes":[{"value":{"messages":[]}}]}]}`},
		{"status update", statusDelivery},
		{"non-text", imageDelivery},
		{"text sans body", `{"entry":[{"changes":[{"value":{"messages":[{"type":"text"}]}}]}]}`},
		{"empty body", `{"entry":[{"changes":[{"value":{"messages":[{"from":"1","id":"m","type":"text","text":{"body":""}}]}}]}]}`},
		{"blank body", `{"entry":[{"changes":[{"value":{"messages":[{"from":"1","id":"m","type":"text","text":{"body":" \n\t "}}]}}]}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in, ok := c.Extract([]byte(tc.payload))
			if ok || in != (messaging.Inbound{}) {
				t.Fatalf("expected no message, got %+v ok=%v", in, ok)
			}
		})
	}
}

func TestReplySendsMessageThenReadReceipt(t *testing.T) {
	graph := &fakeGraph{}
	c := newTestClient(t, graph)

	if err := c.Reply(context.Background(), "It comes in red.", []byte(textDelivery)); err != nil {
		t.Fatalf("Reply: %v", err)
	}

	requests := graph.snapshot()
	if len(requests) != 2 {
		t.Fatalf("expected reply and read receipt, got %d requests", len(requests))
	}
	for _, r := range requests {
		if r.path != "/v20.0/106540352242922/messages" {
			t.Fatalf("unexpected path %q", r.path)
		}
		if r.auth != "Bearer wa-token" {
			t.Fatalf("unexpected authorization %q", r.auth)
		}
	}

	const wamid = "wamid.HBgLMTY1MDM4Nzk0MzkVAgASGBQzQTRBNjU5OUFFRTAzODEwMTQ0RgA="
	wantReply := map[string]any{
		"messaging_product": "whatsapp",
		"to":                "16505551234",
		"text":              map[string]any{"body": "It comes in red."},
		"context":           map[string]any{"message_id": wamid},
	}
	if !reflect.DeepEqual(requests[0].body, wantReply) {
		t.Fatalf("reply body = %v", requests[0].body)
	}
	wantReceipt := map[string]any{
		"messaging_product": "whatsapp",
		"status":            "read",
		"message_id":        wamid,
	}
	if !reflect.DeepEqual(requests[1].body, wantReceipt) {
		t.Fatalf("receipt body = %v", requests[1].body)
	}
}

func TestReplyRejectedSkipsReadReceipt(t *testing.T) {
	graph := &fakeGraph{statuses: []int{http.StatusBadRequest}}
	c := newTestClient(t, graph)

	err := c.Reply(context.Background(), "hello", []byte(textDelivery))
	if !errors.Is(err, messaging.ErrReplyFailed) {
		t.Fatalf("expected ErrReplyFailed, got %v", err)
	}
	if n := graph.count(); n != 1 {
		t.Fatalf("read receipt must not follow a rejected reply, got %d requests", n)
	}
}

func TestReplyReadReceiptFailureIsIgnored(t *testing.T) {
	graph := &fakeGraph{statuses: []int{http.StatusOK, http.StatusInternalServerError}}
	c := newTestClient(t, graph)

	if err := c.Reply(context.Background(), "hello", []byte(textDelivery)); err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if n := graph.count(); n != 2 {
		t.Fatalf("expected 2 requests, got %d", n)
	}
}

func TestReplyNoOps(t *testing.T) {
	graph := &fakeGraph{}
	c := newTestClient(t, graph)
	ctx := context.Background()

	for name, tc := range map[string]struct{ text, payload string }{
		"empty text": {"", textDelivery},
		"no message": {"hello", statusDelivery},
		"not json":   {"hello", `not json`},
	} {
		if err := c.Reply(ctx, tc.text, []byte(tc.payload)); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
	}
	if n := graph.count(); n != 0 {
		t.Fatalf("expected no outbound calls, got %d", n)
	}
}

func TestReplyTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c, err := New(Config{APIToken: "t", BaseURL: base})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Reply(context.Background(), "hello", []byte(textDelivery)); !errors.Is(err, messaging.ErrReplyFailed) {
		t.Fatalf("expected ErrReplyFailed, got %v", err)
	}
}

func TestNewValidates(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error without api token")
	}

	c, err := New(Config{APIToken: "t", APIVersion: "/v21.0/"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := c.messagesURL("42"); got != "https://graph.facebook.com/v21.0/42/messages" {
		t.Fatalf("messagesURL = %q", got)
	}
}
