package whatsapp

import "encoding/json"

// envelope mirrors the parts of a Cloud API webhook delivery the relay reads. Every level
// is optional; deliveries for statuses or other message types simply leave fields empty.
type envelope struct {
	Object string  `json:"object,omitempty"`
	Entry  []entry `json:"entry,omitempty"`
}

type entry struct {
	ID      string   `json:"id,omitempty"`
	Changes []change `json:"changes,omitempty"`
}

type change struct {
	Field string `json:"field,omitempty"`
	Value *value `json:"value,omitempty"`
}

type value struct {
	MessagingProduct string    `json:"messaging_product,omitempty"`
	Metadata         *metadata `json:"metadata,omitempty"`
	Messages         []message `json:"messages,omitempty"`
}

type metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number,omitempty"`
	PhoneNumberID      string `json:"phone_number_id,omitempty"`
}

type message struct {
	From      string    `json:"from,omitempty"`
	ID        string    `json:"id,omitempty"`
	Timestamp string    `json:"timestamp,omitempty"`
	Type      string    `json:"type,omitempty"`
	Text      *textBody `json:"text,omitempty"`
}

type textBody struct {
	Body string `json:"body"`
}

// firstValue returns the value of the first change of the first entry.
func (e *envelope) firstValue() *value {
	if len(e.Entry) == 0 || len(e.Entry[0].Changes) == 0 {
		return nil
	}
	return e.Entry[0].Changes[0].Value
}

func decodeEnvelope(payload []byte) (*envelope, bool) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, false
	}
	return &env, true
}

type outboundText struct {
	MessagingProduct string         `json:"messaging_product"`
	To               string         `json:"to"`
	Text             textBody       `json:"text"`
	Context          messageContext `json:"context"`
}

type messageContext struct {
	MessageID string `json:"message_id"`
}

type readReceipt struct {
	MessagingProduct string `json:"messaging_product"`
	Status           string `json:"status"`
	MessageID        string `json:"message_id"`
}
