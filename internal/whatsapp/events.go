package whatsapp

import (
	"encoding/json"
	"strings"
)

// InboundEvent is one user message flattened out of a webhook delivery.
type InboundEvent struct {
	MessageID   string
	From        string
	RoutingKey  string
	Type        string
	Content     string // empty when the type carries no relayable text
	ContactName string
	Timestamp   string
	Raw         json.RawMessage // the platform message as received
}

// StatusEvent is one delivery receipt flattened out of a webhook delivery.
type StatusEvent struct {
	MessageID   string
	Status      string
	RecipientID string
	RoutingKey  string
}

// Events walks every entry, change, message and status of p. Changes whose
// field is not "messages" are ignored.
func (p *WebhookPayload) Events() ([]InboundEvent, []StatusEvent) {
	var (
		msgs     []InboundEvent
		statuses []StatusEvent
	)
	if p == nil {
		return nil, nil
	}
	for _, e := range p.Entry {
		for _, ch := range e.Changes {
			if ch.Field != "" && ch.Field != "messages" {
				continue
			}
			v := ch.Value
			names := make(map[string]string, len(v.Contacts))
			for _, c := range v.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			for _, m := range v.Messages {
				msgs = append(msgs, InboundEvent{
					MessageID:   m.ID,
					From:        m.From,
					RoutingKey:  v.Metadata.PhoneNumberID,
					Type:        m.Type,
					Content:     ContentOf(m),
					ContactName: names[m.From],
					Timestamp:   m.Timestamp,
					Raw:         m.Raw(),
				})
			}
			for _, s := range v.Statuses {
				statuses = append(statuses, StatusEvent{
					MessageID:   s.ID,
					Status:      s.Status,
					RecipientID: s.RecipientID,
					RoutingKey:  v.Metadata.PhoneNumberID,
				})
			}
		}
	}
	return msgs, statuses
}

// ContentOf extracts the text to relay from m: the body of a text message, the
// selected title of an interactive reply, or the text of a template button.
func ContentOf(m Message) string {
	switch m.Type {
	case "text":
		if m.Text != nil {
			return strings.TrimSpace(m.Text.Body)
		}
	case "interactive":
		if m.Interactive == nil {
			return ""
		}
		if r := m.Interactive.ButtonReply; r != nil {
			return r.Title
		}
		if r := m.Interactive.ListReply; r != nil {
			return r.Title
		}
	case "button":
		if m.Button != nil {
			if m.Button.Text != "" {
				return m.Button.Text
			}
			return m.Button.Payload
		}
	}
	return ""
}
