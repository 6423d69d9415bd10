package appointment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// MessageAttribute is a typed attribute on a notification envelope; the router
// filters subscriptions on these.
type MessageAttribute struct {
	Type  string `json:"Type"`
	Value string `json:"Value"`
}

// NotificationEnvelope is the router's wire wrapper. The event itself travels
// as a JSON string in Message.
type NotificationEnvelope struct {
	Type              string                      `json:"Type"`
	MessageID         string                      `json:"MessageId"`
	Topic             string                      `json:"Topic"`
	Message           string                      `json:"Message"`
	Timestamp         time.Time                   `json:"Timestamp"`
	MessageAttributes map[string]MessageAttribute `json:"MessageAttributes,omitempty"`
}

// BusEnvelope is the event-bus wrapper; the event travels as the detail object.
type BusEnvelope struct {
	Version    string          `json:"version"`
	ID         string          `json:"id"`
	DetailType string          `json:"detail-type"`
	Source     string          `json:"source"`
	Time       time.Time       `json:"time"`
	Detail     json.RawMessage `json:"detail"`
}

// Unwrap strips at most one envelope level. Bodies without a Message string
// or a detail object are returned unchanged.
func Unwrap(body []byte) ([]byte, error) {
	var probe struct {
		Message json.RawMessage `json:"Message"`
		Detail  json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, fmt.Errorf("%w: malformed event body: %v", ErrValidation, err)
	}

	if msg := bytes.TrimSpace(probe.Message); len(msg) > 0 && msg[0] == '"' {
		var inner string
		if err := json.Unmarshal(msg, &inner); err != nil {
			return nil, fmt.Errorf("%w: malformed envelope message: %v", ErrValidation, err)
		}
		return []byte(inner), nil
	}
	if detail := bytes.TrimSpace(probe.Detail); len(detail) > 0 && detail[0] == '{' {
		return detail, nil
	}
	return body, nil
}
