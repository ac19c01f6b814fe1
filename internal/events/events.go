// Package events defines the realtime notifications emitted by the
// scheduler. Delivery is at-most-once and unordered; consumers must tolerate
// gaps and duplicates.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	AppointmentCreated       = "appointment_created"
	AppointmentUpdated       = "appointment_updated"
	AppointmentStatusChanged = "appointment_status_changed"
	NewArrival               = "new_arrival"

	// Consumed by the external notification service.
	AppointmentConfirmationDue = "appointment_confirmation_due"
	AppointmentReminderDue     = "appointment_reminder_due"
)

// Envelope is the wire shape shared by every transport.
type Envelope struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// Encode wraps payload in an Envelope and returns its JSON form.
func Encode(eventType string, payload any, now time.Time) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	env := Envelope{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: now.UTC(),
		Payload:    body,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", eventType, err)
	}
	return data, nil
}

// Decode parses an Envelope and its payload into T.
func Decode[T any](data []byte) (Envelope, T, error) {
	var (
		env  Envelope
		zero T
	)
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, zero, fmt.Errorf("decode envelope: %w", err)
	}
	var payload T
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return env, zero, fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return env, payload, nil
}
