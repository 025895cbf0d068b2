package outbox

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending Status = "PENDING"
	StatusSent    Status = "SENT"
	StatusFailed  Status = "FAILED"
)

// Event is one outbox row. Rows are never deleted; SENT rows are history.
type Event struct {
	ID            string         `gorm:"type:char(36);primaryKey"`
	AggregateType string         `gorm:"type:varchar(64);not null"`
	AggregateID   string         `gorm:"type:varchar(64);not null;index"`
	EventType     string         `gorm:"type:varchar(128);not null"`
	Payload       datatypes.JSON `gorm:"not null"`
	Headers       datatypes.JSON
	Status        Status    `gorm:"type:varchar(16);not null;index:idx_outbox_due,priority:1"`
	RetryCount    int       `gorm:"not null;default:0"`
	CreatedAt     time.Time `gorm:"not null;index:idx_outbox_due,priority:3"`
	NextAttemptAt time.Time `gorm:"not null;index:idx_outbox_due,priority:2"`
	LastError     string    `gorm:"type:text"`
}

func (Event) TableName() string { return "outbox_events" }

// HeaderMap decodes the Headers column; a malformed column yields an empty map.
func (e *Event) HeaderMap() map[string]string {
	m := map[string]string{}
	if len(e.Headers) > 0 {
		_ = json.Unmarshal(e.Headers, &m)
	}
	return m
}

// Envelope is the wire form of a published outbox event.
type Envelope struct {
	ID            string            `json:"id"`
	EventType     string            `json:"eventType"`
	AggregateType string            `json:"aggregateType"`
	AggregateID   string            `json:"aggregateId"`
	Payload       json.RawMessage   `json:"payload"`
	Headers       map[string]string `json:"headers,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
}

// NewEnvelope wraps a stored event for publishing.
func NewEnvelope(e *Event) Envelope {
	return Envelope{
		ID:            e.ID,
		EventType:     e.EventType,
		AggregateType: e.AggregateType,
		AggregateID:   e.AggregateID,
		Payload:       json.RawMessage(e.Payload),
		Headers:       e.HeaderMap(),
		CreatedAt:     e.CreatedAt,
	}
}

// ParseEnvelope decodes a published envelope. Some producers serialize the envelope
// as a JSON string, so a string value is unwrapped once before decoding.
func ParseEnvelope(raw []byte) (Envelope, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		raw = []byte(s)
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Decode returns the typed payload of the envelope.
func (e Envelope) Decode() (Payload, error) {
	return Decode(e.EventType, e.Payload)
}
