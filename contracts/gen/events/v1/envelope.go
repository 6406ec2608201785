package v1

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Envelope is the versioned event envelope shared by the board's publishers
// and downstream consumers. Fields may be added; existing ones keep their
// meaning.
type Envelope struct {
	EventID          string          `json:"event_id"`
	EventType        string          `json:"event_type"`
	OccurredAt       time.Time       `json:"occurred_at"`
	SourceService    string          `json:"source_service"`
	TraceID          string          `json:"trace_id"`
	SchemaVersion    int             `json:"schema_version"`
	PartitionKeyPath string          `json:"partition_key_path"`
	PartitionKey     string          `json:"partition_key"`
	Data             json.RawMessage `json:"data"`
}

var ErrInvalidEnvelope = errors.New("invalid event envelope")

// Validate checks the fields every consumer relies on.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.EventID) == "" || strings.TrimSpace(e.EventType) == "" {
		return ErrInvalidEnvelope
	}
	if e.SchemaVersion < 1 || e.OccurredAt.IsZero() {
		return ErrInvalidEnvelope
	}
	if len(e.Data) > 0 && !json.Valid(e.Data) {
		return ErrInvalidEnvelope
	}
	return nil
}

// DecodeData unmarshals the event body into target.
func (e Envelope) DecodeData(target any) error {
	if len(e.Data) == 0 {
		return ErrInvalidEnvelope
	}
	return json.Unmarshal(e.Data, target)
}
