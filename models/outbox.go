package models

import (
	"encoding/json"
	"time"
)

type OutboxKind string

const (
	OutboxArtifactJob OutboxKind = "artifact_job"
	OutboxTrigger     OutboxKind = "trigger"
)

const TriggerTicketIssued = "ticket_issued"

// OutboxMessage is a side effect recorded in the same transaction as the state
// change that caused it, and delivered later by the relay.
type OutboxMessage struct {
	ID           string          `json:"id"`
	Kind         OutboxKind      `json:"kind"`
	DedupKey     string          `json:"dedup_key"`
	Payload      json.RawMessage `json:"payload"`
	Attempts     int             `json:"attempts"`
	LastError    string          `json:"last_error,omitempty"`
	Failed       bool            `json:"failed"`
	DispatchedAt *time.Time      `json:"dispatched_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

func ArtifactDedupKey(ticketID string) string {
	return "artifact:" + ticketID
}

func TriggerDedupKey(trigger, ticketID string) string {
	return "trigger:" + trigger + ":" + ticketID
}

// ArtifactJob is consumed by the hype-card worker. MessageID lets the worker drop redeliveries.
type ArtifactJob struct {
	MessageID  string         `json:"message_id,omitempty"`
	TicketID   string         `json:"ticket_id"`
	TemplateID string         `json:"template_id"`
	InputData  map[string]any `json:"input_data"`
}

type Trigger struct {
	MessageID string         `json:"message_id,omitempty"`
	Name      string         `json:"trigger"`
	TenantID  string         `json:"tenant_id"`
	ContactID string         `json:"contact_id"`
	Context   map[string]any `json:"context"`
}

type OutboxStats struct {
	Pending    int64 `json:"pending"`
	Dispatched int64 `json:"dispatched"`
	Failed     int64 `json:"failed"`
}
