// Package queue defines the audit payload exchanged over the message
// broker and the consumer that persists it.
package queue

import (
    "time"

    "github.com/iliyamo/facility-membership/internal/model"
)

// AuditQueueName is the durable queue audit events are published to.
const AuditQueueName = "audit.events"

// AuditEvent is the wire form of a model.AuditEntry.  The ID is assigned
// by the publisher so redeliveries are persisted once.
type AuditEvent struct {
    ID         string         `json:"id"`
    ActorID    uint64         `json:"actor_id"`
    ActorEmail string         `json:"actor_email,omitempty"`
    Action     string         `json:"action"`
    Resource   string         `json:"resource"`
    ResourceID string         `json:"resource_id,omitempty"`
    Details    map[string]any `json:"details,omitempty"`
    IPAddress  string         `json:"ip_address,omitempty"`
    UserAgent  string         `json:"user_agent,omitempty"`
    OccurredAt time.Time      `json:"occurred_at"`
}

// NewAuditEvent converts an entry for publishing.
func NewAuditEvent(e model.AuditEntry) AuditEvent {
    return AuditEvent{
        ID:         e.ID,
        ActorID:    e.ActorID,
        ActorEmail: e.ActorEmail,
        Action:     string(e.Action),
        Resource:   string(e.Resource),
        ResourceID: e.ResourceID,
        Details:    e.Details,
        IPAddress:  e.IPAddress,
        UserAgent:  e.UserAgent,
        OccurredAt: e.CreatedAt.UTC(),
    }
}

// Entry converts the event back into an entry for storage.
func (ev AuditEvent) Entry() model.AuditEntry {
    return model.AuditEntry{
        ID:         ev.ID,
        ActorID:    ev.ActorID,
        ActorEmail: ev.ActorEmail,
        Action:     model.AuditAction(ev.Action),
        Resource:   model.AuditResource(ev.Resource),
        ResourceID: ev.ResourceID,
        Details:    ev.Details,
        IPAddress:  ev.IPAddress,
        UserAgent:  ev.UserAgent,
        CreatedAt:  ev.OccurredAt,
    }
}
