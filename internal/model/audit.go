package model

import "time"

// AuditAction enumerates the write-side actions recorded in the audit log.
type AuditAction string

const (
    AuditCreate       AuditAction = "create"
    AuditUpdate       AuditAction = "update"
    AuditDelete       AuditAction = "delete"
    AuditLogin        AuditAction = "login"
    AuditLogout       AuditAction = "logout"
    AuditToggleStatus AuditAction = "toggle_status"
)

// AuditResource enumerates the resource types an audit entry may refer to.
type AuditResource string

const (
    ResourceUser     AuditResource = "user"
    ResourceSchedule AuditResource = "schedule"
    ResourceSession  AuditResource = "session"
)

// AuditEntry is one append-only row of the `audit_logs` table.
type AuditEntry struct {
    ID           string            // audit_logs.id (uuid)
    ActorID      uint64            // audit_logs.actor_id
    ActorEmail   string            // audit_logs.actor_email
    Action       AuditAction       // audit_logs.action
    Resource     AuditResource     // audit_logs.resource
    ResourceID   string            // audit_logs.resource_id (optional)
    Details      map[string]any    // audit_logs.details (JSON)
    IPAddress    string            // audit_logs.ip_address
    UserAgent    string            // audit_logs.user_agent
    CreatedAt    time.Time         // audit_logs.created_at
}
