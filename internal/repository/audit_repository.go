package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/facility-membership/internal/model"
)

// AuditRepo appends entries to the audit_logs table.
type AuditRepo struct{ DB *sql.DB }

func NewAuditRepo(db *sql.DB) *AuditRepo { return &AuditRepo{DB: db} }

// Record inserts e.  A missing ID or timestamp is filled in.
func (r *AuditRepo) Record(ctx context.Context, e model.AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	var details any
	if len(e.Details) > 0 {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("encode audit details: %w", err)
		}
		details = string(b)
	}
	_, err := r.DB.ExecContext(ctx,
		`INSERT IGNORE INTO audit_logs (id, actor_id, actor_email, action, resource, resource_id, details, ip_address, user_agent, created_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.ActorID, e.ActorEmail, string(e.Action), string(e.Resource), e.ResourceID, details,
		truncate(e.IPAddress, 64), truncate(e.UserAgent, 255), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
