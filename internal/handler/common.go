package handler // handler defines http handlers

import (
    "context"
    "errors"
    "strconv"
    "time"

    "github.com/labstack/echo/v4"
    "go.uber.org/zap"

    "github.com/iliyamo/facility-membership/internal/middleware"
    "github.com/iliyamo/facility-membership/internal/model"
    "github.com/iliyamo/facility-membership/internal/obs"
    "github.com/iliyamo/facility-membership/internal/session"
)

// dbTimeout bounds every store call made while serving a request.
const dbTimeout = 5 * time.Second

// CredentialStore looks identities up for authentication.
type CredentialStore interface {
    GetByEmail(ctx context.Context, email string) (*model.User, error)
    GetByID(ctx context.Context, id uint64) (*model.User, error)
}

// UserStore is the full user persistence used by the admin pages.
type UserStore interface {
    CredentialStore
    Create(ctx context.Context, u *model.User) error
    List(ctx context.Context) ([]model.User, error)
    SetActive(ctx context.Context, id uint64, active bool) error
}

// ScheduleStore persists weekly slots.
type ScheduleStore interface {
    ListActive(ctx context.Context) ([]model.Slot, error)
    ListActiveByWeekday(ctx context.Context, weekday int) ([]model.Slot, error)
    GetByID(ctx context.Context, id uint64) (*model.Slot, error)
    CreateIfFree(ctx context.Context, s *model.Slot, check func(existing []model.Slot) error) error
    Deactivate(ctx context.Context, id uint64) error
}

// AuditSink receives write-side events.  *repository.AuditRepo and
// *queue_publisher.Publisher implement it.
type AuditSink interface {
    Record(ctx context.Context, e model.AuditEntry) error
}

// Auditor fills request metadata into audit entries and delivers them.
// Delivery failures are logged and counted; they never fail the request.
type Auditor struct {
    Sink AuditSink
    Log  *zap.Logger
}

// Record delivers e on behalf of the current request.  When e carries no
// actor, the authenticated identity is used.
func (a *Auditor) Record(c echo.Context, e model.AuditEntry) {
    if a == nil || a.Sink == nil {
        return
    }
    if e.ActorID == 0 {
        if claims, ok := session.FromContext(c); ok {
            e.ActorID = claims.UserID
            e.ActorEmail = claims.Email
        }
    }
    e.IPAddress = middleware.ClientIdentifier(c)
    e.UserAgent = c.Request().UserAgent()
    e.CreatedAt = time.Now().UTC()

    ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request().Context()), dbTimeout)
    defer cancel()
    if err := a.Sink.Record(ctx, e); err != nil {
        obs.AuditFailures.Inc()
        if a.Log != nil {
            a.Log.Warn("audit entry dropped",
                zap.Error(err),
                zap.String("action", string(e.Action)),
                zap.String("resource", string(e.Resource)),
                zap.String("resource_id", e.ResourceID),
            )
        }
    }
}

var errBadID = errors.New("invalid id")

// pathID parses the :id route parameter.
func pathID(c echo.Context) (uint64, error) {
    id, err := strconv.ParseUint(c.Param("id"), 10, 64)
    if err != nil || id == 0 {
        return 0, errBadID
    }
    return id, nil
}

// currentUserID returns the id set by RequireAuthenticated, or 0.
func currentUserID(c echo.Context) uint64 {
    if claims, ok := session.FromContext(c); ok {
        return claims.UserID
    }
    return 0
}
