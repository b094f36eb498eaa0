package handler

import (
    "context"
    "errors"
    "net/http"
    "strconv"

    "github.com/labstack/echo/v4"
    "go.uber.org/zap"

    "github.com/iliyamo/facility-membership/internal/model"
    "github.com/iliyamo/facility-membership/internal/obs"
    "github.com/iliyamo/facility-membership/internal/repository"
    "github.com/iliyamo/facility-membership/internal/schedule"
)

// ScheduleHandler serves the weekly class board.
type ScheduleHandler struct {
    Slots ScheduleStore
    Audit *Auditor
    Log   *zap.Logger
    // Purge drops cached board responses after a write.  Optional.
    Purge func(ctx context.Context) error
}

func NewScheduleHandler(slots ScheduleStore, audit *Auditor, log *zap.Logger, purge func(ctx context.Context) error) *ScheduleHandler {
    if log == nil {
        log = zap.NewNop()
    }
    return &ScheduleHandler{Slots: slots, Audit: audit, Log: log, Purge: purge}
}

type slotReq struct {
    ClassID      uint64  `json:"class_id" form:"class_id"`
    InstructorID uint64  `json:"instructor_id" form:"instructor_id"`
    Lane         *uint32 `json:"lane" form:"lane"`
    Weekday      *int    `json:"weekday" form:"weekday"`
    StartTime    string  `json:"start_time" form:"start_time"`
    EndTime      string  `json:"end_time" form:"end_time"`
}

type slotResp struct {
    ID           uint64  `json:"id"`
    ClassID      uint64  `json:"class_id"`
    InstructorID uint64  `json:"instructor_id"`
    Lane         *uint32 `json:"lane,omitempty"`
    Weekday      int     `json:"weekday"`
    StartTime    string  `json:"start_time"`
    EndTime      string  `json:"end_time"`
}

func toSlotResp(s model.Slot) slotResp {
    return slotResp{
        ID:           s.ID,
        ClassID:      s.ClassID,
        InstructorID: s.InstructorID,
        Lane:         s.LaneID,
        Weekday:      s.Weekday,
        StartTime:    s.Start,
        EndTime:      s.End,
    }
}

// conflictError carries a clash out of the store transaction.
type conflictError struct{ schedule.Conflict }

func (e conflictError) Error() string { return e.Reason.Message() }

// List returns active slots, optionally for a single ?weekday=0..6.
func (h *ScheduleHandler) List(c echo.Context) error {
    ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
    defer cancel()

    var (
        slots []model.Slot
        err   error
    )
    if raw := c.QueryParam("weekday"); raw != "" {
        day, convErr := strconv.Atoi(raw)
        if convErr != nil || day < 0 || day > 6 {
            return c.JSON(http.StatusBadRequest, echo.Map{"error": "weekday must be between 0 and 6"})
        }
        slots, err = h.Slots.ListActiveByWeekday(ctx, day)
    } else {
        slots, err = h.Slots.ListActive(ctx)
    }
    if err != nil {
        h.Log.Error("list schedules failed", zap.Error(err))
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
    }

    items := make([]slotResp, 0, len(slots))
    for _, s := range slots {
        items = append(items, toSlotResp(s))
    }
    return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// Create validates the slot, then inserts it unless it overlaps an active
// slot of the same instructor, or of the same lane, on the same day.
func (h *ScheduleHandler) Create(c echo.Context) error {
    var req slotReq
    if err := c.Bind(&req); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
    }
    slot := model.Slot{
        ClassID:      req.ClassID,
        InstructorID: req.InstructorID,
        LaneID:       req.Lane,
        Weekday:      -1,
        Start:        req.StartTime,
        End:          req.EndTime,
        IsActive:     true,
    }
    if req.Weekday != nil {
        slot.Weekday = *req.Weekday
    }
    if errs := schedule.Validate(slot); len(errs) > 0 {
        return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "validation failed", "fields": errs})
    }

    ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
    defer cancel()

    err := h.Slots.CreateIfFree(ctx, &slot, func(existing []model.Slot) error {
        if cf := schedule.FindConflict(slot, existing); cf.HasConflict() {
            return conflictError{cf}
        }
        return nil
    })
    var cf conflictError
    if errors.As(err, &cf) {
        obs.ScheduleConflicts.WithLabelValues(cf.Reason.String()).Inc()
        body := echo.Map{
            "error":  cf.Reason.Message(),
            "reason": cf.Reason.String(),
            "fields": schedule.FieldErrors{cf.Reason.Field(): cf.Reason.Message()},
        }
        if cf.With != nil {
            body["conflicting_slot"] = toSlotResp(*cf.With)
        }
        return c.JSON(http.StatusConflict, body)
    }
    if err != nil {
        h.Log.Error("create schedule failed", zap.Error(err))
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "create schedule failed"})
    }

    h.purge(ctx)
    details := map[string]any{
        "class_id":      slot.ClassID,
        "instructor_id": slot.InstructorID,
        "weekday":       slot.Weekday,
        "start_time":    slot.Start,
        "end_time":      slot.End,
    }
    if slot.LaneID != nil {
        details["lane"] = *slot.LaneID
    }
    h.Audit.Record(c, model.AuditEntry{
        Action:     model.AuditCreate,
        Resource:   model.ResourceSchedule,
        ResourceID: strconv.FormatUint(slot.ID, 10),
        Details:    details,
    })
    return c.JSON(http.StatusCreated, toSlotResp(slot))
}

// Delete deactivates a slot, freeing its time and lane.
func (h *ScheduleHandler) Delete(c echo.Context) error {
    id, err := pathID(c)
    if err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
    }
    ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
    defer cancel()

    slot, err := h.Slots.GetByID(ctx, id)
    if errors.Is(err, repository.ErrNotFound) || (err == nil && !slot.IsActive) {
        return c.JSON(http.StatusNotFound, echo.Map{"error": "schedule not found"})
    }
    if err != nil {
        h.Log.Error("load schedule failed", zap.Error(err), zap.Uint64("id", id))
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "delete schedule failed"})
    }

    if err := h.Slots.Deactivate(ctx, id); err != nil {
        // lost a race with another delete
        if errors.Is(err, repository.ErrNotFound) {
            return c.JSON(http.StatusNotFound, echo.Map{"error": "schedule not found"})
        }
        h.Log.Error("deactivate schedule failed", zap.Error(err), zap.Uint64("id", id))
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "delete schedule failed"})
    }
    h.purge(ctx)
    h.Audit.Record(c, model.AuditEntry{
        Action:     model.AuditDelete,
        Resource:   model.ResourceSchedule,
        ResourceID: strconv.FormatUint(id, 10),
        Details: map[string]any{
            "instructor_id": slot.InstructorID,
            "weekday":       slot.Weekday,
            "start_time":    slot.Start,
            "end_time":      slot.End,
        },
    })
    return c.NoContent(http.StatusNoContent)
}

func (h *ScheduleHandler) purge(ctx context.Context) {
    if h.Purge == nil {
        return
    }
    if err := h.Purge(ctx); err != nil {
        h.Log.Warn("schedule cache purge failed", zap.Error(err))
    }
}
