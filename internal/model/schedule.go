package model

import "time"

// Slot is a recurring weekly class slot from the `schedules` table.
// Start and End are zero-padded "HH:MM" strings; the slot occupies the
// half-open interval [Start, End) on Weekday (0 = Sunday ... 6 = Saturday).
// LaneID is the optional physical resource (e.g. a pool lane) the slot
// occupies.
type Slot struct {
    ID           uint64    // schedules.id
    ClassID      uint64    // schedules.class_id
    InstructorID uint64    // schedules.instructor_id
    LaneID       *uint32   // schedules.lane (nullable)
    Weekday      int       // schedules.weekday
    Start        string    // schedules.start_time
    End          string    // schedules.end_time
    IsActive     bool      // schedules.is_active
    CreatedAt    time.Time // schedules.created_at
    UpdatedAt    time.Time // schedules.updated_at
}

// HasLane reports whether the slot is bound to a lane.
func (s Slot) HasLane() bool { return s.LaneID != nil }
