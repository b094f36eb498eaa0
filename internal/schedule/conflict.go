// Package schedule validates recurring weekly class slots and detects
// overlaps between them.
//
// Times are "HH:MM" strings constrained by timePattern.  Because the format
// is fixed-width and zero-padded, lexicographic comparison of two valid
// values is the same as comparing them as times of day, so no parsing is
// needed once a value has been validated.
package schedule

import (
	"regexp"

	"github.com/iliyamo/facility-membership/internal/model"
)

var timePattern = regexp.MustCompile(`^([01]\d|2[0-3]):([0-5]\d)$`)

// ValidTime reports whether s is a valid zero-padded 24h "HH:MM" value.
func ValidTime(s string) bool {
	return timePattern.MatchString(s)
}

// Overlaps reports whether [s1,e1) and [s2,e2) intersect.  Touching
// intervals, where one ends exactly when the other starts, do not.
func Overlaps(s1, e1, s2, e2 string) bool {
	return s1 < e2 && s2 < e1
}

// Reason identifies which constraint a candidate slot violates.
type Reason int

const (
	NoConflict Reason = iota
	InstructorConflict
	LaneConflict
)

func (r Reason) String() string {
	switch r {
	case NoConflict:
		return "none"
	case InstructorConflict:
		return "instructor"
	case LaneConflict:
		return "lane"
	default:
		return "unknown"
	}
}

// Field returns the form field a conflict should be attributed to.
func (r Reason) Field() string {
	switch r {
	case InstructorConflict:
		return "instructor_id"
	case LaneConflict:
		return "lane"
	default:
		return ""
	}
}

// Message returns the user-facing explanation of the conflict.
func (r Reason) Message() string {
	switch r {
	case InstructorConflict:
		return "the instructor already has a class scheduled at this time"
	case LaneConflict:
		return "this lane is already taken at this time"
	default:
		return ""
	}
}

// Conflict is the outcome of FindConflict.  With is the existing slot that
// clashes with the candidate; it is nil when Reason is NoConflict.
type Conflict struct {
	Reason Reason
	With   *model.Slot
}

// HasConflict reports whether a clash was found.
func (c Conflict) HasConflict() bool { return c.Reason != NoConflict }

// FindConflict checks candidate against existing slots.  Only active slots
// on the candidate's weekday are considered, and the candidate itself (same
// non-zero ID) is skipped so an edited slot does not clash with its stored
// version.  The instructor constraint is checked first; the lane constraint
// is checked only when the candidate occupies a lane.
func FindConflict(candidate model.Slot, existing []model.Slot) Conflict {
	sameDay := make([]*model.Slot, 0, len(existing))
	for i := range existing {
		s := &existing[i]
		if !s.IsActive || s.Weekday != candidate.Weekday {
			continue
		}
		if candidate.ID != 0 && s.ID == candidate.ID {
			continue
		}
		sameDay = append(sameDay, s)
	}

	for _, s := range sameDay {
		if s.InstructorID == candidate.InstructorID && Overlaps(candidate.Start, candidate.End, s.Start, s.End) {
			return Conflict{Reason: InstructorConflict, With: s}
		}
	}
	if candidate.HasLane() {
		for _, s := range sameDay {
			if s.HasLane() && *s.LaneID == *candidate.LaneID && Overlaps(candidate.Start, candidate.End, s.Start, s.End) {
				return Conflict{Reason: LaneConflict, With: s}
			}
		}
	}
	return Conflict{Reason: NoConflict}
}
