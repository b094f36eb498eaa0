package schedule

import "github.com/iliyamo/facility-membership/internal/model"

// FieldErrors maps form field names to validation messages.
type FieldErrors map[string]string

// Validate checks the shape of a candidate slot before any conflict check.
// An empty result means the slot may be compared against existing ones.
func Validate(s model.Slot) FieldErrors {
	errs := FieldErrors{}
	if s.ClassID == 0 {
		errs["class_id"] = "class is required"
	}
	if s.InstructorID == 0 {
		errs["instructor_id"] = "instructor is required"
	}
	if s.Weekday < 0 || s.Weekday > 6 {
		errs["weekday"] = "weekday must be between 0 (Sunday) and 6 (Saturday)"
	}
	startOK, endOK := ValidTime(s.Start), ValidTime(s.End)
	if !startOK {
		errs["start_time"] = "invalid time, expected HH:MM"
	}
	if !endOK {
		errs["end_time"] = "invalid time, expected HH:MM"
	}
	if startOK && endOK && s.End <= s.Start {
		errs["end_time"] = "end time must be after start time"
	}
	if s.LaneID != nil && *s.LaneID < 1 {
		errs["lane"] = "lane must be 1 or greater"
	}
	return errs
}
