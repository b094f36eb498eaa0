package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/iliyamo/facility-membership/internal/model"
)

const slotColumns = "id,class_id,instructor_id,lane,weekday,start_time,end_time,is_active,created_at,updated_at"

// ScheduleRepo manages persistence for weekly schedule slots.
type ScheduleRepo struct {
	db *sql.DB
}

func NewScheduleRepo(db *sql.DB) *ScheduleRepo { return &ScheduleRepo{db: db} }

func scanSlot(row rowScanner) (*model.Slot, error) {
	var s model.Slot
	var lane sql.NullInt64
	if err := row.Scan(&s.ID, &s.ClassID, &s.InstructorID, &lane, &s.Weekday, &s.Start, &s.End, &s.IsActive, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	if lane.Valid {
		v := uint32(lane.Int64)
		s.LaneID = &v
	}
	return &s, nil
}

func collectSlots(rows *sql.Rows) ([]model.Slot, error) {
	defer rows.Close()
	var out []model.Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// ListActive returns all active slots ordered by day and start time.
func (r *ScheduleRepo) ListActive(ctx context.Context) ([]model.Slot, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+slotColumns+" FROM schedules WHERE is_active=1 ORDER BY weekday, start_time, id")
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	return collectSlots(rows)
}

// ListActiveByWeekday returns the active slots of one day.
func (r *ScheduleRepo) ListActiveByWeekday(ctx context.Context, weekday int) ([]model.Slot, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+slotColumns+" FROM schedules WHERE weekday=? AND is_active=1 ORDER BY start_time, id", weekday)
	if err != nil {
		return nil, fmt.Errorf("list schedules for day %d: %w", weekday, err)
	}
	return collectSlots(rows)
}

// GetByID fetches a slot regardless of its active flag.
func (r *ScheduleRepo) GetByID(ctx context.Context, id uint64) (*model.Slot, error) {
	s, err := scanSlot(r.db.QueryRowContext(ctx, "SELECT "+slotColumns+" FROM schedules WHERE id=? LIMIT 1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// createAttempts bounds how often CreateIfFree reruns after a deadlock.
const createAttempts = 2

// CreateIfFree inserts s after check approves the active slots of the same
// weekday.  The day's rows are locked for the duration of the transaction
// so two concurrent inserts cannot both pass the check.  An error from
// check is returned unchanged and nothing is written.
//
// On a day without active rows the lock is a gap lock, and two concurrent
// inserts can deadlock.  The losing transaction is rerun once, and its
// check then sees the winner's row.
func (r *ScheduleRepo) CreateIfFree(ctx context.Context, s *model.Slot, check func(existing []model.Slot) error) error {
	var err error
	for attempt := 1; attempt <= createAttempts; attempt++ {
		err = r.createIfFree(ctx, s, check)
		if !isDeadlock(err) {
			return err
		}
	}
	return err
}

func (r *ScheduleRepo) createIfFree(ctx context.Context, s *model.Slot, check func(existing []model.Slot) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx,
		"SELECT "+slotColumns+" FROM schedules WHERE weekday=? AND is_active=1 FOR UPDATE", s.Weekday)
	if err != nil {
		return fmt.Errorf("lock schedules for day %d: %w", s.Weekday, err)
	}
	existing, err := collectSlots(rows)
	if err != nil {
		return err
	}
	if err := check(existing); err != nil {
		return err
	}

	var lane any
	if s.LaneID != nil {
		lane = *s.LaneID
	}
	res, err := tx.ExecContext(ctx,
		"INSERT INTO schedules (class_id, instructor_id, lane, weekday, start_time, end_time, is_active) VALUES (?,?,?,?,?,?,1)",
		s.ClassID, s.InstructorID, lane, s.Weekday, s.Start, s.End)
	if err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.ID = uint64(id)
	s.IsActive = true
	return nil
}

// Deactivate marks an active slot inactive, freeing its time for others.
func (r *ScheduleRepo) Deactivate(ctx context.Context, id uint64) error {
	res, err := r.db.ExecContext(ctx, "UPDATE schedules SET is_active=0 WHERE id=? AND is_active=1", id)
	if err != nil {
		return fmt.Errorf("deactivate schedule %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
