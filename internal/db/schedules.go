package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// ErrScheduleNotFound is returned when a schedule id does not exist.
var ErrScheduleNotFound = errors.New("reminder schedule not found")

// ScheduleRepository handles reminder schedule persistence.
type ScheduleRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewScheduleRepository creates a schedule repository.
func NewScheduleRepository(db *DB, logger *zap.Logger) *ScheduleRepository {
	return &ScheduleRepository{db: db, logger: logger}
}

const scheduleColumns = `
	id, pool_id, event_type, timing_offset, timing_unit, channels,
	active, subject, body, created_by, created_at, updated_at
`

func scanSchedule(row pgx.Row) (*ReminderSchedule, error) {
	var s ReminderSchedule
	var channels []string
	err := row.Scan(
		&s.ID,
		&s.PoolID,
		&s.EventType,
		&s.TimingOffset,
		&s.TimingUnit,
		&channels,
		&s.Active,
		&s.Subject,
		&s.Body,
		&s.CreatedBy,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Channels = toChannels(channels)
	return &s, nil
}

func toChannels(ss []string) []Channel {
	out := make([]Channel, 0, len(ss))
	for _, s := range ss {
		out = append(out, Channel(s))
	}
	return out
}

func fromChannels(cs []Channel) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, string(c))
	}
	return out
}

// Create inserts a new reminder schedule.
func (r *ScheduleRepository) Create(ctx context.Context, s *ReminderSchedule) error {
	query := `
		INSERT INTO reminder_schedules (
			id, pool_id, event_type, timing_offset, timing_unit,
			channels, active, subject, body, created_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`

	err := r.db.Pool().QueryRow(
		ctx,
		query,
		s.ID,
		s.PoolID,
		s.EventType,
		s.TimingOffset,
		s.TimingUnit,
		fromChannels(s.Channels),
		s.Active,
		s.Subject,
		s.Body,
		s.CreatedBy,
	).Scan(&s.CreatedAt, &s.UpdatedAt)

	if err != nil {
		r.logger.Error("failed to create reminder schedule",
			zap.Error(err),
			zap.String("pool_id", s.PoolID.String()),
			zap.String("event_type", string(s.EventType)),
		)
		return fmt.Errorf("insert reminder schedule: %w", err)
	}

	r.logger.Info("reminder schedule created",
		zap.String("schedule_id", s.ID.String()),
		zap.String("pool_id", s.PoolID.String()),
		zap.String("event_type", string(s.EventType)),
	)

	return nil
}

// Get retrieves a schedule by id.
func (r *ScheduleRepository) Get(ctx context.Context, id uuid.UUID) (*ReminderSchedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM reminder_schedules WHERE id = $1`

	s, err := scanSchedule(r.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrScheduleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query reminder schedule: %w", err)
	}
	return s, nil
}

// ListByPool retrieves every schedule for a pool, active or not.
func (r *ScheduleRepository) ListByPool(ctx context.Context, poolID uuid.UUID) ([]*ReminderSchedule, error) {
	query := `
		SELECT ` + scheduleColumns + `
		FROM reminder_schedules
		WHERE pool_id = $1
		ORDER BY created_at ASC
	`
	return r.list(ctx, query, poolID)
}

// ListActiveByPool retrieves the active schedules the scheduler evaluates.
func (r *ScheduleRepository) ListActiveByPool(ctx context.Context, poolID uuid.UUID) ([]*ReminderSchedule, error) {
	query := `
		SELECT ` + scheduleColumns + `
		FROM reminder_schedules
		WHERE pool_id = $1 AND active
		ORDER BY created_at ASC
	`
	return r.list(ctx, query, poolID)
}

func (r *ScheduleRepository) list(ctx context.Context, query string, args ...any) ([]*ReminderSchedule, error) {
	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query reminder schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*ReminderSchedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reminder schedule: %w", err)
		}
		schedules = append(schedules, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return schedules, nil
}

// Update rewrites the mutable fields of a schedule.
func (r *ScheduleRepository) Update(ctx context.Context, s *ReminderSchedule) error {
	query := `
		UPDATE reminder_schedules
		SET timing_offset = $1, timing_unit = $2, channels = $3,
		    active = $4, subject = $5, body = $6, updated_at = NOW()
		WHERE id = $7
	`

	result, err := r.db.Pool().Exec(ctx, query,
		s.TimingOffset,
		s.TimingUnit,
		fromChannels(s.Channels),
		s.Active,
		s.Subject,
		s.Body,
		s.ID,
	)
	if err != nil {
		return fmt.Errorf("update reminder schedule: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrScheduleNotFound
	}

	r.logger.Info("reminder schedule updated", zap.String("schedule_id", s.ID.String()))
	return nil
}

// Deactivate soft-deletes a schedule. Schedules are never removed because
// ledger entries reference them for the lifetime of the audit trail.
func (r *ScheduleRepository) Deactivate(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Pool().Exec(ctx,
		`UPDATE reminder_schedules SET active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deactivate reminder schedule: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrScheduleNotFound
	}

	r.logger.Info("reminder schedule deactivated", zap.String("schedule_id", id.String()))
	return nil
}

// CreateDefaults installs the standard reminder set for a newly provisioned
// pool: payment due one day ahead, overdue one day after, payout one day ahead.
func (r *ScheduleRepository) CreateDefaults(ctx context.Context, poolID uuid.UUID, createdBy *uuid.UUID) ([]*ReminderSchedule, error) {
	defaults := []*ReminderSchedule{
		{EventType: EventPaymentDue, TimingOffset: -1, TimingUnit: UnitDays},
		{EventType: EventPaymentOverdue, TimingOffset: 1, TimingUnit: UnitDays},
		{EventType: EventPayoutComing, TimingOffset: -1, TimingUnit: UnitDays},
	}

	for _, s := range defaults {
		s.ID = uuid.New()
		s.PoolID = poolID
		s.Channels = []Channel{ChannelEmail, ChannelInApp}
		s.Active = true
		s.CreatedBy = createdBy
		if err := r.Create(ctx, s); err != nil {
			return nil, err
		}
	}

	return defaults, nil
}

// EnsureAnnouncement returns the pool's announcement schedule, creating it on
// first use. Ad-hoc announcements need a schedule row because the delivery
// ledger keys every attempt by schedule id.
func (r *ScheduleRepository) EnsureAnnouncement(ctx context.Context, poolID uuid.UUID, createdBy *uuid.UUID) (*ReminderSchedule, error) {
	query := `
		SELECT ` + scheduleColumns + `
		FROM reminder_schedules
		WHERE pool_id = $1 AND event_type = $2
		ORDER BY created_at ASC
		LIMIT 1
	`

	s, err := scanSchedule(r.db.Pool().QueryRow(ctx, query, poolID, EventAnnouncement))
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("query announcement schedule: %w", err)
	}

	s = &ReminderSchedule{
		ID:           uuid.New(),
		PoolID:       poolID,
		EventType:    EventAnnouncement,
		TimingOffset: 0,
		TimingUnit:   UnitHours,
		Channels:     []Channel{ChannelEmail, ChannelInApp},
		Active:       true,
		CreatedBy:    createdBy,
	}
	if err := r.Create(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}
