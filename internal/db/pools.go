package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// ErrPoolNotFound is returned when a pool id does not exist.
var ErrPoolNotFound = errors.New("pool not found")

// ErrContactNotFound is returned when a recipient has no member row left.
var ErrContactNotFound = errors.New("recipient contact not found")

// PoolRepository is the read-only view over the pool/payment subsystem's
// tables. The notification engine never writes through it.
type PoolRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewPoolRepository creates a pool read repository.
func NewPoolRepository(db *DB, logger *zap.Logger) *PoolRepository {
	return &PoolRepository{db: db, logger: logger}
}

// ListActive returns every active pool with its members and, per member,
// whether a contribution for the current round has been recorded.
func (r *PoolRepository) ListActive(ctx context.Context) ([]*Pool, error) {
	query := `
		SELECT id, name, status, amount_cents, currency, frequency,
		       current_round, round_started_at, next_payout_at
		FROM pools
		WHERE status = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, PoolStatusActive)
	if err != nil {
		return nil, fmt.Errorf("query active pools: %w", err)
	}
	defer rows.Close()

	var pools []*Pool
	for rows.Next() {
		var p Pool
		err := rows.Scan(
			&p.ID,
			&p.Name,
			&p.Status,
			&p.AmountCents,
			&p.Currency,
			&p.Frequency,
			&p.CurrentRound,
			&p.RoundStartedAt,
			&p.NextPayoutAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan pool: %w", err)
		}
		pools = append(pools, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	for _, p := range pools {
		if err := r.loadMembers(ctx, p); err != nil {
			return nil, err
		}
	}

	return pools, nil
}

// Get returns one pool with members, regardless of status.
func (r *PoolRepository) Get(ctx context.Context, id uuid.UUID) (*Pool, error) {
	query := `
		SELECT id, name, status, amount_cents, currency, frequency,
		       current_round, round_started_at, next_payout_at
		FROM pools
		WHERE id = $1
	`

	var p Pool
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&p.ID,
		&p.Name,
		&p.Status,
		&p.AmountCents,
		&p.Currency,
		&p.Frequency,
		&p.CurrentRound,
		&p.RoundStartedAt,
		&p.NextPayoutAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPoolNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query pool: %w", err)
	}

	if err := r.loadMembers(ctx, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PoolRepository) loadMembers(ctx context.Context, p *Pool) error {
	query := `
		SELECT m.id, m.pool_id, m.user_id, m.name, m.email, m.phone, m.position,
		       (c.id IS NOT NULL) AS has_paid
		FROM pool_members m
		LEFT JOIN contributions c
		  ON c.member_id = m.id AND c.pool_id = m.pool_id AND c.round = $2
		WHERE m.pool_id = $1
		ORDER BY m.position ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, p.ID, p.CurrentRound)
	if err != nil {
		return fmt.Errorf("query pool members: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m PoolMember
		err := rows.Scan(
			&m.ID,
			&m.PoolID,
			&m.UserID,
			&m.Name,
			&m.Email,
			&m.Phone,
			&m.Position,
			&m.HasPaid,
		)
		if err != nil {
			return fmt.Errorf("scan pool member: %w", err)
		}
		p.Members = append(p.Members, m)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate rows: %w", err)
	}
	return nil
}

// GetContact resolves a recipient's current contact details by user id. The
// retry sweeper uses this when re-dispatching from a ledger snapshot.
func (r *PoolRepository) GetContact(ctx context.Context, userID uuid.UUID) (*Contact, error) {
	query := `
		SELECT user_id, name, email, phone
		FROM pool_members
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	var c Contact
	err := r.db.Pool().QueryRow(ctx, query, userID).Scan(&c.UserID, &c.Name, &c.Email, &c.Phone)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrContactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query recipient contact: %w", err)
	}
	return &c, nil
}

// InAppRepository writes the in-app channel's message feed. This is the one
// place the notification engine owns rows outside the three core stores.
type InAppRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewInAppRepository creates an in-app message repository.
func NewInAppRepository(db *DB, logger *zap.Logger) *InAppRepository {
	return &InAppRepository{db: db, logger: logger}
}

// Create appends a message to a user's in-app feed and returns its id.
func (r *InAppRepository) Create(ctx context.Context, userID uuid.UUID, poolID uuid.UUID, eventType EventType, subject, body string) (uuid.UUID, error) {
	id := uuid.New()
	query := `
		INSERT INTO in_app_messages (id, user_id, pool_id, event_type, subject, body)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	if _, err := r.db.Pool().Exec(ctx, query, id, userID, poolID, eventType, subject, body); err != nil {
		return uuid.Nil, fmt.Errorf("insert in-app message: %w", err)
	}

	r.logger.Debug("in-app message stored",
		zap.String("message_id", id.String()),
		zap.String("user_id", userID.String()),
	)
	return id, nil
}
