package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// PreferenceRepository handles notification preference persistence.
// Preference records are created lazily: Get returns the in-memory default
// for users who never saved one, without writing anything.
type PreferenceRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewPreferenceRepository creates a preference repository.
func NewPreferenceRepository(db *DB, logger *zap.Logger) *PreferenceRepository {
	return &PreferenceRepository{db: db, logger: logger}
}

// Get retrieves a user's preferences, falling back to DefaultPreference when
// no row exists.
func (r *PreferenceRepository) Get(ctx context.Context, userID uuid.UUID) (*NotificationPreference, error) {
	query := `
		SELECT user_id, global_enabled, preferred_channels,
		       quiet_enabled, quiet_start_hour, quiet_end_hour, quiet_timezone,
		       channel_settings, type_overrides, pool_mutes,
		       created_at, updated_at
		FROM notification_preferences
		WHERE user_id = $1
	`

	var p NotificationPreference
	var preferred []string
	var channelSettings, typeOverrides, poolMutes []byte

	err := r.db.Pool().QueryRow(ctx, query, userID).Scan(
		&p.UserID,
		&p.GlobalEnabled,
		&preferred,
		&p.QuietHours.Enabled,
		&p.QuietHours.StartHour,
		&p.QuietHours.EndHour,
		&p.QuietHours.Timezone,
		&channelSettings,
		&typeOverrides,
		&poolMutes,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return DefaultPreference(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("query notification preference: %w", err)
	}

	p.PreferredChannels = toChannels(preferred)
	if err := json.Unmarshal(channelSettings, &p.ChannelSettings); err != nil {
		return nil, fmt.Errorf("decode channel settings: %w", err)
	}
	if err := json.Unmarshal(typeOverrides, &p.TypeOverrides); err != nil {
		return nil, fmt.Errorf("decode type overrides: %w", err)
	}
	if err := json.Unmarshal(poolMutes, &p.PoolMutes); err != nil {
		return nil, fmt.Errorf("decode pool mutes: %w", err)
	}

	return &p, nil
}

// Upsert writes a user's full preference record.
func (r *PreferenceRepository) Upsert(ctx context.Context, p *NotificationPreference) error {
	channelSettings, err := json.Marshal(p.ChannelSettings)
	if err != nil {
		return fmt.Errorf("encode channel settings: %w", err)
	}
	typeOverrides, err := json.Marshal(p.TypeOverrides)
	if err != nil {
		return fmt.Errorf("encode type overrides: %w", err)
	}
	poolMutes, err := json.Marshal(p.PoolMutes)
	if err != nil {
		return fmt.Errorf("encode pool mutes: %w", err)
	}
	if p.PoolMutes == nil {
		poolMutes = []byte("[]")
	}

	query := `
		INSERT INTO notification_preferences (
			user_id, global_enabled, preferred_channels,
			quiet_enabled, quiet_start_hour, quiet_end_hour, quiet_timezone,
			channel_settings, type_overrides, pool_mutes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id) DO UPDATE SET
			global_enabled = EXCLUDED.global_enabled,
			preferred_channels = EXCLUDED.preferred_channels,
			quiet_enabled = EXCLUDED.quiet_enabled,
			quiet_start_hour = EXCLUDED.quiet_start_hour,
			quiet_end_hour = EXCLUDED.quiet_end_hour,
			quiet_timezone = EXCLUDED.quiet_timezone,
			channel_settings = EXCLUDED.channel_settings,
			type_overrides = EXCLUDED.type_overrides,
			pool_mutes = EXCLUDED.pool_mutes,
			updated_at = NOW()
		RETURNING created_at, updated_at
	`

	err = r.db.Pool().QueryRow(ctx, query,
		p.UserID,
		p.GlobalEnabled,
		fromChannels(p.PreferredChannels),
		p.QuietHours.Enabled,
		p.QuietHours.StartHour,
		p.QuietHours.EndHour,
		p.QuietHours.Timezone,
		channelSettings,
		typeOverrides,
		poolMutes,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		r.logger.Error("failed to upsert notification preference",
			zap.Error(err),
			zap.String("user_id", p.UserID.String()),
		)
		return fmt.Errorf("upsert notification preference: %w", err)
	}

	r.logger.Info("notification preference saved",
		zap.String("user_id", p.UserID.String()),
		zap.Bool("global_enabled", p.GlobalEnabled),
	)
	return nil
}
