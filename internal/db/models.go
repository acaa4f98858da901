package db

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies why a reminder fires. The set is closed: the
// scheduler and the template renderer switch over it exhaustively.
type EventType string

const (
	EventPaymentDue     EventType = "payment_due"
	EventPaymentOverdue EventType = "payment_overdue"
	EventPayoutComing   EventType = "payout_coming"
	EventRoundStart     EventType = "round_start"
	EventAnnouncement   EventType = "announcement"
)

// EventTypes lists every valid event type.
var EventTypes = []EventType{
	EventPaymentDue,
	EventPaymentOverdue,
	EventPayoutComing,
	EventRoundStart,
	EventAnnouncement,
}

func (t EventType) Valid() bool {
	switch t {
	case EventPaymentDue, EventPaymentOverdue, EventPayoutComing, EventRoundStart, EventAnnouncement:
		return true
	}
	return false
}

// Channel is a delivery medium.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
	ChannelInApp Channel = "in_app"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPush, ChannelInApp:
		return true
	}
	return false
}

// TimingUnit is the unit of a schedule's timing offset.
type TimingUnit string

const (
	UnitHours TimingUnit = "hours"
	UnitDays  TimingUnit = "days"
	UnitWeeks TimingUnit = "weeks"
)

func (u TimingUnit) Valid() bool {
	switch u {
	case UnitHours, UnitDays, UnitWeeks:
		return true
	}
	return false
}

// Duration converts an offset count in this unit to a time.Duration.
func (u TimingUnit) Duration(offset int) time.Duration {
	switch u {
	case UnitDays:
		return time.Duration(offset) * 24 * time.Hour
	case UnitWeeks:
		return time.Duration(offset) * 7 * 24 * time.Hour
	default:
		return time.Duration(offset) * time.Hour
	}
}

// Delivery ledger status constants. Pending states are transient and never persisted.
const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

// ReasonDispatchInProgress is the failure reason written with a ledger claim
// before its dispatch outcome is known. A row carrying it may belong to an
// invocation that is still running; retry selection must leave such rows
// alone until they are older than any live dispatch can be.
const ReasonDispatchInProgress = "dispatch in progress"

// Pool lifecycle status constants (owned by the pool subsystem; the
// notification engine only reads them).
const (
	PoolStatusPending   = "pending"
	PoolStatusActive    = "active"
	PoolStatusCompleted = "completed"
)

// ReminderSchedule is a template describing when, relative to a pool event,
// a reminder fires and through which candidate channels. Schedules are never
// physically deleted, only deactivated.
type ReminderSchedule struct {
	ID           uuid.UUID  `json:"id"`
	PoolID       uuid.UUID  `json:"pool_id"`
	EventType    EventType  `json:"event_type"`
	TimingOffset int        `json:"timing_offset"`
	TimingUnit   TimingUnit `json:"timing_unit"`
	Channels     []Channel  `json:"channels"`
	Active       bool       `json:"active"`
	Subject      *string    `json:"subject,omitempty"`
	Body         *string    `json:"body,omitempty"`
	CreatedBy    *uuid.UUID `json:"created_by,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// DeliveryLedgerEntry records one delivery attempt. The 4-tuple
// (ScheduleID, RecipientID, EventInstant, Channel) is unique at the storage
// layer and is the engine's sole idempotency key. Entries are never deleted.
type DeliveryLedgerEntry struct {
	ID            uuid.UUID  `json:"id"`
	ScheduleID    uuid.UUID  `json:"schedule_id"`
	RecipientID   uuid.UUID  `json:"recipient_id"`
	PoolID        uuid.UUID  `json:"pool_id"`
	EventType     EventType  `json:"event_type"`
	EventInstant  time.Time  `json:"event_instant"`
	Channel       Channel    `json:"channel"`
	Status        string     `json:"status"`
	Subject       string     `json:"subject"`
	Body          string     `json:"body"`
	ExternalID    *string    `json:"external_id,omitempty"`
	FailureReason *string    `json:"failure_reason,omitempty"`
	RetryCount    int        `json:"retry_count"`
	SentAt        time.Time  `json:"sent_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// QuietHours is a per-user window during which non-urgent reminders are
// suppressed. A start hour greater than the end hour wraps midnight.
type QuietHours struct {
	Enabled   bool   `json:"enabled"`
	StartHour int    `json:"start_hour"`
	EndHour   int    `json:"end_hour"`
	Timezone  string `json:"timezone"`
}

// ChannelSetting is the per-channel enable/verification state.
type ChannelSetting struct {
	Enabled  bool `json:"enabled"`
	Verified bool `json:"verified"`
}

// TypeOverride overrides delivery for a single event type.
type TypeOverride struct {
	Enabled  bool      `json:"enabled"`
	Channels []Channel `json:"channels,omitempty"`
}

// PoolMute silences all reminders for one pool, optionally until an instant.
// An expired MutedUntil is treated as unmuted without any write-back.
type PoolMute struct {
	PoolID     uuid.UUID  `json:"pool_id"`
	Muted      bool       `json:"muted"`
	MutedUntil *time.Time `json:"muted_until,omitempty"`
}

// NotificationPreference is one user's delivery preferences. The engine only
// reads these; the settings API writes them.
type NotificationPreference struct {
	UserID            uuid.UUID                  `json:"user_id"`
	GlobalEnabled     bool                       `json:"global_enabled"`
	PreferredChannels []Channel                  `json:"preferred_channels"`
	QuietHours        QuietHours                 `json:"quiet_hours"`
	ChannelSettings   map[Channel]ChannelSetting `json:"channel_settings"`
	TypeOverrides     map[EventType]TypeOverride `json:"type_overrides"`
	PoolMutes         []PoolMute                 `json:"pool_mutes"`
	CreatedAt         time.Time                  `json:"created_at"`
	UpdatedAt         time.Time                  `json:"updated_at"`
}

// DefaultPreference returns the implicit preference record used when a user
// has never saved one: enabled, email as the preferred channel, email and
// in-app individually enabled, no quiet hours, nothing muted.
func DefaultPreference(userID uuid.UUID) *NotificationPreference {
	return &NotificationPreference{
		UserID:            userID,
		GlobalEnabled:     true,
		PreferredChannels: []Channel{ChannelEmail},
		QuietHours:        QuietHours{Enabled: false, StartHour: 22, EndHour: 8, Timezone: "UTC"},
		ChannelSettings: map[Channel]ChannelSetting{
			ChannelEmail: {Enabled: true, Verified: true},
			ChannelInApp: {Enabled: true, Verified: true},
			ChannelSMS:   {Enabled: false},
			ChannelPush:  {Enabled: false},
		},
		TypeOverrides: map[EventType]TypeOverride{},
		PoolMutes:     nil,
	}
}

// Pool is the read-only view of a rotating savings pool the scheduler
// consumes. The pool/payment subsystem owns and mutates the underlying rows.
type Pool struct {
	ID             uuid.UUID    `json:"id"`
	Name           string       `json:"name"`
	Status         string       `json:"status"`
	AmountCents    int64        `json:"amount_cents"`
	Currency       string       `json:"currency"`
	Frequency      string       `json:"frequency"`
	CurrentRound   int          `json:"current_round"`
	RoundStartedAt *time.Time   `json:"round_started_at,omitempty"`
	NextPayoutAt   *time.Time   `json:"next_payout_at,omitempty"`
	Members        []PoolMember `json:"members,omitempty"`
}

// PoolMember is one membership slot. UserID is nil for invitees who never
// linked an account; such members are never reminded.
type PoolMember struct {
	ID       uuid.UUID  `json:"id"`
	PoolID   uuid.UUID  `json:"pool_id"`
	UserID   *uuid.UUID `json:"user_id,omitempty"`
	Name     string     `json:"name"`
	Email    string     `json:"email"`
	Phone    *string    `json:"phone,omitempty"`
	Position int        `json:"position"`
	HasPaid  bool       `json:"has_paid"`
}

// RecipientPosition returns the 1-based rotation position receiving the
// payout for the given round.
func RecipientPosition(round, memberCount int) int {
	if memberCount <= 0 {
		return 0
	}
	return ((round - 1) % memberCount) + 1
}

// CurrentRecipient returns the member receiving this round's payout, or nil
// if the rotation position is unfilled.
func (p *Pool) CurrentRecipient() *PoolMember {
	pos := RecipientPosition(p.CurrentRound, len(p.Members))
	for i := range p.Members {
		if p.Members[i].Position == pos {
			return &p.Members[i]
		}
	}
	return nil
}

// Contact is the minimal recipient lookup the retry sweeper needs when the
// original scheduling context is no longer available.
type Contact struct {
	UserID uuid.UUID
	Name   string
	Email  string
	Phone  *string
}
