package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tundeakins/ajopool/internal/db"
	"github.com/tundeakins/ajopool/internal/engine"
	"github.com/tundeakins/ajopool/internal/notify"
	"github.com/tundeakins/ajopool/internal/prefs"
	"github.com/tundeakins/ajopool/internal/scheduler"
)

// EngineRunner executes one notification invocation.
type EngineRunner interface {
	Run(ctx context.Context, now time.Time) (engine.RunResult, error)
}

// ScheduleStore defines the schedule operations the API needs.
type ScheduleStore interface {
	Create(ctx context.Context, s *db.ReminderSchedule) error
	CreateDefaults(ctx context.Context, poolID uuid.UUID, createdBy *uuid.UUID) ([]*db.ReminderSchedule, error)
	Get(ctx context.Context, id uuid.UUID) (*db.ReminderSchedule, error)
	ListByPool(ctx context.Context, poolID uuid.UUID) ([]*db.ReminderSchedule, error)
	Update(ctx context.Context, s *db.ReminderSchedule) error
	Deactivate(ctx context.Context, id uuid.UUID) error
	EnsureAnnouncement(ctx context.Context, poolID uuid.UUID, createdBy *uuid.UUID) (*db.ReminderSchedule, error)
}

// PreferenceStore defines the preference operations the API needs.
type PreferenceStore interface {
	Get(ctx context.Context, userID uuid.UUID) (*db.NotificationPreference, error)
	Upsert(ctx context.Context, p *db.NotificationPreference) error
}

// DeliveryStore lists delivery ledger entries for auditing.
type DeliveryStore interface {
	ListByPool(ctx context.Context, poolID uuid.UUID, limit, offset int) ([]*db.DeliveryLedgerEntry, error)
}

// PoolStore loads a pool with its members.
type PoolStore interface {
	Get(ctx context.Context, id uuid.UUID) (*db.Pool, error)
}

// ReminderDispatcher dispatches already-resolved reminders through the
// ledger. The announcement endpoint uses it for immediate sends.
type ReminderDispatcher interface {
	Process(ctx context.Context, pending []scheduler.PendingReminder) notify.Outcome
}

// ErrorResponse represents an error in problem+json format.
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// ScheduleRequest is the body for creating a reminder schedule.
type ScheduleRequest struct {
	EventType    string   `json:"event_type"`
	TimingOffset int      `json:"timing_offset"`
	TimingUnit   string   `json:"timing_unit"`
	Channels     []string `json:"channels"`
	Subject      *string  `json:"subject,omitempty"`
	Body         *string  `json:"body,omitempty"`
	CreatedBy    *string  `json:"created_by,omitempty"`
}

// ScheduleUpdateRequest carries the mutable schedule fields. Absent fields
// are left unchanged.
type ScheduleUpdateRequest struct {
	TimingOffset *int      `json:"timing_offset,omitempty"`
	TimingUnit   *string   `json:"timing_unit,omitempty"`
	Channels     *[]string `json:"channels,omitempty"`
	Active       *bool     `json:"active,omitempty"`
	Subject      *string   `json:"subject,omitempty"`
	Body         *string   `json:"body,omitempty"`
}

// AnnounceRequest is the body for a pool announcement.
type AnnounceRequest struct {
	Subject     string  `json:"subject"`
	Body        string  `json:"body"`
	InitiatedBy *string `json:"initiated_by,omitempty"`
}

// AnnounceResponse reports announcement delivery counts.
type AnnounceResponse struct {
	Recipients int      `json:"recipients"`
	Sent       int      `json:"sent"`
	Failed     int      `json:"failed"`
	Errors     []string `json:"errors,omitempty"`
}

// CronResponse is the invocation trigger's success body.
type CronResponse struct {
	Success   bool             `json:"success"`
	Timestamp string           `json:"timestamp"`
	Duration  string           `json:"duration"`
	Results   engine.RunResult `json:"results"`
	Errors    []string         `json:"errors,omitempty"`
}

// Handler holds dependencies for API handlers.
type Handler struct {
	logger     *zap.Logger
	engine     EngineRunner
	schedules  ScheduleStore
	prefs      PreferenceStore
	deliveries DeliveryStore
	pools      PoolStore
	dispatcher ReminderDispatcher
}

// NewHandler creates a new API handler.
func NewHandler(logger *zap.Logger, eng EngineRunner, schedules ScheduleStore, prefStore PreferenceStore, deliveries DeliveryStore, pools PoolStore, dispatcher ReminderDispatcher) *Handler {
	return &Handler{
		logger:     logger,
		engine:     eng,
		schedules:  schedules,
		prefs:      prefStore,
		deliveries: deliveries,
		pools:      pools,
		dispatcher: dispatcher,
	}
}

// TriggerNotifications handles GET|POST /v1/cron/notifications. Auth is
// enforced by CronAuthMiddleware before this runs.
func (h *Handler) TriggerNotifications(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	result, err := h.engine.Run(r.Context(), start.UTC())
	if err != nil {
		h.logger.Error("invocation failed", zap.Error(err))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success":   false,
			"error":     err.Error(),
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	resp := CronResponse{
		Success:   true,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Duration:  time.Since(start).Round(time.Millisecond).String(),
		Results:   result,
		Errors:    result.Errors,
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// CreateSchedule handles POST /v1/pools/{poolID}/schedules.
func (h *Handler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	poolID, err := uuid.Parse(chi.URLParam(r, "poolID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid pool ID", "poolID must be a valid UUID")
		return
	}

	var req ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	eventType := db.EventType(req.EventType)
	if !eventType.Valid() {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid event_type",
			"event_type must be one of: "+eventTypeList())
		return
	}

	unit := db.TimingUnit(req.TimingUnit)
	if req.TimingUnit == "" {
		unit = db.UnitHours
	}
	if !unit.Valid() {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid timing_unit", "timing_unit must be hours, days, or weeks")
		return
	}

	channels, err := parseChannels(req.Channels)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid channels", err.Error())
		return
	}
	if len(channels) == 0 {
		channels = []db.Channel{db.ChannelEmail, db.ChannelInApp}
	}

	var createdBy *uuid.UUID
	if req.CreatedBy != nil {
		id, err := uuid.Parse(*req.CreatedBy)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid created_by", "created_by must be a valid UUID")
			return
		}
		createdBy = &id
	}

	sched := &db.ReminderSchedule{
		ID:           uuid.New(),
		PoolID:       poolID,
		EventType:    eventType,
		TimingOffset: req.TimingOffset,
		TimingUnit:   unit,
		Channels:     channels,
		Active:       true,
		Subject:      req.Subject,
		Body:         req.Body,
		CreatedBy:    createdBy,
	}

	if err := h.schedules.Create(ctx, sched); err != nil {
		h.logger.Error("failed to create schedule",
			zap.Error(err),
			zap.String("pool_id", poolID.String()),
			zap.String("event_type", string(eventType)),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to create schedule", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(sched)
}

// DefaultScheduleRequest is the optional body when provisioning the default
// schedule set.
type DefaultScheduleRequest struct {
	CreatedBy *string `json:"created_by,omitempty"`
}

// CreateDefaultSchedules handles POST /v1/pools/{poolID}/schedules/defaults.
// It installs the standard reminder set for a newly provisioned pool.
func (h *Handler) CreateDefaultSchedules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	poolID, err := uuid.Parse(chi.URLParam(r, "poolID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid pool ID", "poolID must be a valid UUID")
		return
	}

	var req DefaultScheduleRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
			return
		}
	}

	var createdBy *uuid.UUID
	if req.CreatedBy != nil {
		id, err := uuid.Parse(*req.CreatedBy)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid created_by", "created_by must be a valid UUID")
			return
		}
		createdBy = &id
	}

	if _, err := h.pools.Get(ctx, poolID); err != nil {
		if errors.Is(err, db.ErrPoolNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Pool not found", "")
			return
		}
		h.logger.Error("failed to load pool", zap.Error(err), zap.String("pool_id", poolID.String()))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to load pool", "")
		return
	}

	schedules, err := h.schedules.CreateDefaults(ctx, poolID, createdBy)
	if err != nil {
		h.logger.Error("failed to create default schedules",
			zap.Error(err),
			zap.String("pool_id", poolID.String()),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to create default schedules", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"schedules": schedules,
		"count":     len(schedules),
	})
}

// ListSchedules handles GET /v1/pools/{poolID}/schedules.
func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	poolID, err := uuid.Parse(chi.URLParam(r, "poolID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid pool ID", "poolID must be a valid UUID")
		return
	}

	schedules, err := h.schedules.ListByPool(ctx, poolID)
	if err != nil {
		h.logger.Error("failed to list schedules", zap.Error(err), zap.String("pool_id", poolID.String()))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list schedules", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"schedules": schedules,
		"count":     len(schedules),
	})
}

// UpdateSchedule handles PATCH /v1/schedules/{id}.
func (h *Handler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid schedule ID", "ID must be a valid UUID")
		return
	}

	var req ScheduleUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	sched, err := h.schedules.Get(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrScheduleNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Schedule not found", "")
			return
		}
		h.logger.Error("failed to load schedule", zap.Error(err), zap.String("id", id.String()))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to load schedule", "")
		return
	}

	if req.TimingOffset != nil {
		sched.TimingOffset = *req.TimingOffset
	}
	if req.TimingUnit != nil {
		unit := db.TimingUnit(*req.TimingUnit)
		if !unit.Valid() {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid timing_unit", "timing_unit must be hours, days, or weeks")
			return
		}
		sched.TimingUnit = unit
	}
	if req.Channels != nil {
		channels, err := parseChannels(*req.Channels)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid channels", err.Error())
			return
		}
		if len(channels) == 0 {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid channels", "channels must not be empty")
			return
		}
		sched.Channels = channels
	}
	if req.Active != nil {
		sched.Active = *req.Active
	}
	if req.Subject != nil {
		sched.Subject = req.Subject
	}
	if req.Body != nil {
		sched.Body = req.Body
	}

	if err := h.schedules.Update(ctx, sched); err != nil {
		h.logger.Error("failed to update schedule", zap.Error(err), zap.String("id", id.String()))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to update schedule", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(sched)
}

// DeactivateSchedule handles POST /v1/schedules/{id}/deactivate. Schedules
// are soft-deleted so historical ledger entries keep a valid reference.
func (h *Handler) DeactivateSchedule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid schedule ID", "ID must be a valid UUID")
		return
	}

	if err := h.schedules.Deactivate(ctx, id); err != nil {
		if errors.Is(err, db.ErrScheduleNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Schedule not found", "")
			return
		}
		h.logger.Error("failed to deactivate schedule", zap.Error(err), zap.String("id", id.String()))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to deactivate schedule", "")
		return
	}

	h.logger.Info("schedule deactivated", zap.String("id", id.String()))
	w.WriteHeader(http.StatusNoContent)
}

// GetPreferences handles GET /v1/users/{userID}/preferences. A user who
// never saved preferences gets the implicit defaults.
func (h *Handler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid user ID", "userID must be a valid UUID")
		return
	}

	pref, err := h.prefs.Get(ctx, userID)
	if err != nil {
		h.logger.Error("failed to load preferences", zap.Error(err), zap.String("user_id", userID.String()))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to load preferences", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(pref)
}

// PutPreferences handles PUT /v1/users/{userID}/preferences. The body is the
// full preference document; the path's userID wins over any in the body.
func (h *Handler) PutPreferences(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid user ID", "userID must be a valid UUID")
		return
	}

	var pref db.NotificationPreference
	if err := json.NewDecoder(r.Body).Decode(&pref); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	pref.UserID = userID

	for _, c := range pref.PreferredChannels {
		if !c.Valid() {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid preferred channel",
				"channels must be email, sms, push, or in_app")
			return
		}
	}
	for c := range pref.ChannelSettings {
		if !c.Valid() {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid channel setting key",
				"channels must be email, sms, push, or in_app")
			return
		}
	}
	for t, o := range pref.TypeOverrides {
		if !t.Valid() {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid type override key",
				"event types must be payment_due, payment_overdue, payout_coming, round_start, or announcement")
			return
		}
		for _, c := range o.Channels {
			if !c.Valid() {
				h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid override channel",
					"channels must be email, sms, push, or in_app")
				return
			}
		}
	}
	if qh := pref.QuietHours; qh.Enabled {
		if qh.StartHour < 0 || qh.StartHour > 23 || qh.EndHour < 0 || qh.EndHour > 23 {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid quiet hours",
				"start_hour and end_hour must be between 0 and 23")
			return
		}
	}

	if err := h.prefs.Upsert(ctx, &pref); err != nil {
		h.logger.Error("failed to save preferences", zap.Error(err), zap.String("user_id", userID.String()))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to save preferences", "")
		return
	}

	h.logger.Info("preferences saved", zap.String("user_id", userID.String()))
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(&pref)
}

// Announce handles POST /v1/pools/{poolID}/announce. The announcement goes
// out immediately to every linked member, honoring per-user preferences and
// pool mutes but not quiet hours since the sender chose the moment.
func (h *Handler) Announce(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := time.Now().UTC().Truncate(time.Second)

	poolID, err := uuid.Parse(chi.URLParam(r, "poolID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid pool ID", "poolID must be a valid UUID")
		return
	}

	var req AnnounceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if req.Body == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing body", "body is required")
		return
	}

	var initiatedBy *uuid.UUID
	if req.InitiatedBy != nil {
		id, err := uuid.Parse(*req.InitiatedBy)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid initiated_by", "initiated_by must be a valid UUID")
			return
		}
		initiatedBy = &id
	}

	pool, err := h.pools.Get(ctx, poolID)
	if err != nil {
		if errors.Is(err, db.ErrPoolNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Pool not found", "")
			return
		}
		h.logger.Error("failed to load pool", zap.Error(err), zap.String("pool_id", poolID.String()))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to load pool", "")
		return
	}

	sched, err := h.schedules.EnsureAnnouncement(ctx, poolID, initiatedBy)
	if err != nil {
		h.logger.Error("failed to ensure announcement schedule", zap.Error(err), zap.String("pool_id", poolID.String()))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to prepare announcement", "")
		return
	}

	subject := req.Subject
	if subject == "" {
		subject = "Announcement from " + pool.Name
	}

	var pending []scheduler.PendingReminder
	for i := range pool.Members {
		m := &pool.Members[i]
		if m.UserID == nil {
			continue
		}

		pref, err := h.prefs.Get(ctx, *m.UserID)
		if err != nil {
			h.logger.Warn("preference lookup failed, skipping member",
				zap.Error(err),
				zap.String("user_id", m.UserID.String()),
			)
			continue
		}
		if prefs.IsPoolMuted(pref, poolID, now) {
			continue
		}

		for _, ch := range intersectChannels(prefs.EffectiveChannels(pref, db.EventAnnouncement), sched.Channels) {
			phone := ""
			if m.Phone != nil {
				phone = *m.Phone
			}
			pending = append(pending, scheduler.PendingReminder{
				ScheduleID:     sched.ID,
				RecipientID:    *m.UserID,
				PoolID:         poolID,
				EventType:      db.EventAnnouncement,
				EventInstant:   now,
				Channel:        ch,
				PoolName:       pool.Name,
				AmountCents:    pool.AmountCents,
				Currency:       pool.Currency,
				Frequency:      pool.Frequency,
				Round:          pool.CurrentRound,
				Position:       m.Position,
				RecipientName:  m.Name,
				RecipientEmail: m.Email,
				RecipientPhone: phone,
				CustomSubject:  &subject,
				CustomBody:     &req.Body,
			})
		}
	}

	outcome := h.dispatcher.Process(ctx, pending)

	h.logger.Info("announcement dispatched",
		zap.String("pool_id", poolID.String()),
		zap.Int("recipients", len(pending)),
		zap.Int("sent", outcome.Sent),
		zap.Int("failed", outcome.Failed),
	)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(AnnounceResponse{
		Recipients: len(pending),
		Sent:       outcome.Sent,
		Failed:     outcome.Failed,
		Errors:     outcome.Errors,
	})
}

// ListDeliveries handles GET /v1/pools/{poolID}/deliveries with limit and
// offset query parameters.
func (h *Handler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	poolID, err := uuid.Parse(chi.URLParam(r, "poolID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid pool ID", "poolID must be a valid UUID")
		return
	}

	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 && v <= 200 {
			limit = v
		}
	}
	offset := 0
	if s := r.URL.Query().Get("offset"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v >= 0 {
			offset = v
		}
	}

	entries, err := h.deliveries.ListByPool(ctx, poolID, limit, offset)
	if err != nil {
		h.logger.Error("failed to list deliveries", zap.Error(err), zap.String("pool_id", poolID.String()))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list deliveries", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"deliveries": entries,
		"count":      len(entries),
		"limit":      limit,
		"offset":     offset,
	})
}

func eventTypeList() string {
	names := make([]string, len(db.EventTypes))
	for i, t := range db.EventTypes {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

func parseChannels(raw []string) ([]db.Channel, error) {
	channels := make([]db.Channel, 0, len(raw))
	for _, s := range raw {
		c := db.Channel(s)
		if !c.Valid() {
			return nil, errors.New("channels must be email, sms, push, or in_app")
		}
		channels = append(channels, c)
	}
	return channels, nil
}

func intersectChannels(effective, allowed []db.Channel) []db.Channel {
	set := make(map[db.Channel]bool, len(effective))
	for _, c := range effective {
		set[c] = true
	}
	var out []db.Channel
	for _, c := range allowed {
		if set[c] {
			out = append(out, c)
		}
	}
	return out
}

// writeError writes a problem+json error response.
func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
