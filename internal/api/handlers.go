package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/smukkama/egg-grader/internal/aggregation"
	"github.com/smukkama/egg-grader/internal/database"
	"github.com/smukkama/egg-grader/internal/grading"
	"github.com/smukkama/egg-grader/internal/history"
	"github.com/smukkama/egg-grader/internal/livestore"
	"github.com/smukkama/egg-grader/internal/repository/mongodb"
)

const defaultNotificationLimit = 100

// LiveStore is the part of the Redis live store the API uses.
type LiveStore interface {
	Get(ctx context.Context, deviceID string) (*livestore.Snapshot, error)
	ClearErrors(ctx context.Context, deviceID string) (*livestore.Snapshot, int, error)
	NotificationsEnabled(ctx context.Context) (bool, error)
	SetNotificationsEnabled(ctx context.Context, enabled bool) error
}

// BatchStore persists saved batches.
type BatchStore interface {
	InsertBatch(ctx context.Context, b *history.Batch) error
	GetBatch(ctx context.Context, id string) (*history.Batch, error)
	ListBatches(ctx context.Context) ([]history.Batch, error)
	DeleteBatch(ctx context.Context, id string) error
}

// DeviceStore lists graders that have identified at least once.
type DeviceStore interface {
	ListDevices(ctx context.Context) ([]*database.Device, error)
}

// NotificationStore persists raised notifications.
type NotificationStore interface {
	ListNotifications(ctx context.Context, limit int) ([]*database.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
	MarkAllNotificationsRead(ctx context.Context) (int64, error)
	DeleteNotification(ctx context.Context, id string) error
	DeleteAllNotifications(ctx context.Context) (int64, error)
}

// SummaryLookup reads the daily summary archive.
type SummaryLookup interface {
	GetDailySummary(ctx context.Context, deviceID, date string) (*aggregation.DailySummary, error)
}

// Options tune how views and listings are rendered.
type Options struct {
	SlotsPerRow int
	Location    *time.Location
}

// Handler serves the dashboard endpoints.
type Handler struct {
	live          LiveStore
	batches       BatchStore
	devices       DeviceStore
	notifications NotificationStore
	summaries     SummaryLookup
	opts          Options
	logger        *zap.Logger
	now           func() time.Time
}

// NewHandler constructs the HTTP handler. summaries may be nil, in which case
// live statistics carry no trend.
func NewHandler(live LiveStore, batches BatchStore, devices DeviceStore, notifications NotificationStore, summaries SummaryLookup, opts Options, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Handler{
		live:          live,
		batches:       batches,
		devices:       devices,
		notifications: notifications,
		summaries:     summaries,
		opts:          opts,
		logger:        logger,
		now:           time.Now,
	}
}

const maxBatchIDAttempts = 5

func errorJSON(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg})
}

// priorSummary returns yesterday's (UTC) summary of the device, or nil.
func (h *Handler) priorSummary(ctx context.Context, deviceID string) *grading.PeriodSummary {
	if h.summaries == nil {
		return nil
	}
	s, err := h.summaries.GetDailySummary(ctx, deviceID, aggregation.PreviousDate(h.now()))
	if err != nil {
		if !errors.Is(err, mongodb.ErrNoSummary) {
			h.logger.Warn("failed to load prior summary", zap.String("device_id", deviceID), zap.Error(err))
		}
		return nil
	}
	p := s.Period()
	return &p
}

func (h *Handler) buildView(ctx context.Context, snap *livestore.Snapshot, filter livestore.SlotFilter) livestore.View {
	return livestore.BuildView(snap, h.opts.SlotsPerRow, filter, h.priorSummary(ctx, snap.DeviceID))
}

// ListDevices returns every known grader.
func (h *Handler) ListDevices(c *gin.Context) {
	devices, err := h.devices.ListDevices(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list devices", zap.Error(err))
		errorJSON(c, http.StatusInternalServerError, "failed to list devices")
		return
	}
	if devices == nil {
		devices = []*database.Device{}
	}
	c.JSON(http.StatusOK, gin.H{"devices": devices})
}

// LiveView returns the latest snapshot of a device with per-slot categories.
func (h *Handler) LiveView(c *gin.Context) {
	filter, err := livestore.ParseSlotFilter(c.Query("filter"))
	if err != nil {
		errorJSON(c, http.StatusBadRequest, err.Error())
		return
	}

	snap, err := h.live.Get(c.Request.Context(), c.Param("device"))
	if errors.Is(err, livestore.ErrNoSnapshot) {
		errorJSON(c, http.StatusNotFound, "no live readings for device")
		return
	}
	if err != nil {
		h.logger.Error("failed to load live snapshot", zap.Error(err))
		errorJSON(c, http.StatusInternalServerError, "failed to load live readings")
		return
	}

	c.JSON(http.StatusOK, h.buildView(c.Request.Context(), snap, filter))
}

// DailySummary returns the archived summary of a device for one UTC date.
func (h *Handler) DailySummary(c *gin.Context) {
	if h.summaries == nil {
		errorJSON(c, http.StatusServiceUnavailable, "daily summaries unavailable")
		return
	}
	date := c.Param("date")
	if _, err := time.Parse("2006-01-02", date); err != nil {
		errorJSON(c, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	s, err := h.summaries.GetDailySummary(c.Request.Context(), c.Param("device"), date)
	if errors.Is(err, mongodb.ErrNoSummary) {
		errorJSON(c, http.StatusNotFound, "no summary for date")
		return
	}
	if err != nil {
		h.logger.Error("failed to load daily summary", zap.Error(err))
		errorJSON(c, http.StatusInternalServerError, "failed to load daily summary")
		return
	}
	c.JSON(http.StatusOK, s)
}

// SaveBatch stores the current live snapshot of a device as a batch.
func (h *Handler) SaveBatch(c *gin.Context) {
	deviceID := c.Param("device")
	snap, err := h.live.Get(c.Request.Context(), deviceID)
	if errors.Is(err, livestore.ErrNoSnapshot) {
		errorJSON(c, http.StatusNotFound, "no live readings for device")
		return
	}
	if err != nil {
		h.logger.Error("failed to load live snapshot", zap.Error(err))
		errorJSON(c, http.StatusInternalServerError, "failed to load live readings")
		return
	}

	if grading.Aggregate(snap.Weights).TotalEggs == 0 {
		errorJSON(c, http.StatusUnprocessableEntity, "no eggs detected")
		return
	}

	now := h.now()
	batch := &history.Batch{
		DeviceID:  deviceID,
		CreatedAt: now.UTC(),
		Weights:   append([]float64(nil), snap.Weights...),
	}
	// IDs are millisecond stamps shared by all devices; step past collisions
	for i := int64(0); i < maxBatchIDAttempts; i++ {
		batch.ID = fmt.Sprintf("batch_%d", now.UnixMilli()+i)
		err = h.batches.InsertBatch(c.Request.Context(), batch)
		if !errors.Is(err, database.ErrConflict) {
			break
		}
	}
	if err != nil {
		h.logger.Error("failed to save batch", zap.String("device_id", deviceID), zap.Error(err))
		errorJSON(c, http.StatusInternalServerError, "failed to save batch")
		return
	}

	h.logger.Info("batch saved",
		zap.String("batch_id", batch.ID),
		zap.String("device_id", deviceID))
	c.JSON(http.StatusCreated, history.NewEntry(*batch, h.opts.Location))
}

// ClearErrors zeroes every overweight slot of a device's live snapshot.
func (h *Handler) ClearErrors(c *gin.Context) {
	snap, cleared, err := h.live.ClearErrors(c.Request.Context(), c.Param("device"))
	if errors.Is(err, livestore.ErrNoSnapshot) {
		errorJSON(c, http.StatusNotFound, "no live readings for device")
		return
	}
	if err != nil {
		h.logger.Error("failed to clear errors", zap.Error(err))
		errorJSON(c, http.StatusInternalServerError, "failed to clear errors")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"cleared": cleared,
		"view":    h.buildView(c.Request.Context(), snap, livestore.SlotsAll),
	})
}

func (h *Handler) historyQuery(c *gin.Context) (history.Query, error) {
	filter, err := history.ParseDateFilter(c.Query("filter"))
	if err != nil {
		return history.Query{}, err
	}
	key, err := history.ParseSortKey(c.Query("sort"))
	if err != nil {
		return history.Query{}, err
	}
	asc := false
	if v := c.Query("asc"); v != "" {
		if asc, err = strconv.ParseBool(v); err != nil {
			return history.Query{}, fmt.Errorf("invalid asc value: %s", v)
		}
	}
	return history.Query{
		DateFilter: filter,
		Search:     c.Query("q"),
		SortKey:    key,
		Ascending:  asc,
		Now:        h.now(),
		Location:   h.opts.Location,
	}, nil
}

func (h *Handler) listEntries(c *gin.Context) ([]history.Entry, bool) {
	q, err := h.historyQuery(c)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, err.Error())
		return nil, false
	}

	batches, err := h.batches.ListBatches(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list batches", zap.Error(err))
		errorJSON(c, http.StatusInternalServerError, "failed to list batches")
		return nil, false
	}
	return history.FilterAndSort(batches, q), true
}

// ListBatches returns the filtered history, optionally grouped by date.
func (h *Handler) ListBatches(c *gin.Context) {
	entries, ok := h.listEntries(c)
	if !ok {
		return
	}

	resp := gin.H{"summary": history.Summarize(entries)}
	if group, _ := strconv.ParseBool(c.Query("group")); group {
		resp["groups"] = history.GroupByDate(entries)
	} else {
		resp["batches"] = entries
	}
	c.JSON(http.StatusOK, resp)
}

// ExportBatches writes the filtered history as CSV.
func (h *Handler) ExportBatches(c *gin.Context) {
	entries, ok := h.listEntries(c)
	if !ok {
		return
	}

	filename := fmt.Sprintf("egg_grading_history_%s.csv", h.now().UTC().Format("2006-01-02"))
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Status(http.StatusOK)
	if err := history.WriteCSV(c.Writer, entries); err != nil {
		h.logger.Error("failed to write csv export", zap.Error(err))
	}
}

// GetBatch returns one batch with its statistics.
func (h *Handler) GetBatch(c *gin.Context) {
	b, err := h.batches.GetBatch(c.Request.Context(), c.Param("id"))
	if errors.Is(err, database.ErrNotFound) {
		errorJSON(c, http.StatusNotFound, "batch not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to load batch", zap.Error(err))
		errorJSON(c, http.StatusInternalServerError, "failed to load batch")
		return
	}
	c.JSON(http.StatusOK, history.NewEntry(*b, h.opts.Location))
}

// DeleteBatch removes a batch.
func (h *Handler) DeleteBatch(c *gin.Context) {
	err := h.batches.DeleteBatch(c.Request.Context(), c.Param("id"))
	if errors.Is(err, database.ErrNotFound) {
		errorJSON(c, http.StatusNotFound, "batch not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to delete batch", zap.Error(err))
		errorJSON(c, http.StatusInternalServerError, "failed to delete batch")
		return
	}
	c.Status(http.StatusNoContent)
}

// ListNotifications returns the newest notifications first.
func (h *Handler) ListNotifications(c *gin.Context) {
	limit := defaultNotificationLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			errorJSON(c, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	list, err := h.notifications.ListNotifications(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list notifications", zap.Error(err))
		errorJSON(c, http.StatusInternalServerError, "failed to list notifications")
		return
	}
	if list == nil {
		list = []*database.Notification{}
	}

	unread := 0
	for _, n := range list {
		if !n.Read {
			unread++
		}
	}
	c.JSON(http.StatusOK, gin.H{"notifications": list, "unread": unread})
}

// MarkNotificationRead marks one notification as read.
func (h *Handler) MarkNotificationRead(c *gin.Context) {
	h.notificationOp(c, h.notifications.MarkNotificationRead)
}

// DeleteNotification removes one notification.
func (h *Handler) DeleteNotification(c *gin.Context) {
	h.notificationOp(c, h.notifications.DeleteNotification)
}

func (h *Handler) notificationOp(c *gin.Context, op func(context.Context, string) error) {
	err := op(c.Request.Context(), c.Param("id"))
	if errors.Is(err, database.ErrNotFound) {
		errorJSON(c, http.StatusNotFound, "notification not found")
		return
	}
	if err != nil {
		h.logger.Error("notification update failed", zap.String("id", c.Param("id")), zap.Error(err))
		errorJSON(c, http.StatusInternalServerError, "failed to update notification")
		return
	}
	c.Status(http.StatusNoContent)
}

// MarkAllNotificationsRead marks every notification as read.
func (h *Handler) MarkAllNotificationsRead(c *gin.Context) {
	n, err := h.notifications.MarkAllNotificationsRead(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to mark notifications read", zap.Error(err))
		errorJSON(c, http.StatusInternalServerError, "failed to update notifications")
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

// DeleteAllNotifications clears the notification list.
func (h *Handler) DeleteAllNotifications(c *gin.Context) {
	n, err := h.notifications.DeleteAllNotifications(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to delete notifications", zap.Error(err))
		errorJSON(c, http.StatusInternalServerError, "failed to delete notifications")
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

type settingsBody struct {
	NotificationsEnabled *bool `json:"notifications_enabled" binding:"required"`
}

// GetSettings returns the global settings.
func (h *Handler) GetSettings(c *gin.Context) {
	enabled, err := h.live.NotificationsEnabled(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to load settings", zap.Error(err))
		errorJSON(c, http.StatusInternalServerError, "failed to load settings")
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications_enabled": enabled})
}

// UpdateSettings replaces the global settings.
func (h *Handler) UpdateSettings(c *gin.Context) {
	var body settingsBody
	if err := c.ShouldBindJSON(&body); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.live.SetNotificationsEnabled(c.Request.Context(), *body.NotificationsEnabled); err != nil {
		h.logger.Error("failed to save settings", zap.Error(err))
		errorJSON(c, http.StatusInternalServerError, "failed to save settings")
		return
	}

	h.logger.Info("settings updated", zap.Bool("notifications_enabled", *body.NotificationsEnabled))
	c.JSON(http.StatusOK, gin.H{"notifications_enabled": *body.NotificationsEnabled})
}
