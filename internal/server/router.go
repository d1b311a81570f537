package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/castplanhq/castplan/internal/readiness"
	"github.com/castplanhq/castplan/internal/realtime"
	"github.com/castplanhq/castplan/internal/schedule"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	errMissingScheduleService = errors.New("schedule service dependency required")
	errMissingChannelState    = errors.New("channel state dependency required")
)

// ChannelState exposes the push-channel state without handing the manager to
// the HTTP layer.
type ChannelState interface {
	State() realtime.ConnState
}

// ManualSession toggles the auto-start trigger off while the operator runs a
// session by hand.
type ManualSession interface {
	SetManualActive(active bool)
	ManualActive() bool
}

type Dependencies struct {
	Schedules *schedule.Service
	Channel   ChannelState
	Readiness *readiness.Tracker
	Session   ManualSession
	// CalendarConnected is the provider link status polled once at startup.
	CalendarConnected bool
	Clock             func() time.Time
	Location          *time.Location
	Logger            *zap.Logger
}

// NewHTTPHandler builds the local consumer API: schedule CRUD for explicit
// user actions, an engine status endpoint, and a change-notice stream.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Schedules == nil {
		return nil, errMissingScheduleService
	}
	if deps.Channel == nil {
		return nil, errMissingChannelState
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	location := deps.Location
	if location == nil {
		location = time.Local
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		schedules:         deps.Schedules,
		channel:           deps.Channel,
		readiness:         deps.Readiness,
		session:           deps.Session,
		calendarConnected: deps.CalendarConnected,
		clock:             clock,
		location:          location,
		logger:            logger,
	}

	router.GET("/schedules", handler.handleListSchedules)
	router.POST("/schedules", handler.handleCreateSchedule)
	router.PUT("/schedules/:id", handler.handleUpdateSchedule)
	router.DELETE("/schedules/:id", handler.handleDeleteSchedule)
	router.GET("/schedules/stream", handler.handleStream)
	router.GET("/engine/status", handler.handleEngineStatus)
	router.POST("/readiness/sources", handler.handleReadinessSources)
	router.POST("/session", handler.handleManualSession)

	return router, nil
}

type httpHandler struct {
	schedules         *schedule.Service
	channel           ChannelState
	readiness         *readiness.Tracker
	session           ManualSession
	calendarConnected bool
	clock             func() time.Time
	location          *time.Location
	logger            *zap.Logger
}

type schedulePayload struct {
	Title       string `json:"title"`
	Date        string `json:"date"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

type scheduleResponse struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Date        string `json:"date"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category"`
	Color       string `json:"color"`
	RemoteID    string `json:"remote_id,omitempty"`
	Origin      string `json:"origin"`
}

type engineStatusResponse struct {
	ChannelState      string            `json:"channel_state"`
	CalendarConnected bool              `json:"calendar_connected"`
	LastReconcile     string            `json:"last_reconcile,omitempty"`
	Ready             bool              `json:"ready"`
	ManualActive      bool              `json:"manual_active"`
	Upcoming          *scheduleResponse `json:"upcoming,omitempty"`
}

type readinessSourcesPayload struct {
	Files             []string `json:"files"`
	RealtimeRecording bool     `json:"realtime_recording"`
}

type manualSessionPayload struct {
	Active bool `json:"active"`
}

func (h *httpHandler) handleListSchedules(c *gin.Context) {
	records := h.schedules.Store().List()
	response := make([]scheduleResponse, 0, len(records))
	for _, record := range records {
		response = append(response, toScheduleResponse(record))
	}
	c.JSON(http.StatusOK, gin.H{"schedules": response})
}

func (h *httpHandler) handleCreateSchedule(c *gin.Context) {
	draft, ok := h.bindSchedulePayload(c)
	if !ok {
		return
	}
	record, err := h.schedules.Create(c.Request.Context(), draft)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toScheduleResponse(record))
}

func (h *httpHandler) handleUpdateSchedule(c *gin.Context) {
	draft, ok := h.bindSchedulePayload(c)
	if !ok {
		return
	}
	draft.ID = c.Param("id")
	record, err := h.schedules.Update(c.Request.Context(), draft)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, toScheduleResponse(record))
}

func (h *httpHandler) handleDeleteSchedule(c *gin.Context) {
	if err := h.schedules.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleStream writes change notices as newline-delimited JSON until the
// client disconnects.
func (h *httpHandler) handleStream(c *gin.Context) {
	ctx := c.Request.Context()
	stream, cleanup := h.schedules.Dispatcher().Subscribe(ctx)
	defer cleanup()

	c.Writer.Header().Set("Content-Type", "application/x-ndjson")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	encoder := json.NewEncoder(c.Writer)
	for {
		select {
		case <-ctx.Done():
			return
		case notice, ok := <-stream:
			if !ok {
				return
			}
			if err := encoder.Encode(gin.H{
				"event_type": notice.EventType,
				"record_ids": notice.RecordIDs,
				"timestamp":  notice.Timestamp.UTC().Format(time.RFC3339),
			}); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}

func (h *httpHandler) handleEngineStatus(c *gin.Context) {
	response := engineStatusResponse{
		ChannelState:      string(h.channel.State()),
		CalendarConnected: h.calendarConnected,
	}
	if last := h.schedules.LastReconcile(); !last.IsZero() {
		response.LastReconcile = last.UTC().Format(time.RFC3339)
	}
	if h.readiness != nil {
		response.Ready = h.readiness.Ready()
	}
	if h.session != nil {
		response.ManualActive = h.session.ManualActive()
	}
	if record, ok := h.schedules.Store().NextUpcoming(h.clock(), schedule.CategoryLiveBroadcast, h.location); ok {
		upcoming := toScheduleResponse(record)
		response.Upcoming = &upcoming
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleManualSession(c *gin.Context) {
	if h.session == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session_not_configured"})
		return
	}
	var payload manualSessionPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload"})
		return
	}
	h.session.SetManualActive(payload.Active)
	c.JSON(http.StatusOK, gin.H{"manual_active": h.session.ManualActive()})
}

func (h *httpHandler) handleReadinessSources(c *gin.Context) {
	if h.readiness == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "readiness_not_configured"})
		return
	}
	var payload readinessSourcesPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload"})
		return
	}
	ctx := c.Request.Context()
	h.readiness.SetSourceFiles(ctx, payload.Files)
	h.readiness.SetRealtimeRecording(ctx, payload.RealtimeRecording)
	c.JSON(http.StatusOK, gin.H{"ready": h.readiness.Ready()})
}

func (h *httpHandler) bindSchedulePayload(c *gin.Context) (schedule.Record, bool) {
	var payload schedulePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload"})
		return schedule.Record{}, false
	}
	if payload.Title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_title"})
		return schedule.Record{}, false
	}

	date, err := schedule.ParseDate(payload.Date)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_date"})
		return schedule.Record{}, false
	}
	startTime, err := schedule.ParseClockTime(payload.StartTime)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_start_time"})
		return schedule.Record{}, false
	}
	endTime, err := schedule.ParseClockTime(payload.EndTime)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_end_time"})
		return schedule.Record{}, false
	}
	category, err := schedule.ParseCategory(payload.Category)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_category"})
		return schedule.Record{}, false
	}

	return schedule.Record{
		Title:       payload.Title,
		Date:        date,
		StartTime:   startTime,
		EndTime:     endTime,
		Description: payload.Description,
		Category:    category,
	}, true
}

func (h *httpHandler) respondServiceError(c *gin.Context, err error) {
	var serviceError *schedule.ServiceError
	if errors.As(err, &serviceError) {
		status := http.StatusInternalServerError
		switch {
		case strings.HasSuffix(serviceError.Code(), ".not_found"):
			status = http.StatusNotFound
		case strings.HasSuffix(serviceError.Code(), ".invalid_category"),
			strings.HasSuffix(serviceError.Code(), ".missing_title"):
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": serviceError.Code()})
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	h.logger.Error("schedule request failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
}

func toScheduleResponse(record schedule.Record) scheduleResponse {
	return scheduleResponse{
		ID:          record.ID,
		Title:       record.Title,
		Date:        record.Date.String(),
		StartTime:   record.StartTime.String(),
		EndTime:     record.EndTime.String(),
		Description: record.Description,
		Category:    string(record.Category),
		Color:       record.Category.Color(),
		RemoteID:    record.RemoteID,
		Origin:      string(record.Origin),
	}
}
