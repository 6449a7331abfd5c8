package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/telecrm/backend/internal/auth"
	"github.com/telecrm/backend/internal/db"
	"github.com/telecrm/backend/internal/importer"
	"github.com/telecrm/backend/internal/models"
	"github.com/telecrm/backend/internal/service"
)

// Store is the part of the lead store and user directory the handlers use
// directly. Assignment changes go through the engine instead.
type Store interface {
	Ping(ctx context.Context) error
	ListLeads(ctx context.Context, f models.LeadFilter) ([]models.Lead, error)
	GetLead(ctx context.Context, id string) (models.Lead, error)
	CreateLead(ctx context.Context, l *models.Lead) error
	InsertLeads(ctx context.Context, leads []models.Lead) (int, error)
	UpdateLead(ctx context.Context, id string, p models.LeadPatch) (models.Lead, error)
	// UpdateOwnedLead applies p only while the lead is assigned to owner.
	UpdateOwnedLead(ctx context.Context, id, owner string, p models.LeadPatch) (models.Lead, error)
	DeleteLead(ctx context.Context, id string) error
	ListUsers(ctx context.Context) ([]models.User, error)
	Stats(ctx context.Context, since *time.Time) (models.Stats, error)
}

type Handler struct {
	Store          Store
	Engine         *service.Engine
	Auth           *auth.Service
	Importer       *importer.Parser
	Validator      *validator.Validate
	Logger         zerolog.Logger
	MaxUploadBytes int64
}

func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		writeError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Database unavailable", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// @Summary Lead statistics
// @Tags stats
// @Produce json
// @Param since query string false "only leads created on or after this date"
// @Success 200 {object} models.Stats
// @Router /api/stats [get]
func (h *Handler) Stats(c *gin.Context) {
	since, err := parseDate(c.Query("since"), false)
	if err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "since must be YYYY-MM-DD or RFC3339", nil)
		return
	}
	stats, err := h.Store.Stats(c.Request.Context(), since)
	if err != nil {
		h.storeError(c, "Failed to load stats", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func writeError(c *gin.Context, status int, code string, message string, details any) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}

// writeEngineError maps an assignment engine error onto the HTTP envelope.
// details carries the partial summary of a batch that stopped early.
func (h *Handler) writeEngineError(c *gin.Context, err error, details any) {
	code := service.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case service.CodeInvalidSelection, service.CodeInvalidCount, service.CodeInsufficientUnassigned:
		status = http.StatusBadRequest
	case service.CodeNotFound:
		status = http.StatusNotFound
	case service.CodeAlreadyAssigned:
		status = http.StatusConflict
	case service.CodeNoTelecallers:
		status = http.StatusUnprocessableEntity
	case service.CodeTransport:
		status = http.StatusBadGateway
	default:
		h.Logger.Error().Err(err).Msg("unexpected engine error")
		writeError(c, status, "INTERNAL", "Unexpected error", nil)
		return
	}

	message := err.Error()
	var engineErr *service.Error
	if errors.As(err, &engineErr) {
		message = engineErr.Message
	}
	if code == service.CodeTransport {
		c.Header("Retry-After", "1")
	}
	writeError(c, status, string(code), message, details)
}

func (h *Handler) storeError(c *gin.Context, message string, err error) {
	if errors.Is(err, db.ErrNotFound) {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Lead not found", nil)
		return
	}
	if errors.Is(err, db.ErrConflict) {
		writeError(c, http.StatusConflict, "DUPLICATE", "A lead with this phone number already exists", nil)
		return
	}
	h.Logger.Error().Err(err).Msg(message)
	writeError(c, http.StatusInternalServerError, "DB_ERROR", message, err.Error())
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, db.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return false
	}
	if h.Validator == nil {
		return true
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return false
	}
	return true
}

func session(c *gin.Context) auth.Session {
	s, _ := auth.SessionFrom(c)
	return s
}

// parseDate accepts YYYY-MM-DD or RFC3339. A bare date used as an upper
// bound covers the whole day.
func parseDate(value string, endOfDay bool) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return nil, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func parseBool(value string) (*bool, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return nil, err
	}
	return &b, nil
}
