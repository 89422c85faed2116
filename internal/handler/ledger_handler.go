package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/xp-ledger/internal/dto"
	"github.com/noah-isme/xp-ledger/internal/models"
	"github.com/noah-isme/xp-ledger/internal/service"
	appErrors "github.com/noah-isme/xp-ledger/pkg/errors"
	"github.com/noah-isme/xp-ledger/pkg/response"
)

type ledgerService interface {
	ProjectionOf(ctx context.Context, userID string) (*models.ProgressionView, error)
	History(ctx context.Context, userID string) ([]models.XPHistoryEntry, error)
	GrantXP(ctx context.Context, userID string, req dto.GrantXPRequest, actorID *string) (*models.CreditResult, error)
	DailyLogin(ctx context.Context, userID string) (*models.CreditResult, error)
	Audit(ctx context.Context, userID string) (*models.AuditReport, error)
}

type historyExporter interface {
	ExportHistory(ctx context.Context, userID string, query dto.HistoryExportQuery) (*service.ExportResult, error)
}

// LedgerHandler exposes per-user projection, history and credit endpoints.
type LedgerHandler struct {
	service  ledgerService
	exporter historyExporter
}

// NewLedgerHandler constructs the handler.
func NewLedgerHandler(service ledgerService, exporter historyExporter) *LedgerHandler {
	return &LedgerHandler{service: service, exporter: exporter}
}

// Progression godoc
// @Summary Get a user's progression
// @Tags Ledger
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /users/{id}/progression [get]
func (h *LedgerHandler) Progression(c *gin.Context) {
	view, err := h.service.ProjectionOf(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, nil)
}

// History godoc
// @Summary Read a user's XP history
// @Tags Ledger
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope
// @Router /users/{id}/history [get]
func (h *LedgerHandler) History(c *gin.Context) {
	entries, err := h.service.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}

// ExportHistory godoc
// @Summary Download a user's XP history
// @Tags Ledger
// @Produce octet-stream
// @Param id path string true "User ID"
// @Param format query string true "csv or pdf"
// @Success 200 {file} binary
// @Router /users/{id}/history/export [get]
func (h *LedgerHandler) ExportHistory(c *gin.Context) {
	if h.exporter == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "export not configured"))
		return
	}
	result, err := h.exporter.ExportHistory(c.Request.Context(), c.Param("id"), dto.HistoryExportQuery{
		Format: strings.ToLower(c.DefaultQuery("format", "csv")),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Binary(c, result.ContentType, result.Filename, result.Payload)
}

// Grant godoc
// @Summary Grant or correct XP
// @Description Administrative credit. Negative amounts are only accepted for manual-adjustment.
// @Tags Ledger
// @Accept json
// @Produce json
// @Param id path string true "User ID"
// @Param payload body dto.GrantXPRequest true "Grant payload"
// @Success 201 {object} response.Envelope
// @Success 200 {object} response.Envelope "Replayed idempotency key"
// @Router /users/{id}/xp [post]
func (h *LedgerHandler) Grant(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.GrantXPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid grant payload"))
		return
	}
	if key := strings.TrimSpace(c.GetHeader(IdempotencyKeyHeader)); key != "" && req.IdempotencyKey == "" {
		req.IdempotencyKey = key
	}
	actorID := claims.UserID
	result, err := h.service.GrantXP(c.Request.Context(), c.Param("id"), req, &actorID)
	if err != nil {
		response.Error(c, err)
		return
	}
	writeCredit(c, result)
}

// DailyLogin godoc
// @Summary Claim the daily login bonus
// @Tags Ledger
// @Produce json
// @Param id path string true "User ID"
// @Success 201 {object} response.Envelope
// @Success 200 {object} response.Envelope "Already claimed today"
// @Router /users/{id}/daily-login [post]
func (h *LedgerHandler) DailyLogin(c *gin.Context) {
	result, err := h.service.DailyLogin(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	writeCredit(c, result)
}

// Audit godoc
// @Summary Audit a user's ledger
// @Description Replays the history against the projection. Violations return 500 INTERNAL_INCONSISTENCY with the report.
// @Tags Ledger
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope
// @Failure 500 {object} response.Envelope
// @Router /users/{id}/audit [get]
func (h *LedgerHandler) Audit(c *gin.Context) {
	report, err := h.service.Audit(c.Request.Context(), c.Param("id"))
	if err != nil {
		if report != nil && errors.Is(err, appErrors.ErrInternalInconsistency) {
			response.ErrorWithData(c, err, report)
			return
		}
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}

func writeCredit(c *gin.Context, result *models.CreditResult) {
	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	response.JSON(c, status, result, nil)
}
