package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/xp-ledger/internal/dto"
	"github.com/noah-isme/xp-ledger/internal/middleware"
	"github.com/noah-isme/xp-ledger/internal/models"
	appErrors "github.com/noah-isme/xp-ledger/pkg/errors"
	"github.com/noah-isme/xp-ledger/pkg/response"
)

// IdempotencyKeyHeader lets clients retry a submission safely.
const IdempotencyKeyHeader = "Idempotency-Key"

type requestService interface {
	Submit(ctx context.Context, userID string, req dto.SubmitXPRequest) (*models.XPRequest, error)
	Decide(ctx context.Context, requestID, reviewerID string, req dto.DecideXPRequest) (*models.DecisionResult, error)
	ListPending(ctx context.Context, query dto.XPRequestQuery) ([]models.XPRequest, *models.Pagination, error)
	GetRequest(ctx context.Context, id string, actor *models.JWTClaims) (*models.XPRequest, error)
}

// XPRequestHandler exposes the validation workflow.
type XPRequestHandler struct {
	service requestService
}

// NewXPRequestHandler constructs the handler.
func NewXPRequestHandler(service requestService) *XPRequestHandler {
	return &XPRequestHandler{service: service}
}

// Submit godoc
// @Summary Submit an XP request
// @Tags XP Requests
// @Accept json
// @Produce json
// @Param Idempotency-Key header string false "Client retry key"
// @Param payload body dto.SubmitXPRequest true "Request payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /xp-requests [post]
func (h *XPRequestHandler) Submit(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.SubmitXPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid xp request payload"))
		return
	}
	if key := strings.TrimSpace(c.GetHeader(IdempotencyKeyHeader)); key != "" && req.IdempotencyKey == "" {
		req.IdempotencyKey = key
	}
	request, err := h.service.Submit(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, request)
}

// ListPending godoc
// @Summary List pending XP requests
// @Tags XP Requests
// @Produce json
// @Param userId query string false "Claimant filter"
// @Param page query int false "Page number"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /xp-requests/pending [get]
func (h *XPRequestHandler) ListPending(c *gin.Context) {
	query := dto.XPRequestQuery{
		UserID:   strings.TrimSpace(c.Query("userId")),
		Page:     queryInt(c, "page", 1),
		PageSize: queryInt(c, "pageSize", 20),
	}
	requests, pagination, err := h.service.ListPending(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, requests, pagination)
}

// Get godoc
// @Summary Get an XP request
// @Tags XP Requests
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /xp-requests/{id} [get]
func (h *XPRequestHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	request, err := h.service.GetRequest(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// Decide godoc
// @Summary Approve or reject an XP request
// @Description Applies the verdict exactly once. A request that was already decided returns the stored outcome with meta.already_decided set.
// @Tags XP Requests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.DecideXPRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /xp-requests/{id}/decision [post]
func (h *XPRequestHandler) Decide(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.DecideXPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid decision payload"))
		return
	}
	req.Decision = models.Decision(strings.ToLower(strings.TrimSpace(string(req.Decision))))
	result, err := h.service.Decide(c.Request.Context(), c.Param("id"), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetAlreadyDecided(c, result.AlreadyDecided)
	response.JSON(c, http.StatusOK, result, nil, withMeta(c)...)
}
