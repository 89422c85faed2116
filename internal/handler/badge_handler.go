package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/xp-ledger/internal/models"
	appErrors "github.com/noah-isme/xp-ledger/pkg/errors"
	"github.com/noah-isme/xp-ledger/pkg/response"
)

type badgeService interface {
	BadgeCatalogue() []models.BadgeDefinition
	EvaluateBadges(ctx context.Context, userID string) (*models.BadgeEvaluation, error)
	AwardBadge(ctx context.Context, userID, badgeID, actorID string) (*models.BadgeEvaluation, error)
	RevokeBadge(ctx context.Context, userID, badgeID, actorID string) error
}

// BadgeHandler exposes the badge catalogue and per-user badge operations.
type BadgeHandler struct {
	service badgeService
}

// NewBadgeHandler constructs the handler.
func NewBadgeHandler(service badgeService) *BadgeHandler {
	return &BadgeHandler{service: service}
}

// Catalogue godoc
// @Summary List badge definitions
// @Tags Badges
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /badges [get]
func (h *BadgeHandler) Catalogue(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.service.BadgeCatalogue(), nil)
}

// Evaluate godoc
// @Summary Evaluate badge conditions for a user
// @Tags Badges
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope
// @Router /users/{id}/badges/evaluate [post]
func (h *BadgeHandler) Evaluate(c *gin.Context) {
	result, err := h.service.EvaluateBadges(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Award godoc
// @Summary Award a badge manually
// @Tags Badges
// @Produce json
// @Param id path string true "User ID"
// @Param badgeId path string true "Badge ID"
// @Success 200 {object} response.Envelope
// @Router /users/{id}/badges/{badgeId} [post]
func (h *BadgeHandler) Award(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	result, err := h.service.AwardBadge(c.Request.Context(), c.Param("id"), c.Param("badgeId"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Revoke godoc
// @Summary Revoke a badge
// @Tags Badges
// @Param id path string true "User ID"
// @Param badgeId path string true "Badge ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /users/{id}/badges/{badgeId} [delete]
func (h *BadgeHandler) Revoke(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.service.RevokeBadge(c.Request.Context(), c.Param("id"), c.Param("badgeId"), claims.UserID); err != nil {
		response.Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
