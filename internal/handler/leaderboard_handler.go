package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/xp-ledger/internal/dto"
	"github.com/noah-isme/xp-ledger/internal/middleware"
	"github.com/noah-isme/xp-ledger/internal/models"
	"github.com/noah-isme/xp-ledger/pkg/response"
)

type leaderboardService interface {
	Top(ctx context.Context, query dto.LeaderboardQuery) (*models.LeaderboardPage, bool, error)
	RankOf(ctx context.Context, userID string) (*models.LeaderboardEntry, error)
}

// LeaderboardHandler serves the ranking.
type LeaderboardHandler struct {
	service leaderboardService
}

// NewLeaderboardHandler constructs the handler.
func NewLeaderboardHandler(service leaderboardService) *LeaderboardHandler {
	return &LeaderboardHandler{service: service}
}

// Top godoc
// @Summary Leaderboard page
// @Tags Leaderboard
// @Produce json
// @Param limit query int false "Page size (default 10)"
// @Param offset query int false "Rows to skip"
// @Success 200 {object} response.Envelope
// @Router /leaderboard [get]
func (h *LeaderboardHandler) Top(c *gin.Context) {
	page, hit, err := h.service.Top(c.Request.Context(), dto.LeaderboardQuery{
		Limit:  queryInt(c, "limit", 0),
		Offset: queryInt(c, "offset", 0),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, hit)
	response.JSON(c, http.StatusOK, page, nil, withMeta(c)...)
}

// Rank godoc
// @Summary A user's leaderboard position
// @Tags Leaderboard
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /leaderboard/users/{id} [get]
func (h *LeaderboardHandler) Rank(c *gin.Context) {
	entry, err := h.service.RankOf(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entry, nil)
}
