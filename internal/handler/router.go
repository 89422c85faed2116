package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/xp-ledger/internal/middleware"
	"github.com/noah-isme/xp-ledger/internal/models"
)

// Routes groups the handlers mounted under the API prefix.
type Routes struct {
	Requests    *XPRequestHandler
	Ledger      *LedgerHandler
	Badges      *BadgeHandler
	Leaderboard *LeaderboardHandler
}

// Register mounts the ledger API on group. auth runs first on every route; it must attach the JWT
// claims (see middleware.JWT) and may append further per-request middleware.
func (r Routes) Register(group *gin.RouterGroup, auth ...gin.HandlerFunc) {
	api := group.Group("", auth...)
	admin := middleware.RequireRoles(models.RoleAdmin)
	reviewer := middleware.RequireReviewer()

	requests := api.Group("/xp-requests")
	requests.POST("", r.Requests.Submit)
	requests.GET("/pending", reviewer, r.Requests.ListPending)
	requests.GET("/:id", r.Requests.Get)
	requests.POST("/:id/decision", reviewer, r.Requests.Decide)

	users := api.Group("/users/:id")
	users.GET("/progression", r.Ledger.Progression)
	users.GET("/history", middleware.RBAC("SELF", string(models.RoleReviewer), string(models.RoleAdmin)), r.Ledger.History)
	users.GET("/history/export", admin, r.Ledger.ExportHistory)
	users.POST("/xp", admin, r.Ledger.Grant)
	users.POST("/daily-login", middleware.RBAC("SELF"), r.Ledger.DailyLogin)
	users.GET("/audit", admin, r.Ledger.Audit)
	users.POST("/badges/evaluate", middleware.RBAC("SELF", string(models.RoleAdmin)), r.Badges.Evaluate)
	users.POST("/badges/:badgeId", admin, r.Badges.Award)
	users.DELETE("/badges/:badgeId", admin, r.Badges.Revoke)

	api.GET("/badges", r.Badges.Catalogue)
	api.GET("/leaderboard", r.Leaderboard.Top)
	api.GET("/leaderboard/users/:id", r.Leaderboard.Rank)
}
