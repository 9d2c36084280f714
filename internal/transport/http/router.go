package http

import (
	"github.com/gin-gonic/gin"

	"tripplan-go/internal/config"
	"tripplan-go/internal/middleware"
)

// Handlers bundles every REST handler the router wires up.
type Handlers struct {
	Auth  *AuthHandler
	Plan  *PlanHandler
	Chat  *ChatHandler
	Poi   *PoiHandler
	Admin *AdminHandler
}

// NewRouter builds the gin engine for the REST surface (spec §6), applying
// RequestLogger globally, AuthMiddleware to the ownership-sensitive groups,
// and AdminAuthMiddleware to the admin group.
func NewRouter(h Handlers, authMiddleware gin.HandlerFunc, adminCfg config.AdminConfig) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), middleware.RequestLogger())

	api := engine.Group("/api")
	{
		auth := api.Group("/auth")
		auth.POST("/register", h.Auth.Register)
		auth.POST("/login", h.Auth.Login)
		auth.POST("/refresh", h.Auth.Refresh)
		auth.GET("/profile", authMiddleware, h.Auth.Profile)

		ai := api.Group("/ai")
		ai.Use(authMiddleware)
		ai.POST("/plan", h.Plan.Plan)
		ai.GET("/plan/tasks/:task_id", h.Plan.TaskStatus)
		ai.POST("/chat", h.Chat.Chat)

		poi := api.Group("/poi")
		poi.Use(authMiddleware)
		poi.GET("/around", h.Poi.Around)
	}

	admin := engine.Group("/admin", middleware.AdminAuthMiddleware(adminCfg))
	admin.GET("/plan/summary", h.Admin.PlanSummary)
	admin.GET("/ai/tasks/summary", h.Admin.TasksSummary)

	return engine
}
