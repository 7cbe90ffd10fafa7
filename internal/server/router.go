package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/veloria-ai/fmcore/internal/handlers"
)

type RouterConfig struct {
	NamespaceHandler *handlers.NamespaceHandler
	MergeHandler     *handlers.MergeHandler
	EventsHandler    *handlers.EventsHandler
	ResetHandler     *handlers.ResetHandler
	StatsHandler     *handlers.StatsHandler
	AllowOrigins     []string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	origins := cfg.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With", "X-Guardian-Token"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	{
		// Namespaces
		api.POST("/namespaces", cfg.NamespaceHandler.Create)
		api.GET("/namespaces", cfg.NamespaceHandler.List)
		api.GET("/namespaces/:learner_id", cfg.NamespaceHandler.Get)
		api.DELETE("/namespaces/:learner_id", cfg.NamespaceHandler.Delete)
		api.GET("/namespaces/:learner_id/health", cfg.NamespaceHandler.Health)

		// Merges + fallback
		api.POST("/merges", cfg.MergeHandler.Trigger)
		api.GET("/merges", cfg.MergeHandler.List)
		api.GET("/merges/:id", cfg.MergeHandler.Get)
		api.POST("/merges/:id/cancel", cfg.MergeHandler.Cancel)
		api.POST("/fallbacks", cfg.MergeHandler.InitiateFallback)

		// Event log
		api.POST("/events", cfg.EventsHandler.Log)
		api.GET("/events", cfg.EventsHandler.List)

		// Adapter resets
		api.POST("/resets", cfg.ResetHandler.Request)
		api.GET("/resets", cfg.ResetHandler.List)
		api.GET("/resets/:id", cfg.ResetHandler.Get)
		api.POST("/resets/approval-decision", cfg.ResetHandler.ApprovalDecision)

		// Operator stats
		api.GET("/stats", cfg.StatsHandler.Snapshot)
	}

	return router
}
