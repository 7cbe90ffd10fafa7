package app

import (
	"github.com/gin-gonic/gin"

	"github.com/veloria-ai/fmcore/internal/handlers"
	"github.com/veloria-ai/fmcore/internal/logger"
	"github.com/veloria-ai/fmcore/internal/server"
)

type Handlers struct {
	Namespace *handlers.NamespaceHandler
	Merge     *handlers.MergeHandler
	Events    *handlers.EventsHandler
	Reset     *handlers.ResetHandler
	Stats     *handlers.StatsHandler
}

func wireHandlers(log *logger.Logger, svc Services) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Namespace: handlers.NewNamespaceHandler(svc.Namespace, svc.Health),
		Merge:     handlers.NewMergeHandler(svc.Merge, svc.Fallback),
		Events:    handlers.NewEventsHandler(svc.EventLog, svc.Namespace),
		Reset:     handlers.NewResetHandler(svc.Reset),
		Stats:     handlers.NewStatsHandler(svc.Stats),
	}
}

func wireRouter(cfg Config, h Handlers) *gin.Engine {
	return server.NewRouter(server.RouterConfig{
		NamespaceHandler: h.Namespace,
		MergeHandler:     h.Merge,
		EventsHandler:    h.Events,
		ResetHandler:     h.Reset,
		StatsHandler:     h.Stats,
		AllowOrigins:     cfg.AllowOrigins,
	})
}
