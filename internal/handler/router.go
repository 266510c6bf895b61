package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/zhouzirui/duel-arena/backend/internal/config"
	"github.com/zhouzirui/duel-arena/backend/internal/handler/arena"
	"github.com/zhouzirui/duel-arena/backend/internal/handler/duel"
	duelService "github.com/zhouzirui/duel-arena/backend/internal/service/duel"
	"github.com/zhouzirui/duel-arena/backend/pkg/utils"
)

// NewRouter wires HTTP and WebSocket routes to the duel registry.
func NewRouter(cfg config.ServerConfig, registry *duelService.Registry, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger.Named("http")))
	r.Use(middleware.Recoverer)

	duelHandler := duel.New(registry, cfg.ArenaBaseURL, logger.Named("duel"))
	wsHandler := arena.NewWebSocketHandler(registry, logger.Named("websocket"), cfg.AllowedOrigins)

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		_ = utils.RespondText(w, http.StatusOK, "Duel arena running")
	})

	wsHandler.RegisterRoutes(r)
	arena.NewPageHandler().RegisterRoutes(r)

	r.Route("/api", func(api chi.Router) {
		duelHandler.RegisterRoutes(api)
	})

	return r
}
