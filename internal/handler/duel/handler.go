package duel

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	duelservice "github.com/zhouzirui/duel-arena/backend/internal/service/duel"
	"github.com/zhouzirui/duel-arena/backend/pkg/utils"
)

// Handler 对决管理的HTTP处理器
type Handler struct {
	registry     *duelservice.Registry
	arenaBaseURL string
	log          *zap.Logger
}

// New 创建对决处理器
func New(registry *duelservice.Registry, arenaBaseURL string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		registry:     registry,
		arenaBaseURL: arenaBaseURL,
		log:          logger,
	}
}

// RegisterRoutes 注册对决相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/duels", h.handleCreateDuel)
	r.Get("/duels/{duelID}", h.handleGetDuel)
}

type createDuelResponse struct {
	ID       string `json:"id"`
	ArenaURL string `json:"arenaUrl"`
}

// handleCreateDuel 生成新的对决ID并返回邀请链接
func (h *Handler) handleCreateDuel(w http.ResponseWriter, r *http.Request) {
	id := uuid.NewString()
	if _, err := h.registry.GetOrCreate(id); err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to create duel")
		return
	}

	h.respond(w, http.StatusCreated, createDuelResponse{
		ID:       id,
		ArenaURL: arenaLink(h.arenaBaseURL, id),
	})
}

// handleGetDuel 返回对决当前状态
func (h *Handler) handleGetDuel(w http.ResponseWriter, r *http.Request) {
	session, ok := h.registry.Get(chi.URLParam(r, "duelID"))
	if !ok {
		h.respondError(w, http.StatusNotFound, "duel not found")
		return
	}
	h.respond(w, http.StatusOK, session.State())
}

func (h *Handler) respond(w http.ResponseWriter, status int, payload any) {
	if err := utils.RespondJSON(w, status, payload); err != nil {
		h.log.Warn("failed to encode response", zap.Error(err))
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	if err := utils.RespondError(w, status, message); err != nil {
		h.log.Warn("failed to encode error response", zap.Error(err))
	}
}

func arenaLink(base, id string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base + "?id=" + url.QueryEscape(id)
	}
	q := u.Query()
	q.Set("id", id)
	u.RawQuery = q.Encode()
	return u.String()
}
