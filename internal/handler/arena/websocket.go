package arena

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"

	model "github.com/zhouzirui/duel-arena/backend/internal/model/duel"
	duelservice "github.com/zhouzirui/duel-arena/backend/internal/service/duel"
)

// joinAttempts bounds retries when a duel is evicted between lookup and join.
var joinAttempts = 3

// WebSocketHandler 对决网关：解析 join/attack 消息并绑定连接到对决。
type WebSocketHandler struct {
	registry *duelservice.Registry
	log      *zap.Logger
	validate *validator.Validate
	upgrader websocket.Upgrader
}

// NewWebSocketHandler 创建WebSocket处理器，allowedOrigins 为空或包含 "*" 时不校验来源。
func NewWebSocketHandler(registry *duelservice.Registry, logger *zap.Logger, allowedOrigins []string) *WebSocketHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketHandler{
		registry: registry,
		log:      logger,
		validate: validator.New(),
		upgrader: websocket.Upgrader{
			CheckOrigin:     originChecker(allowedOrigins),
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// joinPayload 同时用于 connect/join 与 attack 消息。
type joinPayload struct {
	DuelID string              `json:"duel_id" validate:"required,max=128"`
	UserID model.ParticipantID `json:"user_id" validate:"required,max=128"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// connection 保存单个连接与对决的绑定，仅由读循环访问。
type connection struct {
	h           *WebSocketHandler
	peer        *wsPeer
	log         *zap.Logger
	session     *duelservice.Session
	participant model.ParticipantID
}

// handleWebSocket 处理WebSocket连接
func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.Error(err))
		return
	}

	peer := newPeer(uuid.NewString(), conn)
	c := &connection{
		h:    h,
		peer: peer,
		log:  h.log.With(zap.String("conn", peer.id)),
	}
	go peer.writePump()

	c.log.Debug("connection opened", zap.String("remote", r.RemoteAddr))

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// 宿主平台可以在启动参数里直接携带 duel_id 与 user_id。
	query := r.URL.Query()
	if query.Get("duel_id") != "" || query.Get("user_id") != "" {
		c.handleJoin(joinPayload{
			DuelID: query.Get("duel_id"),
			UserID: model.ParticipantID(strings.TrimSpace(query.Get("user_id"))),
		})
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Debug("read error", zap.Error(err))
			}
			break
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		c.handleFrame(raw)
	}

	c.disconnect()
	<-peer.done
	c.log.Debug("connection closed")
}

func (c *connection) handleFrame(raw []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.log.Debug("discarding malformed frame", zap.Error(err))
		return
	}

	data := msg.Data
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		// 兼容不带 data 包裹的扁平消息。
		data = raw
	}

	var payload joinPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		c.log.Debug("discarding malformed payload", zap.String("type", msg.Type), zap.Error(err))
		return
	}

	switch msg.Type {
	case model.EventConnect, model.EventJoin:
		c.handleJoin(payload)
	case model.EventAttack:
		c.handleAttack(payload)
	default:
		c.log.Debug("ignoring unsupported frame", zap.String("type", msg.Type))
	}
}

// handleJoin 解析或创建对决并将连接绑定到参与者。
func (c *connection) handleJoin(payload joinPayload) {
	if err := c.h.validate.Struct(payload); err != nil {
		c.log.Debug("rejecting join", zap.Error(err))
		c.sendError("", "duel_id and user_id are required")
		return
	}

	duelID, err := duelservice.NormalizeID(payload.DuelID)
	if err != nil {
		c.log.Debug("rejecting join", zap.Error(err))
		c.sendError("", "invalid duel_id")
		return
	}

	for attempt := 0; attempt < joinAttempts; attempt++ {
		session, err := c.h.registry.GetOrCreate(duelID)
		if err != nil {
			c.sendError(duelID, "invalid duel_id")
			return
		}

		slot, err := session.Join(payload.UserID, c.peer)
		switch {
		case err == nil:
			c.rebind(session, payload.UserID)
			c.log.Info("participant joined",
				zap.String("duel", duelID),
				zap.Stringer("participant", payload.UserID),
				zap.Int("slot", slot),
			)
			return
		case errors.Is(err, duelservice.ErrFinished):
			c.h.registry.Remove(duelID)
		case errors.Is(err, duelservice.ErrEvicted):
			// stale pointer, look the duel up again
		case errors.Is(err, duelservice.ErrSessionFull):
			c.log.Info("duel full, join rejected", zap.String("duel", duelID), zap.Stringer("participant", payload.UserID))
			c.sendError(duelID, "duel is full")
			return
		case errors.Is(err, duelservice.ErrInvalidParticipant):
			c.sendError(duelID, "invalid user_id")
			return
		default:
			c.log.Debug("join failed", zap.String("duel", duelID), zap.Error(err))
			c.sendError(duelID, "join failed")
			return
		}
	}

	c.log.Warn("join retries exhausted", zap.String("duel", duelID))
	c.sendError(duelID, "join failed")
}

// rebind 在新的加入成功后才解除旧绑定，失败的加入不影响当前对决。
func (c *connection) rebind(session *duelservice.Session, participant model.ParticipantID) {
	if c.session != nil && (c.session != session || c.participant != participant) {
		c.session.Leave(c.participant, c.peer)
	}
	c.session = session
	c.participant = participant
}

// handleAttack 对已绑定的对决发起攻击；未绑定或非进行中的攻击被静默忽略。
func (c *connection) handleAttack(payload joinPayload) {
	if c.session == nil {
		c.log.Debug("ignoring attack from unbound connection")
		return
	}
	if payload.DuelID != "" && strings.TrimSpace(payload.DuelID) != c.session.ID() {
		c.log.Debug("ignoring attack for another duel", zap.String("duel", payload.DuelID))
		return
	}

	outcome, err := c.session.Attack(c.participant)
	if err != nil {
		c.log.Debug("ignoring attack", zap.String("duel", c.session.ID()), zap.Error(err))
		return
	}
	if outcome.Finished {
		c.h.registry.Remove(c.session.ID())
	}
}

func (c *connection) unbind() {
	if c.session == nil {
		return
	}
	c.session.Leave(c.participant, c.peer)
	c.session = nil
	c.participant = ""
}

func (c *connection) disconnect() {
	if c.session != nil {
		c.log.Info("participant disconnected",
			zap.String("duel", c.session.ID()),
			zap.Stringer("participant", c.participant),
		)
	}
	c.unbind()
	c.peer.Close()
}

func (c *connection) sendError(duelID, message string) {
	data, err := json.Marshal(model.NewEnvelope(model.EventError, duelID, errorPayload{Message: message}))
	if err != nil {
		c.log.Error("marshal error frame failed", zap.Error(err))
		return
	}
	c.peer.Send(data)
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 || lo.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return lo.Contains(allowed, u.Scheme+"://"+u.Host)
	}
}
