package arena

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	model "github.com/zhouzirui/duel-arena/backend/internal/model/duel"
	"github.com/zhouzirui/duel-arena/backend/internal/service/broadcast"
	duelservice "github.com/zhouzirui/duel-arena/backend/internal/service/duel"
)

const readTimeout = 2 * time.Second

type frame struct {
	Type   string          `json:"type"`
	DuelID string          `json:"duelId"`
	Data   json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T) (*httptest.Server, *duelservice.Registry) {
	t.Helper()
	registry := duelservice.NewRegistry(broadcast.New(zap.NewNop()))
	handler := NewWebSocketHandler(registry, zap.NewNop(), []string{"*"})

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, registry
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	target := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, resp, err := websocket.DefaultDialer.Dial(target, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, eventType string, duelID string, userID any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": eventType,
		"data": map[string]any{"duel_id": duelID, "user_id": userID},
	}))
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var f frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func readSnapshot(t *testing.T, conn *websocket.Conn) model.Snapshot {
	t.Helper()
	f := readFrame(t, conn)
	require.Equal(t, model.EventUpdate, f.Type, "unexpected frame %s", f.Data)

	var snapshot model.Snapshot
	require.NoError(t, json.Unmarshal(f.Data, &snapshot))
	return snapshot
}

func requireSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, data, err := conn.ReadMessage()
	require.Error(t, err, "unexpected frame %s", data)
	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	require.True(t, netErr.Timeout())
}

func requireClosed(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
	_, _, err := conn.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "expected normal closure, got %v", err)
}

func joinBoth(t *testing.T, srv *httptest.Server) (*websocket.Conn, *websocket.Conn) {
	t.Helper()
	p1 := dial(t, srv, "")
	send(t, p1, model.EventConnect, "d1", "P1")
	require.Equal(t, model.Snapshot{"P1": {Health: 100}}, readSnapshot(t, p1))

	p2 := dial(t, srv, "")
	send(t, p2, model.EventConnect, "d1", "P2")
	both := model.Snapshot{"P1": {Health: 100}, "P2": {Health: 100}}
	require.Equal(t, both, readSnapshot(t, p1))
	require.Equal(t, both, readSnapshot(t, p2))
	return p1, p2
}

func TestJoinBroadcastsSnapshotToBothParticipants(t *testing.T) {
	srv, registry := newTestServer(t)
	joinBoth(t, srv)

	session, ok := registry.Get("d1")
	require.True(t, ok)
	require.Equal(t, model.PhaseActive, session.Phase())
}

func TestAttacksUntilWinnerClosesConnections(t *testing.T) {
	srv, registry := newTestServer(t)
	p1, p2 := joinBoth(t, srv)

	for i := 1; i <= 10; i++ {
		send(t, p1, model.EventAttack, "d1", "P1")
		want := model.Snapshot{"P1": {Health: 100}, "P2": {Health: 100 - 10*i}}
		require.Equal(t, want, readSnapshot(t, p1))
		require.Equal(t, want, readSnapshot(t, p2))
	}

	for _, conn := range []*websocket.Conn{p1, p2} {
		f := readFrame(t, conn)
		require.Equal(t, model.EventWinner, f.Type)
		require.Equal(t, "d1", f.DuelID)
		require.JSONEq(t, `{"winner":"P1"}`, string(f.Data))
		requireClosed(t, conn)
	}

	require.Eventually(t, func() bool { return registry.Len() == 0 }, readTimeout, 10*time.Millisecond)
}

func TestAttackWhileWaitingIsIgnored(t *testing.T) {
	srv, registry := newTestServer(t)

	p1 := dial(t, srv, "")
	send(t, p1, model.EventConnect, "d1", "P1")
	readSnapshot(t, p1)

	send(t, p1, model.EventAttack, "d1", "P1")
	requireSilence(t, p1)

	session, ok := registry.Get("d1")
	require.True(t, ok)
	require.Equal(t, model.PhaseWaiting, session.Phase())
	require.Equal(t, model.Snapshot{"P1": {Health: 100}}, session.Snapshot())
}

func TestAttackFromUnboundConnectionIsIgnored(t *testing.T) {
	srv, registry := newTestServer(t)

	conn := dial(t, srv, "")
	send(t, conn, model.EventAttack, "d1", "P1")
	requireSilence(t, conn)
	require.Zero(t, registry.Len())
}

func TestDisconnectDoesNotEndDuel(t *testing.T) {
	srv, registry := newTestServer(t)
	p1, p2 := joinBoth(t, srv)

	require.NoError(t, p1.Close())

	send(t, p2, model.EventAttack, "d1", "P2")
	require.Equal(t, model.Snapshot{"P1": {Health: 90}, "P2": {Health: 100}}, readSnapshot(t, p2))
	send(t, p2, model.EventAttack, "d1", "P2")
	require.Equal(t, model.Snapshot{"P1": {Health: 80}, "P2": {Health: 100}}, readSnapshot(t, p2))

	session, ok := registry.Get("d1")
	require.True(t, ok)
	require.Equal(t, model.PhaseActive, session.Phase())
}

func TestThirdParticipantReceivesError(t *testing.T) {
	srv, registry := newTestServer(t)
	p1, _ := joinBoth(t, srv)

	p3 := dial(t, srv, "")
	send(t, p3, model.EventConnect, "d1", "P3")
	f := readFrame(t, p3)
	require.Equal(t, model.EventError, f.Type)
	require.JSONEq(t, `{"message":"duel is full"}`, string(f.Data))

	requireSilence(t, p1)
	session, _ := registry.Get("d1")
	require.Len(t, session.Snapshot(), 2)
}

func TestInvalidJoinReceivesError(t *testing.T) {
	srv, registry := newTestServer(t)

	conn := dial(t, srv, "")
	send(t, conn, model.EventConnect, "", "P1")
	f := readFrame(t, conn)
	require.Equal(t, model.EventError, f.Type)

	send(t, conn, model.EventConnect, "bad id", "P1")
	f = readFrame(t, conn)
	require.Equal(t, model.EventError, f.Type)
	require.Zero(t, registry.Len())
}

func TestNumericUserIDAndFlatFrames(t *testing.T) {
	srv, _ := newTestServer(t)

	conn := dial(t, srv, "")
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"connect","duel_id":"d9","user_id":424242}`)))
	require.Equal(t, model.Snapshot{"424242": {Health: 100}}, readSnapshot(t, conn))
}

func TestMalformedFrameIsDropped(t *testing.T) {
	srv, _ := newTestServer(t)

	conn := dial(t, srv, "")
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{not json`)))
	send(t, conn, model.EventJoin, "d1", "P1")
	require.Equal(t, model.Snapshot{"P1": {Health: 100}}, readSnapshot(t, conn))
}

func TestLaunchQueryJoinsImmediately(t *testing.T) {
	srv, _ := newTestServer(t)

	conn := dial(t, srv, "?duel_id=d2&user_id=7")
	require.Equal(t, model.Snapshot{"7": {Health: 100}}, readSnapshot(t, conn))
}

func TestReconnectReplacesPreviousConnection(t *testing.T) {
	srv, _ := newTestServer(t)

	first := dial(t, srv, "")
	send(t, first, model.EventConnect, "d1", "P1")
	readSnapshot(t, first)

	second := dial(t, srv, "")
	send(t, second, model.EventConnect, "d1", "P1")
	require.Equal(t, model.Snapshot{"P1": {Health: 100}}, readSnapshot(t, second))

	requireClosed(t, first)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://web.telegram.org"})

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	require.True(t, check(req))

	req.Header.Set("Origin", "https://web.telegram.org")
	require.True(t, check(req))

	req.Header.Set("Origin", "https://evil.example")
	require.False(t, check(req))

	require.True(t, originChecker([]string{"*"})(req))
	require.True(t, originChecker(nil)(req))
}

func TestRejectedJoinKeepsExistingBinding(t *testing.T) {
	srv, _ := newTestServer(t)
	p1, p2 := joinBoth(t, srv)

	a := dial(t, srv, "")
	send(t, a, model.EventConnect, "d2", "A")
	readSnapshot(t, a)
	b := dial(t, srv, "")
	send(t, b, model.EventConnect, "d2", "B")
	readSnapshot(t, a)
	readSnapshot(t, b)

	send(t, p1, model.EventConnect, "d2", "P1")
	f := readFrame(t, p1)
	require.Equal(t, model.EventError, f.Type)
	require.Equal(t, "d2", f.DuelID)

	// P1 still plays d1 from the same connection.
	send(t, p2, model.EventAttack, "d1", "P2")
	want := model.Snapshot{"P1": {Health: 90}, "P2": {Health: 100}}
	require.Equal(t, want, readSnapshot(t, p2))
	require.Equal(t, want, readSnapshot(t, p1))

	send(t, p1, model.EventAttack, "d1", "P1")
	want = model.Snapshot{"P1": {Health: 90}, "P2": {Health: 90}}
	require.Equal(t, want, readSnapshot(t, p1))
	require.Equal(t, want, readSnapshot(t, p2))
}

func TestSuccessfulJoinMovesBinding(t *testing.T) {
	srv, _ := newTestServer(t)

	conn := dial(t, srv, "")
	send(t, conn, model.EventConnect, "d1", "P1")
	readSnapshot(t, conn)

	send(t, conn, model.EventConnect, "d3", "P1")
	require.Equal(t, model.Snapshot{"P1": {Health: 100}}, readSnapshot(t, conn))
	// The read loop handles frames in order, so this join runs after the move completed.
	send(t, conn, model.EventConnect, "d3", "P1")
	require.Equal(t, model.Snapshot{"P1": {Health: 100}}, readSnapshot(t, conn))

	// Updates for the previous duel no longer reach the connection.
	other := dial(t, srv, "")
	send(t, other, model.EventConnect, "d1", "P2")
	require.Equal(t, model.Snapshot{"P1": {Health: 100}, "P2": {Health: 100}}, readSnapshot(t, other))
	requireSilence(t, conn)
}

func TestExhaustedJoinRetriesReceiveError(t *testing.T) {
	previous := joinAttempts
	joinAttempts = 0
	t.Cleanup(func() { joinAttempts = previous })

	srv, _ := newTestServer(t)
	conn := dial(t, srv, "")
	send(t, conn, model.EventConnect, "d1", "P1")

	f := readFrame(t, conn)
	require.Equal(t, model.EventError, f.Type)
	require.Equal(t, "d1", f.DuelID)
	require.JSONEq(t, `{"message":"join failed"}`, string(f.Data))
}
