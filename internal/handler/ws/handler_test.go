package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/guest-roleplay/backend/internal/model/persona"
	"github.com/zhouzirui/guest-roleplay/backend/internal/model/scenario"
	"github.com/zhouzirui/guest-roleplay/backend/internal/model/session"
	"github.com/zhouzirui/guest-roleplay/backend/internal/service/training"
	"github.com/zhouzirui/guest-roleplay/backend/pkg/logging"
)

type fakeTraining struct {
	state session.State
	delay time.Duration
}

func (f *fakeTraining) Get(_ context.Context, id string) (session.State, error) {
	if id != f.state.ID {
		return session.State{}, training.ErrSessionNotFound
	}
	return f.state.Clone(), nil
}

func (f *fakeTraining) SubmitTurn(_ context.Context, _ string, message string, forceEnd bool) (session.State, error) {
	time.Sleep(f.delay)
	if f.state.Status != session.StatusActive {
		return session.State{}, session.ErrSessionNotActive
	}
	if message != "" {
		turn := session.NewTraineeTurn(message)
		_ = turn.AttachRating(session.Rating{Score: 2, Reason: "Too curt"})
		_ = f.state.Append(turn)
	}
	if forceEnd {
		_ = f.state.Complete(&session.Feedback{Outcome: session.OutcomeForced})
	} else {
		_ = f.state.Append(session.NewGuestTurn("Is that all?"))
	}
	return f.state.Clone(), nil
}

func dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	return dialWith(t, path, 0)
}

func dialWith(t *testing.T, path string, delay time.Duration, opts ...Option) *websocket.Conn {
	t.Helper()
	st := session.New("s-1", scenario.Seed()[2], persona.Seed()[2])
	st.Conversation = append(st.Conversation, session.NewGuestTurn("Morning!"))

	r := chi.NewRouter()
	New(&fakeTraining{state: st, delay: delay}, nil, logging.Nop(), opts...).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func read(t *testing.T, conn *websocket.Conn) outgoingMessage {
	t.Helper()
	var msg outgoingMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebSocketTurnAndEnd(t *testing.T) {
	conn := dial(t, "/ws/s-1")
	assert.Equal(t, "connected", read(t, conn).Type)

	require.NoError(t, conn.WriteJSON(inboundMessage{Type: "turn", TraineeMessage: "We can do 2pm."}))
	assert.Equal(t, "evaluation", read(t, conn).Type)
	reply := read(t, conn)
	assert.Equal(t, "message", reply.Type)
	assert.Equal(t, "Is that all?", reply.Data.(map[string]any)["content"])

	require.NoError(t, conn.WriteJSON(inboundMessage{Type: "end"}))
	done := read(t, conn)
	assert.Equal(t, "completed", done.Type)

	require.NoError(t, conn.WriteJSON(inboundMessage{Type: "turn", TraineeMessage: "Hello?"}))
	failed := read(t, conn)
	assert.Equal(t, "error", failed.Type)
	assert.EqualValues(t, http.StatusConflict, failed.Data.(map[string]any)["status"])
}

func TestWebSocketSlowTurnKeepsConnection(t *testing.T) {
	conn := dialWith(t, "/ws/s-1", 300*time.Millisecond, WithReadTimeout(100*time.Millisecond))
	assert.Equal(t, "connected", read(t, conn).Type)

	require.NoError(t, conn.WriteJSON(inboundMessage{Type: "turn", TraineeMessage: "Let me check."}))
	assert.Equal(t, "evaluation", read(t, conn).Type)
	assert.Equal(t, "message", read(t, conn).Type)

	require.NoError(t, conn.WriteJSON(inboundMessage{Type: "turn", TraineeMessage: "It is sorted."}))
	assert.Equal(t, "evaluation", read(t, conn).Type)
	assert.Equal(t, "message", read(t, conn).Type)
}

func TestWebSocketRejectsBadFrames(t *testing.T) {
	conn := dial(t, "/ws/s-1")
	read(t, conn)

	require.NoError(t, conn.WriteJSON(inboundMessage{Type: "audio"}))
	assert.Equal(t, "error", read(t, conn).Type)

	require.NoError(t, conn.WriteJSON(inboundMessage{Type: "turn", SessionID: "other", TraineeMessage: "x"}))
	assert.Equal(t, "error", read(t, conn).Type)

	require.NoError(t, conn.WriteJSON(inboundMessage{Type: "turn"}))
	assert.Equal(t, "error", read(t, conn).Type)
}

func TestWebSocketUnknownSession(t *testing.T) {
	st := session.New("s-1", scenario.Seed()[2], persona.Seed()[2])
	r := chi.NewRouter()
	New(&fakeTraining{state: st}, nil, logging.Nop()).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/missing", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"http://localhost:5173"})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://evil.test")
	assert.False(t, check(req))
	req.Header.Set("Origin", "http://localhost:5173")
	assert.True(t, check(req))
}
