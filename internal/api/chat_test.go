package api

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terra-clan/screening-engine/internal/engine"
)

func dialChat(t *testing.T, srv *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?user_id=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func opt(n int) *int { return &n }

func readFrame(t *testing.T, conn *websocket.Conn) ServerFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var frame ServerFrame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestChatFullAssessment(t *testing.T) {
	env := newTestEnv(t, nil)
	srv := httptest.NewServer(env.server.Router())
	defer srv.Close()

	conn := dialChat(t, srv, "1")

	require.NoError(t, conn.WriteJSON(ClientFrame{Type: "start"}))
	menu := readFrame(t, conn)
	assert.Equal(t, "prompt", menu.Type)
	assert.Equal(t, []string{"Mini Inventory"}, menu.Options)

	require.NoError(t, conn.WriteJSON(ClientFrame{Type: "select", Option: opt(0)}))
	first := readFrame(t, conn)
	assert.Equal(t, "prompt", first.Type)
	assert.Contains(t, first.Text, "Question 1 of 2")
	assert.Equal(t, []string{"never", "sometimes", "often"}, first.Options)

	require.NoError(t, conn.WriteJSON(ClientFrame{Type: "answer", Option: opt(2)}))
	second := readFrame(t, conn)
	assert.Equal(t, "edit", second.Type)
	assert.Equal(t, first.Ref, second.Ref)
	assert.Contains(t, second.Text, "Question 2 of 2")

	require.NoError(t, conn.WriteJSON(ClientFrame{Type: "answer", Option: opt(1)}))
	result := readFrame(t, conn)
	assert.Equal(t, "edit", result.Type)
	assert.Equal(t, first.Ref, result.Ref)
	assert.Equal(t, `Test "Mini Inventory" completed: score 3. high.`, result.Text)

	records := env.results.Records()
	require.Len(t, records, 1)
	assert.Equal(t, int64(1), records[0].UserID)
	assert.Equal(t, []int{2, 1}, records[0].Answers)
}

func TestChatReconnectSendsNewPrompt(t *testing.T) {
	env := newTestEnv(t, nil)
	srv := httptest.NewServer(env.server.Router())
	defer srv.Close()

	old := dialChat(t, srv, "2")
	require.NoError(t, old.WriteJSON(ClientFrame{Type: "select", TestID: "mini"}))
	first := readFrame(t, old)
	require.Equal(t, "prompt", first.Type)

	conn := dialChat(t, srv, "2")
	require.NoError(t, conn.WriteJSON(ClientFrame{Type: "answer", Option: opt(0)}))

	next := readFrame(t, conn)
	assert.Equal(t, "prompt", next.Type, "prompts of a replaced connection cannot be edited")
	assert.NotEqual(t, first.Ref, next.Ref)
	assert.Contains(t, next.Text, "Question 2 of 2")
}

func TestChatRejectsBadInput(t *testing.T) {
	env := newTestEnv(t, nil)
	srv := httptest.NewServer(env.server.Router())
	defer srv.Close()

	conn := dialChat(t, srv, "3")
	require.NoError(t, conn.WriteJSON(ClientFrame{Type: "dance"}))
	frame := readFrame(t, conn)
	assert.Equal(t, "message", frame.Type)
	assert.Contains(t, frame.Text, "Unknown command")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))
	frame = readFrame(t, conn)
	assert.Equal(t, "message", frame.Type)

	require.NoError(t, conn.WriteJSON(ClientFrame{Type: "answer", Option: opt(0)}))
	frame = readFrame(t, conn)
	assert.Equal(t, "message", frame.Type)
	assert.Contains(t, frame.Text, "No test in progress")

	// a frame without the field it needs is rejected, not read as option 0
	require.NoError(t, conn.WriteJSON(ClientFrame{Type: "select", TestID: "mini"}))
	frame = readFrame(t, conn)
	require.Equal(t, "prompt", frame.Type)
	assert.Contains(t, frame.Text, "Question 1 of 2")

	for _, raw := range []string{
		`{"type":"answer"}`,
		`{"type":"select"}`,
	} {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(raw)))
		frame = readFrame(t, conn)
		assert.Equal(t, "message", frame.Type, raw)
		assert.Contains(t, frame.Text, "Incomplete command", raw)
	}

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"select","testId":"mini"}`)))
	frame = readFrame(t, conn)
	assert.Equal(t, "Could not read that message.", frame.Text)

	// none of the rejected frames reached the session
	s, ok := env.store.Get(3)
	require.True(t, ok)
	assert.Equal(t, 1, s.CurrentOrdinal)
	assert.Empty(t, s.Answers)

	_, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws?user_id=abc", nil)
	assert.Error(t, err)
}

func TestToEvent(t *testing.T) {
	ev, err := toEvent(4, ClientFrame{Type: "answer", Option: opt(0)})
	require.NoError(t, err)
	assert.Equal(t, engine.Event{Kind: engine.Answer, UserID: 4, Option: 0}, ev)

	ev, err = toEvent(4, ClientFrame{Type: "select", Option: opt(1)})
	require.NoError(t, err)
	assert.Equal(t, 1, ev.Option)

	ev, err = toEvent(4, ClientFrame{Type: "start"})
	require.NoError(t, err)
	assert.Equal(t, engine.Start, ev.Kind)

	_, err = toEvent(4, ClientFrame{Type: "answer"})
	assert.EqualError(t, err, "Incomplete command: answer needs an option.")
	_, err = toEvent(4, ClientFrame{Type: "select"})
	assert.Error(t, err)
	_, err = toEvent(4, ClientFrame{Type: "dance"})
	assert.EqualError(t, err, "Unknown command: dance")

	_, err = decodeFrame([]byte(`{"type":"select","testId":"pcl5"}`))
	assert.Error(t, err)
}

func TestHubWithoutConnection(t *testing.T) {
	h := NewHub()
	ctx := context.Background()

	_, err := h.SendPrompt(ctx, 1, "hi", nil)
	assert.ErrorIs(t, err, ErrUserOffline)
	assert.ErrorIs(t, h.SendPlain(ctx, 1, "hi"), ErrUserOffline)
	assert.ErrorIs(t, h.EditPrompt(ctx, "missing", "hi", nil), engine.ErrPromptNotFound)
	assert.False(t, h.Online(1))
}
