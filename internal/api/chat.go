package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/terra-clan/screening-engine/internal/engine"
)

const writeWait = 10 * time.Second

// ErrUserOffline is returned when a user has no open chat connection
var ErrUserOffline = errors.New("user has no chat connection")

// commandError is a chat frame that cannot become an event. Its message is
// the reply sent to the user.
type commandError struct {
	reply string
}

func (e *commandError) Error() string {
	return e.reply
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ClientFrame is a user action sent over the chat socket. Option is a
// pointer so an absent option is told apart from option 0.
type ClientFrame struct {
	Type   string `json:"type"`
	TestID string `json:"test_id,omitempty"`
	Option *int   `json:"option,omitempty"`
}

// ServerFrame is a message pushed to the user.
// Type is "prompt" for a new prompt, "edit" to replace the prompt with the
// same Ref, or "message" for plain text.
type ServerFrame struct {
	Type    string   `json:"type"`
	Ref     string   `json:"ref,omitempty"`
	Text    string   `json:"text"`
	Options []string `json:"options,omitempty"`
}

type chatConn struct {
	userID  int64
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (c *chatConn) send(frame ServerFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

type prompt struct {
	userID int64
	conn   *chatConn
}

// Hub tracks one chat connection per user and implements engine.Messenger
// on top of them. Prompts belong to the connection they were sent on; after
// the user reconnects they can no longer be edited.
type Hub struct {
	mu      sync.RWMutex
	conns   map[int64]*chatConn
	prompts map[string]prompt
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{
		conns:   make(map[int64]*chatConn),
		prompts: make(map[string]prompt),
	}
}

func (h *Hub) conn(userID int64) (*chatConn, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUserOffline, userID)
	}
	return c, nil
}

// SendPrompt implements engine.Messenger
func (h *Hub) SendPrompt(_ context.Context, userID int64, text string, options []string) (string, error) {
	c, err := h.conn(userID)
	if err != nil {
		return "", err
	}

	ref := uuid.NewString()
	h.mu.Lock()
	h.prompts[ref] = prompt{userID: userID, conn: c}
	h.mu.Unlock()

	if err := c.send(ServerFrame{Type: "prompt", Ref: ref, Text: text, Options: options}); err != nil {
		h.mu.Lock()
		delete(h.prompts, ref)
		h.mu.Unlock()
		return "", err
	}
	return ref, nil
}

// EditPrompt implements engine.Messenger
func (h *Hub) EditPrompt(_ context.Context, ref string, text string, options []string) error {
	h.mu.RLock()
	p, ok := h.prompts[ref]
	current := h.conns[p.userID]
	h.mu.RUnlock()

	if !ok || current != p.conn {
		return engine.ErrPromptNotFound
	}
	return p.conn.send(ServerFrame{Type: "edit", Ref: ref, Text: text, Options: options})
}

// SendPlain implements engine.Messenger
func (h *Hub) SendPlain(_ context.Context, userID int64, text string) error {
	c, err := h.conn(userID)
	if err != nil {
		return err
	}
	return c.send(ServerFrame{Type: "message", Text: text})
}

// Online reports whether the user has an open connection
func (h *Hub) Online(userID int64) bool {
	_, err := h.conn(userID)
	return err == nil
}

// attach makes c the user's connection, closing any previous one
func (h *Hub) attach(c *chatConn) {
	h.mu.Lock()
	old := h.conns[c.userID]
	h.conns[c.userID] = c
	h.mu.Unlock()

	if old != nil {
		slog.Info("chat connection replaced", "user_id", c.userID)
		old.ws.Close()
	}
}

// detach forgets c and every prompt sent on it
func (h *Hub) detach(c *chatConn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.conns[c.userID] == c {
		delete(h.conns, c.userID)
	}
	for ref, p := range h.prompts {
		if p.conn == c {
			delete(h.prompts, ref)
		}
	}
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil {
		http.Error(w, "user_id query parameter must be an integer", http.StatusBadRequest)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("failed to upgrade to websocket", "error", err)
		return
	}

	c := &chatConn{userID: userID, ws: ws}
	s.deps.Hub.attach(c)
	defer func() {
		s.deps.Hub.detach(c)
		ws.Close()
		slog.Info("chat disconnected", "user_id", userID)
	}()

	slog.Info("chat connected", "user_id", userID)

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("websocket read error", "user_id", userID, "error", err)
			}
			return
		}

		frame, err := decodeFrame(message)
		if err != nil {
			slog.Debug("invalid chat frame", "user_id", userID, "error", err)
			c.send(ServerFrame{Type: "message", Text: "Could not read that message."})
			continue
		}

		ev, err := toEvent(userID, frame)
		if err != nil {
			slog.Debug("rejected chat frame", "user_id", userID, "error", err)
			c.send(ServerFrame{Type: "message", Text: err.Error()})
			continue
		}

		if err := s.deps.Events.Submit(ev); err != nil {
			slog.Warn("failed to submit chat event", "user_id", userID, "error", err)
			c.send(ServerFrame{Type: "message", Text: "The service is shutting down, please try again later."})
			return
		}
	}
}

// decodeFrame parses a client frame, rejecting unknown keys so a misspelled
// field is not silently dropped
func decodeFrame(message []byte) (ClientFrame, error) {
	var frame ClientFrame
	dec := json.NewDecoder(bytes.NewReader(message))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&frame); err != nil {
		return ClientFrame{}, err
	}
	return frame, nil
}

func toEvent(userID int64, f ClientFrame) (engine.Event, error) {
	kind := engine.EventKind(f.Type)
	ev := engine.Event{Kind: kind, UserID: userID, TestID: f.TestID}
	if f.Option != nil {
		ev.Option = *f.Option
	}

	switch kind {
	case engine.Start, engine.Cancel, engine.Reset, engine.Resume:
		return ev, nil
	case engine.Answer:
		if f.Option == nil {
			return engine.Event{}, &commandError{reply: "Incomplete command: answer needs an option."}
		}
		return ev, nil
	case engine.Select:
		if f.TestID == "" && f.Option == nil {
			return engine.Event{}, &commandError{reply: "Incomplete command: select needs a test_id or an option."}
		}
		return ev, nil
	default:
		return engine.Event{}, &commandError{reply: "Unknown command: " + f.Type}
	}
}
