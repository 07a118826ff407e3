package client

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Frame is a message pushed by the server over the chat socket
type Frame struct {
	Type    string   `json:"type"`
	Ref     string   `json:"ref,omitempty"`
	Text    string   `json:"text"`
	Options []string `json:"options,omitempty"`
}

type action struct {
	Type   string `json:"type"`
	TestID string `json:"test_id,omitempty"`
	Option *int   `json:"option,omitempty"`
}

// Chat is a user's chat connection
type Chat struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// DialChat opens the chat socket for userID. baseURL is the HTTP base URL
// of the service.
func DialChat(ctx context.Context, baseURL string, userID int64) (*Chat, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"user_id": {strconv.FormatInt(userID, 10)}}.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial chat: %w", err)
	}
	return &Chat{conn: conn}, nil
}

func (c *Chat) send(a action) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(a)
}

// Start opens the test menu
func (c *Chat) Start() error { return c.send(action{Type: "start"}) }

// Select picks a test by id
func (c *Chat) Select(testID string) error { return c.send(action{Type: "select", TestID: testID}) }

// SelectIndex picks a test by its position in the menu
func (c *Chat) SelectIndex(i int) error { return c.send(action{Type: "select", Option: &i}) }

// Answer answers the current question with an option index
func (c *Chat) Answer(option int) error { return c.send(action{Type: "answer", Option: &option}) }

// Cancel discards the current test
func (c *Chat) Cancel() error { return c.send(action{Type: "cancel"}) }

// Reset returns to the test menu
func (c *Chat) Reset() error { return c.send(action{Type: "reset"}) }

// Resume re-sends the current question
func (c *Chat) Resume() error { return c.send(action{Type: "resume"}) }

// Next waits for the next frame from the server
func (c *Chat) Next(timeout time.Duration) (Frame, error) {
	var f Frame
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return f, err
	}
	if err := c.conn.ReadJSON(&f); err != nil {
		return f, fmt.Errorf("failed to read frame: %w", err)
	}
	return f, nil
}

// Close closes the connection
func (c *Chat) Close() error {
	return c.conn.Close()
}
