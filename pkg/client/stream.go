package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rocoloco/Mobius1-sub000/pkg/errdefs"
	"github.com/rocoloco/Mobius1-sub000/pkg/events"
	"github.com/rocoloco/Mobius1-sub000/pkg/redact"
)

// EventStream is a live subscription to the control plane's event feed.
// Events arrive on the Events channel until the stream ends on either
// side; Err explains a non-clean end.
type EventStream struct {
	conn *websocket.Conn
	ch   chan *events.Event
	done chan struct{}

	closeOnce sync.Once
	closeErr  error

	mu  sync.Mutex
	err error
}

// StreamEvents opens a live event subscription over the websocket
// endpoint. Events published before the subscription opens are not
// replayed; Events covers history. The caller must Close the stream.
func (c *Client) StreamEvents(ctx context.Context) (*EventStream, error) {
	wsBase := c.baseURL
	switch {
	case strings.HasPrefix(wsBase, "https://"):
		wsBase = "wss://" + strings.TrimPrefix(wsBase, "https://")
	case strings.HasPrefix(wsBase, "http://"):
		wsBase = "ws://" + strings.TrimPrefix(wsBase, "http://")
	}
	path := apiPrefix + "/events/ws"

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsBase+path, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			apiErr, _ := c.apiError(resp, http.MethodGet, path)
			return nil, apiErr
		}
		return nil, errdefs.NewDeployment(fmt.Sprintf("event stream dial failed: %s", redact.Error(err)), nil).
			WithCode(errdefs.CodeBackendUnreachable).
			WithOperation(http.MethodGet + " " + path).
			WithHint(unreachableHint)
	}

	s := &EventStream{
		conn: conn,
		ch:   make(chan *events.Event, 16),
		done: make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// Events returns the delivery channel. It closes when the stream ends.
func (s *EventStream) Events() <-chan *events.Event {
	return s.ch
}

// Err reports why the stream ended. A clean close on either side,
// including the server shutting down, leaves it nil.
func (s *EventStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends the subscription. Safe to call more than once.
func (s *EventStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		deadline := time.Now().Add(time.Second)
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

func (s *EventStream) readLoop() {
	defer close(s.ch)
	for {
		var ev events.Event
		if err := s.conn.ReadJSON(&ev); err != nil {
			select {
			case <-s.done:
				// Local close, not a stream failure.
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.setErr(err)
				}
			}
			return
		}

		select {
		case s.ch <- &ev:
		case <-s.done:
			return
		}
	}
}

func (s *EventStream) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}
