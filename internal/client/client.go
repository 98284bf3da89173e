// Package client is the participant side of a watch session: a websocket
// transport and the loop that keeps a local player in sync.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sharetube/watchsync/internal/protocol"
)

var ErrClosed = errors.New("client closed")

type Client struct {
	ws     *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan protocol.Message

	inbound   chan protocol.Message
	done      chan struct{}
	closeOnce sync.Once
}

func Dial(ctx context.Context, url string, logger *slog.Logger) (*Client, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}

	return &Client{
		ws:      ws,
		logger:  logger,
		pending: make(map[string]chan protocol.Message),
		inbound: make(chan protocol.Message, 64),
		done:    make(chan struct{}),
	}, nil
}

// Inbound delivers every server message that is not the reply to a Request.
// It is closed when Run returns.
func (c *Client) Inbound() <-chan protocol.Message {
	return c.inbound
}

func (c *Client) Emit(messageType string, payload any) error {
	return c.write(&protocol.Output{Type: messageType, Payload: payload})
}

func (c *Client) write(out *protocol.Output) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	return c.ws.WriteJSON(out)
}

// Request sends a message and waits for the reply carrying the same request
// id. An error event is returned as *RemoteError.
func (c *Client) Request(ctx context.Context, messageType string, payload any) (protocol.Message, error) {
	requestId := uuid.NewString()
	reply := make(chan protocol.Message, 1)

	c.pendingMu.Lock()
	c.pending[requestId] = reply
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, requestId)
		c.pendingMu.Unlock()
	}()

	if err := c.write(&protocol.Output{Type: messageType, RequestId: requestId, Payload: payload}); err != nil {
		return protocol.Message{}, err
	}

	select {
	case msg := <-reply:
		if msg.Type == protocol.TypeError {
			return msg, decodeRemoteError(msg)
		}
		return msg, nil
	case <-c.done:
		return protocol.Message{}, ErrClosed
	case <-ctx.Done():
		return protocol.Message{}, ctx.Err()
	}
}

// Run reads server messages until the connection fails or ctx is done. It
// returns nil once Close was called.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.inbound)
	defer c.Close()

	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-c.done:
		}
	}()

	for {
		var msg protocol.Message
		if err := c.ws.ReadJSON(&msg); err != nil {
			select {
			case <-c.done:
				return nil
			default:
				return err
			}
		}

		c.logger.DebugContext(ctx, "message received", "type", msg.Type, "request_id", msg.RequestId)

		if c.resolve(msg) {
			continue
		}

		select {
		case c.inbound <- msg:
		case <-c.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) resolve(msg protocol.Message) bool {
	if msg.RequestId == "" {
		return false
	}

	c.pendingMu.Lock()
	reply, ok := c.pending[msg.RequestId]
	c.pendingMu.Unlock()
	if !ok {
		return false
	}

	reply <- msg
	return true
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.writeMu.Lock()
		c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()

		err = c.ws.Close()
	})

	return err
}

type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func decodeRemoteError(msg protocol.Message) error {
	var payload protocol.ErrorPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("failed to decode error payload: %w", err)
	}

	return &RemoteError{Code: payload.Code, Message: payload.Message}
}

// IsRemoteCode reports whether err is a server error with the given code.
func IsRemoteCode(err error, code string) bool {
	var remoteErr *RemoteError
	return errors.As(err, &remoteErr) && remoteErr.Code == code
}
