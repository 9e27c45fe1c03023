package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vadim/prodesk/internal/auth"
	"github.com/vadim/prodesk/internal/chat/entity"
)

// State is the lifecycle state of one client instance.
type State string

const (
	// StateIdle means no connection was ever attempted (no credential yet).
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	// StateClosed is terminal for this instance's lifetime; a new mount
	// constructs a new client.
	StateClosed State = "closed"
)

var (
	// ErrClosed is returned when operating on a terminally closed client.
	ErrClosed = errors.New("realtime: client closed")
	// ErrReconnectExhausted marks a client that gave up after the bounded
	// retry budget.
	ErrReconnectExhausted = errors.New("realtime: reconnect attempts exhausted")
)

// Options configures a Client.
type Options struct {
	// URL is the websocket endpoint, e.g. ws://host:port/ws.
	URL string
	// Tokens yields the bearer credential, re-read at every dial.
	Tokens auth.TokenSource
	Logger *slog.Logger
	Dialer *websocket.Dialer

	ReconnectBase time.Duration
	ReconnectMax  time.Duration
	MaxReconnects int
}

// Client owns a single persistent websocket connection authenticated with the
// session credential. Transport-level failures are recovered with a bounded
// exponential backoff; a rejected credential stops the retry loop and closes
// the client terminally until a new credential (and a new client) exists.
type Client struct {
	url    string
	tokens auth.TokenSource
	log    *slog.Logger
	dialer *websocket.Dialer
	disp   *dispatcher

	lifeCtx    context.Context
	lifeCancel context.CancelFunc

	mu      sync.Mutex
	conn    *websocket.Conn
	state   State
	joined  map[string]bool
	back    *backoff
	closed  bool
	lastErr error

	writeMu sync.Mutex
}

// NewClient creates an idle client. Connect starts it.
func NewClient(opts Options) *Client {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		url:        opts.URL,
		tokens:     opts.Tokens,
		log:        log,
		dialer:     dialer,
		disp:       newDispatcher(),
		lifeCtx:    ctx,
		lifeCancel: cancel,
		state:      StateIdle,
		joined:     make(map[string]bool),
		back:       newBackoff(opts.ReconnectBase, opts.ReconnectMax, opts.MaxReconnects),
	}
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the terminal error, if any. entity.ErrUnauthorized means the
// credential was rejected and the host should prompt re-authentication.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// On registers a handler for a named event and returns its subscription
// handle. The handle must be closed on every teardown path of its owner.
func (c *Client) On(event string, h Handler) *Subscription {
	return c.disp.add(event, h)
}

// OnState registers an observer for state transitions.
func (c *Client) OnState(h StateHandler) *Subscription {
	return c.disp.addState(h)
}

// Connect opens the connection. When the credential is empty no dial is
// attempted and the client stays Idle: "not authenticated yet" is not an
// error, and callers can tell it apart from a failed open via State.
func (c *Client) Connect(ctx context.Context) error {
	token := c.tokens.Token()
	if token == "" {
		return nil
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	// Reconnecting counts as in progress too: a second dial racing the retry
	// loop would leave two live read loops delivering duplicates.
	if c.state == StateConnecting || c.state == StateConnected || c.state == StateReconnecting {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()
	c.disp.dispatchState(StateConnecting)

	if err := c.dial(ctx, token); err != nil {
		c.mu.Lock()
		if !c.closed {
			c.state = StateIdle
		}
		c.mu.Unlock()
		return err
	}
	return nil
}

func (c *Client) dial(ctx context.Context, token string) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := c.dialer.DialContext(ctx, c.url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			c.terminate(entity.ErrUnauthorized)
			return fmt.Errorf("opening realtime connection: %w", entity.ErrUnauthorized)
		}
		return fmt.Errorf("dialing realtime endpoint: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.state = StateConnected
	c.back.markConnected()
	joined := make([]string, 0, len(c.joined))
	for roomID := range c.joined {
		joined = append(joined, roomID)
	}
	c.mu.Unlock()
	c.disp.dispatchState(StateConnected)

	// Rooms joined before a drop are re-joined so pushes resume seamlessly.
	for _, roomID := range joined {
		if err := c.emitJoin(roomID); err != nil {
			c.log.Warn("re-joining room failed", "room_id", roomID, "error", err)
		}
	}

	go c.readLoop(conn)
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if c.closed || c.conn != conn {
				c.mu.Unlock()
				return
			}
			c.conn = nil
			c.state = StateReconnecting
			c.mu.Unlock()
			c.disp.dispatchState(StateReconnecting)
			c.log.Info("realtime connection lost", "error", err)
			go c.reconnectLoop()
			return
		}

		var env entity.Envelope
		if json.Unmarshal(data, &env) != nil {
			continue
		}
		if env.Event == entity.EventError && c.handleServerError(env) {
			return
		}
		// Synchronous dispatch: events are observed strictly in delivery
		// order.
		c.disp.dispatch(env)
	}
}

// handleServerError reports whether the error was terminal for the client.
func (c *Client) handleServerError(env entity.Envelope) bool {
	var data entity.ErrorData
	if json.Unmarshal(env.Data, &data) != nil {
		return false
	}
	if data.Code != entity.ErrorCodeUnauthorized {
		c.log.Warn("server error event", "code", data.Code, "message", data.Message)
		return false
	}

	// Retrying against a rejected credential is never correct. Soft-fail:
	// surface and stop, the host decides whether to force re-login.
	c.log.Error("credential rejected by realtime server, stopping retries")
	c.terminate(entity.ErrUnauthorized)
	return true
}

func (c *Client) reconnectLoop() {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		if c.back.exhausted() {
			c.mu.Unlock()
			c.log.Warn("reconnect attempts exhausted")
			c.terminate(ErrReconnectExhausted)
			return
		}
		delay := c.back.next()
		c.mu.Unlock()

		select {
		case <-c.lifeCtx.Done():
			return
		case <-time.After(delay):
		}

		token := c.tokens.Token()
		if token == "" {
			// Credential revoked while reconnecting (logout).
			c.Close()
			return
		}

		err := c.dial(c.lifeCtx, token)
		if err == nil {
			c.log.Info("realtime connection reestablished")
			return
		}
		if errors.Is(err, entity.ErrUnauthorized) || errors.Is(err, ErrClosed) {
			return
		}
		c.log.Info("reconnect attempt failed", "error", err)
	}
}

// JoinRoom emits a join intent for the room's server-side broadcast group.
// Idempotent: joining an already-joined room is a no-op. With no live
// connection the room is recorded and joined on the next (re)connect.
func (c *Client) JoinRoom(roomID string) error {
	if roomID == "" {
		return entity.ErrEmptyRoomID
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.joined[roomID] {
		c.mu.Unlock()
		return nil
	}
	c.joined[roomID] = true
	connected := c.conn != nil
	c.mu.Unlock()

	if !connected {
		return nil
	}
	return c.emitJoin(roomID)
}

func (c *Client) emitJoin(roomID string) error {
	env, err := entity.NewEnvelope(entity.EventJoinChat, entity.JoinChatData{RoomID: roomID})
	if err != nil {
		return err
	}
	return c.write(env)
}

// Send fires a send_message event and returns without awaiting any
// acknowledgement. The client never appends the outgoing message locally; the
// server pushes it back to all room participants including the sender. With
// no live connection the send is a silent no-op.
func (c *Client) Send(roomID, content string, attachment *entity.Attachment) error {
	if roomID == "" {
		return entity.ErrEmptyRoomID
	}

	c.mu.Lock()
	connected := c.conn != nil
	c.mu.Unlock()
	if !connected {
		c.log.Debug("send dropped, no active connection", "room_id", roomID)
		return nil
	}

	env, err := entity.NewEnvelope(entity.EventSendMessage, entity.SendMessageData{
		RoomID:     roomID,
		Content:    content,
		Attachment: attachment,
	})
	if err != nil {
		return err
	}
	return c.write(env)
}

func (c *Client) write(env entity.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("writing %s event: %w", env.Event, err)
	}
	return nil
}

// terminate closes the client with a terminal error, stopping any retry loop.
func (c *Client) terminate(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.lastErr = err
	conn := c.conn
	c.conn = nil
	c.state = StateClosed
	c.mu.Unlock()

	c.lifeCancel()
	if conn != nil {
		conn.Close()
	}
	c.disp.dispatchState(StateClosed)
}

// Close tears the client down. Must be called on every teardown path of the
// owning UI so no orphaned connection survives and no stale callback ever
// fires again. Idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.disp.clear()
		return
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.state = StateClosed
	c.mu.Unlock()

	c.lifeCancel()
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}
	c.disp.dispatchState(StateClosed)
	c.disp.clear()
}
