// pkg/network/client.go
package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Y0UF0UNDM3/Car-Explore/pkg/engine"
	"github.com/Y0UF0UNDM3/Car-Explore/pkg/event"
	"github.com/Y0UF0UNDM3/Car-Explore/pkg/logging"
	"github.com/Y0UF0UNDM3/Car-Explore/pkg/validation"
)

// Client event types
const (
	ClientConnected    event.Type = "client_connected"
	ClientDisconnected event.Type = "client_disconnected"
	ServerRejected     event.Type = "server_rejected"
)

// ErrNotConnected is returned by sends before Connect or after Close.
var ErrNotConnected = errors.New("not connected")

// ClientEvent reports a connection change or a message the server rejected.
type ClientEvent struct {
	event.BaseEvent
	ClientID string
	Message  string
}

// DriveClient steers a remote session: it sends key messages and receives
// published frames.
type DriveClient struct {
	bus     *event.Bus
	logger  *logging.Logger
	network *NetworkService

	conn      *websocket.Conn
	writeMu   sync.Mutex
	connected atomic.Bool
	frames    chan *engine.FrameState
	done      chan struct{}

	clientID  string
	sessionID string

	connectTimeout time.Duration
	writeTimeout   time.Duration
}

// NewDriveClient creates a client. Frames beyond the buffer are dropped.
func NewDriveClient(bus *event.Bus, logger *logging.Logger, settings BreakerSettings) *DriveClient {
	if bus == nil {
		bus = event.NewEventBus()
	}
	if logger == nil {
		logger = logging.NewLogger()
	}
	return &DriveClient{
		bus:            bus,
		logger:         logger,
		network:        NewNetworkService("drive-client", settings, logger),
		frames:         make(chan *engine.FrameState, 16),
		connectTimeout: 10 * time.Second,
		writeTimeout:   5 * time.Second,
	}
}

// Connect dials the server at rawURL (ws://host:port/ws) and waits for the
// welcome message. Failed dials are retried through the circuit breaker.
func (c *DriveClient) Connect(ctx context.Context, rawURL, name string) error {
	if c.connected.Load() {
		return errors.New("already connected")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}
	if name != "" {
		q := u.Query()
		q.Set("name", name)
		u.RawQuery = q.Encode()
	}

	var conn *websocket.Conn
	err = c.network.ExecuteWithRetry(ctx, func() error {
		dialCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
		defer cancel()
		var dialErr error
		conn, _, dialErr = websocket.DefaultDialer.DialContext(dialCtx, u.String(), nil)
		return dialErr
	})
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(c.connectTimeout))
	var welcome ServerMessage
	if err := conn.ReadJSON(&welcome); err != nil {
		conn.Close()
		return fmt.Errorf("failed to read welcome: %w", err)
	}
	if welcome.Type != MessageWelcome {
		conn.Close()
		return fmt.Errorf("unexpected first message %q", welcome.Type)
	}
	conn.SetReadDeadline(time.Time{})

	c.conn = conn
	c.clientID = welcome.ClientID
	c.sessionID = welcome.SessionID
	c.done = make(chan struct{})
	c.connected.Store(true)

	c.bus.Publish(&ClientEvent{
		BaseEvent: event.BaseEvent{EventType: ClientConnected, Source: c},
		ClientID:  c.clientID,
	})
	c.logger.Info(ctx, "Connected to drive server", "client_id", c.clientID, "session_id", c.sessionID)

	go c.readLoop()
	return nil
}

// ClientID returns the ID the server assigned.
func (c *DriveClient) ClientID() string { return c.clientID }

// SessionID returns the remote session ID.
func (c *DriveClient) SessionID() string { return c.sessionID }

// Connected reports whether the connection is open.
func (c *DriveClient) Connected() bool { return c.connected.Load() }

// Frames returns the channel of received frames.
func (c *DriveClient) Frames() <-chan *engine.FrameState { return c.frames }

// Done is closed when the connection ends.
func (c *DriveClient) Done() <-chan struct{} { return c.done }

// SendKey sends a key transition.
func (c *DriveClient) SendKey(key string, down bool) error {
	return c.send(validation.ClientMessage{Type: validation.MessageKey, Key: key, Down: down})
}

// SendReset asks for a reset to spawn.
func (c *DriveClient) SendReset() error {
	return c.send(validation.ClientMessage{Type: validation.MessageReset})
}

func (c *DriveClient) send(msg validation.ClientMessage) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if len(data) > validation.MaxMessageSize {
		return errors.New("message too large")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame and waits for the read loop to finish.
func (c *DriveClient) Close() error {
	if !c.connected.Load() {
		return nil
	}
	c.writeMu.Lock()
	err := c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(c.writeTimeout))
	c.writeMu.Unlock()

	select {
	case <-c.done:
	case <-time.After(c.writeTimeout):
		c.conn.Close()
		<-c.done
	}
	return err
}

// readLoop dispatches server messages until the connection ends.
func (c *DriveClient) readLoop() {
	defer func() {
		c.connected.Store(false)
		c.conn.Close()
		close(c.done)
		c.bus.Publish(&ClientEvent{
			BaseEvent: event.BaseEvent{EventType: ClientDisconnected, Source: c},
			ClientID:  c.clientID,
		})
	}()

	for {
		var msg ServerMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn(context.Background(), "Connection lost", "error", err.Error())
			}
			return
		}

		switch msg.Type {
		case MessageFrame:
			if msg.Frame == nil {
				continue
			}
			select {
			case c.frames <- msg.Frame:
			default:
			}
		case MessageError:
			c.bus.Publish(&ClientEvent{
				BaseEvent: event.BaseEvent{EventType: ServerRejected, Source: c},
				ClientID:  c.clientID,
				Message:   msg.Error,
			})
		}
	}
}
