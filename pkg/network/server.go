// pkg/network/server.go
package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Y0UF0UNDM3/Car-Explore/pkg/config"
	"github.com/Y0UF0UNDM3/Car-Explore/pkg/engine"
	"github.com/Y0UF0UNDM3/Car-Explore/pkg/input"
	"github.com/Y0UF0UNDM3/Car-Explore/pkg/logging"
	"github.com/Y0UF0UNDM3/Car-Explore/pkg/validation"
)

// WebSocketPath is where remote drivers connect.
const WebSocketPath = "/ws"

// Outbound message types
const (
	MessageWelcome = "welcome"
	MessageFrame   = "frame"
	MessageError   = "error"
)

const (
	sendBufferSize = 64
	pingPeriod     = 20 * time.Second
)

// ServerMessage is every message the server sends.
type ServerMessage struct {
	Type      string             `json:"type"`
	ClientID  string             `json:"clientId,omitempty"`
	SessionID string             `json:"sessionId,omitempty"`
	Error     string             `json:"error,omitempty"`
	Frame     *engine.FrameState `json:"frame,omitempty"`
}

// Driver is the part of a session remote clients steer.
type Driver interface {
	KeyDown(raw string) bool
	KeyUp(raw string) bool
	RequestReset()
	Snapshot() engine.FrameState
}

// DriveServer accepts WebSocket drivers, feeds their key events to the
// session and broadcasts published frames. It is an engine.Sink.
type DriveServer struct {
	driver    Driver
	cfg       config.ServerConfig
	logger    *logging.Logger
	validator *validation.MessageValidator
	upgrader  websocket.Upgrader
	mux       *http.ServeMux

	clients     map[string]*Client
	clientsLock sync.RWMutex
	// reserved counts connections accepted but not yet registered.
	reserved int
	nextID   atomic.Uint64

	// holders counts the clients holding each control; the driver sees it
	// go down for the first holder and up after the last.
	holders  map[input.Key]int
	keysLock sync.Mutex
	resolve  func(raw string) input.Key

	listener   net.Listener
	httpServer *http.Server
	running    atomic.Bool
	published  atomic.Uint64
}

// Client is one connected driver.
type Client struct {
	ID        string
	Name      string
	Connected time.Time

	conn *websocket.Conn
	send chan []byte
	// held is only touched by the read goroutine.
	held map[string]bool
}

// NewDriveServer creates a server for driver. A nil logger logs to stdout.
func NewDriveServer(driver Driver, cfg config.ServerConfig, logger *logging.Logger) *DriveServer {
	if logger == nil {
		logger = logging.NewLogger()
	}
	if cfg.BroadcastEvery < 1 {
		cfg.BroadcastEvery = 1
	}

	s := &DriveServer{
		driver:    driver,
		cfg:       cfg,
		logger:    logger,
		validator: validation.NewMessageValidator(cfg.MessagesPerSecond, cfg.MessageBurst),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		mux:     http.NewServeMux(),
		clients: make(map[string]*Client),
		holders: make(map[input.Key]int),
		resolve: input.DefaultBindings().Resolve,
	}
	if b, ok := driver.(interface{ Bindings() input.Bindings }); ok {
		s.resolve = b.Bindings().Resolve
	}
	s.mux.HandleFunc(WebSocketPath, s.serveWS)
	return s
}

// Mux returns the server's request multiplexer so callers can add routes
// such as health probes.
func (s *DriveServer) Mux() *http.ServeMux {
	return s.mux
}

// Start listens on address and serves in the background.
func (s *DriveServer) Start(address string) error {
	if s.running.Load() {
		return errors.New("server already running")
	}
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.running.Store(true)

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(context.Background(), "Server stopped unexpectedly", err)
		}
	}()

	s.logger.Info(context.Background(), "Drive server started", "address", listener.Addr().String())
	return nil
}

// Stop disconnects every client and shuts the listener down.
func (s *DriveServer) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	s.clientsLock.Lock()
	for id, client := range s.clients {
		close(client.send)
		delete(s.clients, id)
	}
	s.clientsLock.Unlock()

	err := s.httpServer.Shutdown(ctx)
	s.validator.Close()
	s.logger.Info(ctx, "Drive server stopped")
	return err
}

// GetRunning reports whether the server is accepting drivers.
func (s *DriveServer) GetRunning() bool {
	return s.running.Load()
}

// GetListenerAddress returns the bound address, or "" when stopped.
func (s *DriveServer) GetListenerAddress() string {
	if !s.running.Load() || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// ClientCount returns the number of connected drivers.
func (s *DriveServer) ClientCount() int {
	s.clientsLock.RLock()
	defer s.clientsLock.RUnlock()
	return len(s.clients)
}

// Publish implements engine.Sink, broadcasting one frame in every
// BroadcastEvery.
func (s *DriveServer) Publish(state *engine.FrameState) error {
	if state == nil {
		return nil
	}
	if s.published.Add(1)%uint64(s.cfg.BroadcastEvery) != 0 && !state.Reset {
		return nil
	}
	if s.ClientCount() == 0 {
		return nil
	}

	data, err := json.Marshal(ServerMessage{Type: MessageFrame, Frame: state})
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	s.broadcast(data)
	return nil
}

// broadcast queues data for every client, dropping clients that cannot keep
// up.
func (s *DriveServer) broadcast(data []byte) {
	s.clientsLock.Lock()
	defer s.clientsLock.Unlock()
	for id, client := range s.clients {
		select {
		case client.send <- data:
		default:
			s.logger.Warn(context.Background(), "Dropping slow client", "client_id", id)
			close(client.send)
			delete(s.clients, id)
		}
	}
}

func (s *DriveServer) serveWS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !s.running.Load() && s.httpServer != nil {
		http.Error(w, "server stopped", http.StatusServiceUnavailable)
		return
	}

	name := "driver"
	if raw := r.URL.Query().Get("name"); raw != "" {
		clean, err := validation.ValidateClientName(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		name = clean
	}

	if !s.reserveSlot() {
		s.logger.Warn(ctx, "Rejecting connection, server full", "remote", r.RemoteAddr)
		http.Error(w, "server full", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.releaseSlot()
		s.logger.Warn(ctx, "WebSocket upgrade failed", "error", err.Error())
		return
	}

	client := &Client{
		ID:        fmt.Sprintf("c%d", s.nextID.Add(1)),
		Name:      name,
		Connected: time.Now(),
		conn:      conn,
		send:      make(chan []byte, sendBufferSize),
		held:      make(map[string]bool),
	}

	welcome, _ := json.Marshal(ServerMessage{
		Type:      MessageWelcome,
		ClientID:  client.ID,
		SessionID: s.driver.Snapshot().SessionID,
	})
	client.send <- welcome

	s.clientsLock.Lock()
	s.reserved--
	s.clients[client.ID] = client
	s.clientsLock.Unlock()

	s.logger.Info(ctx, "Driver connected", "client_id", client.ID, "name", client.Name, "remote", r.RemoteAddr)

	go s.writePump(client)
	go s.readPump(client)
}

// reserveSlot claims room for one more client under MaxClients.
func (s *DriveServer) reserveSlot() bool {
	s.clientsLock.Lock()
	defer s.clientsLock.Unlock()
	if s.cfg.MaxClients > 0 && len(s.clients)+s.reserved >= s.cfg.MaxClients {
		return false
	}
	s.reserved++
	return true
}

func (s *DriveServer) releaseSlot() {
	s.clientsLock.Lock()
	s.reserved--
	s.clientsLock.Unlock()
}

// readPump applies a client's messages until the connection fails.
func (s *DriveServer) readPump(client *Client) {
	defer func() {
		s.removeClient(client)
		client.conn.Close()
	}()

	client.conn.SetReadLimit(validation.MaxMessageSize)
	s.extendReadDeadline(client)
	client.conn.SetPongHandler(func(string) error {
		s.extendReadDeadline(client)
		return nil
	})

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn(context.Background(), "Driver read failed", "client_id", client.ID, "error", err.Error())
			}
			return
		}
		s.extendReadDeadline(client)
		s.handleMessage(client, data)
	}
}

func (s *DriveServer) extendReadDeadline(client *Client) {
	if s.cfg.ReadTimeout > 0 {
		client.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	}
}

// handleMessage validates one message and applies it to the driver.
func (s *DriveServer) handleMessage(client *Client, data []byte) {
	msg, err := s.validator.ParseMessage(data, client.ID)
	if err != nil {
		s.logger.Debug(context.Background(), "Rejected driver message", "client_id", client.ID, "error", err.Error())
		s.sendTo(client, ServerMessage{Type: MessageError, Error: err.Error()})
		return
	}

	switch msg.Type {
	case validation.MessageKey:
		if msg.Down {
			s.press(client, msg.Key)
		} else {
			s.release(client, msg.Key)
		}
	case validation.MessageReset:
		s.driver.RequestReset()
	}
}

// press records that client holds key. Repeats from the same client are
// ignored.
func (s *DriveServer) press(client *Client, key string) {
	if client.held[key] {
		return
	}
	client.held[key] = true

	control := s.resolve(key)
	s.keysLock.Lock()
	defer s.keysLock.Unlock()
	s.holders[control]++
	if s.holders[control] == 1 {
		s.driver.KeyDown(key)
	}
}

// release drops client's hold on key. The driver only sees the control go
// up once no other client holds it, whichever raw key they used.
func (s *DriveServer) release(client *Client, key string) {
	if !client.held[key] {
		return
	}
	delete(client.held, key)

	control := s.resolve(key)
	s.keysLock.Lock()
	defer s.keysLock.Unlock()
	s.holders[control]--
	if s.holders[control] <= 0 {
		delete(s.holders, control)
		s.driver.KeyUp(key)
	}
}

// KeyHolders returns how many clients hold the control raw resolves to.
func (s *DriveServer) KeyHolders(raw string) int {
	control := s.resolve(raw)
	s.keysLock.Lock()
	defer s.keysLock.Unlock()
	return s.holders[control]
}

// sendTo queues a message for one client without blocking.
func (s *DriveServer) sendTo(client *Client, msg ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	s.clientsLock.RLock()
	defer s.clientsLock.RUnlock()
	if _, ok := s.clients[client.ID]; !ok {
		return
	}
	select {
	case client.send <- data:
	default:
	}
}

// writePump writes queued messages and keepalive pings.
func (s *DriveServer) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case data, ok := <-client.send:
			s.setWriteDeadline(client)
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			s.setWriteDeadline(client)
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *DriveServer) setWriteDeadline(client *Client) {
	if s.cfg.WriteTimeout > 0 {
		client.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	}
}

// removeClient forgets a client and drops its hold on every key.
func (s *DriveServer) removeClient(client *Client) {
	s.clientsLock.Lock()
	if _, ok := s.clients[client.ID]; ok {
		close(client.send)
		delete(s.clients, client.ID)
	}
	s.clientsLock.Unlock()

	released := len(client.held)
	for key := range client.held {
		s.release(client, key)
	}
	s.validator.Forget(client.ID)

	s.logger.Info(context.Background(), "Driver disconnected",
		"client_id", client.ID,
		"released_keys", released,
		"connected_for", time.Since(client.Connected).Round(time.Millisecond),
	)
}
