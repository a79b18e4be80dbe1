package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	v1 "github.com/rama7993/quickchat/contracts/chat/v1"
)

const wsSubprotocolV1 = "quickchat.v1"

var (
	// ErrNotConnected is returned by emit paths while no usable socket exists.
	ErrNotConnected = errors.New("realtime: not connected")

	// errAuthRejected terminates the connection loop without retry.
	errAuthRejected = errors.New("realtime: authentication rejected")
)

// Listener consumes one inbound envelope.
type Listener func(env v1.Envelope)

// Hooks let the embedding application react to terminal connection events.
type Hooks struct {
	// AuthRejected fires after the manager has cleared its credential.
	// The application is expected to log out and surface its login flow.
	AuthRejected func(reason string)
}

// ManagerConfig tunes the connection manager. Zero values fall back to the
// package defaults.
type ManagerConfig struct {
	// URL is the websocket endpoint, e.g. ws://host/ws.
	URL string

	WriteTimeout      time.Duration
	DialTimeout       time.Duration
	HandshakeTimeout  time.Duration
	ReconnectAttempts int
	ReconnectDelay    time.Duration
}

func (c ManagerConfig) withDefaults() ManagerConfig {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	if c.ReconnectAttempts <= 0 {
		c.ReconnectAttempts = defaultReconnectAttempts
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = defaultReconnectDelay
	}
	return c
}

// Manager owns the single bidirectional stream connection: authentication
// handshake, bounded reconnection, room re-subscription, and inbound
// envelope dispatch to registered listeners.
//
// Design notes:
//   - Connect is single-flight: a second call while a session loop is live
//     is a no-op unless preceded by Disconnect.
//   - Disconnect is idempotent.
//   - Listener registration is detach-before-attach territory: consumers
//     call RemoveAllListeners before re-registering (see Dispatcher).
type Manager struct {
	log   *slog.Logger
	cfg   ManagerConfig
	hooks Hooks

	mu              sync.Mutex
	conn            *websocket.Conn
	token           string
	running         bool
	closing         bool
	connected       bool
	runDone         chan struct{}
	rooms           map[string]v1.JoinRoomPayload
	listeners       map[string][]Listener
	prefixListeners map[string][]Listener
	connectedFns    []func()

	status *Feed[bool]
}

// NewManager constructs a Manager. It does not connect.
func NewManager(log *slog.Logger, cfg ManagerConfig, hooks Hooks) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		log:             log,
		cfg:             cfg.withDefaults(),
		hooks:           hooks,
		rooms:           make(map[string]v1.JoinRoomPayload),
		listeners:       make(map[string][]Listener),
		prefixListeners: make(map[string][]Listener),
		status:          NewFeed[bool](defaultFeedQueueSize, 1),
	}
}

// Connect opens an authenticated session loop. It returns immediately; the
// Status feed reports when the connection becomes usable.
//
// A connect while a session loop is live is a no-op. A connect without a
// token logs and does nothing: the caller is expected to not invoke it
// unauthenticated.
func (m *Manager) Connect(ctx context.Context, token string) {
	if strings.TrimSpace(token) == "" {
		m.log.Info("conn.connect.no_token")
		return
	}

	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		m.log.Info("conn.connect.ignored", "reason", "already running")
		return
	}
	m.running = true
	m.closing = false
	m.token = token
	done := make(chan struct{})
	m.runDone = done
	m.mu.Unlock()

	go m.run(ctx, done)
}

// Disconnect tears the session down. Safe to call multiple times.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.closing = true
	conn := m.conn
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}
}

// UpdateToken tears down the current session and re-establishes it with the
// rotated credential. Reconnection re-subscribes to tracked rooms; events
// delivered during the swap are not replayed (consumers re-sync on the
// connected signal).
func (m *Manager) UpdateToken(ctx context.Context, token string) {
	m.mu.Lock()
	done := m.runDone
	m.mu.Unlock()

	m.Disconnect()
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
	}
	m.Connect(ctx, token)
}

// IsConnected reports whether the socket is usable right now.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Status is the boolean connectivity feed (true = usable). The last value is
// replayed to late subscribers.
func (m *Manager) Status() *Feed[bool] {
	return m.status
}

// ---- listener registry ----

// On registers a listener for an exact event name.
func (m *Manager) On(event string, fn Listener) {
	if event == "" || fn == nil {
		return
	}
	m.mu.Lock()
	m.listeners[event] = append(m.listeners[event], fn)
	m.mu.Unlock()
}

// OnPrefix registers a listener for all events starting with prefix
// (per-upload event names carry the correlation id as a suffix).
func (m *Manager) OnPrefix(prefix string, fn Listener) {
	if prefix == "" || fn == nil {
		return
	}
	m.mu.Lock()
	m.prefixListeners[prefix] = append(m.prefixListeners[prefix], fn)
	m.mu.Unlock()
}

// RemoveAllListeners clears every registered listener. Consumers must call
// this before re-registering to avoid multiplied event delivery.
func (m *Manager) RemoveAllListeners() {
	m.mu.Lock()
	m.listeners = make(map[string][]Listener)
	m.prefixListeners = make(map[string][]Listener)
	m.mu.Unlock()
}

// OnConnected registers fn to run after every successful authentication,
// the first connect included. Used for listener re-attachment.
func (m *Manager) OnConnected(fn func()) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.connectedFns = append(m.connectedFns, fn)
	m.mu.Unlock()
}

func (m *Manager) dispatch(env v1.Envelope) {
	if err := env.Validate(); err != nil {
		m.log.Info("conn.envelope.invalid", "err", err)
		return
	}

	m.mu.Lock()
	fns := append([]Listener(nil), m.listeners[env.Event]...)
	for prefix, pfns := range m.prefixListeners {
		if strings.HasPrefix(env.Event, prefix) {
			fns = append(fns, pfns...)
		}
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(env)
	}
}

// ---- room tracking ----

// JoinRoom emits join_room and records the room for re-subscription after a
// reconnect. The record is kept even when the emit fails while offline.
func (m *Manager) JoinRoom(ctx context.Context, p v1.JoinRoomPayload) error {
	m.mu.Lock()
	m.rooms[p.RoomID] = p
	m.mu.Unlock()
	return m.Emit(ctx, v1.EventJoinRoom, p)
}

// LeaveRoom emits leave_room and drops the room from the re-subscription set.
func (m *Manager) LeaveRoom(ctx context.Context, p v1.LeaveRoomPayload) error {
	m.mu.Lock()
	delete(m.rooms, p.RoomID)
	m.mu.Unlock()
	return m.Emit(ctx, v1.EventLeaveRoom, p)
}

func (m *Manager) rejoinRooms(ctx context.Context) {
	m.mu.Lock()
	rooms := make([]v1.JoinRoomPayload, 0, len(m.rooms))
	for _, p := range m.rooms {
		rooms = append(rooms, p)
	}
	m.mu.Unlock()

	for _, p := range rooms {
		if err := m.Emit(ctx, v1.EventJoinRoom, p); err != nil {
			m.log.Info("conn.rejoin.fail", "room_id", p.RoomID, "err", err)
		}
	}
}

// ---- emit ----

// Emit marshals payload into a versioned envelope and writes it to the
// stream. Returns ErrNotConnected while no usable socket exists.
func (m *Manager) Emit(ctx context.Context, event string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event, err)
	}

	now := time.Now().UTC()
	env := v1.Envelope{
		V:       v1.Version,
		Event:   event,
		ID:      newEnvelopeID(now),
		TS:      now,
		Payload: b,
	}

	m.mu.Lock()
	conn := m.conn
	connected := m.connected
	m.mu.Unlock()

	if conn == nil || !connected {
		return ErrNotConnected
	}
	return writeEnvelope(ctx, conn, env, m.cfg.WriteTimeout)
}

// ---- session loop ----

func (m *Manager) run(ctx context.Context, done chan struct{}) {
	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
		close(done)
	}()

	attempts := 0
	for {
		if m.isClosing() || ctx.Err() != nil {
			return
		}

		conn, err := m.dialAndAuthenticate(ctx)
		if errors.Is(err, errAuthRejected) {
			return
		}
		if err != nil {
			attempts++
			m.log.Info("conn.dial.fail", "attempt", attempts, "err", err)
			if attempts >= m.cfg.ReconnectAttempts {
				m.log.Error("conn.retry.exhausted", "attempts", attempts)
				return
			}
			metricReconnects.Inc()
			select {
			case <-ctx.Done():
				return
			case <-time.After(m.cfg.ReconnectDelay):
			}
			continue
		}
		attempts = 0

		m.mu.Lock()
		m.conn = conn
		m.connected = true
		fns := append([]func(){}, m.connectedFns...)
		m.mu.Unlock()

		// Re-attach listeners before any event can arrive for them, then
		// publish connectivity and re-subscribe tracked rooms.
		for _, fn := range fns {
			fn()
		}
		m.status.Publish(true)
		m.rejoinRooms(ctx)

		err = m.readLoop(ctx, conn)

		m.mu.Lock()
		m.conn = nil
		m.connected = false
		m.mu.Unlock()
		m.status.Publish(false)
		_ = conn.Close(websocket.StatusNormalClosure, "bye")

		if errors.Is(err, errAuthRejected) {
			return
		}
		if m.isClosing() || ctx.Err() != nil {
			return
		}

		m.log.Info("conn.lost", "err", err)
		metricReconnects.Inc()
		select {
		case <-ctx.Done():
			return
		case <-time.After(m.cfg.ReconnectDelay):
		}
	}
}

func (m *Manager) isClosing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closing
}

func (m *Manager) currentToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// dialAndAuthenticate opens the socket, writes the auth.token handshake
// frame, and waits for the server's verdict. Non-auth envelopes arriving
// meanwhile are dispatched normally.
func (m *Manager) dialAndAuthenticate(ctx context.Context) (*websocket.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
	conn, resp, err := websocket.Dial(dctx, m.cfg.URL, &websocket.DialOptions{
		Subprotocols: []string{wsSubprotocolV1},
	})
	cancel()
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	conn.SetReadLimit(maxFrameBytes)

	hs := v1.Handshake{Auth: v1.Auth{Token: m.currentToken()}}
	hb, err := json.Marshal(hs)
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "handshake marshal")
		return nil, fmt.Errorf("marshal handshake: %w", err)
	}

	hctx, hcancel := context.WithTimeout(ctx, m.cfg.HandshakeTimeout)
	defer hcancel()

	if err := conn.Write(hctx, websocket.MessageText, hb); err != nil {
		_ = conn.Close(websocket.StatusAbnormalClosure, "handshake write")
		return nil, fmt.Errorf("write handshake: %w", err)
	}

	for {
		env, err := readEnvelope(hctx, conn)
		if err != nil {
			_ = conn.Close(websocket.StatusAbnormalClosure, "handshake read")
			return nil, fmt.Errorf("await authentication: %w", err)
		}

		switch env.Event {
		case v1.EventAuthenticated:
			m.log.Info("conn.authenticated")
			return conn, nil
		case v1.EventAuthenticationError:
			m.handleAuthRejected(env)
			_ = conn.Close(websocket.StatusPolicyViolation, "authentication rejected")
			return nil, errAuthRejected
		default:
			m.dispatch(env)
		}
	}
}

func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		env, err := readEnvelope(ctx, conn)
		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				m.log.Info("conn.peer.closed", "close_status", websocket.CloseStatus(err))
				return err
			case readErrCtxDone:
				return err
			case readErrConnClosed:
				return err
			case readErrBadJSON:
				m.log.Info("conn.read.bad_json", "err", err)
				continue
			default:
				m.log.Info("conn.read.fail", "err", err)
				return err
			}
		}

		// Mid-session credential invalidation is a hard terminal failure.
		if env.Event == v1.EventAuthenticationError {
			m.handleAuthRejected(env)
			return errAuthRejected
		}

		m.dispatch(env)
	}
}

// handleAuthRejected clears the stored credential and hands control to the
// application's logout path. Never retried.
func (m *Manager) handleAuthRejected(env v1.Envelope) {
	var p v1.AuthErrorPayload
	_ = json.Unmarshal(env.Payload, &p)

	m.mu.Lock()
	m.token = ""
	m.closing = true
	m.mu.Unlock()

	m.log.Error("conn.auth.rejected", "reason", p.Error)
	if m.hooks.AuthRejected != nil {
		m.hooks.AuthRejected(p.Error)
	}
}

// ---- envelope IO ----

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return readErrBadJSON
	}
	return readErrUnknown
}
