package stream

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-client/model"
	"github.com/stemsi/exstem-client/protocol"
)

// State is the connection lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateReconnecting
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// EventHandler receives everything the stream surfaces to its owner.
// Exactly one of OnOpen/OnClose fires per transport attempt; OnError may
// fire any number of times independently of those.
type EventHandler interface {
	OnOpen()
	OnClose()
	OnError(err error)
	OnSaved(status string)
	OnGraded(status string, score float64)
}

// Config controls a stream client. Zero values take reference defaults.
type Config struct {
	// BaseURL is the API root, e.g. "https://exam.example.com".
	// http/https schemes are rewritten to ws/wss for the stream.
	BaseURL string

	// Token is the student bearer JWT. The stream transport cannot carry
	// headers, so it is passed as a query parameter on the dial URL.
	Token string

	PingInterval         time.Duration
	BackoffBase          time.Duration
	BackoffCap           time.Duration
	MaxReconnectAttempts int

	Dialer *websocket.Dialer
	Logger zerolog.Logger
}

func (c *Config) applyDefaults() {
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = DefaultBackoffCap
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Dialer == nil {
		c.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
}

// Client owns one logical stream connection to one exam session.
//
// It is driven by a single controlling caller; Connect, Disconnect and the
// senders must not race each other. The internal mutex only protects state
// shared with the client's own read-loop, heartbeat and backoff goroutines.
type Client struct {
	cfg Config
	log zerolog.Logger
	hb  *heartbeat

	mu             sync.Mutex
	state          State
	conn           *websocket.Conn
	examID         uuid.UUID
	handler        EventHandler
	attempts       int
	reconnectTimer *time.Timer
	intentional    bool
	// gen identifies one Connect call. A later Connect bumps it, making
	// goroutines of the superseded connection inert.
	gen int

	writeMu sync.Mutex
}

// New creates a stream client. No connection is made until Connect.
func New(cfg Config) *Client {
	cfg.applyDefaults()
	c := &Client{
		cfg:   cfg,
		log:   cfg.Logger.With().Str("component", "exam_stream").Logger(),
		state: StateIdle,
	}
	c.hb = newHeartbeat(cfg.PingInterval, func() error {
		return c.Send(protocol.NewPing())
	}, cfg.Logger)
	return c
}

// Connect begins establishing the stream for the given exam. A call while
// a previous connection is still up supersedes it: the old transport is
// torn down first and its pending timers are cancelled. The dial happens
// asynchronously; the outcome arrives via the handler.
func (c *Client) Connect(examID uuid.UUID, h EventHandler) {
	c.mu.Lock()
	c.teardownLocked()
	c.gen++
	c.examID = examID
	c.handler = h
	c.intentional = false
	c.attempts = 0
	c.state = StateConnecting
	gen := c.gen
	c.mu.Unlock()

	go c.establish(gen, h)
}

// Disconnect closes the connection intentionally and permanently. Any
// pending backoff timer is cancelled and the heartbeat stopped, so no
// reconnection can fire afterwards regardless of close reason.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.intentional = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.hb.stop()
	conn := c.conn
	c.conn = nil
	if conn != nil {
		// The read loop observes the close and finishes the transition
		// to StateClosed, firing OnClose exactly once.
		c.state = StateClosing
	} else {
		c.state = StateClosed
	}
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	c.log.Info().Msg("Stream disconnected")
}

// IsConnected reports whether the transport is currently open.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateOpen && c.conn != nil
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Send transmits one message on the open transport. When the stream is not
// open the message is dropped with a logged warning and ErrNotConnected:
// outgoing messages are never buffered across a closed state.
func (c *Client) Send(msg protocol.ClientMessage) error {
	c.mu.Lock()
	conn := c.conn
	open := c.state == StateOpen && conn != nil
	c.mu.Unlock()

	if !open {
		c.log.Warn().Str("state", c.State().String()).Msg("Cannot send, stream not open")
		return ErrNotConnected
	}

	data, err := protocol.EncodeClientMessage(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// SendAutosave saves a single answer. A nil answer clears the question.
func (c *Client) SendAutosave(qID string, answer *string) error {
	return c.Send(protocol.NewAutosave(qID, answer))
}

// SendSubmit asks the server to finish and grade the exam.
func (c *Client) SendSubmit() error {
	return c.Send(protocol.NewSubmit())
}

// SendCheat serializes and forwards a cheat event. The payload schema is
// the sensor's contract; here it is opaque.
func (c *Client) SendCheat(ev model.CheatEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode cheat payload: %w", err)
	}
	return c.Send(protocol.NewCheat(string(payload)))
}

// teardownLocked releases the previous connection's transport, heartbeat
// and pending backoff timer. Caller holds c.mu.
func (c *Client) teardownLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.hb.stop()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// ─── Connection establishment ───────────────────────────────────────

func (c *Client) establish(gen int, h EventHandler) {
	c.mu.Lock()
	if gen != c.gen || c.intentional {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	examID := c.examID
	c.mu.Unlock()

	if err := checkCredential(c.cfg.Token); err != nil {
		c.mu.Lock()
		if gen == c.gen {
			c.state = StateClosed
		}
		c.mu.Unlock()
		c.log.Error().Err(err).Msg("Refusing to dial without a usable credential")
		h.OnError(err)
		return
	}

	dialURL := streamURL(c.cfg.BaseURL, examID, c.cfg.Token)
	conn, resp, err := c.cfg.Dialer.Dial(dialURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		c.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Dial failed")
		c.mu.Lock()
		current := gen == c.gen
		intentional := c.intentional
		if current && !intentional {
			c.state = StateReconnecting
		}
		c.mu.Unlock()
		h.OnClose()
		if current && !intentional {
			c.scheduleReconnect(gen, h)
		}
		return
	}

	c.mu.Lock()
	if gen != c.gen || c.intentional {
		c.mu.Unlock()
		conn.Close()
		h.OnClose()
		return
	}
	c.conn = conn
	c.state = StateOpen
	c.attempts = 0
	c.hb.start()
	c.mu.Unlock()

	c.log.Info().Str("exam_id", examID.String()).Msg("Stream connected")
	h.OnOpen()
	go c.readLoop(conn, gen, h)
}

func (c *Client) readLoop(conn *websocket.Conn, gen int, h EventHandler) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleTransportClose(conn, gen, h, err)
			return
		}
		c.handleFrame(data, h)
	}
}

func (c *Client) handleFrame(data []byte, h EventHandler) {
	msg, err := protocol.DecodeServerMessage(data)
	if err != nil {
		// A bad frame is not a disconnect reason.
		c.log.Warn().Err(err).Msg("Dropping malformed frame")
		h.OnError(err)
		return
	}

	switch m := msg.(type) {
	case *protocol.SuccessResponse:
		h.OnSaved(m.Status)
	case *protocol.GradedResponse:
		h.OnGraded(m.Status, m.Score)
	case *protocol.ErrorResponse:
		h.OnError(&ServerError{Message: m.Error})
	case *protocol.PongResponse:
		c.log.Debug().Msg("Heartbeat acknowledged")
	case *protocol.UnknownEvent:
		// Forward compatibility: servers may add events this client
		// does not know yet.
		c.log.Warn().Str("event", string(m.Event)).Msg("Ignoring unknown event")
	}
}

func (c *Client) handleTransportClose(conn *websocket.Conn, gen int, h EventHandler, err error) {
	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.log.Warn().Err(err).Msg("Unexpected close")
	} else {
		c.log.Debug().Msg("Connection closed")
	}

	c.mu.Lock()
	current := gen == c.gen
	intentional := c.intentional
	if current {
		c.hb.stop()
		if c.conn == conn {
			c.conn = nil
		}
		if intentional {
			c.state = StateClosed
		} else {
			c.state = StateReconnecting
		}
	}
	c.mu.Unlock()

	conn.Close()
	h.OnClose()

	if current && !intentional {
		c.scheduleReconnect(gen, h)
	}
}

func (c *Client) scheduleReconnect(gen int, h EventHandler) {
	c.mu.Lock()
	if gen != c.gen || c.intentional {
		c.mu.Unlock()
		return
	}
	c.attempts++
	if c.attempts > c.cfg.MaxReconnectAttempts {
		c.state = StateClosed
		c.mu.Unlock()
		c.log.Error().
			Int("max_attempts", c.cfg.MaxReconnectAttempts).
			Msg("Giving up on reconnection")
		h.OnError(ErrReconnectExhausted)
		return
	}

	delay := backoffDelay(c.attempts, c.cfg.BackoffBase, c.cfg.BackoffCap)
	attempt := c.attempts
	c.state = StateReconnecting
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.establish(gen, h)
	})
	c.mu.Unlock()

	c.log.Info().
		Dur("delay", delay).
		Int("attempt", attempt).
		Int("max_attempts", c.cfg.MaxReconnectAttempts).
		Msg("Reconnecting")
}

// ─── Helpers ────────────────────────────────────────────────────────

// streamURL builds the dial URL, rewriting http(s) to ws(s). The bearer
// token rides in the query string because the transport cannot carry
// custom headers.
func streamURL(base string, examID uuid.UUID, token string) string {
	wsBase := strings.TrimRight(base, "/")
	if strings.HasPrefix(wsBase, "http") {
		wsBase = "ws" + strings.TrimPrefix(wsBase, "http")
	}
	return fmt.Sprintf("%s/ws/v1/student/exams/%s/stream?token=%s",
		wsBase, examID, url.QueryEscape(token))
}

// checkCredential fails fast on a missing or expired bearer token so the
// caller gets a terminal error instead of a doomed dial loop. Tokens that
// do not parse as JWTs are passed through for the server to judge.
func checkCredential(token string) error {
	if token == "" {
		return ErrNoCredential
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
		return fmt.Errorf("%w: bearer token expired at %s", ErrNoCredential, claims.ExpiresAt)
	}
	return nil
}
