package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// DefaultReconnectDelay is the fixed pause between a lost connection and the
// next attempt. There is no backoff and no retry limit.
const DefaultReconnectDelay = 3000 * time.Millisecond

// ErrNotConnected is returned by Send when the connection is not open.
// The frame is dropped.
var ErrNotConnected = errors.New("realtime connection is not open")

// ConnState is the lifecycle state of the realtime connection.
type ConnState int

const (
	StateClosed ConnState = iota
	StateConnecting
	StateOpen
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// Dialer opens websocket connections. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Callbacks receive transport events. They run on transport goroutines and
// must not block.
type Callbacks struct {
	OnOpen    func()
	OnMessage func(data []byte)
	OnClose   func()
	OnError   func(err error)
	OnState   func(state ConnState)
}

// TransportOptions configures a Transport.
type TransportOptions struct {
	URL              string
	Dialer           Dialer
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	Callbacks        Callbacks
	Logger           zerolog.Logger
}

// Transport keeps at most one live connection to the chat endpoint and
// reconnects after every loss until Close is called.
type Transport struct {
	url              string
	dialer           Dialer
	reconnectDelay   time.Duration
	handshakeTimeout time.Duration
	writeTimeout     time.Duration
	cb               Callbacks
	logger           zerolog.Logger

	mu       sync.Mutex
	state    ConnState
	conn     *websocket.Conn
	gen      uint64 // bumped on every attempt; stale goroutines compare against it
	timer    *time.Timer
	timerSeq uint64 // identifies the armed timer; a stale one finds a different value
	attempts int
	shutdown bool

	writeMu sync.Mutex
}

// NewTransport creates a transport in the Closed state. Call Connect to start.
func NewTransport(opts TransportOptions) *Transport {
	t := &Transport{
		url:              opts.URL,
		dialer:           opts.Dialer,
		reconnectDelay:   opts.ReconnectDelay,
		handshakeTimeout: opts.HandshakeTimeout,
		writeTimeout:     opts.WriteTimeout,
		cb:               opts.Callbacks,
		logger:           opts.Logger.With().Str("component", "transport").Logger(),
	}
	if t.dialer == nil {
		t.dialer = websocket.DefaultDialer
	}
	if t.reconnectDelay <= 0 {
		t.reconnectDelay = DefaultReconnectDelay
	}
	if t.handshakeTimeout <= 0 {
		t.handshakeTimeout = 10 * time.Second
	}
	if t.writeTimeout <= 0 {
		t.writeTimeout = 10 * time.Second
	}
	return t
}

// Connect starts a connection attempt. It does nothing and returns false
// while a connection is Open or Connecting, or after Close.
func (t *Transport) Connect() bool {
	t.mu.Lock()
	if t.shutdown || t.state != StateClosed {
		t.mu.Unlock()
		return false
	}
	t.stopTimerLocked()
	t.state = StateConnecting
	t.gen++
	gen := t.gen
	t.attempts++
	t.mu.Unlock()

	t.logger.Debug().Str("url", t.url).Uint64("attempt", gen).Msg("connecting")
	t.emitState(StateConnecting)
	go t.dial(gen)
	return true
}

func (t *Transport) dial(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), t.handshakeTimeout)
	defer cancel()

	conn, resp, err := t.dialer.DialContext(ctx, t.url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.logger.Warn().Err(err).Str("url", t.url).Msg("websocket dial failed")
		t.emitError(err)
		t.lost(gen)
		return
	}

	t.mu.Lock()
	if t.shutdown || gen != t.gen {
		t.mu.Unlock()
		_ = conn.Close()
		return
	}
	t.conn = conn
	t.state = StateOpen
	t.mu.Unlock()

	t.logger.Info().Str("url", t.url).Msg("websocket connected")
	t.emitState(StateOpen)
	if t.cb.OnOpen != nil {
		t.cb.OnOpen()
	}

	go t.readLoop(gen, conn)
}

func (t *Transport) readLoop(gen uint64, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !t.current(gen) {
				return
			}
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.logger.Warn().Err(err).Msg("websocket read failed")
				t.emitError(err)
			}
			_ = conn.Close()
			t.lost(gen)
			return
		}
		if t.cb.OnMessage != nil {
			t.cb.OnMessage(data)
		}
	}
}

// lost moves the attempt identified by gen to Closed and schedules the next
// attempt. Repeated calls for the same attempt are ignored, so at most one
// reconnect timer is ever pending.
func (t *Transport) lost(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || t.state == StateClosed {
		t.mu.Unlock()
		return
	}
	t.state = StateClosed
	conn := t.conn
	t.conn = nil
	if !t.shutdown && t.timer == nil {
		t.timerSeq++
		seq := t.timerSeq
		t.timer = time.AfterFunc(t.reconnectDelay, func() { t.reconnect(seq) })
	}
	shutdown := t.shutdown
	t.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if !shutdown {
		t.logger.Info().Dur("retry_in", t.reconnectDelay).Msg("websocket disconnected")
	}
	t.emitState(StateClosed)
	if t.cb.OnClose != nil {
		t.cb.OnClose()
	}
}

func (t *Transport) current(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.shutdown && gen == t.gen
}

// reconnect runs when the timer identified by seq fires. A timer that was
// stopped or replaced after it fired does nothing.
func (t *Transport) reconnect(seq uint64) {
	t.mu.Lock()
	if t.timer == nil || seq != t.timerSeq {
		t.mu.Unlock()
		return
	}
	t.timer = nil
	t.mu.Unlock()
	t.Connect()
}

// Send serializes v and writes it as one text frame. When the connection is
// not Open the frame is dropped and ErrNotConnected is returned; there is no
// queue and no retry.
func (t *Transport) Send(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "marshal frame")
	}

	t.mu.Lock()
	conn := t.conn
	open := t.state == StateOpen
	t.mu.Unlock()
	if !open || conn == nil {
		return ErrNotConnected
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		// the read loop observes the broken connection and schedules the reconnect
		return errors.Wrap(err, "write frame")
	}
	return nil
}

// State returns the current connection state.
func (t *Transport) State() ConnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Attempts returns how many connection attempts have been started.
func (t *Transport) Attempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts
}

// Close stops reconnecting and closes the live connection, if any.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.shutdown {
		t.mu.Unlock()
		return nil
	}
	t.shutdown = true
	t.stopTimerLocked()
	conn := t.conn
	t.conn = nil
	wasClosed := t.state == StateClosed
	t.state = StateClosed
	t.gen++
	t.mu.Unlock()

	if !wasClosed {
		t.emitState(StateClosed)
	}
	if conn == nil {
		return nil
	}

	t.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	t.writeMu.Unlock()
	return conn.Close()
}

func (t *Transport) stopTimerLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *Transport) emitState(state ConnState) {
	if t.cb.OnState != nil {
		t.cb.OnState(state)
	}
}

func (t *Transport) emitError(err error) {
	if t.cb.OnError != nil {
		t.cb.OnError(err)
	}
}
