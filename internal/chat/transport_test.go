package chat

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wsTestServer accepts websocket connections and hands each one to handle.
type wsTestServer struct {
	*httptest.Server
	accepted atomic.Int32

	mu       sync.Mutex
	acceptAt []time.Time
	conns    []*websocket.Conn
}

func newWSTestServer(t *testing.T, handle func(conn *websocket.Conn)) *wsTestServer {
	t.Helper()
	s := &wsTestServer{}
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.acceptAt = append(s.acceptAt, time.Now())
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		s.accepted.Add(1)
		if handle != nil {
			handle(conn)
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *wsTestServer) URL() string {
	return "ws" + strings.TrimPrefix(s.Server.URL, "http") + "/ws/chat"
}

func (s *wsTestServer) conn(i int) *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[i]
}

func (s *wsTestServer) acceptTime(i int) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acceptAt[i]
}

// holdOpen keeps a server connection readable until the peer goes away.
func holdOpen(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func newTestTransport(url string, delay time.Duration, cb Callbacks) *Transport {
	return NewTransport(TransportOptions{
		URL:            url,
		ReconnectDelay: delay,
		Callbacks:      cb,
		Logger:         zerolog.Nop(),
	})
}

func TestTransportSendAndReceive(t *testing.T) {
	received := make(chan string, 1)
	srv := newWSTestServer(t, func(conn *websocket.Conn) {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		received <- string(data)
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"thinking","id":0}`))
		holdOpen(conn)
	})

	inbound := make(chan []byte, 1)
	opened := make(chan struct{}, 1)
	tr := newTestTransport(srv.URL(), time.Second, Callbacks{
		OnOpen:    func() { opened <- struct{}{} },
		OnMessage: func(data []byte) { inbound <- data },
	})
	defer tr.Close()

	require.ErrorIs(t, tr.Send(map[string]string{"type": "user_message"}), ErrNotConnected)

	require.True(t, tr.Connect())
	<-opened
	assert.Equal(t, StateOpen, tr.State())

	require.NoError(t, tr.Send(map[string]interface{}{"type": "user_message", "content": "hi", "id": 0}))
	assert.JSONEq(t, `{"type":"user_message","content":"hi","id":0}`, <-received)
	assert.JSONEq(t, `{"type":"thinking","id":0}`, string(<-inbound))
}

func TestTransportConnectIsGuarded(t *testing.T) {
	srv := newWSTestServer(t, holdOpen)
	tr := newTestTransport(srv.URL(), time.Second, Callbacks{})
	defer tr.Close()

	require.True(t, tr.Connect())
	assert.False(t, tr.Connect(), "connect while connecting")

	require.Eventually(t, func() bool { return tr.State() == StateOpen }, time.Second, 5*time.Millisecond)
	assert.False(t, tr.Connect(), "connect while open")
	assert.Equal(t, 1, tr.Attempts())
	assert.Equal(t, int32(1), srv.accepted.Load())
}

func TestTransportReconnectsAfterFixedDelay(t *testing.T) {
	const delay = 150 * time.Millisecond
	srv := newWSTestServer(t, holdOpen)

	var closes atomic.Int32
	tr := newTestTransport(srv.URL(), delay, Callbacks{
		OnClose: func() { closes.Add(1) },
	})
	defer tr.Close()

	tr.Connect()
	require.Eventually(t, func() bool { return tr.State() == StateOpen }, time.Second, 5*time.Millisecond)

	closedAt := time.Now()
	require.NoError(t, srv.conn(0).Close())

	require.Eventually(t, func() bool { return srv.accepted.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, srv.acceptTime(1).Sub(closedAt), delay)
	assert.Equal(t, int32(1), closes.Load())
	require.Eventually(t, func() bool { return tr.State() == StateOpen }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, tr.Attempts())
}

func TestTransportRepeatedCloseSchedulesOneAttempt(t *testing.T) {
	const delay = 80 * time.Millisecond
	srv := newWSTestServer(t, holdOpen)
	tr := newTestTransport(srv.URL(), delay, Callbacks{})
	defer tr.Close()

	tr.Connect()
	require.Eventually(t, func() bool { return tr.State() == StateOpen }, time.Second, 5*time.Millisecond)

	tr.mu.Lock()
	gen := tr.gen
	tr.mu.Unlock()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.lost(gen)
		}()
	}
	wg.Wait()
	assert.Equal(t, StateClosed, tr.State())

	require.Eventually(t, func() bool { return tr.State() == StateOpen }, time.Second, 5*time.Millisecond)
	time.Sleep(3 * delay)
	assert.Equal(t, 2, tr.Attempts())
	assert.Equal(t, int32(2), srv.accepted.Load())
}

func TestTransportRetriesFailedDialsUntilClosed(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	var errs atomic.Int32
	tr := newTestTransport(url, 30*time.Millisecond, Callbacks{
		OnError: func(error) { errs.Add(1) },
	})
	tr.Connect()

	require.Eventually(t, func() bool { return tr.Attempts() >= 3 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, tr.Close())

	attempts := tr.Attempts()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, attempts, tr.Attempts())
	assert.GreaterOrEqual(t, errs.Load(), int32(2))
	assert.False(t, tr.Connect())
}

func TestTransportStaleTimerDoesNotReconnect(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	tr := newTestTransport(url, time.Hour, Callbacks{})
	defer tr.Close()
	tr.Connect()

	armed := func() (bool, uint64) {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		return tr.timer != nil, tr.timerSeq
	}
	require.Eventually(t, func() bool { ok, _ := armed(); return ok }, time.Second, 5*time.Millisecond)
	_, seq := armed()

	// a timer that fired before being replaced
	tr.reconnect(seq - 1)
	ok, _ := armed()
	assert.True(t, ok, "current timer kept")
	assert.Equal(t, 1, tr.Attempts())

	tr.reconnect(seq)
	assert.Equal(t, 2, tr.Attempts())
}

func TestDefaultReconnectDelay(t *testing.T) {
	assert.Equal(t, 3000*time.Millisecond, DefaultReconnectDelay)

	tr := NewTransport(TransportOptions{URL: "ws://127.0.0.1:1/ws/chat", Logger: zerolog.Nop()})
	assert.Equal(t, 3*time.Second, tr.reconnectDelay)
}
