package websocket

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskstream/pkg/errors"
	"riskstream/pkg/logger"
)

const testDelay = 50 * time.Millisecond

// recordingHandler keeps the order of everything the client reports
type recordingHandler struct {
	mu     sync.Mutex
	events []string
	frames chan string
	states chan bool
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		frames: make(chan string, 16),
		states: make(chan bool, 16),
	}
}

func (h *recordingHandler) HandleFrame(frame []byte) {
	h.mu.Lock()
	h.events = append(h.events, "frame:"+string(frame))
	h.mu.Unlock()
	h.frames <- string(frame)
}

func (h *recordingHandler) OnConnectionChange(connected bool) {
	h.mu.Lock()
	if connected {
		h.events = append(h.events, "open")
	} else {
		h.events = append(h.events, "closed")
	}
	h.mu.Unlock()
	h.states <- connected
}

func (h *recordingHandler) Events() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.events...)
}

// testServer accepts websocket connections and hands them to the test
type testServer struct {
	*httptest.Server
	conns    chan *websocket.Conn
	received chan string
}

func newTestServer(t *testing.T, greeting string) *testServer {
	t.Helper()
	ts := &testServer{
		conns:    make(chan *websocket.Conn, 8),
		received: make(chan string, 8),
	}
	upgrader := websocket.Upgrader{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if greeting != "" {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(greeting))
		}
		ts.conns <- conn
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			ts.received <- string(data)
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func newTestClient(t *testing.T, url string, h Handler) *Client {
	t.Helper()
	c := NewClient(ClientConfig{URL: url, ReconnectDelay: testDelay}, h, logger.Nop())
	t.Cleanup(c.Close)
	return c
}

func waitState(t *testing.T, h *recordingHandler, want bool) {
	t.Helper()
	select {
	case got := <-h.states:
		require.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for connected=%v", want)
	}
}

func waitConn(t *testing.T, ts *testServer) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-ts.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server connection")
		return nil
	}
}

func TestClient_ConnectDeliversFramesAfterOpen(t *testing.T) {
	ts := newTestServer(t, `{"type":"connection","data":{"status":"connected"}}`)
	h := newRecordingHandler()
	c := newTestClient(t, ts.wsURL(), h)

	require.NoError(t, c.Connect(context.Background()))
	assert.True(t, c.IsConnected())
	waitState(t, h, true)

	select {
	case frame := <-h.frames:
		assert.Equal(t, `{"type":"connection","data":{"status":"connected"}}`, frame)
	case <-time.After(2 * time.Second):
		t.Fatal("frame not delivered")
	}

	events := h.Events()
	require.GreaterOrEqual(t, len(events), 2)
	assert.Equal(t, "open", events[0])
}

func TestClient_ConnectIsIdempotent(t *testing.T) {
	ts := newTestServer(t, "")
	h := newRecordingHandler()
	c := newTestClient(t, ts.wsURL(), h)

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Connect(context.Background()))
	waitConn(t, ts)

	select {
	case <-ts.conns:
		t.Fatal("second connect opened another connection")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestClient_ReconnectsAfterServerClose(t *testing.T) {
	ts := newTestServer(t, "")
	h := newRecordingHandler()
	c := newTestClient(t, ts.wsURL(), h)

	require.NoError(t, c.Connect(context.Background()))
	waitState(t, h, true)

	serverConn := waitConn(t, ts)
	start := time.Now()
	serverConn.Close()

	waitState(t, h, false)
	waitState(t, h, true)
	assert.GreaterOrEqual(t, time.Since(start), testDelay)
	waitConn(t, ts)

	assert.True(t, c.IsConnected())
	assert.Equal(t, 1, c.ReconnectStats().Fired)
}

func TestClient_DisconnectStopsReconnection(t *testing.T) {
	ts := newTestServer(t, "")
	h := newRecordingHandler()
	c := newTestClient(t, ts.wsURL(), h)

	require.NoError(t, c.Connect(context.Background()))
	waitState(t, h, true)
	waitConn(t, ts)

	c.Disconnect()
	waitState(t, h, false)
	assert.False(t, c.IsConnected())

	time.Sleep(3 * testDelay)
	select {
	case <-ts.conns:
		t.Fatal("client reconnected after explicit disconnect")
	default:
	}
	assert.Equal(t, 0, c.ReconnectStats().Scheduled)
}

func TestClient_ConnectFailureSchedulesReconnect(t *testing.T) {
	ts := newTestServer(t, "")
	url := ts.wsURL()
	ts.Close()

	h := newRecordingHandler()
	c := newTestClient(t, url, h)

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.False(t, c.IsConnected())
	assert.True(t, c.ReconnectStats().Pending)

	c.Disconnect()
	assert.False(t, c.ReconnectStats().Pending)
	assert.Equal(t, 1, c.ReconnectStats().Cancelled)
}

func TestClient_RetriesUntilServerAppears(t *testing.T) {
	ts := newTestServer(t, "")
	h := newRecordingHandler()

	// first attempts hit a dead port; swap in the live server once a couple failed
	c := newTestClient(t, "ws://127.0.0.1:1", h)
	require.Error(t, c.Connect(context.Background()))

	require.Eventually(t, func() bool {
		return c.ReconnectStats().Fired >= 2
	}, 2*time.Second, 10*time.Millisecond)

	c.mu.Lock()
	c.cfg.URL = ts.wsURL()
	c.mu.Unlock()

	waitState(t, h, true)
	waitConn(t, ts)
}

func TestClient_SendWhileClosed(t *testing.T) {
	h := newRecordingHandler()
	c := newTestClient(t, "ws://127.0.0.1:1", h)

	err := c.Send(map[string]string{"type": "subscribe"})
	assert.True(t, errors.Is(err, errors.ErrWSNotConnected))
}

func TestClient_Send(t *testing.T) {
	ts := newTestServer(t, "")
	h := newRecordingHandler()
	c := newTestClient(t, ts.wsURL(), h)

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Send(map[string]string{"type": "subscribe", "portfolio_id": "p1"}))
	require.NoError(t, c.Send([]byte(`{"type":"ping"}`)))

	for _, want := range []string{`{"portfolio_id":"p1","type":"subscribe"}`, `{"type":"ping"}`} {
		select {
		case got := <-ts.received:
			assert.JSONEq(t, want, got)
		case <-time.After(2 * time.Second):
			t.Fatal("server did not receive message")
		}
	}
}

// silentListener accepts TCP connections and never answers the websocket handshake
type silentListener struct {
	net.Listener
	accepted chan net.Conn
}

func newSilentListener(t *testing.T) *silentListener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	sl := &silentListener{Listener: ln, accepted: make(chan net.Conn, 16)}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			sl.accepted <- conn
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		for {
			select {
			case conn := <-sl.accepted:
				_ = conn.Close()
			default:
				return
			}
		}
	})
	return sl
}

func (sl *silentListener) wsURL() string {
	return "ws://" + sl.Addr().String()
}

func (sl *silentListener) waitAccept(t *testing.T) {
	t.Helper()
	select {
	case conn := <-sl.accepted:
		t.Cleanup(func() { _ = conn.Close() })
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dial")
	}
}

func TestClient_ConcurrentConnectWaitsForDial(t *testing.T) {
	sl := newSilentListener(t)
	h := newRecordingHandler()
	c := NewClient(ClientConfig{
		URL:              sl.wsURL(),
		ReconnectDelay:   time.Minute,
		HandshakeTimeout: 200 * time.Millisecond,
	}, h, logger.Nop())
	t.Cleanup(c.Close)

	first := make(chan error, 1)
	go func() { first <- c.Connect(context.Background()) }()
	sl.waitAccept(t)

	start := time.Now()
	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.False(t, c.IsConnected())
	assert.Greater(t, time.Since(start), 50*time.Millisecond)

	select {
	case firstErr := <-first:
		require.Error(t, firstErr)
		assert.Equal(t, firstErr.Error(), err.Error())
	case <-time.After(2 * time.Second):
		t.Fatal("first connect never returned")
	}

	select {
	case <-sl.accepted:
		t.Fatal("second connect dialed again")
	default:
	}
}

func TestClient_ConcurrentConnectSharesSuccess(t *testing.T) {
	ts := newTestServer(t, "")
	h := newRecordingHandler()
	c := newTestClient(t, ts.wsURL(), h)

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- c.Connect(context.Background())
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.True(t, c.IsConnected())
	waitConn(t, ts)

	select {
	case <-ts.conns:
		t.Fatal("concurrent connects opened more than one connection")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestClient_ServerCloseRacingDisconnect(t *testing.T) {
	ts := newTestServer(t, "")
	h := newRecordingHandler()
	c := newTestClient(t, ts.wsURL(), h)

	require.NoError(t, c.Connect(context.Background()))
	waitState(t, h, true)
	serverConn := waitConn(t, ts)

	// the read loop sees the close while Disconnect is queued behind it
	c.notifyMu.Lock()
	serverConn.Close()
	time.Sleep(20 * time.Millisecond)

	disconnected := make(chan struct{})
	go func() {
		c.Disconnect()
		close(disconnected)
	}()
	time.Sleep(20 * time.Millisecond)
	c.notifyMu.Unlock()
	<-disconnected

	time.Sleep(5 * testDelay)

	assert.False(t, c.IsConnected())
	assert.False(t, c.ReconnectStats().Pending)
	assert.Equal(t, 0, c.ReconnectStats().Fired)
	assert.Equal(t, []string{"open", "closed"}, h.Events())
	select {
	case <-ts.conns:
		t.Fatal("connection re-opened after Disconnect")
	default:
	}
}

func TestClient_DisconnectDuringReconnectDial(t *testing.T) {
	sl := newSilentListener(t)
	h := newRecordingHandler()
	c := NewClient(ClientConfig{
		URL:              sl.wsURL(),
		ReconnectDelay:   testDelay,
		HandshakeTimeout: 300 * time.Millisecond,
	}, h, logger.Nop())
	t.Cleanup(c.Close)

	require.Error(t, c.Connect(context.Background()))
	sl.waitAccept(t)

	// the scheduled attempt is now stuck in the handshake
	sl.waitAccept(t)
	require.Equal(t, 1, c.ReconnectStats().Fired)

	c.Disconnect()
	time.Sleep(5 * testDelay)

	assert.False(t, c.IsConnected())
	assert.False(t, c.ReconnectStats().Pending)
	assert.Equal(t, 1, c.ReconnectStats().Scheduled)
	assert.Empty(t, h.Events())
	select {
	case <-sl.accepted:
		t.Fatal("dialed again after Disconnect")
	default:
	}
}
