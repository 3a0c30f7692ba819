package connection

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/kalshi-replay/internal/auth"
)

// mockWSServer creates a test WebSocket server.
func mockWSServer(t *testing.T, handler func(*websocket.Conn, *http.Request)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn, r)
	}))

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func testClientConfig(server *httptest.Server) ClientConfig {
	return ClientConfig{
		URL:          wsURL(server),
		PingInterval: time.Minute,
		PingTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   100,
	}
}

func drainReads(conn *websocket.Conn, _ *http.Request) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func TestClient_Connect(t *testing.T) {
	server := mockWSServer(t, drainReads)
	defer server.Close()

	client := NewClient(testClientConfig(server), nil)

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if !client.IsConnected() {
		t.Error("expected IsConnected to return true")
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if client.IsConnected() {
		t.Error("expected IsConnected to return false after Close")
	}

	// Closed clients can't reconnect
	if err := client.Connect(context.Background()); err != ErrAlreadyClosed {
		t.Errorf("Connect after Close = %v, want ErrAlreadyClosed", err)
	}
}

func TestClient_SignsHandshake(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate test key: %v", err)
	}

	headers := make(chan http.Header, 1)
	server := mockWSServer(t, func(conn *websocket.Conn, r *http.Request) {
		headers <- r.Header.Clone()
		drainReads(conn, r)
	})
	defer server.Close()

	cfg := testClientConfig(server)
	cfg.Credentials = &auth.Credentials{KeyID: "key-123", PrivateKey: key}
	cfg.UserAgent = "kalshi-replay-recorder/test"

	client := NewClient(cfg, nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	h := <-headers
	if got := h.Get("KALSHI-ACCESS-KEY"); got != "key-123" {
		t.Errorf("KALSHI-ACCESS-KEY = %q, want key-123", got)
	}
	if h.Get("KALSHI-ACCESS-SIGNATURE") == "" || h.Get("KALSHI-ACCESS-TIMESTAMP") == "" {
		t.Error("missing signature headers")
	}
	if got := h.Get("User-Agent"); got != "kalshi-replay-recorder/test" {
		t.Errorf("User-Agent = %q", got)
	}
}

func TestClient_Subscribe(t *testing.T) {
	received := make(chan []byte, 2)
	server := mockWSServer(t, func(conn *websocket.Conn, _ *http.Request) {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- msg
		}
	})
	defer server.Close()

	client := NewClient(testClientConfig(server), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	id1, err := client.Subscribe([]string{"trade", "ticker"}, nil)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	id2, _ := client.Subscribe([]string{"orderbook_delta"}, []string{"PRES-DEM"})
	if id2 <= id1 {
		t.Errorf("command ids %d, %d are not increasing", id1, id2)
	}

	var cmd struct {
		ID     int64           `json:"id"`
		Cmd    string          `json:"cmd"`
		Params SubscribeParams `json:"params"`
	}
	for i, want := range []string{"trade,ticker", "orderbook_delta"} {
		select {
		case msg := <-received:
			if err := json.Unmarshal(msg, &cmd); err != nil {
				t.Fatalf("unmarshal command: %v", err)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for command %d", i)
		}
		if cmd.Cmd != "subscribe" || strings.Join(cmd.Params.Channels, ",") != want {
			t.Errorf("command %d = %+v", i, cmd)
		}
	}
	if len(cmd.Params.MarketTickers) != 1 || cmd.Params.MarketTickers[0] != "PRES-DEM" {
		t.Errorf("MarketTickers = %v", cmd.Params.MarketTickers)
	}
}

func TestClient_Messages(t *testing.T) {
	testMessages := []string{
		`{"type": "test", "data": 1}`,
		`{"type": "test", "data": 2}`,
		`{"type": "test", "data": 3}`,
	}

	server := mockWSServer(t, func(conn *websocket.Conn, _ *http.Request) {
		for _, msg := range testMessages {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		time.Sleep(time.Second)
	})
	defer server.Close()

	client := NewClient(testClientConfig(server), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	var received []string
	timeout := time.After(500 * time.Millisecond)

	for i := 0; i < len(testMessages); i++ {
		select {
		case msg := <-client.Messages():
			received = append(received, string(msg.Data))
			if msg.ReceivedAt.IsZero() {
				t.Error("ReceivedAt should not be zero")
			}
		case <-timeout:
			t.Fatalf("timeout waiting for messages, received %d of %d", len(received), len(testMessages))
		}
	}

	for i, want := range testMessages {
		if received[i] != want {
			t.Errorf("message %d: got %q, want %q", i, received[i], want)
		}
	}
}

func TestClient_LosslessBlocksInsteadOfDropping(t *testing.T) {
	const total = 20

	server := mockWSServer(t, func(conn *websocket.Conn, _ *http.Request) {
		for i := 0; i < total; i++ {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(fmt.Sprintf(`{"n":%d}`, i))); err != nil {
				return
			}
		}
		time.Sleep(time.Second)
	})
	defer server.Close()

	cfg := testClientConfig(server)
	cfg.BufferSize = 1
	cfg.Lossless = true

	client := NewClient(cfg, nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	// Let the server outrun the one-slot buffer before reading.
	time.Sleep(50 * time.Millisecond)

	for i := 0; i < total; i++ {
		select {
		case msg := <-client.Messages():
			if want := fmt.Sprintf(`{"n":%d}`, i); string(msg.Data) != want {
				t.Fatalf("message %d = %s, want %s", i, msg.Data, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout after %d of %d messages", i, total)
		}
	}
}

func TestClient_ReportsServerClose(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn, _ *http.Request) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "restart"),
			time.Now().Add(time.Second))
	})
	defer server.Close()

	client := NewClient(testClientConfig(server), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	select {
	case err := <-client.Errors():
		if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
			t.Errorf("error = %v, want going away close", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for connection error")
	}
}

func TestClient_SendNotConnected(t *testing.T) {
	client := NewClient(ClientConfig{URL: "ws://localhost:12345", BufferSize: 100}, nil)

	if err := client.Send([]byte("test")); err != ErrNotConnected {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if _, err := client.Subscribe([]string{"trade"}, nil); err != ErrNotConnected {
		t.Errorf("expected ErrNotConnected from Subscribe, got %v", err)
	}
}

func TestClient_DoubleClose(t *testing.T) {
	server := mockWSServer(t, drainReads)
	defer server.Close()

	client := NewClient(testClientConfig(server), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("first Close failed: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestClient_PingHandler(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn, _ *http.Request) {
		if err := conn.WriteControl(websocket.PingMessage, []byte("heartbeat"), time.Now().Add(time.Second)); err != nil {
			return
		}
		time.Sleep(500 * time.Millisecond)
	})
	defer server.Close()

	client := NewClient(testClientConfig(server), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	time.Sleep(200 * time.Millisecond)

	if !client.IsConnected() {
		t.Error("expected client to be connected after ping")
	}
}

func TestDefaultConfigs(t *testing.T) {
	clientCfg := DefaultClientConfig()
	if clientCfg.PingTimeout != 60*time.Second {
		t.Errorf("PingTimeout = %v, want 60s", clientCfg.PingTimeout)
	}
	if clientCfg.PingInterval != 30*time.Second {
		t.Errorf("PingInterval = %v, want 30s", clientCfg.PingInterval)
	}

	feedCfg := DefaultFeedConfig()
	if feedCfg.ReconnectBaseWait != time.Second || feedCfg.ReconnectMaxWait != time.Minute {
		t.Errorf("reconnect waits = %v..%v", feedCfg.ReconnectBaseWait, feedCfg.ReconnectMaxWait)
	}
}
