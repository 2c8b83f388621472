package dashboard

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/jotkit/jot/internal/autosync"
)

func startTestServer(t *testing.T) *Server {
	t.Helper()

	server := NewServer(&Config{
		Port:   0, // random available port
		Logger: log.New(os.Stderr, "[test] ", log.LstdFlags),
	})

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop() })

	// Give the server time to start accepting.
	time.Sleep(100 * time.Millisecond)

	return server
}

func dialTestClient(t *testing.T, ctx context.Context, server *Server) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })

	return conn
}

func TestServerStartStop(t *testing.T) {
	server := NewServer(&Config{
		Port:   0,
		Logger: log.New(os.Stderr, "[test] ", log.LstdFlags),
	})

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	if server.Addr() == "" {
		t.Fatal("Server address is empty")
	}

	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestWebSocketWelcomeStatus(t *testing.T) {
	server := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialTestClient(t, ctx, server)

	if count := server.ClientCount(); count != 1 {
		t.Errorf("Expected 1 client, got %d", count)
	}

	// New clients get the current status immediately.
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read welcome message: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	if msg.Type != MessageTypeStatus {
		t.Errorf("Expected welcome message type %s, got %s", MessageTypeStatus, msg.Type)
	}
}

func TestBroadcastReachesAllClients(t *testing.T) {
	server := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	numClients := 3
	clients := make([]*websocket.Conn, numClients)
	for i := 0; i < numClients; i++ {
		clients[i] = dialTestClient(t, ctx, server)

		// Drain the welcome message.
		if _, _, err := clients[i].Read(ctx); err != nil {
			t.Fatalf("Client %d failed to read welcome: %v", i, err)
		}
	}

	if count := server.ClientCount(); count != numClients {
		t.Fatalf("Expected %d clients, got %d", numClients, count)
	}

	payload, _ := json.Marshal(RetryData{Attempt: 1, MaxRetries: 3, NextDelayS: 2})
	server.Broadcast(Message{Type: MessageTypeRetry, Data: payload})

	for i, conn := range clients {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("Client %d failed to read broadcast: %v", i, err)
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("Client %d failed to unmarshal: %v", i, err)
		}
		if msg.Type != MessageTypeRetry {
			t.Errorf("Client %d got message type %s, want %s", i, msg.Type, MessageTypeRetry)
		}

		var retry RetryData
		if err := json.Unmarshal(msg.Data, &retry); err != nil {
			t.Fatalf("Client %d failed to unmarshal retry data: %v", i, err)
		}
		if retry.Attempt != 1 || retry.MaxRetries != 3 {
			t.Errorf("Client %d retry data = %+v", i, retry)
		}
	}
}

func TestAttachRelaysEngineStatus(t *testing.T) {
	server := startTestServer(t)

	// A disabled engine still emits status transitions on initialize.
	cfg := autosync.DefaultConfig(t.TempDir())
	cfg.Enabled = false
	engine := autosync.NewEngine(stubPort{}, cfg, nil)
	defer engine.Close()

	detach := server.Attach(engine)
	defer detach()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialTestClient(t, ctx, server)
	if _, _, err := conn.Read(ctx); err != nil {
		t.Fatalf("Failed to read welcome: %v", err)
	}

	if err := engine.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read status broadcast: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	if msg.Type != MessageTypeStatus {
		t.Errorf("Message type = %s, want %s", msg.Type, MessageTypeStatus)
	}

	var st autosync.Status
	if err := json.Unmarshal(msg.Data, &st); err != nil {
		t.Fatalf("Failed to unmarshal status: %v", err)
	}
	if st.State != autosync.StateDisabled {
		t.Errorf("Relayed state = %s, want %s", st.State, autosync.StateDisabled)
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := startTestServer(t)

	resp, err := http.Get("http://" + server.Addr() + "/health")
	if err != nil {
		t.Fatalf("Health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Health status = %d, want 200", resp.StatusCode)
	}

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode health body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("Health status field = %v, want ok", body["status"])
	}
}

// stubPort is the minimal port for engine tests that never sync.
type stubPort struct{}

func (stubPort) IsRepository() bool { return false }

func (stubPort) CurrentBranch(ctx context.Context) (string, error) { return "", nil }

func (stubPort) Pull(ctx context.Context) error { return nil }

func (stubPort) HasLocalChanges(ctx context.Context) (bool, error) { return false, nil }

func (stubPort) HasConflicts(ctx context.Context) (bool, error) { return false, nil }

func (stubPort) ConflictedFiles(ctx context.Context) ([]string, error) { return nil, nil }

func (stubPort) CommitAndPush(ctx context.Context, message string) error { return nil }

func (stubPort) TestConnectivity(ctx context.Context) bool { return false }
