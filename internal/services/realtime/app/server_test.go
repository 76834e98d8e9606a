package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/net/websocket"

	platformgrpc "github.com/pawmates/realtime/internal/platform/grpc"
	"github.com/pawmates/realtime/internal/services/realtime/actor"
)

func TestNewServerRequiresHTTPAddr(t *testing.T) {
	t.Parallel()

	if _, err := NewServer(Config{StoragePath: filepath.Join(t.TempDir(), "realtime.db")}); err == nil {
		t.Fatal("expected error for missing http address")
	}
}

func TestNewServerRequiresStoragePath(t *testing.T) {
	t.Parallel()

	if _, err := NewServer(Config{HTTPAddr: "127.0.0.1:0"}); err == nil {
		t.Fatal("expected error for missing storage path")
	}
}

func TestUpEndpoint(t *testing.T) {
	t.Parallel()

	env := newWSTestEnv(t, actor.Options{})

	resp, err := http.Get(env.srv.URL + "/up")
	if err != nil {
		t.Fatalf("get /up: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "OK" {
		t.Fatalf("expected OK body, got %q", body)
	}
}

func TestPollRequiresUserID(t *testing.T) {
	t.Parallel()

	env := newWSTestEnv(t, actor.Options{})

	resp, err := http.Get(env.srv.URL + "/poll/messages")
	if err != nil {
		t.Fatalf("get /poll: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if strings.TrimSpace(string(body)) != "Missing user_id query parameter" {
		t.Fatalf("unexpected body: %q", body)
	}
}

func TestPollRejectsUnknownType(t *testing.T) {
	t.Parallel()

	env := newWSTestEnv(t, actor.Options{})

	resp, err := http.Get(env.srv.URL + "/poll/weather?user_id=user_a")
	if err != nil {
		t.Fatalf("get /poll: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestPollExpiresWithoutSignal(t *testing.T) {
	t.Parallel()

	env := newWSTestEnv(t, actor.Options{LongPollWindow: 50 * time.Millisecond})

	resp, err := http.Get(env.srv.URL + "/poll/messages?user_id=user_a")
	if err != nil {
		t.Fatalf("get /poll: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result struct {
		Updated bool   `json:"updated"`
		Type    string `json:"type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode poll result: %v", err)
	}
	if result.Updated {
		t.Fatal("expected updated=false on expiry")
	}
	if result.Type != "messages" {
		t.Fatalf("expected messages type, got %q", result.Type)
	}
}

func TestPollResolvedBySignal(t *testing.T) {
	t.Parallel()

	env := newWSTestEnv(t, actor.Options{})

	type pollResponse struct {
		result struct {
			Updated bool   `json:"updated"`
			Type    string `json:"type"`
		}
		err error
	}
	results := make(chan pollResponse, 1)
	go func() {
		var pr pollResponse
		resp, err := http.Get(env.srv.URL + "/poll/notifications?user_id=user_a")
		if err != nil {
			pr.err = err
			results <- pr
			return
		}
		defer resp.Body.Close()
		pr.err = json.NewDecoder(resp.Body).Decode(&pr.result)
		results <- pr
	}()

	// Wait for the poll request to register its waiter before signalling.
	deadline := time.Now().Add(2 * time.Second)
	signalled := false
	for time.Now().Before(deadline) {
		resp, err := http.Post(env.srv.URL+"/new/notifications?user_id=user_a", "application/json", nil)
		if err != nil {
			t.Fatalf("post /new: %v", err)
		}
		resp.Body.Close()
		select {
		case pr := <-results:
			if pr.err != nil {
				t.Fatalf("poll request: %v", pr.err)
			}
			if !pr.result.Updated {
				t.Fatal("expected updated=true from signal")
			}
			if pr.result.Type != "notifications" {
				t.Fatalf("expected notifications type, got %q", pr.result.Type)
			}
			signalled = true
		default:
			time.Sleep(10 * time.Millisecond)
		}
		if signalled {
			break
		}
	}
	if !signalled {
		t.Fatal("poll never resolved by signal")
	}
}

func TestSignalWithoutWaiters(t *testing.T) {
	t.Parallel()

	env := newWSTestEnv(t, actor.Options{})

	resp, err := http.Post(env.srv.URL+"/new/messages?user_id=user_a", "application/json", nil)
	if err != nil {
		t.Fatalf("post /new: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "Trigger delivered." {
		t.Fatalf("unexpected body: %q", body)
	}
}

func TestSignalRejectsGet(t *testing.T) {
	t.Parallel()

	env := newWSTestEnv(t, actor.Options{})

	resp, err := http.Get(env.srv.URL + "/new/messages?user_id=user_a")
	if err != nil {
		t.Fatalf("get /new: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}

func TestPushWithoutConnection(t *testing.T) {
	t.Parallel()

	env := newWSTestEnv(t, actor.Options{})

	resp, err := http.Post(env.srv.URL+"/push?user_id=user_a", "application/json", strings.NewReader(`{"type":"booking_update"}`))
	if err != nil {
		t.Fatalf("post /push: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if strings.TrimSpace(string(body)) != "No active connection" {
		t.Fatalf("unexpected body: %q", body)
	}
}

func TestPushRejectsInvalidJSON(t *testing.T) {
	t.Parallel()

	env := newWSTestEnv(t, actor.Options{})

	resp, err := http.Post(env.srv.URL+"/push?user_id=user_a", "application/json", bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatalf("post /push: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestPushDeliversToOpenSocket(t *testing.T) {
	t.Parallel()

	env := newWSTestEnv(t, actor.Options{})
	conn := env.dial(t, "user_a")
	readFrame(t, conn) // subscribed

	resp, err := http.Post(env.srv.URL+"/push?user_id=user_a", "application/json", strings.NewReader(`{"type":"booking_update","message":"confirmed"}`))
	if err != nil {
		t.Fatalf("post /push: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	frame := readFrame(t, conn)
	if frame.Type != "booking_update" || frame.Message != "confirmed" {
		t.Fatalf("expected pushed payload, got %+v", frame)
	}
}

func TestPushForwardsOpaquePayloads(t *testing.T) {
	t.Parallel()

	env := newWSTestEnv(t, actor.Options{})
	conn := env.dial(t, "user_a")
	readFrame(t, conn) // subscribed

	readRaw := func() string {
		t.Helper()
		if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
			t.Fatalf("set read deadline: %v", err)
		}
		var raw json.RawMessage
		if err := websocket.JSON.Receive(conn, &raw); err != nil {
			t.Fatalf("receive frame: %v", err)
		}
		return string(raw)
	}

	resp, err := http.Post(env.srv.URL+"/push?user_id=user_a", "application/json", strings.NewReader(`["booking_update","confirmed"]`))
	if err != nil {
		t.Fatalf("post /push: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for array payload, got %d", resp.StatusCode)
	}
	if got := readRaw(); got != `["booking_update","confirmed"]` {
		t.Fatalf("expected array payload untouched, got %s", got)
	}

	resp, err = http.Post(env.srv.URL+"/push?user_id=user_a", "application/json", nil)
	if err != nil {
		t.Fatalf("post /push: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for empty body, got %d", resp.StatusCode)
	}
	if got := readRaw(); got != "{}" {
		t.Fatalf("expected empty body delivered as empty object, got %s", got)
	}
}

func TestServerServesOpsHealth(t *testing.T) {
	t.Parallel()

	srv, err := NewServer(Config{
		HTTPAddr:    "127.0.0.1:0",
		OpsAddr:     "127.0.0.1:0",
		StoragePath: filepath.Join(t.TempDir(), "realtime.db"),
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.ListenAndServe(ctx)
	}()

	dialCtx, dialCancel := context.WithTimeout(ctx, 5*time.Second)
	conn, err := platformgrpc.DialWithHealth(dialCtx, srv.OpsAddr(), 5*time.Second, t.Logf, platformgrpc.DefaultClientDialOptions()...)
	dialCancel()
	if err != nil {
		t.Fatalf("dial ops health: %v", err)
	}
	_ = conn.Close()

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("listen and serve: %v", err)
	}
	srv.Close()
}
