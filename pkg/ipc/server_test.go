package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func startTestServer(t *testing.T) (string, *Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	socket := filepath.Join(t.TempDir(), "ipc.sock")
	srv := NewServer(nil)
	srv.Register("echo_origin", func(ctx context.Context, params json.RawMessage) (any, *Error) {
		var in struct {
			Token string `json:"token"`
		}
		if err := json.Unmarshal(params, &in); err != nil {
			return nil, Errorf("INVALID_REQUEST", "invalid params", nil)
		}
		return map[string]any{"origin": OriginFrom(ctx), "token": in.Token}, nil
	})
	if err := srv.Start(ctx, socket); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })
	return socket, srv
}

func TestCallCarriesOrigin(t *testing.T) {
	socket, _ := startTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := Call(ctx, socket, Request{
		Type:   "echo_origin",
		Origin: "https://teams.splits.org",
		Params: json.RawMessage(`{"token":"abc"}`),
	})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if !resp.OK || resp.TraceID == "" {
		t.Fatalf("unexpected response %+v", resp)
	}
	var out map[string]string
	if err := json.Unmarshal(resp.Result, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["origin"] != "https://teams.splits.org" || out["token"] != "abc" {
		t.Fatalf("unexpected result %v", out)
	}
}

func TestCallUnknownMethod(t *testing.T) {
	socket, _ := startTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := Call(ctx, socket, Request{Type: "nope"})
	var ipcErr *Error
	if !errors.As(err, &ipcErr) || ipcErr.Code != "INVALID_REQUEST" {
		t.Fatalf("expected INVALID_REQUEST, got %v", err)
	}
}

func TestStreamDeliversBroadcasts(t *testing.T) {
	socket, srv := startTestServer(t)
	hub := NewHub(nil)
	srv.RegisterStream("subscribe_events", hub.Stream())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	frames := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- Stream(ctx, socket, Request{Type: "subscribe_events"}, func(frame []byte) error {
			frames <- string(frame)
			return errors.New("stop")
		})
	}()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(2 * time.Millisecond)
	}
	hub.Broadcast(map[string]string{"event": "env_changed", "mode": "dev"})

	select {
	case frame := <-frames:
		if frame != `{"event":"env_changed","mode":"dev"}` {
			t.Fatalf("unexpected frame %s", frame)
		}
	case <-ctx.Done():
		t.Fatal("no frame received")
	}
	if err := <-done; err == nil || err.Error() != "stop" {
		t.Fatalf("unexpected stream result %v", err)
	}

	for hub.Subscribers() != 0 {
		if time.Now().After(deadline.Add(2 * time.Second)) {
			t.Fatal("subscription not released after hang-up")
		}
		time.Sleep(2 * time.Millisecond)
	}
}
