package bridge

import (
	"errors"
	"fmt"
	"testing"
)

type codedErr struct {
	code int
	data any
}

func (e codedErr) Error() string          { return fmt.Sprintf("coded %d", e.code) }
func (e codedErr) ErrorCode() (int, bool) { return e.code, true }
func (e codedErr) ErrorData() any         { return e.data }

func TestSerializeError(t *testing.T) {
	t.Run("plain error", func(t *testing.T) {
		got := SerializeError(errors.New("boom"))
		if got.Message != "boom" || got.Code != nil || got.Data != nil {
			t.Fatalf("unexpected %+v", got)
		}
	})

	t.Run("code and data pass through", func(t *testing.T) {
		wrapped := fmt.Errorf("wrap: %w", codedErr{code: 4001, data: "rejected"})
		got := SerializeError(wrapped)
		if got.Code == nil || *got.Code != 4001 {
			t.Fatalf("expected code 4001, got %+v", got.Code)
		}
		if got.Data != "rejected" {
			t.Fatalf("expected data to pass through, got %v", got.Data)
		}
		if got.Message != "wrap: coded 4001" {
			t.Fatalf("unexpected message %q", got.Message)
		}
	})

	t.Run("rpc error keeps its own message", func(t *testing.T) {
		got := SerializeError(Errorf(-32601, "method %s not found", "eth_foo"))
		if got.Message != "method eth_foo not found" || *got.Code != -32601 {
			t.Fatalf("unexpected %+v", got)
		}
	})
}

func TestClassifiers(t *testing.T) {
	cases := []struct {
		name string
		msg  Message
		fn   func(Message) bool
		want bool
	}{
		{"request", NewRequest("1", RequestPayload{Method: "eth_chainId"}), IsRequest, true},
		{"request wrong source", Message{Type: TypeRequest, Source: SourceContent}, IsRequest, false},
		{"response", NewResult("1", "0x1"), IsResponse, true},
		{"event", NewEvent(EventConnect, nil), IsEvent, true},
		{"ready", NewReady(), IsReady, true},
		{"ready echo is not ready request", NewReady(), IsReadyRequest, false},
		{"ready request", NewReadyRequest(), IsReadyRequest, true},
		{"trigger reload", NewTriggerReload(), IsTriggerReload, true},
		{"tagged event named reload", NewEvent(EventTriggerReload, nil), IsTriggerReload, false},
	}
	for _, tc := range cases {
		if got := tc.fn(tc.msg); got != tc.want {
			t.Errorf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}
}

func TestDecodeRequestPayload(t *testing.T) {
	p, ok := DecodeRequestPayload(map[string]any{"method": "eth_call", "params": []any{"x"}})
	if !ok || p.Method != "eth_call" {
		t.Fatalf("decode map: %+v %v", p, ok)
	}
	if _, ok := DecodeRequestPayload(map[string]any{"method": 7}); ok {
		t.Fatal("non-string method must not decode")
	}
	if _, ok := DecodeRequestPayload(nil); ok {
		t.Fatal("nil must not decode")
	}
	type foreign struct {
		Method string `json:"method"`
	}
	p, ok = DecodeRequestPayload(foreign{Method: "eth_accounts"})
	if !ok || p.Method != "eth_accounts" {
		t.Fatalf("decode struct: %+v %v", p, ok)
	}
}
