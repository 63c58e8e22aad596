package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
)

const namespace = "splits-connect:porto"

// Source and type tags. A message is only part of the protocol when both match.
const (
	SourceInpage  = namespace + ":inpage"
	SourceContent = namespace + ":content"

	TypeRequest      = namespace + ":request"
	TypeResponse     = namespace + ":response"
	TypeEvent        = namespace + ":event"
	TypeReady        = namespace + ":ready"
	TypeReadyRequest = namespace + ":ready-request"

	// EventTriggerReload is posted untagged to the page when the environment changes.
	EventTriggerReload = "trigger-reload"
)

// Provider event names re-emitted to page listeners.
const (
	EventAccountsChanged = "accountsChanged"
	EventChainChanged    = "chainChanged"
	EventConnect         = "connect"
	EventDisconnect      = "disconnect"
	EventMessage         = "message"
)

// ProviderEvents lists every event the bridge forwards.
var ProviderEvents = []string{
	EventAccountsChanged,
	EventChainChanged,
	EventConnect,
	EventDisconnect,
	EventMessage,
}

// IsProviderEvent reports whether name is a forwarded provider event.
func IsProviderEvent(name string) bool {
	for _, ev := range ProviderEvents {
		if ev == name {
			return true
		}
	}
	return false
}

// RequestPayload is the EIP-1193 request body.
type RequestPayload struct {
	Method string `json:"method" msgpack:"method"`
	Params any    `json:"params,omitempty" msgpack:"params"`
}

// Message is the unit exchanged between contexts. Which fields are set depends
// on Type; see the constructors below. The any-typed fields carry no msgpack
// omitempty: the codec would drop false, 0, "" and empty lists.
type Message struct {
	ID      string    `json:"id,omitempty" msgpack:"id,omitempty"`
	Source  string    `json:"source,omitempty" msgpack:"source,omitempty"`
	Type    string    `json:"type,omitempty" msgpack:"type,omitempty"`
	Payload any       `json:"payload,omitempty" msgpack:"payload"`
	Result  any       `json:"result,omitempty" msgpack:"result"`
	Error   *RPCError `json:"error,omitempty" msgpack:"error,omitempty"`
	Event   string    `json:"event,omitempty" msgpack:"event,omitempty"`
}

// RPCError is the serialized form of a failed request.
type RPCError struct {
	Code    *int   `json:"code,omitempty" msgpack:"code,omitempty"`
	Data    any    `json:"data,omitempty" msgpack:"data"`
	Message string `json:"message" msgpack:"message"`
}

func (e *RPCError) Error() string {
	if e.Code != nil {
		return fmt.Sprintf("rpc error %d: %s", *e.Code, e.Message)
	}
	return e.Message
}

// ErrorCode returns the numeric code and whether one was set.
func (e *RPCError) ErrorCode() (int, bool) {
	if e.Code == nil {
		return 0, false
	}
	return *e.Code, true
}

// Coder is implemented by errors that carry a numeric RPC code.
type Coder interface {
	ErrorCode() (int, bool)
}

// DataCarrier is implemented by errors that carry an RPC data field.
type DataCarrier interface {
	ErrorData() any
}

// ErrorData returns the attached data field.
func (e *RPCError) ErrorData() any {
	return e.Data
}

// SerializeError converts any error into the wire form. Code and data pass
// through when the error chain carries them; the message defaults to err's text.
func SerializeError(err error) *RPCError {
	if err == nil {
		return &RPCError{Message: "unknown error"}
	}
	out := &RPCError{Message: err.Error()}
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		out.Message = rpcErr.Message
	}
	var coder Coder
	if errors.As(err, &coder) {
		if code, ok := coder.ErrorCode(); ok {
			out.Code = &code
		}
	}
	var carrier DataCarrier
	if errors.As(err, &carrier) {
		out.Data = carrier.ErrorData()
	}
	return out
}

// Errorf builds an RPCError with a code.
func Errorf(code int, format string, args ...any) *RPCError {
	return &RPCError{Code: &code, Message: fmt.Sprintf(format, args...)}
}

// DecodeRequestPayload normalizes a request payload that may have crossed a
// codec (and become a generic map) back into a RequestPayload.
func DecodeRequestPayload(v any) (RequestPayload, bool) {
	switch p := v.(type) {
	case RequestPayload:
		return p, true
	case *RequestPayload:
		if p == nil {
			return RequestPayload{}, false
		}
		return *p, true
	case map[string]any:
		method, ok := p["method"].(string)
		if !ok {
			return RequestPayload{}, false
		}
		return RequestPayload{Method: method, Params: p["params"]}, true
	case nil:
		return RequestPayload{}, false
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return RequestPayload{}, false
	}
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return RequestPayload{}, false
	}
	return DecodeRequestPayload(generic)
}
