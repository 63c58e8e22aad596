package window

import (
	"github.com/vmihailenco/msgpack/v5"

	"github.com/rexliu/splitsconnect/pkg/bridge"
)

// EncodeMessage encodes a message using msgpack.
func EncodeMessage(msg bridge.Message) ([]byte, error) {
	return msgpack.Marshal(msg)
}

// DecodeMessage decodes a msgpack frame into a message.
func DecodeMessage(data []byte) (bridge.Message, error) {
	var msg bridge.Message
	err := msgpack.Unmarshal(data, &msg)
	return msg, err
}
