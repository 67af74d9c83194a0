package commsutil

import (
	"encoding/json"
	"fmt"

	comms "github.com/nats-io/nats.go"
)

// EncodePayload serializes a value to JSON bytes.
func EncodePayload(v any) ([]byte, error) {
	return json.Marshal(v)
}

// DecodePayload deserializes JSON bytes into the given target.
func DecodePayload(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// RespondJSON encodes v and sends it as the reply to msg.
func RespondJSON(msg *comms.Msg, v any) error {
	data, err := EncodePayload(v)
	if err != nil {
		return fmt.Errorf("%s - failed to encode reply: %w", logPrefix, err)
	}
	return msg.Respond(data)
}
