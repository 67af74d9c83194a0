package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

const logPrefix = "codec:codec"

// Decode parses a raw script message into an Envelope.
//
// A JSON value that is not an object, or an object without a string
// "wrappedApiName", decodes to an Envelope with an empty Capability.
func Decode(raw string) (*Envelope, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == "null" {
		return nil, &DecodeError{Kind: EmptyMessage}
	}

	v, err := decodeJSON(trimmed)
	if err != nil {
		return nil, &DecodeError{Kind: ParseFailure, Detail: err.Error(), Err: err}
	}

	env := &Envelope{Params: Params{}}
	obj, ok := v.(map[string]any)
	if !ok {
		return env, nil
	}

	for key, val := range obj {
		switch key {
		case KeyCapability:
			if s, ok := val.(string); ok {
				env.Capability = s
			}
		case KeyCallbackID:
			switch id := val.(type) {
			case string:
				env.CallbackID, env.HasCallback = id, true
			case json.Number:
				env.CallbackID, env.HasCallback = id.String(), true
			}
		case KeyBridgeVersion:
			if s, ok := val.(string); ok {
				env.BridgeVersion = s
			}
		default:
			env.Params[key] = val
		}
	}
	return env, nil
}

// Encode serializes a callback value as canonical JSON. The output is safe to
// splice into a script: <, >, &, U+2028 and U+2029 are escaped.
func Encode(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%s - failed to encode value: %w", logPrefix, err)
	}
	return string(data), nil
}

// DecodeValue parses a value produced by Encode.
func DecodeValue(encoded string) (any, error) {
	v, err := decodeJSON(encoded)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to decode value: %w", logPrefix, err)
	}
	return v, nil
}

func decodeJSON(s string) (any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after top-level value")
	}
	return v, nil
}
