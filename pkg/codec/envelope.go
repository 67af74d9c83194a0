// Package codec parses inbound bridge messages and serializes callback values.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Wire keys reserved by the bridge. Every other top-level key of an inbound
// message belongs to the capability's params.
const (
	KeyCapability    = "wrappedApiName"
	KeyCallbackID    = "callbackId"
	KeyBridgeVersion = "bridgeVersion"
)

// Envelope is a decoded inbound message.
type Envelope struct {
	// Capability is the registered capability name ("wrappedApiName" on the wire).
	// Empty means the message carried no capability and dispatch is a no-op.
	Capability string
	// CallbackID correlates emitted values with the web-side caller.
	CallbackID string
	// HasCallback is false for fire-and-forget messages.
	HasCallback bool
	// BridgeVersion is an optional semver constraint the host must satisfy.
	BridgeVersion string
	// Params holds the capability-specific fields, forwarded to the handler as-is.
	Params Params
}

// Params are capability arguments. Numbers are kept as json.Number.
type Params map[string]any

// Bind copies params into a typed struct using its json tags.
func (p Params) Bind(dst any) error {
	if p == nil {
		p = Params{}
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("%s - failed to encode params: %w", logPrefix, err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%s - failed to bind params: %w", logPrefix, err)
	}
	return nil
}

// String returns the named param when it is a string.
func (p Params) String(key string) (string, bool) {
	v, ok := p[key].(string)
	return v, ok
}

// Failure is the callback value used when a call cannot produce its normal result.
type Failure struct {
	Error FailureDetail `json:"error"`
}

// FailureDetail holds the failure code and a human readable message.
type FailureDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewFailure builds a Failure value.
func NewFailure(code, message string) Failure {
	return Failure{Error: FailureDetail{Code: code, Message: message}}
}
