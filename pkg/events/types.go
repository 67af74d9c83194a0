// Package events defines dispatch telemetry events and their publishers.
package events

// Dispatch outcomes.
const (
	OutcomeDispatched  = "dispatched"
	OutcomeUnknown     = "unknown"
	OutcomeRejected    = "rejected"
	OutcomeFailed      = "failed"
	OutcomeDecodeError = "decode_error"
)

// DispatchEvent is emitted once per inbound message the dispatcher handled.
type DispatchEvent struct {
	Capability string `json:"capability,omitempty"`
	CallbackID string `json:"callbackId,omitempty"`
	Outcome    string `json:"outcome"`
	Code       string `json:"code,omitempty"`
	Detail     string `json:"detail,omitempty"`
	Timestamp  string `json:"timestamp"`
}
