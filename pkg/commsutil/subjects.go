package commsutil

import (
	"fmt"
	"strings"
)

// Default COMMS subjects.
const (
	SubjectPrefix         = "rainbowbridge"
	SubjectDispatchEvents = "rainbowbridge.events.dispatch"
)

// Token makes a value safe to use as a single subject token.
func Token(s string) string {
	r := strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")
	return r.Replace(s)
}

// BuildSurfaceSubject builds a subject scoped to one rendered surface,
// e.g. rainbowbridge.main.messages.
func BuildSurfaceSubject(surfaceID string, parts ...string) string {
	all := append([]string{SubjectPrefix, Token(surfaceID)}, parts...)
	return strings.Join(all, ".")
}

// BuildMessagesSubject is where the native shell publishes raw script messages.
func BuildMessagesSubject(surfaceID string) string {
	return BuildSurfaceSubject(surfaceID, "messages")
}

// BuildEvalSubject is where the bridge publishes scripts for the surface to evaluate.
func BuildEvalSubject(surfaceID string) string {
	return BuildSurfaceSubject(surfaceID, "eval")
}

// BuildDeviceSubject builds a native device provider subject,
// e.g. rainbowbridge.main.device.biometric.evaluate.
func BuildDeviceSubject(surfaceID string, parts ...string) string {
	return BuildSurfaceSubject(surfaceID, append([]string{"device"}, parts...)...)
}

// BuildPeerGroupSubject builds the subject shared by all members of a peer group.
func BuildPeerGroupSubject(group string) string {
	return fmt.Sprintf("%s.peer.%s", SubjectPrefix, Token(group))
}

// BuildDispatchSubject builds a per-capability dispatch event subject.
func BuildDispatchSubject(capability string) string {
	return fmt.Sprintf("%s.%s", SubjectDispatchEvents, Token(capability))
}
