package commsutil

import "testing"

func TestBuildSurfaceSubjects(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"messages", BuildMessagesSubject("main"), "rainbowbridge.main.messages"},
		{"eval", BuildEvalSubject("main"), "rainbowbridge.main.eval"},
		{"dotted surface", BuildEvalSubject("app.web"), "rainbowbridge.app_web.eval"},
		{"device", BuildDeviceSubject("main", "biometric", "evaluate"), "rainbowbridge.main.device.biometric.evaluate"},
		{"peer group", BuildPeerGroupSubject("lobby"), "rainbowbridge.peer.lobby"},
		{"peer group wildcard", BuildPeerGroupSubject("a.*.>"), "rainbowbridge.peer.a___"},
		{"dispatch", BuildDispatchSubject("playVibration"), "rainbowbridge.events.dispatch.playVibration"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("commsutil:subjects_test - got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestToken(t *testing.T) {
	if got := Token("my group.v1"); got != "my_group_v1" {
		t.Errorf("commsutil:subjects_test - Token() = %q, want my_group_v1", got)
	}
}
