// Package builtin provides the fixed capability set exposed to the page.
package builtin

import (
	"github.com/morezero/rainbow-bridge/pkg/cache"
	"github.com/morezero/rainbow-bridge/pkg/device"
	"github.com/morezero/rainbow-bridge/pkg/peer"
	"github.com/morezero/rainbow-bridge/pkg/registry"
	"github.com/morezero/rainbow-bridge/pkg/scan"
)

const logPrefix = "builtin:builtin"

// Capability names. These strings are part of the page-facing contract.
const (
	PlayVibration        = "playVibration"
	AuthenticateTouchID  = "authenticateTouchId"
	ScanMetadata         = "scanMetadata"
	JoinPeerGroup        = "joinPeerGroup"
	SendEventToPeerGroup = "sendEventToPeerGroup"
	LeavePeerGroup       = "leavePeerGroup"
	DownloadAndCache     = "downloadAndCache"
	ClearCache           = "clearCache"
)

// Completion messages emitted by the cache capabilities.
const (
	MessageFileExists        = "File already exists"
	MessageDownloadCompleted = "Download completed"
	MessageCacheCleared      = "Cache cleared"
)

// Deps are the collaborators the built-in handlers drive.
type Deps struct {
	Devices device.Providers
	Scans   *scan.Slot
	// Peers may be nil when no peer transport is configured.
	Peers *peer.Session
	// Cache may be nil when no cache directory is configured.
	Cache *cache.Store
	// StrictCacheErrors resolves cache IO failures with IO_FAILURE instead
	// of the completion message.
	StrictCacheErrors bool
}

// Capability is one built-in ready for registration.
type Capability struct {
	Name        string
	Description string
	Mode        registry.Mode
	// Params is the params struct, nil for capabilities without params.
	Params  any
	Handler registry.Handler
}

// Options returns the registry options for c.
func (c Capability) Options() []registry.Option {
	opts := []registry.Option{registry.WithMode(c.Mode), registry.WithDescription(c.Description)}
	if c.Params != nil {
		opts = append(opts, registry.WithParams(c.Params))
	}
	return opts
}

// Capabilities returns the built-in set bound to deps.
func Capabilities(deps Deps) []Capability {
	deps.Devices = deps.Devices.WithDefaults()
	if deps.Scans == nil {
		deps.Scans = scan.NewSlot()
	}
	h := &handlers{deps: deps}

	return []Capability{
		{
			Name:        PlayVibration,
			Description: "Play the device alert vibration.",
			Handler:     h.playVibration,
		},
		{
			Name:        AuthenticateTouchID,
			Description: "Prompt for biometric authentication and emit the result.",
			Params:      AuthenticateParams{},
			Handler:     registry.Typed(h.authenticate),
		},
		{
			Name:        ScanMetadata,
			Description: "Scan one machine-readable code with the back camera.",
			Params:      ScanParams{},
			Handler:     registry.Typed(h.scanMetadata),
		},
		{
			Name:        JoinPeerGroup,
			Description: "Join a peer group and stream its lifecycle and events.",
			Mode:        registry.Streaming,
			Params:      JoinPeerGroupParams{},
			Handler:     registry.Typed(h.joinPeerGroup),
		},
		{
			Name:        SendEventToPeerGroup,
			Description: "Broadcast an event to the connected peers.",
			Params:      SendEventParams{},
			Handler:     registry.Typed(h.sendEventToPeerGroup),
		},
		{
			Name:        LeavePeerGroup,
			Description: "Leave the current peer group.",
			Handler:     h.leavePeerGroup,
		},
		{
			Name:        DownloadAndCache,
			Description: "Download a resource into the application cache.",
			Params:      DownloadParams{},
			Handler:     registry.Typed(h.downloadAndCache),
		},
		{
			Name:        ClearCache,
			Description: "Delete a cached file.",
			Params:      ClearCacheParams{},
			Handler:     registry.Typed(h.clearCache),
		},
	}
}

type handlers struct {
	deps Deps
}
