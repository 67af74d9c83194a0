package builtin

// AuthenticateParams are the params of authenticateTouchId.
type AuthenticateParams struct {
	Reason string `json:"reason,omitempty" jsonschema:"description=Text shown in the biometric prompt"`
}

// ScanParams are the params of scanMetadata.
type ScanParams struct {
	MetadataTypes []string `json:"metadataTypes" jsonschema:"required,minItems=1,description=Code types to detect (qr or ean13 ...)"`
}

// JoinPeerGroupParams are the params of joinPeerGroup.
type JoinPeerGroupParams struct {
	PeerGroupName string `json:"peerGroupName" jsonschema:"required,minLength=1"`
}

// SendEventParams are the params of sendEventToPeerGroup.
type SendEventParams struct {
	Event  string `json:"event" jsonschema:"required,minLength=1"`
	Object any    `json:"object,omitempty"`
}

// DownloadParams are the params of downloadAndCache.
type DownloadParams struct {
	URL         string `json:"url" jsonschema:"required,minLength=1"`
	Path        string `json:"path" jsonschema:"required,minLength=1,description=Path relative to the cache directory"`
	IsOverwrite bool   `json:"isOverwrite,omitempty"`
}

// ClearCacheParams are the params of clearCache.
type ClearCacheParams struct {
	Path string `json:"path" jsonschema:"required,minLength=1"`
}
