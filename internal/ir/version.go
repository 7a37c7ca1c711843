package ir

// Version constants for the wire protocol and engine.
const (
	// ProtocolVersion is the delta request/response wire version.
	ProtocolVersion = "1"

	// EngineVersion is the rowsync engine version.
	EngineVersion = "0.1.0"
)
