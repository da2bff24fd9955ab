package ir

// Version constants.
const (
	// ProtocolVersion is the entry and wire format version.
	ProtocolVersion = "1"

	// EngineVersion is the braid engine version.
	EngineVersion = "0.1.0"
)
