package realtime

import "time"

// Security/performance limits. Keep these aligned with the wire contract
// served by the backend.
const (
	// Max bytes per websocket frame read (hard limit).
	maxFrameBytes = 64 << 10 // 64 KiB

	// Max message text length (runes).
	maxMessageChars = 4000

	// Max raw attachment bytes accepted by Upload. The payload is base64
	// encoded in one emission, so this is a hard ceiling, not a tuning knob.
	maxUploadBytes = 10 << 20 // 10 MiB
)

const (
	// Processed-message ledger bounds: once the ledger exceeds
	// ledgerMaxEntries fingerprints, the oldest half is evicted and the
	// newest ledgerKeepEntries survive.
	ledgerMaxEntries  = 100
	ledgerKeepEntries = 50
)

const (
	// Reconnect defaults (overridable via ManagerConfig).
	defaultReconnectAttempts = 5
	defaultReconnectDelay    = 1 * time.Second

	defaultDialTimeout      = 10 * time.Second
	defaultWriteTimeout     = 5 * time.Second
	defaultHandshakeTimeout = 10 * time.Second

	// Typing entries expire after this window when no stop event arrives.
	defaultTypingTimeout = 3 * time.Second

	defaultHistoryPageSize = 50

	defaultFeedQueueSize = 64
)
