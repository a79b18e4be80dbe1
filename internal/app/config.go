package app

import "time"

// Config contains all runtime configuration loaded from environment
// variables.
type Config struct {
	SocketURL  string
	APIBaseURL string
	LogLevel   string

	// Token is the opaque bearer credential carried in the handshake.
	Token string

	UserID   string
	Username string

	// Conversation target: exactly one of PeerID or GroupID.
	PeerID  string
	GroupID string

	HistoryPageSize int
	TypingTimeout   time.Duration

	ReconnectAttempts int
	ReconnectDelay    time.Duration
	WriteTimeout      time.Duration
	RequestTimeout    time.Duration
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		SocketURL:  EnvString("QC_SOCKET_URL", "ws://localhost:8080/ws"),
		APIBaseURL: EnvString("QC_API_URL", "http://localhost:8080/api"),
		LogLevel:   EnvString("QC_LOG_LEVEL", "info"),

		Token: EnvString("QC_TOKEN", ""),

		UserID:   EnvString("QC_USER_ID", ""),
		Username: EnvString("QC_USERNAME", ""),

		PeerID:  EnvString("QC_PEER_ID", ""),
		GroupID: EnvString("QC_GROUP_ID", ""),

		HistoryPageSize: EnvInt("QC_HISTORY_PAGE_SIZE", 50),
		TypingTimeout:   EnvDuration("QC_TYPING_TIMEOUT", 3*time.Second),

		ReconnectAttempts: EnvInt("QC_RECONNECT_ATTEMPTS", 5),
		ReconnectDelay:    EnvDuration("QC_RECONNECT_DELAY", 1*time.Second),
		WriteTimeout:      EnvDuration("QC_WRITE_TIMEOUT", 5*time.Second),
		RequestTimeout:    EnvDuration("QC_REQUEST_TIMEOUT", 15*time.Second),
	}
}
