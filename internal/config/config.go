package config

import "time"

// Config is the root configuration for a streamcore instance.
type Config struct {
	Instance  InstanceConfig  `yaml:"instance"`
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Session   SessionConfig   `yaml:"session"`
	Transport TransportConfig `yaml:"transport"`
	Journal   JournalConfig   `yaml:"journal"`
}

// InstanceConfig identifies this client instance.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// ServerConfig holds the upstream endpoint settings.
type ServerConfig struct {
	URL              string        `yaml:"url"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

// AuthConfig holds the handshake credential. Exactly one of Token
// (typically via ${VAR} expansion) or TokenPath should be set.
type AuthConfig struct {
	Token     string `yaml:"token"`
	TokenPath string `yaml:"token_path"`
}

// SessionConfig holds the connection supervisor settings.
type SessionConfig struct {
	MaxConnectAttempts int           `yaml:"max_connect_attempts"`
	Backoff            string        `yaml:"backoff"` // "fixed" or "exponential"
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval"`
	AuthTimeout        time.Duration `yaml:"auth_timeout"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
	MaxPending         int           `yaml:"max_pending"`
}

// TransportConfig holds WebSocket transport settings.
type TransportConfig struct {
	WriteTimeout time.Duration `yaml:"write_timeout"`
	BufferSize   int           `yaml:"buffer_size"`
}

// JournalConfig holds the optional session event journal settings.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Postgres      DBConfig      `yaml:"postgres"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}
