package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultHandshakeTimeout   = 10 * time.Second
	DefaultMaxConnectAttempts = 5
	DefaultBackoff            = "exponential"
	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 60 * time.Second
	DefaultHeartbeatInterval  = 30 * time.Second
	DefaultAuthTimeout        = 10 * time.Second
	DefaultRequestTimeout     = 10 * time.Second
	DefaultMaxPending         = 1024
	DefaultWriteTimeout       = 5 * time.Second
	DefaultBufferSize         = 1000
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "prefer"
	DefaultMaxConns           = 10
	DefaultMinConns           = 2
	DefaultJournalBatchSize   = 100
	DefaultJournalFlush       = 1 * time.Second
	DefaultJournalBuffer      = 1000
)

func (c *Config) applyDefaults() {
	if c.Server.HandshakeTimeout == 0 {
		c.Server.HandshakeTimeout = DefaultHandshakeTimeout
	}

	// Session defaults
	if c.Session.MaxConnectAttempts == 0 {
		c.Session.MaxConnectAttempts = DefaultMaxConnectAttempts
	}
	if c.Session.Backoff == "" {
		c.Session.Backoff = DefaultBackoff
	}
	if c.Session.ReconnectBaseDelay == 0 {
		c.Session.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Session.ReconnectMaxDelay == 0 {
		c.Session.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Session.HeartbeatInterval == 0 {
		c.Session.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Session.AuthTimeout == 0 {
		c.Session.AuthTimeout = DefaultAuthTimeout
	}
	if c.Session.RequestTimeout == 0 {
		c.Session.RequestTimeout = DefaultRequestTimeout
	}
	if c.Session.MaxPending == 0 {
		c.Session.MaxPending = DefaultMaxPending
	}

	// Transport defaults
	if c.Transport.WriteTimeout == 0 {
		c.Transport.WriteTimeout = DefaultWriteTimeout
	}
	if c.Transport.BufferSize == 0 {
		c.Transport.BufferSize = DefaultBufferSize
	}

	// Journal defaults
	if c.Journal.Enabled {
		applyDBDefaults(&c.Journal.Postgres)
		if c.Journal.BatchSize == 0 {
			c.Journal.BatchSize = DefaultJournalBatchSize
		}
		if c.Journal.FlushInterval == 0 {
			c.Journal.FlushInterval = DefaultJournalFlush
		}
		if c.Journal.BufferSize == 0 {
			c.Journal.BufferSize = DefaultJournalBuffer
		}
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
