package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultServerAddr       = ":8001"
	DefaultServerPath       = "/ws-replay"
	DefaultReadBufferSize   = 1024
	DefaultWriteBufferSize  = 64 * 1024
	DefaultWriteTimeout     = 5 * time.Second
	DefaultShutdownTimeout  = 10 * time.Second
	DefaultSessionWindow    = 5 * time.Second
	DefaultSendPoll         = 1 * time.Millisecond
	DefaultDrainPoll        = 100 * time.Millisecond
	DefaultDBPort           = 5432
	DefaultDBSSLMode        = "prefer"
	DefaultMaxConns         = 20
	DefaultMinConns         = 2
	DefaultRecorderExchange = "kalshi"
	DefaultRecorderWSURL    = "wss://api.elections.kalshi.com/trade-api/ws/v2"
	DefaultRecorderRESTURL  = "https://api.elections.kalshi.com/trade-api/v2"
	DefaultBatchSize        = 1000
	DefaultFlushInterval    = 1 * time.Second
	DefaultBufferSize       = 10000
	DefaultMetricsPort      = 9090
	DefaultMetricsPath      = "/metrics"
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
)

// DefaultChannels are recorded when the recorder section names none.
var DefaultChannels = []string{"orderbook_delta", "trade", "ticker"}

func (c *ReplayConfig) applyDefaults() {
	// Server defaults
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultServerAddr
	}
	if c.Server.Path == "" {
		c.Server.Path = DefaultServerPath
	}
	if c.Server.ReadBufferSize == 0 {
		c.Server.ReadBufferSize = DefaultReadBufferSize
	}
	if c.Server.WriteBufferSize == 0 {
		c.Server.WriteBufferSize = DefaultWriteBufferSize
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	// Session defaults
	if c.Session.Window == 0 {
		c.Session.Window = DefaultSessionWindow
	}
	if c.Session.SendPoll == 0 {
		c.Session.SendPoll = DefaultSendPoll
	}
	if c.Session.DrainPoll == 0 {
		c.Session.DrainPoll = DefaultDrainPoll
	}

	// Database defaults
	applyDBDefaults(&c.Database.Timescale)
	if c.Session.MaxConnections == 0 {
		c.Session.MaxConnections = c.Database.Timescale.MaxConns
	}

	// Recorder defaults
	if c.Recorder.Exchange == "" {
		c.Recorder.Exchange = DefaultRecorderExchange
	}
	if c.Recorder.WSURL == "" {
		c.Recorder.WSURL = DefaultRecorderWSURL
	}
	if c.Recorder.RESTURL == "" {
		c.Recorder.RESTURL = DefaultRecorderRESTURL
	}
	if len(c.Recorder.Channels) == 0 {
		c.Recorder.Channels = append([]string(nil), DefaultChannels...)
	}
	if c.Recorder.BatchSize == 0 {
		c.Recorder.BatchSize = DefaultBatchSize
	}
	if c.Recorder.FlushInterval == 0 {
		c.Recorder.FlushInterval = DefaultFlushInterval
	}
	if c.Recorder.BufferSize == 0 {
		c.Recorder.BufferSize = DefaultBufferSize
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
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
