package config

import "time"

// ReplayConfig is the root configuration.
type ReplayConfig struct {
	Server   ServerConfig   `yaml:"server"`
	Session  SessionConfig  `yaml:"session"`
	Database DatabaseConfig `yaml:"database"`
	Recorder RecorderConfig `yaml:"recorder"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds the WebSocket replay endpoint settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	Path            string        `yaml:"path"`
	ReadBufferSize  int           `yaml:"read_buffer_size"`
	WriteBufferSize int           `yaml:"write_buffer_size"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// SessionConfig holds replay session timing.
type SessionConfig struct {
	Window         time.Duration `yaml:"window"`          // Consolidation window before a session locks
	SendPoll       time.Duration `yaml:"send_poll"`       // Backpressure check interval per message
	DrainPoll      time.Duration `yaml:"drain_poll"`      // Buffer check interval before a normal close
	MaxConnections int           `yaml:"max_connections"` // Members per session; each holds a pool connection while replaying
}

// DatabaseConfig holds the TimescaleDB connection for recorded feed messages.
type DatabaseConfig struct {
	Timescale DBConfig `yaml:"timescale"`
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

// RecorderConfig holds settings for capturing a live feed into TimescaleDB.
type RecorderConfig struct {
	Exchange       string        `yaml:"exchange"`
	WSURL          string        `yaml:"ws_url"`
	RESTURL        string        `yaml:"rest_url"`
	APIKey         string        `yaml:"api_key"`          // API key ID (for KALSHI-ACCESS-KEY header)
	PrivateKeyPath string        `yaml:"private_key_path"` // Path to RSA private key PEM file
	Channels       []string      `yaml:"channels"`
	MarketTickers  []string      `yaml:"market_tickers"` // Empty = all markets
	SeriesTickers  []string      `yaml:"series_tickers"` // Open markets discovered when market_tickers is empty
	BatchSize      int           `yaml:"batch_size"`
	FlushInterval  time.Duration `yaml:"flush_interval"`
	BufferSize     int           `yaml:"buffer_size"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}
