package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Validate checks the settings every binary needs.
func (c *ReplayConfig) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		return fmt.Errorf("server.path must start with /, got %q", c.Server.Path)
	}
	if c.Server.WriteTimeout <= 0 {
		return errors.New("server.write_timeout must be > 0")
	}

	if c.Session.Window <= 0 {
		return errors.New("session.window must be > 0")
	}
	if c.Session.SendPoll <= 0 {
		return errors.New("session.send_poll must be > 0")
	}
	if c.Session.DrainPoll <= 0 {
		return errors.New("session.drain_poll must be > 0")
	}

	if err := c.Database.Timescale.validate("database.timescale"); err != nil {
		return err
	}
	if c.Session.MaxConnections < 1 || c.Session.MaxConnections > c.Database.Timescale.MaxConns {
		return fmt.Errorf("session.max_connections must be between 1 and database.timescale.max_conns (%d), got %d",
			c.Database.Timescale.MaxConns, c.Session.MaxConnections)
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

// ValidateRecorder checks the recorder section on top of Validate.
func (c *ReplayConfig) ValidateRecorder() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Recorder.WSURL == "" {
		return errors.New("recorder.ws_url is required")
	}
	if c.Recorder.APIKey == "" {
		return errors.New("recorder.api_key is required")
	}
	if c.Recorder.PrivateKeyPath == "" {
		return errors.New("recorder.private_key_path is required")
	}
	if len(c.Recorder.Channels) == 0 {
		return errors.New("recorder.channels must not be empty")
	}
	if c.Recorder.BatchSize < 1 {
		return errors.New("recorder.batch_size must be >= 1")
	}
	if c.Recorder.BufferSize < 1 {
		return errors.New("recorder.buffer_size must be >= 1")
	}
	if c.Recorder.FlushInterval <= 0 {
		return errors.New("recorder.flush_interval must be > 0")
	}
	return nil
}

// ParseLevel converts a log.level value to a slog.Level.
func ParseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return l, nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
