package channel

import (
	"errors"
	"time"
)

// Config of a broadcast Channel.
type Config struct {
	// PingInterval between keep-alive frames. Zero disables keep-alive.
	PingInterval time.Duration
	// MaxStreamDuration is a hard lifetime of a single stream. Zero disables
	// forced disconnect.
	MaxStreamDuration time.Duration
	// ClientRetryInterval is sent to clients as the reconnect delay.
	ClientRetryInterval time.Duration
	// StartID is the id of the first published message.
	StartID uint64
	// HistorySize bounds the number of retained messages.
	HistorySize int
	// Rewind is the number of retained messages replayed to a client which
	// did not present Last-Event-ID.
	Rewind int
	// CORS allows cross-origin streaming.
	CORS bool
	// ClientQueueSize is the number of frames buffered per client before the
	// client is considered stalled and dropped.
	ClientQueueSize int
}

// DefaultConfig returns Config with default values.
func DefaultConfig() Config {
	return Config{
		PingInterval:        3 * time.Second,
		MaxStreamDuration:   30 * time.Second,
		ClientRetryInterval: time.Second,
		StartID:             1,
		HistorySize:         100,
		Rewind:              0,
		ClientQueueSize:     256,
	}
}

// Validate checks Config values.
func (c Config) Validate() error {
	if c.PingInterval < 0 {
		return errors.New("ping interval must not be negative")
	}
	if c.MaxStreamDuration < 0 {
		return errors.New("max stream duration must not be negative")
	}
	if c.ClientRetryInterval < 0 {
		return errors.New("client retry interval must not be negative")
	}
	if c.StartID == 0 {
		return errors.New("start id must be positive")
	}
	if c.HistorySize < 0 {
		return errors.New("history size must not be negative")
	}
	if c.Rewind < 0 {
		return errors.New("rewind must not be negative")
	}
	if c.ClientQueueSize <= 0 {
		return errors.New("client queue size must be positive")
	}
	return nil
}
