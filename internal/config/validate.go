package config

import (
	"fmt"
	"strings"

	"github.com/centrifugal/evbridge/internal/origin"
)

var validLogLevels = []string{"none", "trace", "debug", "info", "warn", "error", "fatal"}

// Validate validates config and returns error if problems found
func (c Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid http_server.port: %d", c.HTTP.Port)
	}
	if c.HTTP.InternalPort < 0 || c.HTTP.InternalPort > 65535 {
		return fmt.Errorf("invalid http_server.internal_port: %d", c.HTTP.InternalPort)
	}
	if !isValidLogLevel(c.Log.Level) {
		return fmt.Errorf("unknown log.level: %s", c.Log.Level)
	}
	if err := c.ChannelConfig().Validate(); err != nil {
		return fmt.Errorf("channel: %w", err)
	}
	if err := validateBridge(c); err != nil {
		return fmt.Errorf("bridge: %w", err)
	}
	if _, err := origin.NewPatternChecker(c.AllowedOrigins); err != nil {
		return fmt.Errorf("allowed_origins: %w", err)
	}
	if c.Prometheus.Enabled {
		if err := validateHandlerPrefix(c.Prometheus.HandlerPrefix, c.Bridge.HandlerPrefix); err != nil {
			return fmt.Errorf("prometheus: %w", err)
		}
	}
	if c.Health.Enabled {
		if err := validateHandlerPrefix(c.Health.HandlerPrefix, c.Bridge.HandlerPrefix); err != nil {
			return fmt.Errorf("health: %w", err)
		}
	}
	if c.Shutdown.Timeout <= 0 {
		return fmt.Errorf("shutdown.timeout must be positive")
	}
	return nil
}

func isValidLogLevel(level string) bool {
	level = strings.ToLower(level)
	for _, l := range validLogLevels {
		if l == level {
			return true
		}
	}
	return false
}

func validateBridge(c Config) error {
	if !strings.HasPrefix(c.Bridge.HandlerPrefix, "/") || c.Bridge.HandlerPrefix == "/" {
		return fmt.Errorf("handler_prefix must start with / and must not be root: %q", c.Bridge.HandlerPrefix)
	}
	if strings.HasSuffix(c.Bridge.HandlerPrefix, "/") {
		return fmt.Errorf("handler_prefix must not end with /: %q", c.Bridge.HandlerPrefix)
	}
	if strings.TrimSpace(c.Bridge.ClientIDHeader) == "" {
		return fmt.Errorf("client_id_header required")
	}
	if c.Bridge.PublishRateLimit < 0 {
		return fmt.Errorf("publish_rate_limit must not be negative")
	}
	if c.Bridge.PublishRateLimit > 0 && c.Bridge.PublishBurst < 1 {
		return fmt.Errorf("publish_burst must be at least 1 when publish_rate_limit is set")
	}
	if c.Bridge.MaxBodySize < 0 {
		return fmt.Errorf("max_body_size must not be negative")
	}
	return nil
}

func validateHandlerPrefix(prefix string, bridgePrefix string) error {
	if !strings.HasPrefix(prefix, "/") {
		return fmt.Errorf("handler_prefix must start with /: %q", prefix)
	}
	if prefix == bridgePrefix || strings.HasPrefix(prefix, bridgePrefix+"/") {
		return fmt.Errorf("handler_prefix %q clashes with bridge.handler_prefix", prefix)
	}
	return nil
}
