package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateRoster(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return ensurePositiveMap(map[string]int{
		"broadcast.buffer_size":           c.Broadcast.BufferSize,
		"broadcast.subscriber_buffer":     c.Broadcast.SubscriberBuffer,
		"broadcast.write_timeout_seconds": c.Broadcast.WriteTimeoutSeconds,
	})
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	if _, _, err := net.SplitHostPort(c.Paths.APIBind); err != nil {
		return fmt.Errorf("paths.api_bind: %w", err)
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Driver {
	case DriverSQLite, DriverMemory:
	case DriverPostgres:
		if c.Store.DSN == "" {
			defaultPath, err := DefaultConfigPath()
			if err != nil {
				defaultPath = defaultConfigPath
			}
			return fmt.Errorf("store.dsn is required for the postgres driver. Set WAITLINE_DATABASE_URL or edit %s (create with 'waitline config init')", defaultPath)
		}
	default:
		return fmt.Errorf("store.driver: unsupported value %q (want sqlite, postgres, or memory)", c.Store.Driver)
	}
	return ensurePositiveMap(map[string]int{
		"store.tx_timeout_seconds": c.Store.TxTimeoutSeconds,
		"store.retry_attempts":     c.Store.RetryAttempts,
		"store.startup_attempts":   c.Store.StartupAttempts,
	})
}

func (c *Config) validateRoster() error {
	if strings.TrimSpace(c.Roster.Path) == "" {
		return errors.New("roster.path must be set")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	topic := c.Notifications.NtfyTopic
	if topic == "" {
		return nil
	}
	u, err := url.Parse(topic)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("notifications.ntfy_topic: %q must be a full http(s) URL such as https://ntfy.sh/front-desk", topic)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
