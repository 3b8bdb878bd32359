package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeStore()
	if err := c.normalizeRoster(); err != nil {
		return err
	}
	c.normalizeBroadcast()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("WAITLINE_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeStore() {
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	switch c.Store.Driver {
	case "":
		c.Store.Driver = defaultStoreDriver
	case "sqlite3":
		c.Store.Driver = DriverSQLite
	case "postgresql", "pg", "pgx":
		c.Store.Driver = DriverPostgres
	}
	c.Store.DSN = strings.TrimSpace(c.Store.DSN)
	if c.Store.DSN == "" && c.Store.Driver == DriverPostgres {
		if value, ok := os.LookupEnv("WAITLINE_DATABASE_URL"); ok {
			c.Store.DSN = strings.TrimSpace(value)
		} else if value, ok := os.LookupEnv("DATABASE_URL"); ok {
			c.Store.DSN = strings.TrimSpace(value)
		}
	}
	if c.Store.TxTimeoutSeconds <= 0 {
		c.Store.TxTimeoutSeconds = defaultTxTimeoutSeconds
	}
	if c.Store.RetryAttempts <= 0 {
		c.Store.RetryAttempts = defaultRetryAttempts
	}
	if c.Store.StartupAttempts <= 0 {
		c.Store.StartupAttempts = defaultStartupAttempts
	}
	if c.Store.StartupBackoffSeconds < 0 {
		c.Store.StartupBackoffSeconds = 0
	}
}

func (c *Config) normalizeRoster() error {
	var err error
	if strings.TrimSpace(c.Roster.Path) == "" {
		c.Roster.Path = defaultRosterPath
	}
	if c.Roster.Path, err = expandPath(c.Roster.Path); err != nil {
		return fmt.Errorf("roster.path: %w", err)
	}
	return nil
}

func (c *Config) normalizeBroadcast() {
	if c.Broadcast.BufferSize <= 0 {
		c.Broadcast.BufferSize = defaultBroadcastBuffer
	}
	if c.Broadcast.SubscriberBuffer <= 0 {
		c.Broadcast.SubscriberBuffer = defaultSubscriberBuffer
	}
	if c.Broadcast.WriteTimeoutSeconds <= 0 {
		c.Broadcast.WriteTimeoutSeconds = defaultWriteTimeoutSeconds
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("WAITLINE_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
	if c.Notifications.RequestTimeoutSeconds <= 0 {
		c.Notifications.RequestTimeoutSeconds = defaultNotifyTimeoutSeconds
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
