package config

const (
	defaultConfigPath            = "~/.config/waitline/config.toml"
	defaultDataDir               = "~/.local/share/waitline"
	defaultAPIBind               = "127.0.0.1:7488"
	defaultStoreDriver           = DriverSQLite
	defaultTxTimeoutSeconds      = 5
	defaultRetryAttempts         = 5
	defaultStartupAttempts       = 10
	defaultStartupBackoffSeconds = 2
	defaultRosterPath            = "~/.config/waitline/roster.toml"
	defaultBroadcastBuffer       = 64
	defaultSubscriberBuffer      = 4
	defaultWriteTimeoutSeconds   = 5
	defaultNotifyTimeoutSeconds  = 10
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
)

// Store drivers understood by internal/store.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			APIBind: defaultAPIBind,
		},
		Store: Store{
			Driver:                defaultStoreDriver,
			TxTimeoutSeconds:      defaultTxTimeoutSeconds,
			RetryAttempts:         defaultRetryAttempts,
			StartupAttempts:       defaultStartupAttempts,
			StartupBackoffSeconds: defaultStartupBackoffSeconds,
		},
		Roster: Roster{
			Path:  defaultRosterPath,
			Watch: true,
		},
		Broadcast: Broadcast{
			BufferSize:          defaultBroadcastBuffer,
			SubscriberBuffer:    defaultSubscriberBuffer,
			WriteTimeoutSeconds: defaultWriteTimeoutSeconds,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNotifyTimeoutSeconds,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
