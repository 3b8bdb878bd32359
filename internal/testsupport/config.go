package testsupport

import (
	"path/filepath"
	"testing"

	"waitline/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults to the SQLite driver, an ephemeral API port, and a roster file
// inside the temp directory, then applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Store.Driver = config.DriverSQLite
	cfgVal.Store.StartupAttempts = 1
	cfgVal.Roster.Path = filepath.Join(base, "roster.toml")
	cfgVal.Roster.Watch = false
	cfgVal.Logging.Format = "json"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithDriver selects the store driver.
func WithDriver(driver string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Store.Driver = driver
	}
}

// WithAPIToken sets the bearer token required by the HTTP API.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.APIToken = token
	}
}

// WithRoster writes workers to the roster file referenced by the config.
func WithRoster(workers ...RosterWorker) ConfigOption {
	return func(b *configBuilder) {
		WriteRoster(b.t, b.cfg.Roster.Path, workers...)
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
