package main

import (
	"context"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"waitline/internal/config"
	"waitline/internal/logging"
	"waitline/internal/queue"
	"waitline/internal/queueaccess"
	"waitline/internal/roster"
	"waitline/internal/store"
)

type commandContext struct {
	configFlag *string
	jsonFlag   *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		jsonFlag:   jsonFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) configPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

func (c *commandContext) dialClient(ctx context.Context) (*queueaccess.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return queueaccess.Dial(ctx, cfg)
}

// withAccess runs fn against the daemon when it answers and against the
// store directly otherwise.
func (c *commandContext) withAccess(cmd *cobra.Command, fn func(queueaccess.Access) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	session, err := queueaccess.OpenWithFallback(
		func() (*queueaccess.Client, error) { return queueaccess.Dial(ctx, cfg) },
		func() (queueaccess.Local, error) { return openLocal(ctx, cfg) },
	)
	if err != nil {
		return err
	}
	defer session.Close()
	return fn(session.Access)
}

func openLocal(ctx context.Context, cfg *config.Config) (queueaccess.Local, error) {
	if cfg.Store.Driver == config.DriverMemory {
		return queueaccess.Local{}, errDaemonRequired
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return queueaccess.Local{}, err
	}
	// Direct access should fail fast instead of waiting out startup retries.
	local := *cfg
	local.Store.StartupAttempts = 1
	st, err := store.Open(ctx, &local, logging.NewNop())
	if err != nil {
		return queueaccess.Local{}, err
	}
	ros, err := roster.Load(cfg.Roster.Path, logging.NewNop())
	if err != nil {
		_ = st.Close()
		return queueaccess.Local{}, err
	}
	return queueaccess.Local{
		Store:  st,
		Roster: ros,
		Engine: queue.Options{RetryAttempts: cfg.Store.RetryAttempts, TxTimeout: cfg.TxTimeout()},
	}, nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
