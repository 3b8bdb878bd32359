package preflight

import (
	"context"

	"waitline/internal/config"
	"waitline/internal/queue"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string
	Passed   bool
	Optional bool
	Detail   string
}

// RunAll executes all applicable preflight checks for the given config.
// st may be nil when the store has not been opened yet.
func RunAll(ctx context.Context, cfg *config.Config, st queue.Store) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	// Data directory holds the lock file, logs, and the SQLite database.
	results = append(results, CheckDirectoryAccess("Data directory", cfg.Paths.DataDir))

	if cfg.Roster.Path != "" {
		results = append(results, CheckRosterFile(cfg.Roster.Path))
	}

	if st != nil {
		results = append(results, CheckStore(ctx, cfg.Store.Driver, st))
	}

	return results
}

// Failed returns the required checks that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed && !r.Optional {
			failed = append(failed, r)
		}
	}
	return failed
}
