// Package main hosts the waitline CLI entrypoint and command graph.
//
// The Cobra-based command tree translates terminal invocations into HTTP
// calls against the daemon, or into direct store access when no daemon is
// reachable. It centralizes configuration resolution and output rendering so
// subcommands can focus on user experience instead of wiring.
//
// Keep this package lean: queue semantics live in internal/queue and the
// daemon wiring in internal/daemonrun.
package main
