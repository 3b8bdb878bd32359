// Package daemon coordinates the long-running waitline process.
//
// It wires the ordering store, queue engine, worker roster and broadcast hub
// into a single lifecycle with flock-based locking to prevent multiple
// instances, and serves the HTTP API including the WebSocket and
// Server-Sent Events snapshot feeds.
//
// Keep orchestration here: queue semantics live in internal/queue and wire
// formats in internal/api.
package daemon
