// Package api defines wire-format types and converters for the HTTP API and
// the CLI. It translates internal queue models into transport-friendly DTOs
// so clients never couple to engine or store types.
//
// # Key Types
//
// Entry: transport representation of a queue entry.
//
// Snapshot: the waiting line, the in-service list, and the broadcast
// sequence number that produced them.
//
// DaemonStatus: runtime information about the store, roster and observers.
//
// ErrorResponse: the {"error": {"kind", "message"}} envelope returned for
// every failed request.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Lists are always encoded as arrays, never
// null. Timestamps use RFC3339 with milliseconds. Store failures are mapped
// to kinds and generic messages; raw storage errors are never exposed.
package api
