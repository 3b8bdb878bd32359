// Package notifications announces queue events to people via ntfy.
//
// The default implementation publishes to the ntfy topic URL configured in
// config.toml and degrades to a no-op when no topic is set. The Announcer
// adapts the service to queue.Notifier so dispatches and returns can be
// pushed to phones or a front-desk display without slowing the engine.
package notifications
