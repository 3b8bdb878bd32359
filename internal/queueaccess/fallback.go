package queueaccess

import (
	"errors"
	"fmt"

	"waitline/internal/api"
	"waitline/internal/queue"
	"waitline/internal/roster"
)

// Session represents a queue access handle and its cleanup function.
type Session struct {
	Access Access
	close  func() error
}

// Close releases resources associated with the session.
func (s Session) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// Local is the in-process fallback: an open store and the roster that
// validates arrivals.
type Local struct {
	Store  queue.Store
	Roster *roster.Roster
	Engine queue.Options
}

// OpenWithFallback tries the daemon API first, then falls back to direct
// store access. A daemon that answers with an API error (for example a
// rejected token) is not bypassed.
func OpenWithFallback(
	dial func() (*Client, error),
	openLocal func() (Local, error),
) (Session, error) {
	if dial != nil {
		client, err := dial()
		if err == nil {
			return Session{
				Access: NewHTTPAccess(client),
				close:  client.Close,
			}, nil
		}
		var remote *api.RemoteError
		if errors.As(err, &remote) {
			return Session{}, fmt.Errorf("daemon rejected request: %w", err)
		}
	}

	if openLocal == nil {
		return Session{}, fmt.Errorf("open queue store: no store opener configured")
	}
	local, err := openLocal()
	if err != nil {
		return Session{}, fmt.Errorf("open queue store: %w", err)
	}
	access, err := NewStoreAccess(local.Store, local.Roster, local.Engine)
	if err != nil {
		_ = local.Store.Close()
		return Session{}, err
	}
	return Session{
		Access: access,
		close:  local.Store.Close,
	}, nil
}
