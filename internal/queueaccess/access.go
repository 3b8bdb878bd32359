package queueaccess

import (
	"context"

	"waitline/internal/api"
	"waitline/internal/queue"
	"waitline/internal/roster"
)

// Access provides queue operations regardless of HTTP or direct store backing.
type Access interface {
	Snapshot(ctx context.Context) (api.Snapshot, error)
	Arrive(ctx context.Context, workerID int64) (api.Entry, error)
	Dispatch(ctx context.Context) (api.Entry, error)
	Return(ctx context.Context, entryID int64) (api.Entry, error)
	Move(ctx context.Context, entryID int64, rank int) (api.MoveResult, error)
	Remove(ctx context.Context, entryID int64) (api.RemoveResult, error)
	Workers(ctx context.Context) (api.WorkerList, error)
	// Remote reports whether operations go through a running daemon.
	Remote() bool
}

// NewHTTPAccess returns an Access backed by the daemon API.
func NewHTTPAccess(client *Client) Access {
	return &httpAccess{Client: client}
}

// NewStoreAccess returns an Access that runs the engine in-process against
// the store. Observers connected to a daemon are not notified of these
// changes.
func NewStoreAccess(store queue.Store, workers *roster.Roster, opts queue.Options) (Access, error) {
	opts.Store = store
	opts.Registry = workers
	engine, err := queue.NewEngine(opts)
	if err != nil {
		return nil, err
	}
	return &storeAccess{service: api.NewQueueService(engine, workers, nil)}, nil
}

type httpAccess struct {
	*Client
}

func (a *httpAccess) Remote() bool { return true }

type storeAccess struct {
	service *api.QueueService
}

func (a *storeAccess) Remote() bool { return false }

func (a *storeAccess) Snapshot(ctx context.Context) (api.Snapshot, error) {
	return a.service.Snapshot(ctx)
}

func (a *storeAccess) Arrive(ctx context.Context, workerID int64) (api.Entry, error) {
	return a.service.Arrive(ctx, workerID)
}

func (a *storeAccess) Dispatch(ctx context.Context) (api.Entry, error) {
	return a.service.Dispatch(ctx)
}

func (a *storeAccess) Return(ctx context.Context, entryID int64) (api.Entry, error) {
	return a.service.Return(ctx, entryID)
}

func (a *storeAccess) Move(ctx context.Context, entryID int64, rank int) (api.MoveResult, error) {
	return a.service.Move(ctx, entryID, rank)
}

func (a *storeAccess) Remove(ctx context.Context, entryID int64) (api.RemoveResult, error) {
	return a.service.Remove(ctx, entryID)
}

func (a *storeAccess) Workers(context.Context) (api.WorkerList, error) {
	return a.service.Workers(), nil
}
