// Package coordstore is the typed wrapper around the coordination store:
// a hierarchical, watchable, session-scoped key-value service.
// The store itself — ZooKeeper, etcd, or anything else speaking this
// Client interface — is out of scope; this package only
// defines the shape the core depends on and two reference backends.
package coordstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cuemby/fleetlb/pkg/log"
	"github.com/rs/zerolog"
)

// Mode selects node lifetime on creation.
type Mode int

const (
	// Persistent nodes survive session loss.
	Persistent Mode = iota
	// Ephemeral nodes are removed automatically when the creating
	// session ends.
	Ephemeral
)

// Sentinel errors a caller can distinguish with errors.Is,'s
// error taxonomy.
var (
	ErrNodeExists = errors.New("coordstore: node exists")
	ErrNotFound = errors.New("coordstore: node not found")
)

// Client is the raw, byte-oriented coordination-store interface. Adapter
// wraps it with JSON (de)serialization and bundles it with logging.
type Client interface {
	// Exists reports whether path has been created.
	Exists(ctx context.Context, path string) (bool, error)

	// Create creates path with the given payload and mode. Returns
	// ErrNodeExists (wrapped) if the node already exists; callers that want
	// idempotent creation should treat that as success.
	Create(ctx context.Context, path string, data []byte, mode Mode) error

	// Get reads path's current value. found is false if the node does not
	// exist.
	Get(ctx context.Context, path string) (data []byte, found bool, err error)

	// Set overwrites path's value. The node must already exist.
	Set(ctx context.Context, path string, data []byte) error

	// Delete removes path if it exists; deleting a missing path is not an
	// error.
	Delete(ctx context.Context, path string) error

	// ChildrenWithWatch streams the current and every subsequent child-name
	// set under path until ctx is cancelled or the returned cancel func is
	// called. The channel is closed once the watch is torn down.
	ChildrenWithWatch(ctx context.Context, path string) (<-chan []string, func())

	// DataWithWatch streams path's current and every subsequent raw value
	// until ctx is cancelled or the returned cancel func is called. The
	// channel is closed once the watch is torn down.
	DataWithWatch(ctx context.Context, path string) (<-chan []byte, func())

	// Close releases the client's resources (its session, in ZooKeeper
	// terms), causing any ephemeral nodes it created to disappear.
	Close() error
}

// Adapter is the typed coordination-store wrapper used throughout the
// load manager: JSON (de)serialization plus a "writes are best-effort,
// logged on failure" policy.
type Adapter struct {
	client Client
	logger zerolog.Logger
}

// NewAdapter wraps client with JSON typing and logging.
func NewAdapter(client Client) *Adapter {
	return &Adapter{client: client, logger: log.WithComponent("coordstore")}
}

// Client returns the underlying raw client, for callers (e.g. the watchers
// in pkg/aggregator) that need the byte-level watch streams directly.
func (a *Adapter) Client() Client { return a.client }

// ExistsOrCreate creates path with payload if absent; NodeExists is
// swallowed so creation is idempotent.
func (a *Adapter) ExistsOrCreate(ctx context.Context, path string, payload []byte, mode Mode) error {
	err := a.client.Create(ctx, path, payload, mode)
	if err == nil || errors.Is(err, ErrNodeExists) {
		return nil
	}
	return fmt.Errorf("coordstore: create %s: %w", path, err)
}

// GetJSON reads and JSON-decodes path's value into a T.
func GetJSON[T any](ctx context.Context, a *Adapter, path string) (T, bool, error) {
	var zero T
	raw, found, err := a.client.Get(ctx, path)
	if err != nil {
		return zero, false, fmt.Errorf("coordstore: get %s: %w", path, err)
	}
	if !found {
		return zero, false, nil
	}
	var value T
	if err := json.Unmarshal(raw, &value); err != nil {
		return zero, false, fmt.Errorf("coordstore: decode %s: %w", path, err)
	}
	return value, true, nil
}

// SetJSON JSON-encodes value and writes it to path. Failures are the
// caller's to log; all writes are best-effort and the next
// aggregation pass re-attempts implicitly.
func SetJSON[T any](ctx context.Context, a *Adapter, path string, value T) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("coordstore: encode %s: %w", path, err)
	}
	if err := a.client.Set(ctx, path, raw); err != nil {
		return fmt.Errorf("coordstore: set %s: %w", path, err)
	}
	return nil
}

// UpsertJSON JSON-encodes value and writes it to path, creating path as a
// persistent node first if Set reports it doesn't exist yet. Used by
// writers whose target node may not have been created by anything else,
// unlike SetJSON's "the node must already exist" contract.
func UpsertJSON[T any](ctx context.Context, a *Adapter, path string, value T) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("coordstore: encode %s: %w", path, err)
	}
	if err := a.client.Set(ctx, path, raw); err != nil {
		if errors.Is(err, ErrNotFound) {
			return a.ExistsOrCreate(ctx, path, raw, Persistent)
		}
		return fmt.Errorf("coordstore: set %s: %w", path, err)
	}
	return nil
}

// ChildrenWithWatch exposes the raw client's child watch.
func (a *Adapter) ChildrenWithWatch(ctx context.Context, path string) (<-chan []string, func()) {
	return a.client.ChildrenWithWatch(ctx, path)
}

// DataWithWatch streams path's value, JSON-decoded into T on each update.
// A decode error is logged and that update is skipped; the watch continues.
func DataWithWatch[T any](ctx context.Context, a *Adapter, path string) (<-chan T, func()) {
	raw, cancel := a.client.DataWithWatch(ctx, path)
	out := make(chan T)
	go func() {
		defer close(out)
		for data := range raw {
			var value T
			if err := json.Unmarshal(data, &value); err != nil {
				a.logger.Warn().Err(err).Str("path", path).Msg("failed to decode watched value, skipping")
				continue
			}
			select {
			case out <- value:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, cancel
}
