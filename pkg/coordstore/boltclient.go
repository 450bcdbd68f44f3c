package coordstore

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

// bucketNodes is the single bbolt bucket all paths live in, keyed by their
// full path string; coordstore's keyspace is already a flat path
// namespace, so one bucket is enough.
var bucketNodes = []byte("coordstore")

// boltClient is a go.etcd.io/bbolt-backed Client: durable storage across
// restarts for a single node acting as its own coordination backend. It has
// no watch fan-out across processes — ChildrenWithWatch/DataWithWatch only
// ever emit once, at subscribe time, since nothing else writes to the same
// file concurrently. Use it for local persistence of a broker's own last
// known state, not for fleet-wide coordination (SPEC_FULL.md §6).
type boltClient struct {
	db *bolt.DB
}

// NewBoltClient opens (creating if absent) a bbolt-backed coordination
// store at <dataDir>/coordstore.db.
func NewBoltClient(dataDir string) (Client, error) {
	dbPath := filepath.Join(dataDir, "coordstore.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("coordstore: open %s: %w", dbPath, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketNodes)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("coordstore: init bucket: %w", err)
	}
	return &boltClient{db: db}, nil
}

func (c *boltClient) Exists(_ context.Context, path string) (bool, error) {
	var found bool
	err := c.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketNodes).Get([]byte(path))
		found = v != nil
		return nil
	})
	return found, err
}

func (c *boltClient) Create(_ context.Context, path string, data []byte, _ Mode) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		if b.Get([]byte(path)) != nil {
			return ErrNodeExists
		}
		return b.Put([]byte(path), data)
	})
}

func (c *boltClient) Get(_ context.Context, path string) ([]byte, bool, error) {
	var data []byte
	err := c.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketNodes).Get([]byte(path))
		if v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	return data, data != nil, err
}

func (c *boltClient) Set(_ context.Context, path string, data []byte) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNodes).Put([]byte(path), data)
	})
}

func (c *boltClient) Delete(_ context.Context, path string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNodes).Delete([]byte(path))
	})
}

// ChildrenWithWatch emits the current child set once and then blocks until
// ctx is cancelled; see the boltClient doc comment for why it does not
// watch.
func (c *boltClient) ChildrenWithWatch(ctx context.Context, path string) (<-chan []string, func()) {
	out := make(chan []string, 1)
	prefix := []byte(path + "/")
	var children []string
	_ = c.db.View(func(tx *bolt.Tx) error {
		cur := tx.Bucket(bucketNodes).Cursor()
		for k, _ := cur.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = cur.Next() {
			children = append(children, string(k[len(prefix):]))
		}
		return nil
	})
	out <- children

	done := make(chan struct{})
	var cancelOnce func()
	cancelOnce = func() {
		select {
		case <-done:
		default:
			close(done)
			close(out)
		}
	}
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		cancelOnce()
	}()
	return out, cancelOnce
}

// DataWithWatch emits path's current value once and then blocks until ctx
// is cancelled.
func (c *boltClient) DataWithWatch(ctx context.Context, path string) (<-chan []byte, func()) {
	out := make(chan []byte, 1)
	data, _, _ := c.Get(ctx, path)
	out <- data

	done := make(chan struct{})
	var cancelOnce func()
	cancelOnce = func() {
		select {
		case <-done:
		default:
			close(done)
			close(out)
		}
	}
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		cancelOnce()
	}()
	return out, cancelOnce
}

func (c *boltClient) Close() error {
	return c.db.Close()
}
