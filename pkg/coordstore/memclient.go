package coordstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// memNode is one path's state plus the set of subscribers currently
// watching it, mirroring the fan-out pattern used by the event broker:
// a per-subscriber buffered channel, closed on unsubscribe.
type memNode struct {
	mode Mode
	data []byte
	children map[string]struct{}

	dataSubs map[chan []byte]struct{}
	childrenSubs map[chan []string]struct{}
}

// memClient is an in-process hierarchical coordination store with
// channel-based watches. It never touches disk; every ephemeral node it
// holds disappears on Close, exactly like a ZooKeeper session ending.
// Intended for tests and single-process demos (SPEC_FULL.md §6).
type memClient struct {
	mu sync.Mutex
	nodes map[string]*memNode
}

// NewMemClient returns a fresh, empty in-memory coordination store.
func NewMemClient() Client {
	c := &memClient{nodes: make(map[string]*memNode)}
	c.nodes["/"] = &memNode{mode: Persistent, children: make(map[string]struct{})}
	return c
}

func parent(path string) string {
	path = strings.TrimSuffix(path, "/")
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return "/"
	}
	return path[:idx]
}

func base(path string) string {
	path = strings.TrimSuffix(path, "/")
	idx := strings.LastIndex(path, "/")
	return path[idx+1:]
}

func (c *memClient) Exists(_ context.Context, path string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.nodes[path]
	return ok, nil
}

func (c *memClient) Create(_ context.Context, path string, data []byte, mode Mode) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.nodes[path]; ok {
		return ErrNodeExists
	}

	c.nodes[path] = &memNode{mode: mode, data: data, children: make(map[string]struct{})}

	p := parent(path)
	if pn, ok := c.nodes[p]; ok {
		if pn.children == nil {
			pn.children = make(map[string]struct{})
		}
		pn.children[base(path)] = struct{}{}
		c.notifyChildrenLocked(pn)
	}
	return nil
}

func (c *memClient) Get(_ context.Context, path string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.nodes[path]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), n.data...), true, nil
}

func (c *memClient) Set(_ context.Context, path string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.nodes[path]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	n.data = data
	c.notifyDataLocked(n)
	return nil
}

func (c *memClient) Delete(_ context.Context, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.nodes[path]
	if !ok {
		return nil
	}
	delete(c.nodes, path)

	p := parent(path)
	if pn, ok := c.nodes[p]; ok {
		delete(pn.children, base(path))
		c.notifyChildrenLocked(pn)
	}
	for sub := range n.dataSubs {
		close(sub)
	}
	return nil
}

func (c *memClient) ChildrenWithWatch(ctx context.Context, path string) (<-chan []string, func()) {
	c.mu.Lock()
	n, ok := c.nodes[path]
	if !ok {
		n = &memNode{mode: Persistent, children: make(map[string]struct{})}
		c.nodes[path] = n
	}
	sub := make(chan []string, 8)
	if n.childrenSubs == nil {
		n.childrenSubs = make(map[chan []string]struct{})
	}
	n.childrenSubs[sub] = struct{}{}
	initial := snapshotChildren(n)
	c.mu.Unlock()

	sub <- initial

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if node, ok := c.nodes[path]; ok {
				delete(node.childrenSubs, sub)
			}
			close(sub)
		})
	}

	go func() {
		<-ctx.Done()
		cancel()
	}()

	return sub, cancel
}

func (c *memClient) DataWithWatch(ctx context.Context, path string) (<-chan []byte, func()) {
	c.mu.Lock()
	n, ok := c.nodes[path]
	if !ok {
		n = &memNode{mode: Persistent}
		c.nodes[path] = n
	}
	sub := make(chan []byte, 8)
	if n.dataSubs == nil {
		n.dataSubs = make(map[chan []byte]struct{})
	}
	n.dataSubs[sub] = struct{}{}
	initial := append([]byte(nil), n.data...)
	c.mu.Unlock()

	sub <- initial

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if node, ok := c.nodes[path]; ok {
				delete(node.dataSubs, sub)
			}
			close(sub)
		})
	}

	go func() {
		<-ctx.Done()
		cancel()
	}()

	return sub, cancel
}

func (c *memClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range c.nodes {
		for sub := range n.dataSubs {
			close(sub)
		}
		for sub := range n.childrenSubs {
			close(sub)
		}
	}
	c.nodes = make(map[string]*memNode)
	return nil
}

func snapshotChildren(n *memNode) []string {
	out := make([]string, 0, len(n.children))
	for name := range n.children {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// notifyChildrenLocked and notifyDataLocked must be called with c.mu held.
func (c *memClient) notifyChildrenLocked(n *memNode) {
	snap := snapshotChildren(n)
	for sub := range n.childrenSubs {
		select {
		case sub <- snap:
		default:
			// Slow subscriber: drop the update, matching the event
			// broker's "buffer full, skip" policy.
		}
	}
}

func (c *memClient) notifyDataLocked(n *memNode) {
	data := append([]byte(nil), n.data...)
	for sub := range n.dataSubs {
		select {
		case sub <- data:
		default:
		}
	}
}
