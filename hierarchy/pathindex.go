package hierarchy

import (
	"strings"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/mbellward/arbor/internal/util"
)

// PathIndex maps hierarchy paths to live node handles and keeps the
// bounded cache of released-but-revivable ("dead") nodes. Alive nodes are
// the ones some caller or parent group still references; a node whose last
// reference is released is killed into the dead cache, from where a later
// lookup revives it with its state intact. Structural mutation of the index
// is serialized by the owning container's lock; the alive map itself is
// safe for concurrent readers.
type PathIndex struct {
	alive *xsync.Map[string, *Node]
	dead  *deadCache
	log   util.Logger
}

func newPathIndex(cacheSize int) *PathIndex {
	return &PathIndex{
		alive: xsync.NewMap[string, *Node](),
		dead:  newDeadCache(cacheSize),
		log:   util.GetLogger("PathIndex"),
	}
}

// ref registers a node as alive under path.
func (ix *PathIndex) ref(path string, n *Node) {
	ix.alive.Store(path, n)
}

// unref removes the alive entry for path.
func (ix *PathIndex) unref(path string) {
	ix.alive.Delete(path)
}

// lookup returns the alive node registered at path.
func (ix *PathIndex) lookup(path string) (*Node, bool) {
	return ix.alive.Load(path)
}

// lookupAny returns the node registered at path whether it is alive or
// parked in the dead cache. Bookkeeping that must reach a node's parent
// (purging a child entry) uses this, since the parent may be dead while
// its children are still being closed or killed.
func (ix *PathIndex) lookupAny(path string) (*Node, bool) {
	if n, ok := ix.alive.Load(path); ok {
		return n, true
	}
	if n := ix.dead.peek(path); n != nil {
		return n, true
	}
	return nil, false
}

// kill moves an alive node into the dead cache, preserving its state for a
// later revival. The evicted victim, if any, is past saving and is closed
// for good.
func (ix *PathIndex) kill(n *Node) {
	ix.alive.Delete(n.path)
	if victim := ix.dead.put(n.path, n); victim != nil {
		victim.deleting = true
		victim.closeInternal()
	}
}

// revive pulls a dead node back into the alive map and returns it. Returns
// nil if no dead node is cached for path.
func (ix *PathIndex) revive(path string) *Node {
	n := ix.dead.take(path)
	if n == nil {
		return nil
	}
	ix.alive.Store(path, n)
	ix.log.Trace().Str("path", path).Msg("Revived dead node")
	return n
}

// dropDeadPrefix closes and discards every dead node whose path equals
// path or sits under it. Used when a subtree is moved or removed so stale
// cached paths cannot be revived.
func (ix *PathIndex) dropDeadPrefix(path string) {
	prefix := path + "/"
	for _, n := range ix.dead.takePrefix(path, prefix) {
		n.deleting = true
		n.closeInternal()
	}
}

// forEachAlive visits every alive node, including hidden ones.
func (ix *PathIndex) forEachAlive(fn func(path string, n *Node) bool) {
	ix.alive.Range(fn)
}

// deadCache is a FIFO-bounded path-to-node store for killed nodes.
type deadCache struct {
	cap   int
	nodes map[string]*Node
	order []string
}

func newDeadCache(capacity int) *deadCache {
	return &deadCache{
		cap:   capacity,
		nodes: make(map[string]*Node, capacity),
	}
}

// put stores a node and returns the evicted victim when over capacity.
func (dc *deadCache) put(path string, n *Node) (victim *Node) {
	if dc.cap <= 0 {
		return n
	}
	if old, ok := dc.nodes[path]; ok {
		// A killed node replaces a same-path predecessor outright.
		dc.nodes[path] = n
		return old
	}
	if len(dc.order) >= dc.cap {
		oldest := dc.order[0]
		dc.order = dc.order[1:]
		victim = dc.nodes[oldest]
		delete(dc.nodes, oldest)
	}
	dc.nodes[path] = n
	dc.order = append(dc.order, path)
	return victim
}

// peek returns the cached node for path without removing it.
func (dc *deadCache) peek(path string) *Node {
	return dc.nodes[path]
}

func (dc *deadCache) take(path string) *Node {
	n, ok := dc.nodes[path]
	if !ok {
		return nil
	}
	delete(dc.nodes, path)
	dc.removeOrder(path)
	return n
}

// takePrefix removes and returns all nodes at path or under prefix.
func (dc *deadCache) takePrefix(path, prefix string) []*Node {
	var taken []*Node
	for p, n := range dc.nodes {
		if p == path || strings.HasPrefix(p, prefix) {
			taken = append(taken, n)
			delete(dc.nodes, p)
			dc.removeOrder(p)
		}
	}
	return taken
}

func (dc *deadCache) removeOrder(path string) {
	for i, p := range dc.order {
		if p == path {
			dc.order = append(dc.order[:i], dc.order[i+1:]...)
			return
		}
	}
}

func (dc *deadCache) len() int {
	return len(dc.nodes)
}
