package hierarchy

import (
	"fmt"
	"sync/atomic"

	"github.com/mbellward/arbor"
)

// Node is one addressable member of the hierarchy: a group that can contain
// children, or a leaf holding a data payload. A node is exclusively owned by
// its container; it never stores a pointer to its parent. The parent is
// resolved on demand by splitting the node's path and looking it up through
// the container, which keeps ownership strictly downward.
//
// Exported methods serialize through the container's hierarchy lock. A Node
// value stays valid until closed; using it afterwards returns
// [arbor.ErrClosedNode].
type Node struct {
	c      *Container // nil once the node is closed
	kind   arbor.NodeKind
	handle arbor.Handle

	// Location state, rebound on every move.
	path  string
	name  string
	depth int

	// isNew distinguishes a node being created from one being opened.
	isNew bool
	// deleting guards against unregistering from an index the node is no
	// longer part of during teardown.
	deleting bool

	refs atomic.Int32

	// rawAttrs carries the encoded attributes handed over by the engine
	// at open time, decoded lazily when the AttributeSet materializes.
	rawAttrs map[string][]byte
	attrs    *AttributeSet

	// Groups track both the persisted child names and the subset of
	// children that are live in memory.
	children   map[string]*Node
	childNames map[string]struct{}
}

func newNode(c *Container, kind arbor.NodeKind, isNew bool) *Node {
	n := &Node{c: c, kind: kind, isNew: isNew}
	if kind == arbor.GroupKind {
		n.children = make(map[string]*Node)
		n.childNames = make(map[string]struct{})
	}
	return n
}

// Kind returns the node's kind tag.
func (n *Node) Kind() arbor.NodeKind { return n.kind }

// IsGroup reports whether the node can contain children.
func (n *Node) IsGroup() bool { return n.kind == arbor.GroupKind }

// IsOpen reports whether the node is attached to its container.
func (n *Node) IsOpen() bool { return n.c != nil }

// IsNew reports whether this instance was created in this session rather
// than opened from the engine.
func (n *Node) IsNew() bool { return n.isNew }

// Path returns the node's full path within its container.
func (n *Node) Path() string { return n.path }

// Name returns the last segment of the node's path.
func (n *Node) Name() string { return n.name }

// Depth returns the node's depth; the root group is at depth 0.
func (n *Node) Depth() int { return n.depth }

// Handle returns the storage engine handle bound to this node.
func (n *Node) Handle() arbor.Handle { return n.handle }

// IsVisible reports whether no segment of the node's path is reserved for
// internal bookkeeping.
func (n *Node) IsVisible() (bool, error) {
	if err := n.checkOpen(); err != nil {
		return false, err
	}
	return arbor.IsVisiblePath(n.path), nil
}

// IsRoot reports whether this is the container's root group.
func (n *Node) IsRoot() bool { return n.c != nil && n.path == arbor.RootPath }

// Parent resolves the node's parent group through the container's index.
func (n *Node) Parent() (*Node, error) {
	if err := n.checkOpen(); err != nil {
		return nil, err
	}
	c := n.c
	c.mu.Lock()
	defer c.mu.Unlock()
	return n.parentLocked()
}

// Retain adds a reference so the node survives releases by other holders.
func (n *Node) Retain() {
	n.refs.Add(1)
}

// Release drops one reference. When the last reference goes, the node is
// killed into the container's dead-node cache: its state is preserved and a
// later lookup of the same path revives it. A released node must not be
// used again by the releasing holder.
func (n *Node) Release() {
	c := n.c
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if n.c == nil || n.IsRoot() {
		return // closed concurrently to the lock, or the pinned root
	}
	if n.refs.Add(-1) > 0 {
		return
	}
	c.killLocked(n)
}

// Close detaches the node from the tree and drops all of its in-memory
// state. Closing is idempotent and never recursive: closing a group does
// not close its loaded children. The persisted representation is untouched;
// a later lookup of the same path opens a fresh node.
func (n *Node) Close() error {
	c := n.c
	if c == nil {
		return nil // already closed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	n.closeInternal()
	return nil
}

// Data returns a leaf's payload as decoded by the engine.
func (n *Node) Data() ([]byte, error) {
	if err := n.checkOpen(); err != nil {
		return nil, err
	}
	if n.kind != arbor.LeafKind {
		return nil, fmt.Errorf("node %q is a %s and holds no payload", n.path, n.kind)
	}
	ps, ok := n.c.engine.(arbor.PayloadStore)
	if !ok {
		return nil, fmt.Errorf("storage engine %T does not store payloads", n.c.engine)
	}
	return ps.ReadData(n.handle)
}

// SetData replaces a leaf's payload.
func (n *Node) SetData(data []byte) error {
	if err := n.checkOpen(); err != nil {
		return err
	}
	if n.kind != arbor.LeafKind {
		return fmt.Errorf("node %q is a %s and holds no payload", n.path, n.kind)
	}
	if err := n.c.CheckWritable(); err != nil {
		return err
	}
	return n.c.writePayload(n, data)
}

// checkOpen returns ErrClosedNode when the node has been closed.
func (n *Node) checkOpen() error {
	if n.c == nil {
		return fmt.Errorf("%w: %q", arbor.ErrClosedNode, n.name)
	}
	return nil
}

// parentLocked resolves the parent group, reviving or reopening it if it is
// not currently live. The root has no parent.
func (n *Node) parentLocked() (*Node, error) {
	if n.path == arbor.RootPath {
		return nil, nil
	}
	parentPath, _ := arbor.SplitPath(n.path)
	return n.c.getNodeLocked(parentPath)
}

// bindLocation populates the location fields from the parent and registers
// the node in the path index. Depth beyond the configured maximum is not an
// error, only a performance warning.
func (n *Node) bindLocation(parent *Node, name string) {
	c := n.c
	n.name = name
	n.path = arbor.JoinPath(parent.path, name)
	n.depth = parent.depth + 1

	if n.depth > c.cfg.MaxTreeDepth {
		c.log.Warn().
			Str("path", n.path).
			Int("maxDepth", c.cfg.MaxTreeDepth).
			Msg("Node exceeds the recommended maximum tree depth; expect high memory use and slow lookups")
	}

	c.index.ref(n.path, n)
}

// updateLocation rebinds the location fields after an ancestor moved to
// newParentPath and reindexes the node under its rewritten path. Dependents
// caching the path (the attribute set) are notified.
func (n *Node) updateLocation(newParentPath string) {
	c := n.c
	oldPath := n.path
	n.path = arbor.JoinPath(newParentPath, n.name)
	n.depth = arbor.PathDepth(newParentPath) + 1

	if n.depth > c.cfg.MaxTreeDepth {
		c.log.Warn().
			Str("path", n.path).
			Int("maxDepth", c.cfg.MaxTreeDepth).
			Msg("Moved descendant exceeds the recommended maximum tree depth")
	}

	c.index.unref(oldPath)
	c.index.ref(n.path, n)
	c.index.dropDeadPrefix(oldPath)

	if n.attrs != nil {
		n.attrs.nodeMoved(n.path)
	}

	// Descendant paths are prefixed by this node's path, so they must be
	// rewritten as well.
	for _, child := range n.liveChildren() {
		child.updateLocation(n.path)
	}
}

// delLocation clears the location fields and removes the node from the path
// index and from its parent's live-children map. The parent may itself be
// dead at this point; its children map must be purged regardless, or a later
// revival would hand out a pointer to this closed node. A node in teardown
// after a kill-eviction is already unindexed and skips the unregistration.
func (n *Node) delLocation() {
	c := n.c
	path := n.path

	if !n.deleting {
		c.index.unref(path)
		if parent, ok := c.index.lookupAny(parentPathOf(path)); ok && parent.children != nil {
			if live, ok := parent.children[n.name]; ok && live == n {
				delete(parent.children, n.name)
			}
		}
	}

	n.path = ""
	n.name = ""
	n.depth = 0
}

// closeInternal performs close under an already-held container lock. Safe
// to call on a partially constructed node during creation unwinding.
func (n *Node) closeInternal() {
	if n.c == nil {
		return
	}
	c := n.c

	// The attribute set shares the node's lifetime: close it first.
	if n.attrs != nil {
		n.attrs.close()
		n.attrs = nil
	}

	if n.handle != arbor.NoHandle {
		if err := c.engine.Close(n.handle); err != nil {
			c.log.Warn().Err(err).Str("path", n.path).Msg("Engine failed to close node handle")
		}
		n.handle = arbor.NoHandle
	}

	if n.path != "" {
		n.delLocation()
	}

	n.rawAttrs = nil
	n.children = nil
	n.childNames = nil
	n.refs.Store(0)
	n.c = nil
}

func parentPathOf(path string) string {
	parent, _ := arbor.SplitPath(path)
	return parent
}
