package hierarchy

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/mbellward/arbor"
	"github.com/mbellward/arbor/config"
	"github.com/mbellward/arbor/internal/util"
)

// Container is the in-memory coordination layer over one persisted store:
// it owns the root group, the path index with its revival bookkeeping, the
// storage engine binding, and the optional undo/redo log hook.
//
// All structural mutation (create, open, move, copy, remove, close) is
// serialized by a single hierarchy-wide lock; there is no per-node locking.
type Container struct {
	mu     sync.Mutex
	cfg    *config.Config
	engine arbor.StorageEngine
	undo   arbor.UndoRedoLog

	writable bool
	open     bool

	index *PathIndex
	root  *Node

	// shadow bookkeeping for undoable removals
	shadowSeq atomic.Uint64
	shadowed  map[string]string // original path -> shadow path

	log util.Logger
}

// Options configures a new Container. The zero value gives a writable
// container with default tunables and no undo log.
type Options struct {
	Config   *config.Config
	ReadOnly bool
	UndoLog  arbor.UndoRedoLog
}

// NewContainer binds a container to a storage engine and opens the root
// group at "/" with depth 0.
func NewContainer(engine arbor.StorageEngine, opts Options) (*Container, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}

	c := &Container{
		cfg:      cfg,
		engine:   engine,
		undo:     opts.UndoLog,
		writable: !opts.ReadOnly,
		open:     true,
		index:    newPathIndex(cfg.DeadNodeCacheSize),
		shadowed: make(map[string]string),
		log:      util.GetLogger("Container"),
	}

	handle, meta, err := engine.Root()
	if err != nil {
		return nil, fmt.Errorf("failed to open root group: %w", err)
	}

	root := newNode(c, arbor.GroupKind, false)
	root.handle = handle
	root.path = arbor.RootPath
	root.name = ""
	root.depth = 0
	root.rawAttrs = meta.Attrs
	for _, name := range meta.Children {
		root.childNames[name] = struct{}{}
	}
	// The root is pinned: Release never kills it.
	root.refs.Store(1)

	c.root = root
	c.index.ref(arbor.RootPath, root)
	return c, nil
}

// Root returns the container's root group.
func (c *Container) Root() *Node {
	return c.root
}

// IsOpen reports whether the container has not been closed.
func (c *Container) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// IsWritable reports whether mutation is permitted.
func (c *Container) IsWritable() bool { return c.writable }

// CheckWritable fails with a read-only error when the container was opened
// read-only.
func (c *Container) CheckWritable() error {
	if !c.writable {
		return fmt.Errorf("%w: cannot modify this container", arbor.ErrReadOnly)
	}
	return nil
}

// SetUndoLog attaches (or detaches, with nil) the undo/redo log hook.
func (c *Container) SetUndoLog(l arbor.UndoRedoLog) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.undo = l
}

// IsUndoEnabled reports whether hierarchy operations are being logged.
func (c *Container) IsUndoEnabled() bool {
	return c.undo != nil && c.undo.Enabled()
}

// CreateGroup creates a new group under parent and returns it retained.
func (c *Container) CreateGroup(parent *Node, name string) (*Node, error) {
	return c.create(parent, name, arbor.GroupKind, nil)
}

// CreateLeaf creates a new leaf under parent holding data and returns it
// retained. The payload encoding is the engine's concern.
func (c *Container) CreateLeaf(parent *Node, name string, data []byte) (*Node, error) {
	return c.create(parent, name, arbor.LeafKind, data)
}

func (c *Container) create(parent *Node, name string, kind arbor.NodeKind, data []byte) (*Node, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkParent(parent); err != nil {
		return nil, err
	}
	n, err := c.createLocked(parent, name, kind, data, nil, true)
	if err != nil {
		return nil, err
	}
	n.Retain()
	return n, nil
}

// OpenNode opens an existing child of parent and returns it retained. If
// the node is already live (or revivable), the same logical node is
// returned.
func (c *Container) OpenNode(parent *Node, name string) (*Node, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkParent(parent); err != nil {
		return nil, err
	}
	n, err := c.childLocked(parent, name)
	if err != nil {
		return nil, err
	}
	n.Retain()
	return n, nil
}

// GetNode resolves a path to a node, walking down from the root and opening
// any segments that are not live, and returns it retained.
func (c *Container) GetNode(path string) (*Node, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return nil, arbor.ErrClosedContainer
	}
	n, err := c.getNodeLocked(path)
	if err != nil {
		return nil, err
	}
	n.Retain()
	return n, nil
}

// Close closes every live node and detaches from the engine. Nodes held by
// callers become closed nodes; using them afterwards fails.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return nil
	}

	// Close deepest-first so parents outlive their children's teardown.
	var nodes []*Node
	c.index.forEachAlive(func(_ string, n *Node) bool {
		if n != c.root {
			nodes = append(nodes, n)
		}
		return true
	})
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].depth > nodes[j].depth })
	for _, n := range nodes {
		n.closeInternal()
	}

	for _, n := range c.index.dead.takePrefix(arbor.RootPath, "/") {
		n.deleting = true
		n.closeInternal()
	}

	c.root.closeInternal()
	c.root = nil
	c.open = false
	return nil
}

// checkParent validates the parent argument of a create/open call.
func (c *Container) checkParent(parent *Node) error {
	if parent == nil {
		return fmt.Errorf("%w: parent is required", arbor.ErrMissingArgument)
	}
	if err := parent.checkOpen(); err != nil {
		return err
	}
	if parent.c != c {
		return fmt.Errorf("%w: parent %q belongs to a different container", arbor.ErrCrossContainer, parent.path)
	}
	if !parent.IsGroup() {
		return fmt.Errorf("%w: %q is a %s", arbor.ErrNotAGroup, parent.path, parent.kind)
	}
	return nil
}

// createLocked registers the new node in its parent and the path index
// before the engine creation call, so a failure mid-creation is unwound by
// closing the half-constructed node and releasing its claimed name.
func (c *Container) createLocked(parent *Node, name string, kind arbor.NodeKind, data []byte, rawAttrs map[string][]byte, logit bool) (*Node, error) {
	if err := arbor.ValidateName(name); err != nil {
		return nil, err
	}
	if err := c.CheckWritable(); err != nil {
		return nil, err
	}

	n := newNode(c, kind, true)
	n.rawAttrs = rawAttrs
	if err := parent.refChild(n, name); err != nil {
		return nil, err
	}
	n.bindLocation(parent, name)

	handle, err := c.engine.Create(parent.handle, name, kind, rawAttrs)
	if err != nil {
		parent.unrefChild(name)
		n.closeInternal()
		return nil, err
	}
	n.handle = handle

	if kind == arbor.LeafKind && data != nil {
		if err := c.writePayload(n, data); err != nil {
			parent.unrefChild(name)
			n.closeInternal()
			if derr := c.engine.Delete(handle); derr != nil {
				c.log.Warn().Err(derr).Str("name", name).Msg("Failed to delete half-created node representation")
			}
			return nil, err
		}
	}

	c.log.Debug().Str("path", n.path).Stringer("kind", kind).Msg("Created node")

	if logit && c.IsUndoEnabled() {
		if arbor.KindCapability(kind).CanUndoCreate {
			c.undo.Log(arbor.OpCreate, n.path)
		} else {
			c.log.Warn().Str("path", n.path).Msg("Creation cannot be undone nor redone for this node kind")
		}
	}
	return n, nil
}

// childLocked returns the named child of parent, preferring the live node,
// then a dead-cache revival, and finally a fresh engine open.
func (c *Container) childLocked(parent *Node, name string) (*Node, error) {
	if !parent.IsGroup() {
		return nil, fmt.Errorf("%w: %q is a %s", arbor.ErrNotAGroup, parent.path, parent.kind)
	}
	if live, ok := parent.children[name]; ok {
		if live.c != nil {
			return live, nil
		}
		delete(parent.children, name)
	}

	childPath := arbor.JoinPath(parent.path, name)
	if n, ok := c.index.lookup(childPath); ok {
		parent.children[name] = n
		return n, nil
	}
	if n := c.index.revive(childPath); n != nil {
		parent.children[name] = n
		return n, nil
	}

	if _, exists := parent.childNames[name]; !exists {
		return nil, fmt.Errorf("%w: %q has no child named %q", arbor.ErrNodeNotFound, parent.path, name)
	}
	return c.openLocked(parent, name)
}

// openLocked opens a persisted child fresh from the engine. A node that was
// fully closed is never transparently revived; it always comes back through
// here as a new instance.
func (c *Container) openLocked(parent *Node, name string) (*Node, error) {
	handle, meta, err := c.engine.Open(parent.handle, name)
	if err != nil {
		return nil, err
	}

	n := newNode(c, meta.Kind, false)
	n.handle = handle
	n.rawAttrs = meta.Attrs
	if n.IsGroup() {
		for _, child := range meta.Children {
			n.childNames[child] = struct{}{}
		}
	}
	parent.children[name] = n
	n.bindLocation(parent, name)

	c.log.Trace().Str("path", n.path).Msg("Opened node")
	return n, nil
}

// getNodeLocked resolves an absolute path, opening ancestors as needed.
func (c *Container) getNodeLocked(path string) (*Node, error) {
	if path == "" || path[0] != '/' {
		return nil, fmt.Errorf("%w: path %q is not absolute", arbor.ErrInvalidName, path)
	}
	if path == arbor.RootPath {
		return c.root, nil
	}
	if n, ok := c.index.lookup(path); ok {
		return n, nil
	}

	parentPath, name := arbor.SplitPath(path)
	parent, err := c.getNodeLocked(parentPath)
	if err != nil {
		return nil, err
	}
	return c.childLocked(parent, name)
}

// killLocked preserves a node whose last reference was released. The path
// stays alive in the dead cache so a later lookup revives the same logical
// node instead of reopening it. The parent's children entry is purged even
// when the parent is dead itself, so revivals only ever find the child
// through the dead cache, never through a stale map entry.
func (c *Container) killLocked(n *Node) {
	if parent, ok := c.index.lookupAny(parentPathOf(n.path)); ok && parent.children != nil {
		if live, ok := parent.children[n.name]; ok && live == n {
			delete(parent.children, n.name)
		}
	}
	c.index.kill(n)
	c.log.Trace().Str("path", n.path).Int("deadNodes", c.index.dead.len()).Msg("Killed released node into the dead cache")
}

// writePayload stores a leaf payload through the engine. The engine does
// its own locking, so this is safe with or without the hierarchy lock.
func (c *Container) writePayload(n *Node, data []byte) error {
	ps, ok := c.engine.(arbor.PayloadStore)
	if !ok {
		return fmt.Errorf("storage engine %T does not store payloads", c.engine)
	}
	return ps.WriteData(n.handle, data)
}
