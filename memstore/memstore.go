// Package memstore provides an in-memory storage engine for a container
// hierarchy. It is the reference engine used by tests and the CLI: node
// representations live in a concurrent handle table, leaf payloads are held
// zstd-compressed with a blake3 checksum of the uncompressed bytes, and
// attributes are stored as the encoded values the core hands over.
package memstore

import (
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/zeebo/blake3"

	"github.com/mbellward/arbor"
	"github.com/mbellward/arbor/internal/util"
)

// Engine-level errors surfaced unmodified through the hierarchy core.
var (
	// ErrUnknownHandle indicates a handle that was never issued or whose
	// entry was deleted.
	ErrUnknownHandle = errors.New("memstore: unknown handle")

	// ErrChildExists indicates a creation or move target name that is
	// already taken.
	ErrChildExists = errors.New("memstore: child already exists")

	// ErrNoSuchChild indicates an open or move source that does not exist.
	ErrNoSuchChild = errors.New("memstore: no such child")

	// ErrNotALeaf indicates payload access on a group entry.
	ErrNotALeaf = errors.New("memstore: node holds no payload")

	// ErrChecksum indicates a stored payload no longer matches its
	// blake3 checksum.
	ErrChecksum = errors.New("memstore: payload checksum mismatch")
)

type entry struct {
	handle   arbor.Handle
	kind     arbor.NodeKind
	name     string
	parent   arbor.Handle
	children map[string]arbor.Handle // groups only
	attrs    map[string][]byte

	// Leaf payload, zstd-compressed, with the checksum of the raw bytes.
	payload    []byte
	rawSize    int
	sum        [32]byte
	hasPayload bool
}

// Engine is an in-memory [arbor.StorageEngine] that also implements
// [arbor.PayloadStore] and [arbor.AttributeStore].
type Engine struct {
	mu      sync.Mutex
	entries *xsync.Map[arbor.Handle, *entry]
	root    arbor.Handle

	enc *zstd.Encoder
	dec *zstd.Decoder

	log util.Logger
}

// New creates an empty engine with a fresh root group.
func New() *Engine {
	enc, _ := zstd.NewWriter(nil)
	dec, _ := zstd.NewReader(nil)

	e := &Engine{
		entries: xsync.NewMap[arbor.Handle, *entry](),
		enc:     enc,
		dec:     dec,
		log:     util.GetLogger("memstore"),
	}
	root := &entry{
		handle:   newHandle(),
		kind:     arbor.GroupKind,
		children: make(map[string]arbor.Handle),
		attrs:    make(map[string][]byte),
	}
	e.entries.Store(root.handle, root)
	e.root = root.handle
	return e
}

func newHandle() arbor.Handle {
	return arbor.Handle(uuid.NewString())
}

// Root returns the root group's handle and metadata.
func (e *Engine) Root() (arbor.Handle, arbor.NodeMeta, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	root, ok := e.entries.Load(e.root)
	if !ok {
		return arbor.NoHandle, arbor.NodeMeta{}, ErrUnknownHandle
	}
	return root.handle, e.metaLocked(root), nil
}

// Create makes a new node representation under parent.
func (e *Engine) Create(parent arbor.Handle, name string, kind arbor.NodeKind, attrs map[string][]byte) (arbor.Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.groupLocked(parent)
	if err != nil {
		return arbor.NoHandle, err
	}
	if _, taken := p.children[name]; taken {
		return arbor.NoHandle, fmt.Errorf("%w: %q under %q", ErrChildExists, name, p.name)
	}

	n := &entry{
		handle: newHandle(),
		kind:   kind,
		name:   name,
		parent: parent,
		attrs:  make(map[string][]byte),
	}
	if kind == arbor.GroupKind {
		n.children = make(map[string]arbor.Handle)
	}
	maps.Copy(n.attrs, attrs)

	e.entries.Store(n.handle, n)
	p.children[name] = n.handle
	return n.handle, nil
}

// Open locates an existing child of parent by name.
func (e *Engine) Open(parent arbor.Handle, name string) (arbor.Handle, arbor.NodeMeta, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.groupLocked(parent)
	if err != nil {
		return arbor.NoHandle, arbor.NodeMeta{}, err
	}
	h, ok := p.children[name]
	if !ok {
		return arbor.NoHandle, arbor.NodeMeta{}, fmt.Errorf("%w: %q under %q", ErrNoSuchChild, name, p.name)
	}
	n, ok := e.entries.Load(h)
	if !ok {
		return arbor.NoHandle, arbor.NodeMeta{}, ErrUnknownHandle
	}
	return h, e.metaLocked(n), nil
}

// Delete destroys a node representation and its whole subtree.
func (e *Engine) Delete(h arbor.Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	n, ok := e.entries.Load(h)
	if !ok {
		return ErrUnknownHandle
	}
	if parent, ok := e.entries.Load(n.parent); ok && parent.children != nil {
		delete(parent.children, n.name)
	}
	e.deleteSubtreeLocked(n)
	return nil
}

func (e *Engine) deleteSubtreeLocked(n *entry) {
	for _, h := range n.children {
		if child, ok := e.entries.Load(h); ok {
			e.deleteSubtreeLocked(child)
		}
	}
	e.entries.Delete(n.handle)
}

// Move relocates a child from one parent to another. The paths are accepted
// for engines that index by path; this one does not.
func (e *Engine) Move(oldParent arbor.Handle, oldName string, newParent arbor.Handle, newName string, oldPath, newPath string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	op, err := e.groupLocked(oldParent)
	if err != nil {
		return err
	}
	np, err := e.groupLocked(newParent)
	if err != nil {
		return err
	}
	h, ok := op.children[oldName]
	if !ok {
		return fmt.Errorf("%w: %q under %q", ErrNoSuchChild, oldName, op.name)
	}
	if _, taken := np.children[newName]; taken {
		return fmt.Errorf("%w: %q under %q", ErrChildExists, newName, np.name)
	}
	n, ok := e.entries.Load(h)
	if !ok {
		return ErrUnknownHandle
	}

	delete(op.children, oldName)
	np.children[newName] = h
	n.parent = newParent
	n.name = newName

	e.log.Trace().Str("from", oldPath).Str("to", newPath).Msg("Moved entry")
	return nil
}

// Close releases a handle. Entries persist after close; reopening by name
// yields the same representation.
func (e *Engine) Close(h arbor.Handle) error {
	if _, ok := e.entries.Load(h); !ok {
		return ErrUnknownHandle
	}
	return nil
}

// WriteData stores a leaf payload compressed, remembering the checksum and
// size of the raw bytes.
func (e *Engine) WriteData(h arbor.Handle, p []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	n, ok := e.entries.Load(h)
	if !ok {
		return ErrUnknownHandle
	}
	if n.kind != arbor.LeafKind {
		return fmt.Errorf("%w: %q", ErrNotALeaf, n.name)
	}
	n.payload = e.enc.EncodeAll(p, nil)
	n.rawSize = len(p)
	n.sum = blake3.Sum256(p)
	n.hasPayload = true
	return nil
}

// ReadData returns a leaf payload, verifying it against the stored
// checksum.
func (e *Engine) ReadData(h arbor.Handle) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	n, ok := e.entries.Load(h)
	if !ok {
		return nil, ErrUnknownHandle
	}
	if n.kind != arbor.LeafKind {
		return nil, fmt.Errorf("%w: %q", ErrNotALeaf, n.name)
	}
	if !n.hasPayload {
		return nil, nil
	}
	raw, err := e.dec.DecodeAll(n.payload, nil)
	if err != nil {
		return nil, fmt.Errorf("memstore: failed to decompress payload of %q: %w", n.name, err)
	}
	if blake3.Sum256(raw) != n.sum {
		return nil, fmt.Errorf("%w: %q", ErrChecksum, n.name)
	}
	return raw, nil
}

// PutAttr stores an encoded attribute value.
func (e *Engine) PutAttr(h arbor.Handle, name string, value []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, ok := e.entries.Load(h)
	if !ok {
		return ErrUnknownHandle
	}
	n.attrs[name] = value
	return nil
}

// DeleteAttr removes an attribute.
func (e *Engine) DeleteAttr(h arbor.Handle, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, ok := e.entries.Load(h)
	if !ok {
		return ErrUnknownHandle
	}
	delete(n.attrs, name)
	return nil
}

// Len returns the number of live entries, root included.
func (e *Engine) Len() int {
	return e.entries.Size()
}

func (e *Engine) groupLocked(h arbor.Handle) (*entry, error) {
	n, ok := e.entries.Load(h)
	if !ok {
		return nil, ErrUnknownHandle
	}
	if n.kind != arbor.GroupKind {
		return nil, fmt.Errorf("memstore: %q is not a group", n.name)
	}
	return n, nil
}

func (e *Engine) metaLocked(n *entry) arbor.NodeMeta {
	meta := arbor.NodeMeta{
		Kind:  n.kind,
		Attrs: maps.Clone(n.attrs),
		Size:  n.rawSize,
	}
	if n.children != nil {
		meta.Children = make([]string, 0, len(n.children))
		for name := range n.children {
			meta.Children = append(meta.Children, name)
		}
		sort.Strings(meta.Children)
	}
	return meta
}
