package arbor

// Handle is the opaque identifier a storage engine assigns to a node's
// persisted representation.
type Handle string

// NoHandle is the zero Handle, held by nodes that are not bound to an
// engine representation.
const NoHandle Handle = ""

// NodeMeta is the metadata a storage engine returns when opening an
// existing node.
type NodeMeta struct {
	Kind NodeKind
	// Attrs holds the node's persisted attributes as encoded values,
	// keyed by attribute name. Decoding is the caller's concern.
	Attrs map[string][]byte
	// Children lists the names of persisted children; empty for leaves.
	Children []string
	// Size is the uncompressed payload size in bytes; zero for groups.
	Size int
}

// StorageEngine performs the physical create/open/delete/move of node
// representations. The hierarchy core treats it as an external collaborator
// and surfaces its errors unmodified.
type StorageEngine interface {
	// Root returns the handle and metadata of the container's root group,
	// creating it if the backing store is empty.
	Root() (Handle, NodeMeta, error)

	// Create makes a new node representation under parent and returns its
	// handle. attrs carries initial encoded attributes, may be nil.
	Create(parent Handle, name string, kind NodeKind, attrs map[string][]byte) (Handle, error)

	// Open locates an existing child of parent by name.
	Open(parent Handle, name string) (Handle, NodeMeta, error)

	// Delete destroys a node representation and all of its descendants.
	Delete(h Handle) error

	// Move relocates a node representation to a new parent and name. The
	// old and new full paths are supplied for engines that index by path.
	Move(oldParent Handle, oldName string, newParent Handle, newName string, oldPath, newPath string) error

	// Close releases an open handle. It does not destroy the
	// representation.
	Close(h Handle) error
}

// PayloadStore is implemented by engines that hold leaf data payloads.
type PayloadStore interface {
	WriteData(h Handle, p []byte) error
	ReadData(h Handle) ([]byte, error)
}

// AttributeStore is implemented by engines that persist attribute
// mutations made after node creation. Values arrive already encoded.
type AttributeStore interface {
	PutAttr(h Handle, name string, value []byte) error
	DeleteAttr(h Handle, name string) error
}

// UndoRedoLog receives hierarchy operations when undo/redo is enabled.
// Logging must be cheap and must never fail the logged operation.
type UndoRedoLog interface {
	// Enabled reports whether operations should be logged at all.
	Enabled() bool

	// Log records an operation: CREATE and REMOVE carry one path, MOVE
	// carries the old and new paths.
	Log(op OpKind, paths ...string)
}
