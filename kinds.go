// Package arbor defines the shared contracts of the hierarchy store: node
// kinds and their undo capabilities, operation kinds for the undo/redo log,
// path helpers, error kinds, and the collaborator interfaces implemented by
// storage engines and recorders.
package arbor

// NodeKind tags a node as a group (interior, holds children) or a leaf
// (terminal, holds a data payload). The set of kinds is closed; behavior is
// dispatched through the compile-time capability table below rather than a
// runtime registry.
type NodeKind uint8

const (
	// GroupKind is an interior node that may contain children.
	GroupKind NodeKind = iota + 1
	// LeafKind is a terminal node holding an opaque data payload.
	LeafKind
)

func (k NodeKind) String() string {
	switch k {
	case GroupKind:
		return "group"
	case LeafKind:
		return "leaf"
	default:
		return "unknown"
	}
}

// Capability describes which hierarchy operations on a node kind can be
// undone and redone when a recorder is attached.
type Capability struct {
	CanUndoCreate bool
	CanUndoRemove bool
	CanUndoMove   bool
}

// capabilities is the closed kind-to-capability table. Kinds missing from it
// default to the zero Capability (nothing undoable).
var capabilities = map[NodeKind]Capability{
	GroupKind: {CanUndoCreate: true, CanUndoRemove: true, CanUndoMove: true},
	LeafKind:  {CanUndoCreate: true, CanUndoRemove: true, CanUndoMove: true},
}

// KindCapability returns the undo capabilities of a node kind.
func KindCapability(k NodeKind) Capability {
	return capabilities[k]
}

// OpKind identifies a loggable hierarchy operation.
type OpKind uint8

const (
	OpCreate OpKind = iota + 1
	OpRemove
	OpMove
)

func (op OpKind) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpRemove:
		return "REMOVE"
	case OpMove:
		return "MOVE"
	default:
		return "UNKNOWN"
	}
}
