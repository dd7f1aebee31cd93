package arbor

import "errors"

// Lifecycle errors
var (
	// ErrClosedNode indicates an operation was attempted on a closed node.
	ErrClosedNode = errors.New("node is closed")

	// ErrClosedContainer indicates the owning container has been closed.
	ErrClosedContainer = errors.New("container is closed")

	// ErrReadOnly indicates a mutation was attempted on a container opened
	// read-only.
	ErrReadOnly = errors.New("container is read-only")
)

// Hierarchy errors
var (
	// ErrNotAGroup indicates the designated parent cannot contain children.
	ErrNotAGroup = errors.New("parent node is not a group")

	// ErrNameCollision indicates the destination name is already occupied
	// and overwrite was not requested.
	ErrNameCollision = errors.New("destination name already exists")

	// ErrSelfContainment indicates a move or recursive copy would place a
	// node inside itself or one of its descendants.
	ErrSelfContainment = errors.New("cannot move or recursively copy a node into itself")

	// ErrCrossContainer indicates a move between containers, which is not
	// permitted; the node should be copied instead.
	ErrCrossContainer = errors.New("cannot move a node across containers; copy it instead")

	// ErrNotEmpty indicates non-recursive removal of a group with children.
	ErrNotEmpty = errors.New("group has children; recursive removal is required")

	// ErrMissingArgument indicates move or copy was invoked with neither a
	// new parent nor a new name, or a copy targeted the node itself.
	ErrMissingArgument = errors.New("a new parent or a new name is required")

	// ErrNodeNotFound indicates no node exists at the requested path.
	ErrNodeNotFound = errors.New("no such node")

	// ErrInvalidName indicates a node name that is empty or contains a
	// path separator.
	ErrInvalidName = errors.New("invalid node name")
)
