package arbor

import (
	"fmt"
	"strings"
)

// RootPath is the path of a container's root group.
const RootPath = "/"

// HiddenPrefix marks a name as internal to the store. Nodes whose path
// contains a segment with this prefix are not visible to normal listing and
// are reserved for bookkeeping such as the undo shadow area.
const HiddenPrefix = "_p_"

// JoinPath joins a parent path and a child name into a full path.
// Joining under the root yields "/name" rather than "//name".
func JoinPath(parent, name string) string {
	if parent == RootPath {
		return RootPath + name
	}
	return parent + "/" + name
}

// SplitPath splits a full path into its parent path and final name.
// The root path splits into ("/", "").
func SplitPath(path string) (parent, name string) {
	if path == RootPath {
		return RootPath, ""
	}
	i := strings.LastIndexByte(path, '/')
	if i <= 0 {
		return RootPath, strings.TrimPrefix(path, "/")
	}
	return path[:i], path[i+1:]
}

// PathDepth returns the number of segments below the root, so the root is
// depth 0 and "/a/b" is depth 2.
func PathDepth(path string) int {
	if path == RootPath {
		return 0
	}
	return strings.Count(path, "/")
}

// ValidateName reports whether name can be used for a node: it must be
// non-empty and must not contain a path separator.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidName)
	}
	if strings.ContainsRune(name, '/') {
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, name)
	}
	return nil
}

// IsVisiblePath reports whether no segment of path carries the hidden
// prefix. The root is always visible.
func IsVisiblePath(path string) bool {
	if path == RootPath {
		return true
	}
	for _, seg := range strings.Split(path[1:], "/") {
		if strings.HasPrefix(seg, HiddenPrefix) {
			return false
		}
	}
	return true
}
