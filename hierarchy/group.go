package hierarchy

import (
	"fmt"
	"sort"

	"github.com/mbellward/arbor"
)

// Group-side containment: a group tracks the full set of persisted child
// names plus the subset of children currently live in memory. Lookups load
// children lazily through the engine.

// NumChildren returns the number of persisted children, loaded or not.
func (n *Node) NumChildren() (int, error) {
	if err := n.checkOpen(); err != nil {
		return 0, err
	}
	if !n.IsGroup() {
		return 0, fmt.Errorf("%w: %q is a %s", arbor.ErrNotAGroup, n.path, n.kind)
	}
	n.c.mu.Lock()
	defer n.c.mu.Unlock()
	return len(n.childNames), nil
}

// HasChild reports whether a persisted child of that name exists.
func (n *Node) HasChild(name string) (bool, error) {
	if err := n.checkOpen(); err != nil {
		return false, err
	}
	if !n.IsGroup() {
		return false, fmt.Errorf("%w: %q is a %s", arbor.ErrNotAGroup, n.path, n.kind)
	}
	n.c.mu.Lock()
	defer n.c.mu.Unlock()
	_, ok := n.childNames[name]
	return ok, nil
}

// Child returns the named child, opening it from the engine if it is not
// live. The returned node is retained; the caller releases it when done.
func (n *Node) Child(name string) (*Node, error) {
	if err := n.checkOpen(); err != nil {
		return nil, err
	}
	c := n.c
	c.mu.Lock()
	defer c.mu.Unlock()
	child, err := c.childLocked(n, name)
	if err != nil {
		return nil, err
	}
	child.Retain()
	return child, nil
}

// ChildNames returns the sorted names of all visible persisted children.
func (n *Node) ChildNames() ([]string, error) {
	if err := n.checkOpen(); err != nil {
		return nil, err
	}
	if !n.IsGroup() {
		return nil, fmt.Errorf("%w: %q is a %s", arbor.ErrNotAGroup, n.path, n.kind)
	}
	n.c.mu.Lock()
	defer n.c.mu.Unlock()
	return n.visibleChildNamesLocked(), nil
}

// Walk visits the subtree rooted at this group depth-first in sorted name
// order, skipping hidden nodes. The subtree is resolved up front, then fn
// runs outside the hierarchy lock so it is free to use the visited nodes.
// The walk stops at the first error returned by fn.
func (n *Node) Walk(fn func(node *Node) error) error {
	if err := n.checkOpen(); err != nil {
		return err
	}
	c := n.c
	c.mu.Lock()
	nodes, err := n.collectLocked(nil)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	for _, node := range nodes {
		if err := fn(node); err != nil {
			return err
		}
	}
	return nil
}

// collectLocked gathers the visible subtree depth-first, loading children
// as it goes.
func (n *Node) collectLocked(acc []*Node) ([]*Node, error) {
	if !n.IsGroup() {
		return acc, nil
	}
	for _, name := range n.visibleChildNamesLocked() {
		child, err := n.c.childLocked(n, name)
		if err != nil {
			return nil, err
		}
		acc = append(acc, child)
		if acc, err = child.collectLocked(acc); err != nil {
			return nil, err
		}
	}
	return acc, nil
}

// visibleChildNamesLocked returns sorted persisted child names without the
// hidden bookkeeping entries.
func (n *Node) visibleChildNamesLocked() []string {
	names := make([]string, 0, len(n.childNames))
	for name := range n.childNames {
		if arbor.IsVisiblePath(arbor.JoinPath(n.path, name)) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// liveChildren returns the loaded children in sorted name order, hidden
// ones included.
func (n *Node) liveChildren() []*Node {
	if len(n.children) == 0 {
		return nil
	}
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)
	nodes := make([]*Node, 0, len(names))
	for _, name := range names {
		nodes = append(nodes, n.children[name])
	}
	return nodes
}

// refChild claims a name in the group for child before the physical
// creation happens, so a failure afterwards can still unwind through the
// normal close path. Exceeding the recommended group width only warns.
func (n *Node) refChild(child *Node, name string) error {
	if _, taken := n.childNames[name]; taken {
		return fmt.Errorf("%w: group %q already has a child named %q", arbor.ErrNameCollision, n.path, name)
	}
	if len(n.childNames) >= n.c.cfg.MaxGroupWidth {
		n.c.log.Warn().
			Str("path", n.path).
			Int("maxWidth", n.c.cfg.MaxGroupWidth).
			Msg("Group exceeds the recommended maximum width")
	}
	n.childNames[name] = struct{}{}
	n.children[name] = child
	return nil
}

// unrefChild forgets a child name entirely, live entry included.
func (n *Node) unrefChild(name string) {
	delete(n.childNames, name)
	delete(n.children, name)
}
