package hierarchy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mbellward/arbor"
)

// CopyOptions configures Node.Copy. On recursive copies the same options
// are re-applied to every descendant.
type CopyOptions struct {
	// Overwrite recursively removes an existing node occupying the
	// destination instead of failing with a name collision.
	Overwrite bool
	// Recursive copies the whole subtree rather than the single node.
	Recursive bool
}

// Rename changes the node's name in place, keeping its parent.
func (n *Node) Rename(newName string) error {
	return n.Move(nil, newName, false)
}

// Move relocates or renames this node. A nil newParent keeps the current
// parent; an empty newName keeps the current name; omitting both is an
// error. Moving a node onto its own current location is an allowed no-op.
// Moving across containers is not permitted (copy instead), nor is moving a
// node into itself or one of its descendants. Moving over an existing node
// fails unless overwrite is set, in which case that node is recursively
// removed first.
//
// The operation either fully completes or the node's location is restored
// to its pre-move value: if the engine rejects the relocation, the index
// and parent maps are rolled back before the error is returned.
func (n *Node) Move(newParent *Node, newName string, overwrite bool) error {
	if err := n.checkOpen(); err != nil {
		return err
	}
	if newParent == nil && newName == "" {
		return fmt.Errorf("%w: move needs a new parent or a new name", arbor.ErrMissingArgument)
	}
	c := n.c
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.moveLocked(n, newParent, newName, overwrite, true)
}

func (c *Container) moveLocked(n *Node, newParent *Node, newName string, overwrite, logit bool) error {
	if err := c.CheckWritable(); err != nil {
		return err
	}
	if n.IsRoot() {
		return fmt.Errorf("%w: the root group cannot be moved", arbor.ErrSelfContainment)
	}

	oldParent, err := n.parentLocked()
	if err != nil {
		return err
	}
	if newParent == nil {
		newParent = oldParent
	}
	if newName == "" {
		newName = n.name
	}

	if err := newParent.checkOpen(); err != nil {
		return err
	}
	if newParent.c != c {
		return fmt.Errorf("%w: %q cannot move into %q", arbor.ErrCrossContainer, n.path, newParent.path)
	}
	if !newParent.IsGroup() {
		return fmt.Errorf("%w: %q is a %s", arbor.ErrNotAGroup, newParent.path, newParent.kind)
	}
	if err := arbor.ValidateName(newName); err != nil {
		return err
	}

	// Moving a node over itself is equivalent to renaming it to its
	// current name, so it is an allowed no-op.
	if newParent == oldParent && newName == n.name {
		return nil
	}

	if err := checkNotContains(n, newParent); err != nil {
		return err
	}
	if err := c.maybeRemoveLocked(newParent, newName, overwrite); err != nil {
		return err
	}

	oldPath := n.path
	oldName := n.name
	oldParentHandle := oldParent.handle

	if err := newParent.refChild(n, newName); err != nil {
		return err
	}
	oldParent.unrefChild(oldName)
	rebind := func(parent *Node, name string) {
		c.index.unref(n.path)
		n.name = name
		n.path = arbor.JoinPath(parent.path, name)
		n.depth = parent.depth + 1
		c.index.ref(n.path, n)
		if n.attrs != nil {
			n.attrs.nodeMoved(n.path)
		}
		for _, child := range n.liveChildren() {
			child.updateLocation(n.path)
		}
	}
	rebind(newParent, newName)
	c.index.dropDeadPrefix(oldPath)

	newPath := n.path
	if err := c.engine.Move(oldParentHandle, oldName, newParent.handle, newName, oldPath, newPath); err != nil {
		// Restore the pre-move location; the index is the source of
		// truth and must not be left half-updated.
		newParent.unrefChild(newName)
		if rerr := oldParent.refChild(n, oldName); rerr != nil {
			c.log.Error().Err(rerr).Str("path", oldPath).Msg("Failed to restore node after engine move failure")
		}
		rebind(oldParent, oldName)
		return err
	}

	if n.depth > c.cfg.MaxTreeDepth {
		c.log.Warn().
			Str("path", newPath).
			Int("maxDepth", c.cfg.MaxTreeDepth).
			Msg("Moved node exceeds the recommended maximum tree depth")
	}
	c.log.Debug().Str("from", oldPath).Str("to", newPath).Msg("Moved node")

	if logit && c.IsUndoEnabled() {
		if arbor.KindCapability(n.kind).CanUndoMove {
			c.undo.Log(arbor.OpMove, oldPath, newPath)
		} else {
			c.log.Warn().Str("path", newPath).Msg("Movement cannot be undone nor redone for this node kind")
		}
	}
	return nil
}

// Copy clones this node under newParent with newName and returns the new
// node retained. Argument defaulting matches Move, but copying a node onto
// itself is always an error, even for leaves. Cross-container copies are
// permitted, with a warning that they cannot be undone from this container.
// Creation of the clone is logged through the normal creation path, not as
// a separate entry.
//
// When the destination lies in a different container, both hierarchy locks
// are taken; callers must not run copies in both directions concurrently.
func (n *Node) Copy(newParent *Node, newName string, opts CopyOptions) (*Node, error) {
	if err := n.checkOpen(); err != nil {
		return nil, err
	}
	if newParent == nil && newName == "" {
		return nil, fmt.Errorf("%w: copy needs a new parent or a new name", arbor.ErrMissingArgument)
	}
	if newParent != nil && newParent.c == nil {
		return nil, fmt.Errorf("%w: destination parent", arbor.ErrClosedNode)
	}

	c := n.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if dst := dstContainer(newParent, c); dst != c {
		dst.mu.Lock()
		defer dst.mu.Unlock()
	}

	srcParent, err := n.parentLocked()
	if err != nil {
		return nil, err
	}
	if newParent == nil {
		// The root's parent cannot serve as the default destination.
		if srcParent == nil {
			return nil, fmt.Errorf("%w: the root group has no parent to copy into", arbor.ErrMissingArgument)
		}
		newParent = srcParent
	}
	if newName == "" {
		newName = n.name
	}
	if !newParent.IsGroup() {
		return nil, fmt.Errorf("%w: %q is a %s", arbor.ErrNotAGroup, newParent.path, newParent.kind)
	}

	if newParent == srcParent && newName == n.name {
		return nil, fmt.Errorf("%w: source and destination are the same node %q", arbor.ErrMissingArgument, n.path)
	}

	dst := newParent.c
	if dst != c && c.IsUndoEnabled() {
		// Only this container's history is blind to the copy; the clones
		// still log CREATE through the destination's own creation path.
		c.log.Warn().Str("path", n.path).Msg("Copying across containers cannot be undone nor redone from this container")
	}

	if opts.Recursive && dst == c {
		if err := checkNotContains(n, newParent); err != nil {
			return nil, err
		}
	}
	if err := dst.maybeRemoveLocked(newParent, newName, opts.Overwrite); err != nil {
		return nil, err
	}
	if err := dst.CheckWritable(); err != nil {
		return nil, err
	}

	clone, err := c.copyNodeLocked(n, newParent, newName, opts)
	if err != nil {
		return nil, err
	}
	clone.Retain()
	return clone, nil
}

func dstContainer(newParent *Node, fallback *Container) *Container {
	if newParent == nil || newParent.c == nil {
		return fallback
	}
	return newParent.c
}

// copyNodeLocked clones one node (payload and attributes included) and
// recurses over persisted children when requested.
func (c *Container) copyNodeLocked(n *Node, dstParent *Node, dstName string, opts CopyOptions) (*Node, error) {
	attrs, err := n.encodedAttrsLocked()
	if err != nil {
		return nil, err
	}

	var data []byte
	if n.kind == arbor.LeafKind {
		ps, ok := c.engine.(arbor.PayloadStore)
		if !ok {
			return nil, fmt.Errorf("storage engine %T does not store payloads", c.engine)
		}
		if data, err = ps.ReadData(n.handle); err != nil {
			return nil, err
		}
	}

	dst := dstParent.c
	clone, err := dst.createLocked(dstParent, dstName, n.kind, data, attrs, true)
	if err != nil {
		return nil, err
	}

	if opts.Recursive && n.IsGroup() {
		for _, name := range sortedNames(n.childNames) {
			child, err := c.childLocked(n, name)
			if err != nil {
				return nil, err
			}
			if _, err := c.copyNodeLocked(child, clone, name, opts); err != nil {
				return nil, err
			}
		}
	}
	return clone, nil
}

// Remove deletes this node from the hierarchy. Groups with children require
// recursive removal. With undo enabled and a remove-undoable kind, the
// physical representation is preserved in the shadow area and a REMOVE
// entry is logged before the relocation; otherwise it is destroyed
// outright.
func (n *Node) Remove(recursive bool) error {
	if err := n.checkOpen(); err != nil {
		return err
	}
	c := n.c
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeNodeLocked(n, recursive)
}

func (c *Container) removeNodeLocked(n *Node, recursive bool) error {
	if err := c.CheckWritable(); err != nil {
		return err
	}
	if n.IsRoot() {
		return fmt.Errorf("%w: the root group cannot be removed", arbor.ErrNotEmpty)
	}
	if n.IsGroup() && len(n.childNames) > 0 && !recursive {
		return fmt.Errorf("%w: %q", arbor.ErrNotEmpty, n.path)
	}

	if c.IsUndoEnabled() {
		if arbor.KindCapability(n.kind).CanUndoRemove {
			// Log before the relocation to capture the pre-move path.
			c.undo.Log(arbor.OpRemove, n.path)
			_, err := c.moveToShadowLocked(n)
			return err
		}
		c.log.Warn().Str("path", n.path).Msg("Removal cannot be undone nor redone for this node kind")
	}
	return c.destroyLocked(n)
}

// destroyLocked unregisters the node, closes its loaded subtree and has the
// engine destroy the physical representation.
func (c *Container) destroyLocked(n *Node) error {
	path := n.path
	handle := n.handle

	parent, err := n.parentLocked()
	if err != nil {
		return err
	}
	parent.unrefChild(n.name)

	c.index.dropDeadPrefix(path)
	closeSubtree(n)

	if err := c.engine.Delete(handle); err != nil {
		return err
	}
	c.log.Debug().Str("path", path).Msg("Removed node")
	return nil
}

// closeSubtree closes loaded descendants post-order, then the node itself.
func closeSubtree(n *Node) {
	for _, child := range n.liveChildren() {
		closeSubtree(child)
	}
	n.closeInternal()
}

// maybeRemoveLocked clears the destination slot for a move or copy: a taken
// name fails with a collision unless overwrite was requested, in which case
// the occupant is recursively removed.
func (c *Container) maybeRemoveLocked(parent *Node, name string, overwrite bool) error {
	if _, taken := parent.childNames[name]; !taken {
		return nil
	}
	if !overwrite {
		return fmt.Errorf("%w: group %q already has a child named %q; pass overwrite to replace it",
			arbor.ErrNameCollision, parent.path, name)
	}
	existing, err := c.childLocked(parent, name)
	if err != nil {
		return err
	}
	return c.removeNodeLocked(existing, true)
}

// checkNotContains rejects moving or recursively copying a node into itself
// or any of its descendants.
func checkNotContains(n, newParent *Node) error {
	// Every node descends from the root, so the root contains any target.
	if n.path == arbor.RootPath {
		return fmt.Errorf("%w: %q", arbor.ErrSelfContainment, n.path)
	}
	if newParent == n || strings.HasPrefix(newParent.path+"/", n.path+"/") {
		return fmt.Errorf("%w: %q", arbor.ErrSelfContainment, n.path)
	}
	return nil
}

// MoveToShadow relocates the node at path into the hidden shadow area so
// it can later be restored, and returns the shadow path. Used by undo/redo
// replay; removal under undo mode goes through the same relocation.
func (c *Container) MoveToShadow(path string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, err := c.getNodeLocked(path)
	if err != nil {
		return "", err
	}
	return c.moveToShadowLocked(n)
}

// RestoreFromShadow moves the node shadowed for path back to its original
// location.
func (c *Container) RestoreFromShadow(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	shadowPath, ok := c.shadowed[path]
	if !ok {
		return fmt.Errorf("%w: nothing shadowed for %q", arbor.ErrNodeNotFound, path)
	}
	n, err := c.getNodeLocked(shadowPath)
	if err != nil {
		return err
	}

	parentPath, name := arbor.SplitPath(path)
	parent, err := c.getNodeLocked(parentPath)
	if err != nil {
		return err
	}
	if err := c.moveLocked(n, parent, name, false, false); err != nil {
		return err
	}
	delete(c.shadowed, path)
	return nil
}

// ShadowPathFor reports where a removed path currently lives in the shadow
// area.
func (c *Container) ShadowPathFor(path string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sp, ok := c.shadowed[path]
	return sp, ok
}

func (c *Container) moveToShadowLocked(n *Node) (string, error) {
	shadow, err := c.shadowGroupLocked()
	if err != nil {
		return "", err
	}
	origPath := n.path
	name := fmt.Sprintf("s%08d", c.shadowSeq.Add(1))
	if err := c.moveLocked(n, shadow, name, false, false); err != nil {
		return "", err
	}
	c.shadowed[origPath] = n.path
	return n.path, nil
}

// shadowGroupLocked lazily creates the hidden shadow group under the root.
func (c *Container) shadowGroupLocked() (*Node, error) {
	shadowName := arbor.HiddenPrefix + "shadow"
	if _, ok := c.root.childNames[shadowName]; ok {
		return c.childLocked(c.root, shadowName)
	}
	return c.createLocked(c.root, shadowName, arbor.GroupKind, nil, nil, false)
}

func sortedNames(set map[string]struct{}) []string {
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
