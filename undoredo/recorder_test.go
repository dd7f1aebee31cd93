package undoredo_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbellward/arbor/hierarchy"
	"github.com/mbellward/arbor/memstore"
	"github.com/mbellward/arbor/undoredo"
)

func newRecordedContainer(t *testing.T) (*hierarchy.Container, *undoredo.Recorder) {
	t.Helper()
	c, err := hierarchy.NewContainer(memstore.New(), hierarchy.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	rec := undoredo.NewRecorder(c)
	c.SetUndoLog(rec)
	return c, rec
}

func pathExists(c *hierarchy.Container, path string) bool {
	n, err := c.GetNode(path)
	if err != nil {
		return false
	}
	n.Release()
	return true
}

func TestUndoRedoCreate(t *testing.T) {
	c, rec := newRecordedContainer(t)

	g, err := c.CreateGroup(c.Root(), "g")
	require.NoError(t, err)
	g.Release()
	require.True(t, rec.CanUndo())

	require.NoError(t, rec.Undo())
	assert.False(t, pathExists(c, "/g"))
	assert.False(t, rec.CanUndo())
	assert.True(t, rec.CanRedo())

	require.NoError(t, rec.Redo())
	assert.True(t, pathExists(c, "/g"))
	assert.False(t, rec.CanRedo())
}

func TestUndoRedoRemovePreservesState(t *testing.T) {
	c, rec := newRecordedContainer(t)
	root := c.Root()

	l, err := c.CreateLeaf(root, "l", []byte("payload"))
	require.NoError(t, err)
	require.NoError(t, l.SetAttr("unit", "lux"))
	l.Release()

	n, err := c.GetNode("/l")
	require.NoError(t, err)
	require.NoError(t, n.Remove(false))
	n.Release()
	assert.False(t, pathExists(c, "/l"))

	require.NoError(t, rec.Undo())
	restored, err := c.GetNode("/l")
	require.NoError(t, err)
	defer restored.Release()

	data, err := restored.Data()
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
	v, ok, err := restored.GetAttr("unit")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "lux", v)

	require.NoError(t, rec.Redo())
	assert.False(t, pathExists(c, "/l"))
}

func TestUndoRedoMove(t *testing.T) {
	c, rec := newRecordedContainer(t)
	root := c.Root()

	a, err := c.CreateGroup(root, "a")
	require.NoError(t, err)
	defer a.Release()
	b, err := c.CreateGroup(root, "b")
	require.NoError(t, err)
	defer b.Release()
	l, err := c.CreateLeaf(a, "l", nil)
	require.NoError(t, err)
	defer l.Release()

	require.NoError(t, l.Move(b, "", false))
	assert.Equal(t, "/b/l", l.Path())

	require.NoError(t, rec.Undo())
	assert.Equal(t, "/a/l", l.Path())

	require.NoError(t, rec.Redo())
	assert.Equal(t, "/b/l", l.Path())
}

func TestUndoEmptyHistory(t *testing.T) {
	_, rec := newRecordedContainer(t)

	assert.ErrorIs(t, rec.Undo(), undoredo.ErrNothingToUndo)
	assert.ErrorIs(t, rec.Redo(), undoredo.ErrNothingToRedo)
}

func TestNewOperationTruncatesRedoTail(t *testing.T) {
	c, rec := newRecordedContainer(t)
	root := c.Root()

	g1, err := c.CreateGroup(root, "g1")
	require.NoError(t, err)
	g1.Release()
	g2, err := c.CreateGroup(root, "g2")
	require.NoError(t, err)
	g2.Release()

	require.NoError(t, rec.Undo()) // g2 gone
	require.True(t, rec.CanRedo())

	g3, err := c.CreateGroup(root, "g3")
	require.NoError(t, err)
	g3.Release()

	// The undone creation of g2 is no longer reachable.
	assert.False(t, rec.CanRedo())
	assert.False(t, pathExists(c, "/g2"))
	assert.True(t, pathExists(c, "/g1"))
	assert.True(t, pathExists(c, "/g3"))
}

func TestMarkAndGoto(t *testing.T) {
	c, rec := newRecordedContainer(t)
	root := c.Root()

	g1, err := c.CreateGroup(root, "g1")
	require.NoError(t, err)
	g1.Release()
	rec.Mark("after-g1")

	g2, err := c.CreateGroup(root, "g2")
	require.NoError(t, err)
	g2.Release()
	g3, err := c.CreateGroup(root, "g3")
	require.NoError(t, err)
	g3.Release()
	rec.Mark("after-g3")

	require.NoError(t, rec.Goto("after-g1"))
	assert.True(t, pathExists(c, "/g1"))
	assert.False(t, pathExists(c, "/g2"))
	assert.False(t, pathExists(c, "/g3"))

	require.NoError(t, rec.Goto("after-g3"))
	assert.True(t, pathExists(c, "/g2"))
	assert.True(t, pathExists(c, "/g3"))

	assert.ErrorIs(t, rec.Goto("never-set"), undoredo.ErrUnknownMark)
}

func TestDisabledRecorderLogsNothing(t *testing.T) {
	c, rec := newRecordedContainer(t)
	root := c.Root()

	rec.Disable()
	assert.False(t, rec.Enabled())

	g, err := c.CreateGroup(root, "g")
	require.NoError(t, err)
	g.Release()
	assert.False(t, rec.CanUndo())

	rec.Enable()
	g2, err := c.CreateGroup(root, "g2")
	require.NoError(t, err)
	g2.Release()
	assert.True(t, rec.CanUndo())

	// Only the post-enable creation is undone; g stays.
	require.NoError(t, rec.Undo())
	assert.True(t, pathExists(c, "/g"))
	assert.False(t, pathExists(c, "/g2"))
}

func TestCrossContainerCopyIsUndoableAtDestination(t *testing.T) {
	src, err := hierarchy.NewContainer(memstore.New(), hierarchy.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })
	dst, rec := newRecordedContainer(t)

	g, err := src.CreateGroup(src.Root(), "g")
	require.NoError(t, err)
	defer g.Release()
	l, err := src.CreateLeaf(g, "l", []byte("ported"))
	require.NoError(t, err)
	l.Release()

	// The source has no recorder; the destination's recorder still sees
	// the clone's creation.
	clone, err := g.Copy(dst.Root(), "imported", hierarchy.CopyOptions{Recursive: true})
	require.NoError(t, err)
	clone.Release()
	require.True(t, rec.CanUndo())

	require.NoError(t, rec.Undo()) // undoes /imported/l
	require.NoError(t, rec.Undo()) // undoes /imported
	assert.False(t, pathExists(dst, "/imported"))

	require.NoError(t, rec.Redo())
	require.NoError(t, rec.Redo())
	assert.True(t, pathExists(dst, "/imported/l"))
	restored, err := dst.GetNode("/imported/l")
	require.NoError(t, err)
	defer restored.Release()
	data, err := restored.Data()
	require.NoError(t, err)
	assert.Equal(t, []byte("ported"), data)
}

func TestUndoneNodesAreHiddenFromListing(t *testing.T) {
	c, rec := newRecordedContainer(t)
	root := c.Root()

	g, err := c.CreateGroup(root, "g")
	require.NoError(t, err)
	g.Release()
	require.NoError(t, rec.Undo())

	// The shadowed node must not leak into visible child names.
	names, err := root.ChildNames()
	require.NoError(t, err)
	assert.Empty(t, names)
}
