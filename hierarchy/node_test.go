package hierarchy_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbellward/arbor"
	"github.com/mbellward/arbor/config"
	"github.com/mbellward/arbor/hierarchy"
)

func TestNodeCloseIsIdempotent(t *testing.T) {
	c := newTestContainer(t, hierarchy.Options{})

	g, err := c.CreateGroup(c.Root(), "g")
	require.NoError(t, err)

	require.NoError(t, g.Close())
	assert.False(t, g.IsOpen())
	require.NoError(t, g.Close())

	_, err = g.Parent()
	assert.ErrorIs(t, err, arbor.ErrClosedNode)
	err = g.Rename("other")
	assert.ErrorIs(t, err, arbor.ErrClosedNode)
}

func TestReleaseRevivesSameNode(t *testing.T) {
	c := newTestContainer(t, hierarchy.Options{})
	root := c.Root()

	l, err := c.CreateLeaf(root, "l", []byte("payload"))
	require.NoError(t, err)
	require.NoError(t, l.SetAttr("unit", "volts"))

	// Dropping the last reference preserves the node for revival.
	l.Release()

	revived, err := c.GetNode("/l")
	require.NoError(t, err)
	defer revived.Release()
	assert.Same(t, l, revived)

	v, ok, err := revived.GetAttr("unit")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "volts", v)

	data, err := revived.Data()
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
}

func TestRetainDefersKill(t *testing.T) {
	c := newTestContainer(t, hierarchy.Options{})

	l, err := c.CreateLeaf(c.Root(), "l", nil)
	require.NoError(t, err)

	l.Retain()
	l.Release()
	// One reference remains, so the node is still the live instance.
	same, err := c.GetNode("/l")
	require.NoError(t, err)
	assert.Same(t, l, same)
	same.Release()
	l.Release()
}

func TestClosedNodeIsNeverRevived(t *testing.T) {
	c := newTestContainer(t, hierarchy.Options{})
	root := c.Root()

	l, err := c.CreateLeaf(root, "l", []byte("kept"))
	require.NoError(t, err)
	require.NoError(t, l.SetAttr("unit", "amps"))
	require.NoError(t, l.Close())

	reopened, err := c.GetNode("/l")
	require.NoError(t, err)
	defer reopened.Release()
	assert.NotSame(t, l, reopened)
	assert.True(t, l.IsNew())
	assert.False(t, reopened.IsNew())

	// The persisted representation survives the close.
	data, err := reopened.Data()
	require.NoError(t, err)
	assert.Equal(t, []byte("kept"), data)
	v, ok, err := reopened.GetAttr("unit")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "amps", v)
}

func TestCloseChildWhileParentIsDead(t *testing.T) {
	c := newTestContainer(t, hierarchy.Options{})
	root := c.Root()

	a, err := c.CreateGroup(root, "a")
	require.NoError(t, err)
	x, err := c.CreateLeaf(a, "x", nil)
	require.NoError(t, err)
	dst, err := c.CreateGroup(root, "dst")
	require.NoError(t, err)
	defer dst.Release()

	// The parent dies first, then the child closes while the parent sits
	// in the dead cache. The dead parent must not keep a pointer to the
	// closed child.
	a.Release()
	require.NoError(t, x.Close())

	revived, err := c.GetNode("/a")
	require.NoError(t, err)
	defer revived.Release()
	require.Same(t, a, revived)

	require.NoError(t, revived.Move(dst, "", false))
	assert.Equal(t, "/dst/a", revived.Path())

	// The closed child reopens fresh under the rewritten path.
	fresh, err := c.GetNode("/dst/a/x")
	require.NoError(t, err)
	defer fresh.Release()
	assert.NotSame(t, x, fresh)
	assert.Equal(t, 3, fresh.Depth())
}

func TestChildKilledAfterParentIsDead(t *testing.T) {
	c := newTestContainer(t, hierarchy.Options{})
	root := c.Root()

	a, err := c.CreateGroup(root, "a")
	require.NoError(t, err)
	x, err := c.CreateLeaf(a, "x", []byte("kept"))
	require.NoError(t, err)

	// Parent first, then the child: both end up in the dead cache.
	a.Release()
	x.Release()

	revived, err := c.GetNode("/a")
	require.NoError(t, err)
	defer revived.Release()
	require.Same(t, a, revived)

	// Child access through the revived parent must revive the child, not
	// hand out a pointer that is still parked in the dead cache.
	child, err := revived.Child("x")
	require.NoError(t, err)
	defer child.Release()
	assert.Same(t, x, child)

	byPath, err := c.GetNode("/a/x")
	require.NoError(t, err)
	assert.Same(t, child, byPath)
	byPath.Release()

	// Churning the dead cache past capacity must not touch the revived
	// child; only an unrevived node may be evicted and closed.
	for i := 0; i < config.DefaultDeadNodeCacheSize+8; i++ {
		n, err := c.CreateLeaf(root, fmt.Sprintf("churn%03d", i), nil)
		require.NoError(t, err)
		n.Release()
	}
	assert.True(t, child.IsOpen())
	data, err := child.Data()
	require.NoError(t, err)
	assert.Equal(t, []byte("kept"), data)
}

func TestReleaseRootIsIgnored(t *testing.T) {
	c := newTestContainer(t, hierarchy.Options{})
	root := c.Root()

	root.Release()
	root.Release()
	assert.True(t, root.IsOpen())

	g, err := c.CreateGroup(root, "g")
	require.NoError(t, err)
	g.Release()
}

func TestLeafData(t *testing.T) {
	c := newTestContainer(t, hierarchy.Options{})
	root := c.Root()

	l, err := c.CreateLeaf(root, "l", []byte("v1"))
	require.NoError(t, err)
	defer l.Release()

	require.NoError(t, l.SetData([]byte("v2")))
	data, err := l.Data()
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), data)

	g, err := c.CreateGroup(root, "g")
	require.NoError(t, err)
	defer g.Release()
	_, err = g.Data()
	assert.Error(t, err)
	assert.Error(t, g.SetData([]byte("x")))
}

func TestIsVisible(t *testing.T) {
	c := newTestContainer(t, hierarchy.Options{})
	root := c.Root()

	g, err := c.CreateGroup(root, "g")
	require.NoError(t, err)
	defer g.Release()
	visible, err := g.IsVisible()
	require.NoError(t, err)
	assert.True(t, visible)

	hidden, err := c.CreateGroup(root, arbor.HiddenPrefix+"work")
	require.NoError(t, err)
	defer hidden.Release()
	visible, err = hidden.IsVisible()
	require.NoError(t, err)
	assert.False(t, visible)

	inside, err := c.CreateLeaf(hidden, "plain", nil)
	require.NoError(t, err)
	defer inside.Release()
	visible, err = inside.IsVisible()
	require.NoError(t, err)
	assert.False(t, visible)
}
