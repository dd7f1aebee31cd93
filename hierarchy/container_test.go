package hierarchy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbellward/arbor"
	"github.com/mbellward/arbor/config"
	"github.com/mbellward/arbor/hierarchy"
	"github.com/mbellward/arbor/memstore"
)

func newTestContainer(t *testing.T, opts hierarchy.Options) *hierarchy.Container {
	t.Helper()
	c, err := hierarchy.NewContainer(memstore.New(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNewContainerRoot(t *testing.T) {
	c := newTestContainer(t, hierarchy.Options{})

	root := c.Root()
	require.NotNil(t, root)
	assert.Equal(t, arbor.RootPath, root.Path())
	assert.Equal(t, 0, root.Depth())
	assert.True(t, root.IsGroup())
	assert.True(t, root.IsRoot())
	assert.True(t, root.IsOpen())
	assert.True(t, c.IsOpen())
	assert.True(t, c.IsWritable())
}

func TestCreateGroupAndLeaf(t *testing.T) {
	c := newTestContainer(t, hierarchy.Options{})
	root := c.Root()

	g, err := c.CreateGroup(root, "experiments")
	require.NoError(t, err)
	defer g.Release()
	assert.Equal(t, "/experiments", g.Path())
	assert.Equal(t, 1, g.Depth())
	assert.Equal(t, "experiments", g.Name())
	assert.True(t, g.IsGroup())

	l, err := c.CreateLeaf(g, "readings", []byte("1,2,3"))
	require.NoError(t, err)
	defer l.Release()
	assert.Equal(t, "/experiments/readings", l.Path())
	assert.Equal(t, 2, l.Depth())
	assert.Equal(t, arbor.LeafKind, l.Kind())

	data, err := l.Data()
	require.NoError(t, err)
	assert.Equal(t, []byte("1,2,3"), data)

	parent, err := l.Parent()
	require.NoError(t, err)
	assert.Same(t, g, parent)
}

func TestCreateValidations(t *testing.T) {
	c := newTestContainer(t, hierarchy.Options{})
	other := newTestContainer(t, hierarchy.Options{})
	root := c.Root()

	leaf, err := c.CreateLeaf(root, "leaf", nil)
	require.NoError(t, err)
	defer leaf.Release()

	t.Run("nil parent", func(t *testing.T) {
		_, err := c.CreateGroup(nil, "g")
		assert.ErrorIs(t, err, arbor.ErrMissingArgument)
	})

	t.Run("parent from another container", func(t *testing.T) {
		_, err := c.CreateGroup(other.Root(), "g")
		assert.ErrorIs(t, err, arbor.ErrCrossContainer)
	})

	t.Run("leaf parent", func(t *testing.T) {
		_, err := c.CreateGroup(leaf, "g")
		assert.ErrorIs(t, err, arbor.ErrNotAGroup)
	})

	t.Run("invalid names", func(t *testing.T) {
		_, err := c.CreateGroup(root, "")
		assert.ErrorIs(t, err, arbor.ErrInvalidName)
		_, err = c.CreateGroup(root, "a/b")
		assert.ErrorIs(t, err, arbor.ErrInvalidName)
	})

	t.Run("name collision", func(t *testing.T) {
		_, err := c.CreateGroup(root, "leaf")
		assert.ErrorIs(t, err, arbor.ErrNameCollision)
	})
}

func TestReadOnlyContainer(t *testing.T) {
	c := newTestContainer(t, hierarchy.Options{ReadOnly: true})

	assert.False(t, c.IsWritable())
	_, err := c.CreateGroup(c.Root(), "g")
	assert.ErrorIs(t, err, arbor.ErrReadOnly)
}

func TestOpenNodeReturnsSameLiveNode(t *testing.T) {
	c := newTestContainer(t, hierarchy.Options{})
	root := c.Root()

	g, err := c.CreateGroup(root, "g")
	require.NoError(t, err)
	defer g.Release()

	again, err := c.OpenNode(root, "g")
	require.NoError(t, err)
	defer again.Release()
	assert.Same(t, g, again)

	_, err = c.OpenNode(root, "missing")
	assert.ErrorIs(t, err, arbor.ErrNodeNotFound)
}

func TestGetNodeResolvesPaths(t *testing.T) {
	c := newTestContainer(t, hierarchy.Options{})
	root := c.Root()

	g, err := c.CreateGroup(root, "a")
	require.NoError(t, err)
	defer g.Release()
	sub, err := c.CreateGroup(g, "b")
	require.NoError(t, err)
	defer sub.Release()

	n, err := c.GetNode("/a/b")
	require.NoError(t, err)
	defer n.Release()
	assert.Same(t, sub, n)

	r, err := c.GetNode("/")
	require.NoError(t, err)
	assert.Same(t, root, r)

	_, err = c.GetNode("relative/path")
	assert.ErrorIs(t, err, arbor.ErrInvalidName)

	_, err = c.GetNode("/a/missing")
	assert.ErrorIs(t, err, arbor.ErrNodeNotFound)
}

func TestGroupChildAccess(t *testing.T) {
	c := newTestContainer(t, hierarchy.Options{})
	root := c.Root()

	g, err := c.CreateGroup(root, "g")
	require.NoError(t, err)
	defer g.Release()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		l, err := c.CreateLeaf(g, name, nil)
		require.NoError(t, err)
		l.Release()
	}

	count, err := g.NumChildren()
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	has, err := g.HasChild("alpha")
	require.NoError(t, err)
	assert.True(t, has)
	has, err = g.HasChild("nope")
	require.NoError(t, err)
	assert.False(t, has)

	names, err := g.ChildNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, names)

	child, err := g.Child("alpha")
	require.NoError(t, err)
	defer child.Release()
	assert.Equal(t, "/g/alpha", child.Path())

	_, err = child.NumChildren()
	assert.ErrorIs(t, err, arbor.ErrNotAGroup)
}

func TestWalkVisitsVisibleSubtreeInOrder(t *testing.T) {
	c := newTestContainer(t, hierarchy.Options{})
	root := c.Root()

	a, err := c.CreateGroup(root, "a")
	require.NoError(t, err)
	defer a.Release()
	l1, err := c.CreateLeaf(a, "x", nil)
	require.NoError(t, err)
	l1.Release()
	b, err := c.CreateGroup(root, "b")
	require.NoError(t, err)
	b.Release()

	// A hidden sibling must not show up in the walk.
	hidden, err := c.CreateGroup(root, arbor.HiddenPrefix+"internal")
	require.NoError(t, err)
	hidden.Release()

	var visited []string
	err = root.Walk(func(n *hierarchy.Node) error {
		visited = append(visited, n.Path())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"/a", "/a/x", "/b"}, visited)
}

func TestContainerCloseInvalidatesNodes(t *testing.T) {
	c, err := hierarchy.NewContainer(memstore.New(), hierarchy.Options{})
	require.NoError(t, err)

	g, err := c.CreateGroup(c.Root(), "g")
	require.NoError(t, err)

	require.NoError(t, c.Close())
	assert.False(t, c.IsOpen())
	assert.False(t, g.IsOpen())

	_, err = g.NumChildren()
	assert.ErrorIs(t, err, arbor.ErrClosedNode)

	_, err = c.GetNode("/g")
	assert.ErrorIs(t, err, arbor.ErrClosedContainer)

	// Closing again is a no-op.
	require.NoError(t, c.Close())
}

func TestDeepTreeBeyondRecommendedDepth(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.MaxTreeDepth = 1
	c := newTestContainer(t, hierarchy.Options{Config: cfg})

	// Exceeding the recommended depth warns but never fails, whether the
	// depth is reached by creation or by relocation.
	parent := c.Root()
	var deepest *hierarchy.Node
	for _, name := range []string{"a", "b", "c"} {
		n, err := c.CreateGroup(parent, name)
		require.NoError(t, err)
		defer n.Release()
		parent = n
		deepest = n
	}
	assert.Equal(t, 3, deepest.Depth())

	z, err := c.CreateGroup(c.Root(), "z")
	require.NoError(t, err)
	defer z.Release()
	require.NoError(t, z.Move(deepest, "", false))
	assert.Equal(t, "/a/b/c/z", z.Path())
	assert.Equal(t, 4, z.Depth())
}

func TestCustomConfigIsHonored(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.DeadNodeCacheSize = 1
	c := newTestContainer(t, hierarchy.Options{Config: cfg})
	root := c.Root()

	a, err := c.CreateLeaf(root, "a", nil)
	require.NoError(t, err)
	b, err := c.CreateLeaf(root, "b", nil)
	require.NoError(t, err)

	// With a single dead-cache slot, releasing both fully closes the first.
	a.Release()
	b.Release()

	revived, err := c.GetNode("/b")
	require.NoError(t, err)
	defer revived.Release()
	assert.Same(t, b, revived)

	reopened, err := c.GetNode("/a")
	require.NoError(t, err)
	defer reopened.Release()
	assert.NotSame(t, a, reopened)
}
