package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	g := New()
	require.NotNil(t, g)
	assert.NotNil(t, g.nodes)
	assert.Empty(t, g.nodes)
	assert.Equal(t, 0, g.Len())
}

func TestAddNode(t *testing.T) {
	g := New()

	g.AddNode("a")
	assert.Len(t, g.nodes, 1)
	nodeA, ok := g.nodes["a"]
	require.True(t, ok)
	assert.Equal(t, "a", nodeA.id)
	assert.NotNil(t, nodeA.deps)
	assert.NotNil(t, nodeA.dependents)

	g.AddNode("a") // Test idempotency
	assert.Len(t, g.nodes, 1)

	g.AddNode("b")
	assert.Equal(t, 2, g.Len())
	assert.True(t, g.Has("b"))
	assert.False(t, g.Has("c"))
	assert.Equal(t, []string{"a", "b"}, g.order)
}

func TestAddEdge(t *testing.T) {
	t.Run("success case", func(t *testing.T) {
		g := New()
		g.AddNode("a")
		g.AddNode("b")

		err := g.AddEdge("a", "b") // b depends on a
		require.NoError(t, err)

		deps, err := g.Dependencies("b")
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, deps)

		dependents, err := g.Dependents("a")
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, dependents)
	})

	t.Run("error cases", func(t *testing.T) {
		g := New()
		g.AddNode("a")
		g.AddNode("b")

		err := g.AddEdge("dne", "a")
		assert.ErrorContains(t, err, "source node not found")

		err = g.AddEdge("a", "dne")
		assert.ErrorContains(t, err, "destination node not found")

		err = g.AddEdge("a", "a")
		var cycleErr *CycleError
		require.ErrorAs(t, err, &cycleErr)
		assert.Equal(t, []string{"a", "a"}, cycleErr.Path)

		_, err = g.Dependencies("dne")
		assert.ErrorContains(t, err, "node not found")
		_, err = g.Dependents("dne")
		assert.ErrorContains(t, err, "node not found")
	})
}

func TestDetectCycles(t *testing.T) {
	t.Run("empty graph has no cycles", func(t *testing.T) {
		g := New()
		assert.NoError(t, g.DetectCycles())
	})

	t.Run("valid dag has no cycles", func(t *testing.T) {
		g := New()
		for _, id := range []string{"a", "b", "c", "d"} {
			g.AddNode(id)
		}
		require.NoError(t, g.AddEdge("a", "b"))
		require.NoError(t, g.AddEdge("b", "c"))
		require.NoError(t, g.AddEdge("a", "c")) // Transitive edge
		require.NoError(t, g.AddEdge("c", "d"))
		assert.NoError(t, g.DetectCycles())
	})

	t.Run("simple direct cycle names its path", func(t *testing.T) {
		g := New()
		g.AddNode("a")
		g.AddNode("b")
		require.NoError(t, g.AddEdge("a", "b"))
		require.NoError(t, g.AddEdge("b", "a"))
		assert.EqualError(t, g.DetectCycles(), "cycle detected: a -> b -> a")
	})

	t.Run("cycle in a disjoint component is detected", func(t *testing.T) {
		g := New()
		g.AddNode("a")
		g.AddNode("b")
		require.NoError(t, g.AddEdge("a", "b"))

		g.AddNode("x")
		g.AddNode("y")
		g.AddNode("z")
		require.NoError(t, g.AddEdge("x", "y"))
		require.NoError(t, g.AddEdge("y", "z"))
		require.NoError(t, g.AddEdge("z", "y"))

		var cycleErr *CycleError
		require.ErrorAs(t, g.DetectCycles(), &cycleErr)
		assert.Equal(t, []string{"y", "z", "y"}, cycleErr.Path)
	})
}

func TestTopologicalOrder(t *testing.T) {
	t.Run("insertion order breaks ties", func(t *testing.T) {
		g := New()
		for _, id := range []string{"c", "a", "b", "d"} {
			g.AddNode(id)
		}
		// c depends on b, a depends on d.
		require.NoError(t, g.AddEdge("b", "c"))
		require.NoError(t, g.AddEdge("d", "a"))

		order, err := g.TopologicalOrder(nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "c", "d", "a"}, order)
	})

	t.Run("custom rank", func(t *testing.T) {
		g := New()
		for _, id := range []string{"a", "b", "c"} {
			g.AddNode(id)
		}
		require.NoError(t, g.AddEdge("a", "c"))

		rank := map[string]int{"a": 2, "b": 1, "c": 0}
		order, err := g.TopologicalOrder(func(id string) int { return rank[id] })
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "a", "c"}, order)
	})

	t.Run("cycle is an error", func(t *testing.T) {
		g := New()
		g.AddNode("a")
		g.AddNode("b")
		require.NoError(t, g.AddEdge("a", "b"))
		require.NoError(t, g.AddEdge("b", "a"))

		_, err := g.TopologicalOrder(nil)
		assert.ErrorContains(t, err, "cycle detected")
	})
}

func TestHasPath(t *testing.T) {
	g := New()
	for _, id := range []string{"a", "b", "c", "d"} {
		g.AddNode(id)
	}
	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("b", "c"))

	assert.True(t, g.HasPath("a", "c"))
	assert.True(t, g.HasPath("a", "a"))
	assert.False(t, g.HasPath("c", "a"))
	assert.False(t, g.HasPath("a", "d"))
	assert.False(t, g.HasPath("a", "dne"))
}

func TestDependencies_InsertionOrder(t *testing.T) {
	g := New()
	for _, id := range []string{"z", "y", "x", "app"} {
		g.AddNode(id)
	}
	require.NoError(t, g.AddEdge("x", "app"))
	require.NoError(t, g.AddEdge("z", "app"))
	require.NoError(t, g.AddEdge("y", "app"))

	deps, err := g.Dependencies("app")
	require.NoError(t, err)
	assert.Equal(t, []string{"z", "y", "x"}, deps)
}
