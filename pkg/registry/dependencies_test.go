package registry

import (
	"fmt"
	"testing"

	"github.com/apcore/apcore-go/pkg/apcore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestResolveDependencies_LinearChain(t *testing.T) {
	modules := []moduleDeps{
		{ModuleID: "c", Deps: []DependencyInfo{{ModuleID: "b"}}},
		{ModuleID: "b", Deps: []DependencyInfo{{ModuleID: "a"}}},
		{ModuleID: "a"},
	}
	order, err := resolveDependencies(modules, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestResolveDependencies_DeterministicTieBreak(t *testing.T) {
	modules := []moduleDeps{
		{ModuleID: "z"},
		{ModuleID: "a"},
		{ModuleID: "m"},
	}
	order, err := resolveDependencies(modules, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "m", "z"}, order)
}

func TestResolveDependencies_CycleFails(t *testing.T) {
	modules := []moduleDeps{
		{ModuleID: "a", Deps: []DependencyInfo{{ModuleID: "b"}}},
		{ModuleID: "b", Deps: []DependencyInfo{{ModuleID: "a"}}},
	}
	_, err := resolveDependencies(modules, nil)
	require.Error(t, err)
	aerr, ok := err.(*apcore.Error)
	require.True(t, ok)
	assert.Equal(t, apcore.CodeCircularDependency, aerr.Code)
}

func TestResolveDependencies_MissingRequiredDependencyFails(t *testing.T) {
	modules := []moduleDeps{
		{ModuleID: "a", Deps: []DependencyInfo{{ModuleID: "ghost"}}},
	}
	_, err := resolveDependencies(modules, nil)
	require.Error(t, err)
	aerr, ok := err.(*apcore.Error)
	require.True(t, ok)
	assert.Equal(t, apcore.CodeModuleLoadError, aerr.Code)
}

func TestResolveDependencies_OptionalMissingIsSkipped(t *testing.T) {
	modules := []moduleDeps{
		{ModuleID: "a", Deps: []DependencyInfo{{ModuleID: "ghost", Optional: true}}},
	}
	order, err := resolveDependencies(modules, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, order)
}

// P: resolveDependencies on an acyclic graph always produces a valid
// topological order (every dependency appears before its dependent).
func TestResolveDependencies_TopologicalProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(t, "n")
		ids := make([]string, n)
		for i := range ids {
			ids[i] = rapid.StringMatching(`[a-h]`).Draw(t, fmt.Sprintf("id%d", i))
		}
		modules := make([]moduleDeps, 0, n)
		seen := map[string]bool{}
		for i, id := range ids {
			if seen[id] {
				continue
			}
			seen[id] = true
			var deps []DependencyInfo
			// Only allow dependencies on earlier-indexed IDs to guarantee acyclicity.
			for j := 0; j < i; j++ {
				if rapid.Bool().Draw(t, fmt.Sprintf("dep%d_%d", i, j)) && seen[ids[j]] {
					deps = append(deps, DependencyInfo{ModuleID: ids[j]})
				}
			}
			modules = append(modules, moduleDeps{ModuleID: id, Deps: deps})
		}

		order, err := resolveDependencies(modules, nil)
		require.NoError(t, err)

		position := map[string]int{}
		for i, id := range order {
			position[id] = i
		}
		for _, m := range modules {
			for _, d := range m.Deps {
				assert.Less(t, position[d.ModuleID], position[m.ModuleID])
			}
		}
	})
}
