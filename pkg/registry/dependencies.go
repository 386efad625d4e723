package registry

import (
	"log/slog"
	"sort"

	"github.com/apcore/apcore-go/pkg/apcore"
)

// moduleDeps pairs a module ID with its parsed dependency list, the input
// shape resolveDependencies expects (mirroring the tuple list the original
// passes to resolve_dependencies).
type moduleDeps struct {
	ModuleID string
	Deps     []DependencyInfo
}

// resolveDependencies orders modules dependency-first via Kahn's
// topological sort (§4.4, port of original_source/registry/dependencies.py).
// Ties are broken by sorting the ready queue and each node's dependents,
// making load order deterministic given the same input set.
func resolveDependencies(modules []moduleDeps, knownIDs map[string]bool) ([]string, error) {
	if len(modules) == 0 {
		return nil, nil
	}

	if knownIDs == nil {
		knownIDs = make(map[string]bool, len(modules))
		for _, m := range modules {
			knownIDs[m.ModuleID] = true
		}
	}

	graph := map[string]map[string]bool{}
	inDegree := map[string]int{}
	for _, m := range modules {
		inDegree[m.ModuleID] = 0
	}

	for _, m := range modules {
		for _, dep := range m.Deps {
			if !knownIDs[dep.ModuleID] {
				if dep.Optional {
					slog.Default().Warn("optional dependency not found, ordering without it",
						"module_id", m.ModuleID, "missing_dependency", dep.ModuleID)
					continue
				}
				return nil, apcore.NewModuleLoadError(
					"required dependency not found",
					map[string]any{"module_id": m.ModuleID, "missing_dependency": dep.ModuleID})
			}
			if graph[dep.ModuleID] == nil {
				graph[dep.ModuleID] = map[string]bool{}
			}
			if !graph[dep.ModuleID][m.ModuleID] {
				graph[dep.ModuleID][m.ModuleID] = true
				inDegree[m.ModuleID]++
			}
		}
	}

	var queue []string
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	var loadOrder []string
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		loadOrder = append(loadOrder, id)

		dependents := make([]string, 0, len(graph[id]))
		for d := range graph[id] {
			dependents = append(dependents, d)
		}
		sort.Strings(dependents)

		for _, dependent := range dependents {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(loadOrder) < len(modules) {
		processed := map[string]bool{}
		for _, id := range loadOrder {
			processed[id] = true
		}
		remaining := map[string]bool{}
		for _, m := range modules {
			if !processed[m.ModuleID] {
				remaining[m.ModuleID] = true
			}
		}
		cycle := extractCycle(modules, remaining)
		return nil, apcore.NewCircularDependencyError(cycle)
	}

	return loadOrder, nil
}

func extractCycle(modules []moduleDeps, remaining map[string]bool) []string {
	depMap := map[string][]string{}
	for _, m := range modules {
		if !remaining[m.ModuleID] {
			continue
		}
		deps := make([]string, 0, len(m.Deps))
		for _, d := range m.Deps {
			if remaining[d.ModuleID] {
				deps = append(deps, d.ModuleID)
			}
		}
		depMap[m.ModuleID] = deps
	}

	var start string
	for id := range remaining {
		start = id
		break
	}

	visited := []string{start}
	visitedSet := map[string]int{start: 0}
	current := start

	for {
		nexts := depMap[current]
		if len(nexts) == 0 {
			break
		}
		next := nexts[0]
		if idx, seen := visitedSet[next]; seen {
			return append(append([]string{}, visited[idx:]...), next)
		}
		visited = append(visited, next)
		visitedSet[next] = len(visited) - 1
		current = next
	}

	out := make([]string, 0, len(remaining)+1)
	for id := range remaining {
		out = append(out, id)
	}
	sort.Strings(out)
	out = append(out, start)
	return out
}
