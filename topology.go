// Package servicebase composes a process out of plugins.
//
// This file (topology.go) contains service ordering utilities:
//   - orderServices: sort services by their before/after constraints
//   - cycle reporting for constraints that cannot be satisfied
package servicebase

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-lynx/servicebase/plugins"
)

// phase selects which half of an Order applies.
type phase string

const (
	phaseInit phase = "init"
	phaseRun  phase = "run"
)

func (p phase) constraints(o plugins.Order) (before, after []string) {
	if p == phaseRun {
		return o.RunBefore, o.RunAfter
	}
	return o.InitBefore, o.InitAfter
}

// orderServices returns names sorted so that every before/after constraint of
// the phase holds. names is the registration order and breaks ties, so the
// result is stable for the same input. References to names outside the set
// are passed to unknown and otherwise ignored. A cycle is a configuration
// error naming the plugins involved.
func orderServices(names []string, orders map[string]plugins.Order, p phase, unknown func(plugin, ref string)) ([]string, error) {
	if len(names) == 0 {
		return nil, nil
	}
	index := make(map[string]int, len(names))
	for i, n := range names {
		index[n] = i
	}

	// Graph: edge a -> b means a goes first.
	graph := make(map[string][]string, len(names))
	inDegree := make(map[string]int, len(names))
	addEdge := func(from, to string) {
		for _, existing := range graph[from] {
			if existing == to {
				return
			}
		}
		graph[from] = append(graph[from], to)
		inDegree[to]++
	}
	for _, n := range names {
		before, after := p.constraints(orders[n])
		for _, ref := range before {
			if _, ok := index[ref]; !ok || ref == n {
				if unknown != nil && ref != n {
					unknown(n, ref)
				}
				continue
			}
			addEdge(n, ref)
		}
		for _, ref := range after {
			if _, ok := index[ref]; !ok || ref == n {
				if unknown != nil && ref != n {
					unknown(n, ref)
				}
				continue
			}
			addEdge(ref, n)
		}
	}

	// Kahn, always taking the ready plugin registered first.
	var ready []string
	for _, n := range names {
		if inDegree[n] == 0 {
			ready = append(ready, n)
		}
	}
	out := make([]string, 0, len(names))
	for len(ready) > 0 {
		current := ready[0]
		ready = ready[1:]
		out = append(out, current)
		for _, next := range graph[current] {
			inDegree[next]--
			if inDegree[next] == 0 {
				ready = append(ready, next)
				sort.SliceStable(ready, func(i, j int) bool { return index[ready[i]] < index[ready[j]] })
			}
		}
	}

	if len(out) != len(names) {
		var stuck []string
		for _, n := range names {
			if inDegree[n] > 0 && onCycle(graph, n) {
				stuck = append(stuck, n)
			}
		}
		return nil, plugins.NewTemplateError(
			fmt.Errorf("%w: plugin %s order has a cycle", plugins.ErrConfiguration, p),
			"Cannot resolve {phase} order, constraints form a cycle between: {plugins}",
			plugins.Meta{"phase": string(p), "plugins": strings.Join(stuck, ", ")})
	}
	return out, nil
}

// onCycle reports whether start can reach itself. Plugins that only wait on a
// cycle are blocked too but are not part of it.
func onCycle(graph map[string][]string, start string) bool {
	seen := make(map[string]bool)
	stack := append([]string(nil), graph[start]...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == start {
			return true
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		stack = append(stack, graph[n]...)
	}
	return false
}
