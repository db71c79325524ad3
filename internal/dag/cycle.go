package dag

import "sort"

// Node colors for depth-first cycle detection.
type nodeColor uint8

const (
	white nodeColor = iota // unvisited
	gray                   // on the current DFS path
	black                  // fully processed
)

// DetectCycle runs a three-color depth-first traversal over the given
// adjacency structure (node -> dependency nodes) and returns the first
// cycle found as a path whose first and last elements are equal, or
// nil if the graph is acyclic. A back-edge to a gray node signals the
// cycle.
//
// The function is pure: it takes a plain adjacency map and touches no
// graph state, so it can be tested in isolation from the scheduler.
// Roots are visited in sorted order to keep the reported cycle
// deterministic for a fixed input.
func DetectCycle(adjacency map[string][]string) []string {
	colors := make(map[string]nodeColor, len(adjacency))
	path := make([]string, 0, len(adjacency))

	var cycle []string
	var visit func(node string) bool
	visit = func(node string) bool {
		colors[node] = gray
		path = append(path, node)

		for _, dep := range adjacency[node] {
			switch colors[dep] {
			case gray:
				// Back edge: slice the current path from the repeated
				// node and close the loop.
				for i, p := range path {
					if p == dep {
						cycle = append(append([]string(nil), path[i:]...), dep)
						return true
					}
				}
			case white:
				if visit(dep) {
					return true
				}
			}
		}

		path = path[:len(path)-1]
		colors[node] = black
		return false
	}

	roots := make([]string, 0, len(adjacency))
	for node := range adjacency {
		roots = append(roots, node)
	}
	sort.Strings(roots)

	for _, node := range roots {
		if colors[node] == white && visit(node) {
			return cycle
		}
	}
	return nil
}
