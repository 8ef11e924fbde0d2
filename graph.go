package taskgraph

import (
	"fmt"
	"sort"
)

// dag is the vertex set, edge set, and a leaves-first topological order
// reachable from a root Future. Vertices are deduplicated by Future object
// identity, matching pointer-based Future object identity.
type dag struct {
	root     Future
	vertices []Future            // topological order, leaves first, root last
	edges    map[Future][]Future // vertex -> its direct upstreams
}

// buildDAG performs a breadth-first collection of the Future closure
// reachable from root, then a depth-first pass that both detects cycles and
// produces a deterministic, leaves-first topological order. Within a level
// of the traversal, siblings are visited in (task_name, task_id) lexical
// order (non-Task futures sort after by their own label/identity) so two
// builds of the same root always walk ties the same way.
func buildDAG(root Future) (*dag, error) {
	edges := make(map[Future][]Future)
	visitedBFS := make(map[Future]bool)
	queue := []Future{root}
	visitedBFS[root] = true
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		ups := cur.upstreams()
		edges[cur] = ups
		for _, u := range ups {
			if !visitedBFS[u] {
				visitedBFS[u] = true
				queue = append(queue, u)
			}
		}
	}

	const (
		unvisited = 0
		temp      = 1
		perm      = 2
	)
	state := make(map[Future]int, len(edges))
	var order []Future
	var path []string

	var visit func(f Future) error
	visit = func(f Future) error {
		switch state[f] {
		case perm:
			return nil
		case temp:
			return &GraphCycleError{Cycle: append(append([]string{}, path...), vertexLabel(f))}
		}
		state[f] = temp
		path = append(path, vertexLabel(f))

		ups := append([]Future{}, edges[f]...)
		sort.Slice(ups, func(i, j int) bool { return vertexSortKey(ups[i]) < vertexSortKey(ups[j]) })
		for _, u := range ups {
			if err := visit(u); err != nil {
				return err
			}
		}

		path = path[:len(path)-1]
		state[f] = perm
		order = append(order, f)
		return nil
	}

	if err := visit(root); err != nil {
		return nil, err
	}

	return &dag{root: root, vertices: order, edges: edges}, nil
}

// vertexLabel is a human-readable identifier for a vertex, used in cycle
// error messages.
func vertexLabel(f Future) string {
	if t, ok := f.(*Task); ok {
		return fmt.Sprintf("%s[%s]", t.taskName, t.taskID)
	}
	return f.futureLabel()
}

// vertexSortKey gives a deterministic, total ordering over sibling vertices:
// Task vertices sort by (task_name, task_id); every other Future sorts by
// its kind label and identity fragment.
func vertexSortKey(f Future) string {
	if t, ok := f.(*Task); ok {
		return "0:" + t.taskName + "\x00" + t.taskID
	}
	return "1:" + f.futureLabel() + "\x00" + fmt.Sprintf("%x", f.identityFragment())
}
