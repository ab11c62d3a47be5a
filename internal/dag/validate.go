package dag

import (
	"fmt"
	"sort"

	"github.com/tidewater-io/cascade/pkg/models"
)

// Validate checks a workflow definition: non-empty id, at least one task,
// edge endpoints exist, upstream/downstream declarations are symmetric,
// and the edge set forms a DAG.
func Validate(wf *models.Workflow) error {
	if wf.ID == "" {
		return fmt.Errorf("workflow id cannot be empty")
	}
	if len(wf.Tasks) == 0 {
		return fmt.Errorf("workflow %s must have at least one task", wf.ID)
	}

	for id, spec := range wf.Tasks {
		if spec.TaskID != id {
			return fmt.Errorf("task key %s does not match spec task id %s", id, spec.TaskID)
		}
		if spec.Type == "" {
			return fmt.Errorf("task %s has no operator type", id)
		}
		for _, up := range spec.UpstreamIDs {
			if _, ok := wf.Tasks[up]; !ok {
				return fmt.Errorf("task %s depends on unknown task: %s", id, up)
			}
		}
		for _, down := range spec.DownstreamIDs {
			if _, ok := wf.Tasks[down]; !ok {
				return fmt.Errorf("task %s flows into unknown task: %s", id, down)
			}
		}
	}

	if _, err := TopologicalOrder(wf); err != nil {
		return err
	}
	return nil
}

// TopologicalOrder returns task ids in dependency order using Kahn's
// algorithm, or an error if the graph contains a cycle. Ties between
// unordered siblings resolve lexicographically, so the order is stable
// across runs.
func TopologicalOrder(wf *models.Workflow) ([]string, error) {
	inDegree := make(map[string]int, len(wf.Tasks))
	for id, spec := range wf.Tasks {
		inDegree[id] = len(spec.UpstreamIDs)
	}

	var queue []string
	for id, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, id)
		}
	}

	var order []string
	for len(queue) > 0 {
		sort.Strings(queue)
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)

		for _, down := range wf.Tasks[id].DownstreamIDs {
			inDegree[down]--
			if inDegree[down] == 0 {
				queue = append(queue, down)
			}
		}
	}

	if len(order) != len(wf.Tasks) {
		return nil, fmt.Errorf("cycle detected in workflow %s", wf.ID)
	}
	return order, nil
}

// DownstreamClosure returns every task reachable from taskID, directly or
// transitively. Used when a skip must propagate through a subtree.
func DownstreamClosure(wf *models.Workflow, taskID string) []string {
	visited := make(map[string]bool)
	var closure []string

	var dfs func(string)
	dfs = func(id string) {
		spec, ok := wf.Tasks[id]
		if !ok {
			return
		}
		for _, down := range spec.DownstreamIDs {
			if visited[down] {
				continue
			}
			visited[down] = true
			closure = append(closure, down)
			dfs(down)
		}
	}

	dfs(taskID)
	return closure
}
