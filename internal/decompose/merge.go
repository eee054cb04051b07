package decompose

import (
	"github.com/felixgeelhaar/specforge/internal/task"
)

// MergeGroupings folds each grouping's tasks into the first listed task that exists.
// Acceptance criteria, test cases, and dependencies are unioned without duplicates, merged
// tasks are removed, and every remaining dependency on a removed id is pointed at the
// survivor. Self references are dropped. Applying the same groupings twice changes nothing.
func MergeGroupings(tasks []task.Task, groupings []TaskGrouping) []task.Task {
	if len(groupings) == 0 {
		return tasks
	}

	index := make(map[string]int, len(tasks))
	for i, t := range tasks {
		if _, dup := index[t.ID]; !dup {
			index[t.ID] = i
		}
	}

	removed := make(map[int]bool)
	replaced := make(map[string]string)

	for _, g := range groupings {
		survivor := -1
		for _, id := range g.TaskIDs {
			i, ok := index[resolve(replaced, id)]
			if !ok || removed[i] {
				continue
			}
			if survivor == -1 {
				survivor = i
				continue
			}
			if i == survivor {
				continue
			}
			s, m := &tasks[survivor], tasks[i]
			s.AcceptanceCriteria = union(s.AcceptanceCriteria, m.AcceptanceCriteria)
			s.TestCases = union(s.TestCases, m.TestCases)
			s.Dependencies = union(s.Dependencies, m.Dependencies)
			removed[i] = true
			replaced[m.ID] = s.ID
		}
		if survivor != -1 && g.Complexity != "" && len(g.TaskIDs) > 1 {
			tasks[survivor].Complexity = g.Complexity
		}
	}

	out := make([]task.Task, 0, len(tasks)-len(removed))
	for i, t := range tasks {
		if removed[i] {
			continue
		}
		deps := make([]string, 0, len(t.Dependencies))
		seen := make(map[string]bool, len(t.Dependencies))
		for _, d := range t.Dependencies {
			d = resolve(replaced, d)
			if d == t.ID || seen[d] {
				continue
			}
			seen[d] = true
			deps = append(deps, d)
		}
		t.Dependencies = deps
		out = append(out, t)
	}
	return out
}

// resolve follows replacement chains, e.g. when a survivor is itself merged later
func resolve(replaced map[string]string, id string) string {
	for i := 0; i < len(replaced); i++ {
		next, ok := replaced[id]
		if !ok {
			break
		}
		id = next
	}
	return id
}

func union(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
