// Package task holds decomposed task lists and the project-wide task id sequence.
package task

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Type of task
type Type string

const (
	TypeStory     Type = "story"
	TypeTechnical Type = "technical"
)

// Id prefixes per task type
const (
	PrefixStory     = "US"
	PrefixTechnical = "TS"
)

// Prefix returns the id prefix for a task type. Unknown types are technical.
func (t Type) Prefix() string {
	if t == TypeStory {
		return PrefixStory
	}
	return PrefixTechnical
}

// Task is one unit of work derived from a spec
type Task struct {
	ID                 string   `json:"id"`
	Type               Type     `json:"type"`
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	AcceptanceCriteria []string `json:"acceptanceCriteria"`
	TestCases          []string `json:"testCases"`
	Dependencies       []string `json:"dependencies"`
	Complexity         string   `json:"complexity,omitempty"`
	SourceSection      string   `json:"sourceSection,omitempty"`
}

// List is the decomposed task list for one spec
type List struct {
	SpecPath    string    `json:"specPath"`
	GeneratedAt time.Time `json:"generatedAt"`
	Tasks       []Task    `json:"tasks"`
}

// Empty reports whether the list has no tasks
func (l *List) Empty() bool {
	return l == nil || len(l.Tasks) == 0
}

// IDs returns every task id in order
func (l *List) IDs() []string {
	ids := make([]string, 0, len(l.Tasks))
	for _, t := range l.Tasks {
		ids = append(ids, t.ID)
	}
	return ids
}

// Find returns the index of the task with id, or -1
func (l *List) Find(id string) int {
	for i, t := range l.Tasks {
		if t.ID == id {
			return i
		}
	}
	return -1
}

var idRe = regexp.MustCompile(`^([A-Z][A-Z0-9]*)-(\d+)$`)

// FormatID renders a task id like US-001
func FormatID(prefix string, n int) string {
	return fmt.Sprintf("%s-%03d", prefix, n)
}

// ParseID splits an id like TS-014 into its prefix and number
func ParseID(id string) (string, int, bool) {
	m := idRe.FindStringSubmatch(id)
	if m == nil {
		return "", 0, false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0, false
	}
	return m[1], n, true
}

// AssignIDs gives every task a sequence-issued id. Ids listed in keep stay as they are and
// raise the sequence floor; every other id is treated as provisional and replaced. Dependencies
// are rewritten through the same mapping. Tasks are modified in place.
func AssignIDs(ctx context.Context, seq Sequence, tasks []Task, keep map[string]bool) error {
	mapping := make(map[string]string)
	taken := make(map[string]bool)

	for i := range tasks {
		t := &tasks[i]
		if t.Type != TypeStory && t.Type != TypeTechnical {
			t.Type = TypeTechnical
		}
		if keep[t.ID] && !taken[t.ID] {
			taken[t.ID] = true
			if prefix, n, ok := ParseID(t.ID); ok {
				if err := seq.Observe(ctx, prefix, n); err != nil {
					return err
				}
			}
			continue
		}

		n, err := seq.Next(ctx, t.Type.Prefix())
		if err != nil {
			return err
		}
		id := FormatID(t.Type.Prefix(), n)
		if t.ID != "" {
			if _, dup := mapping[t.ID]; !dup {
				mapping[t.ID] = id
			}
		}
		t.ID = id
		taken[id] = true
	}

	for i := range tasks {
		deps := tasks[i].Dependencies
		for j, d := range deps {
			if keep[d] {
				continue
			}
			if id, ok := mapping[d]; ok {
				deps[j] = id
			}
		}
	}
	return nil
}
