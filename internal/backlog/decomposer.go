package backlog

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/designd/internal/docstore"
)

// Decomposer orders task specs into a backlog.
//
// Ordering is a topological sort over declared required-file sets: a task
// whose required files strictly contain another task's set builds on that
// task, and a task whose acceptance criteria reference a file declared by
// exactly one other task depends on the declaring task. Ties are broken by
// original priority order, so the result is independent of input order.
type Decomposer struct {
	logger *zap.Logger
}

// NewDecomposer creates a decomposer.
func NewDecomposer(logger *zap.Logger) *Decomposer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Decomposer{logger: logger}
}

// Decompose produces the ordered backlog for one feature. It returns a
// DecompositionError when the reference graph is cyclic.
func (d *Decomposer) Decompose(feature string, specs []TaskSpec) (*Backlog, error) {
	ordered := make([]TaskSpec, len(specs))
	copy(ordered, specs)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })

	edges, err := buildEdges(feature, ordered)
	if err != nil {
		return nil, err
	}

	sequence, err := topoSort(feature, ordered, edges)
	if err != nil {
		return nil, err
	}

	b := &Backlog{Feature: feature}
	tasks := make(map[int]*Task, len(sequence))
	for _, idx := range sequence {
		task := newTask(feature, ordered[idx])
		tasks[idx] = task
		for dep := range edges[idx] {
			task.DependsOn = append(task.DependsOn, tasks[dep].ID)
		}
		sort.Strings(task.DependsOn)
		b.Tasks = append(b.Tasks, task)
	}

	d.logger.Info("feature decomposed",
		zap.String("feature", feature),
		zap.Int("tasks", len(b.Tasks)))
	return b, nil
}

// FromDocuments extracts task specs from the reviewed documents and
// decomposes them. Specs are read from "Task Breakdown" sections; see
// ExtractSpecs for the line format.
func (d *Decomposer) FromDocuments(feature string, docs []*docstore.Document) (*Backlog, error) {
	var specs []TaskSpec
	for _, doc := range docs {
		specs = append(specs, ExtractSpecs(doc)...)
	}
	for i := range specs {
		specs[i].Priority = i
	}
	return d.Decompose(feature, specs)
}

// ExtractSpecs parses task specs out of a document's "Task Breakdown"
// section. Each task is one bullet of the form:
//
//	- <objective> | files: a.go, b.go | accept: first criterion; second
//
// The files and accept fields are optional.
func ExtractSpecs(doc *docstore.Document) []TaskSpec {
	section := doc.Section("Task Breakdown")
	if section == nil {
		return nil
	}
	var specs []TaskSpec
	for _, line := range strings.Split(section.Body, "\n") {
		trimmed := strings.TrimSpace(line)
		rest, ok := strings.CutPrefix(trimmed, "- ")
		if !ok {
			continue
		}
		spec := TaskSpec{Priority: len(specs)}
		for i, field := range strings.Split(rest, "|") {
			field = strings.TrimSpace(field)
			switch {
			case i == 0:
				spec.Objective = field
			case strings.HasPrefix(field, "files:"):
				for _, f := range strings.Split(strings.TrimPrefix(field, "files:"), ",") {
					if f = strings.TrimSpace(f); f != "" {
						spec.RequiredFiles = append(spec.RequiredFiles, f)
					}
				}
			case strings.HasPrefix(field, "accept:"):
				for _, c := range strings.Split(strings.TrimPrefix(field, "accept:"), ";") {
					if c = strings.TrimSpace(c); c != "" {
						spec.AcceptanceCriteria = append(spec.AcceptanceCriteria, c)
					}
				}
			}
		}
		if spec.Objective != "" {
			specs = append(specs, spec)
		}
	}
	return specs
}

// buildEdges returns, per spec index, the set of spec indices it depends on.
func buildEdges(feature string, specs []TaskSpec) (map[int]map[int]bool, error) {
	declaredBy := make(map[string][]int)
	for i, spec := range specs {
		for _, f := range spec.RequiredFiles {
			declaredBy[f] = append(declaredBy[f], i)
		}
	}

	edges := make(map[int]map[int]bool, len(specs))
	addEdge := func(from, to int) {
		if from == to {
			return
		}
		if edges[to] == nil {
			edges[to] = make(map[int]bool)
		}
		edges[to][from] = true
	}

	for i, spec := range specs {
		for j, other := range specs {
			if i == j {
				continue
			}
			if isProperSubset(other.RequiredFiles, spec.RequiredFiles) {
				addEdge(j, i)
			}
		}
		// Acceptance criteria referencing a file some other task
		// declares pull in the declaring task.
		for _, criterion := range spec.AcceptanceCriteria {
			for file, declarers := range declaredBy {
				if !strings.Contains(criterion, file) {
					continue
				}
				if containsInt(declarers, i) {
					continue
				}
				for _, declarer := range declarers {
					addEdge(declarer, i)
				}
			}
		}
	}
	return edges, nil
}

// topoSort runs Kahn's algorithm with the ready set ordered by priority.
func topoSort(feature string, specs []TaskSpec, edges map[int]map[int]bool) ([]int, error) {
	indegree := make([]int, len(specs))
	for to, froms := range edges {
		indegree[to] = len(froms)
	}

	var ready []int
	for i := range specs {
		if indegree[i] == 0 {
			ready = append(ready, i)
		}
	}
	sort.Ints(ready)

	var sequence []int
	for len(ready) > 0 {
		next := ready[0]
		ready = ready[1:]
		sequence = append(sequence, next)
		for to, froms := range edges {
			if froms[next] {
				indegree[to]--
				if indegree[to] == 0 {
					ready = insertSorted(ready, to)
				}
			}
		}
	}

	if len(sequence) != len(specs) {
		var cycle []string
		for i := range specs {
			if indegree[i] > 0 {
				cycle = append(cycle, specs[i].Objective)
			}
		}
		sort.Strings(cycle)
		return nil, &DecompositionError{Feature: feature, Cycle: cycle}
	}
	return sequence, nil
}

func isProperSubset(a, b []string) bool {
	if len(a) == 0 || len(a) >= len(b) {
		return false
	}
	set := make(map[string]bool, len(b))
	for _, f := range b {
		set[f] = true
	}
	for _, f := range a {
		if !set[f] {
			return false
		}
	}
	return true
}

func containsInt(values []int, want int) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

func insertSorted(values []int, v int) []int {
	idx := sort.SearchInts(values, v)
	values = append(values, 0)
	copy(values[idx+1:], values[idx:])
	values[idx] = v
	return values
}
