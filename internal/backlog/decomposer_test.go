package backlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/designd/internal/docstore"
)

func objectives(b *Backlog) []string {
	out := make([]string, len(b.Tasks))
	for i, t := range b.Tasks {
		out[i] = t.Objective
	}
	return out
}

func TestDecompose_FileSubsetOrdering(t *testing.T) {
	// Task A requires file x; task B requires x and y and therefore
	// builds on A. The backlog orders A first regardless of input order.
	a := TaskSpec{Objective: "create store", RequiredFiles: []string{"x"}}
	b := TaskSpec{Objective: "extend store", RequiredFiles: []string{"x", "y"}}

	d := NewDecomposer(nil)

	forward, err := d.Decompose("feat", []TaskSpec{withPriority(a, 0), withPriority(b, 1)})
	require.NoError(t, err)
	assert.Equal(t, []string{"create store", "extend store"}, objectives(forward))

	reversed, err := d.Decompose("feat", []TaskSpec{withPriority(b, 0), withPriority(a, 1)})
	require.NoError(t, err)
	assert.Equal(t, []string{"create store", "extend store"}, objectives(reversed))

	// The dependency is recorded on the dependent task.
	assert.Empty(t, forward.Tasks[0].DependsOn)
	assert.Equal(t, []string{forward.Tasks[0].ID}, forward.Tasks[1].DependsOn)
}

func TestDecompose_ReferenceDependency(t *testing.T) {
	specs := []TaskSpec{
		{Objective: "wire handler", AcceptanceCriteria: []string{"handler uses core.go"}, RequiredFiles: []string{"handler.go"}, Priority: 0},
		{Objective: "build core", RequiredFiles: []string{"core.go"}, Priority: 1},
	}
	b, err := NewDecomposer(nil).Decompose("feat", specs)
	require.NoError(t, err)
	assert.Equal(t, []string{"build core", "wire handler"}, objectives(b))
}

func TestDecompose_TieBreakByPriority(t *testing.T) {
	specs := []TaskSpec{
		{Objective: "third", RequiredFiles: []string{"c"}, Priority: 2},
		{Objective: "first", RequiredFiles: []string{"a"}, Priority: 0},
		{Objective: "second", RequiredFiles: []string{"b"}, Priority: 1},
	}
	b, err := NewDecomposer(nil).Decompose("feat", specs)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "third"}, objectives(b))
}

func TestDecompose_CycleDetected(t *testing.T) {
	specs := []TaskSpec{
		{Objective: "alpha", RequiredFiles: []string{"a.go"}, AcceptanceCriteria: []string{"integrates with b.go"}, Priority: 0},
		{Objective: "beta", RequiredFiles: []string{"b.go"}, AcceptanceCriteria: []string{"integrates with a.go"}, Priority: 1},
	}
	_, err := NewDecomposer(nil).Decompose("feat", specs)
	var decompErr *DecompositionError
	require.ErrorAs(t, err, &decompErr)
	assert.Equal(t, "feat", decompErr.Feature)
	assert.Equal(t, []string{"alpha", "beta"}, decompErr.Cycle)
}

func TestDecompose_TopologicalValidity(t *testing.T) {
	specs := []TaskSpec{
		{Objective: "t1", RequiredFiles: []string{"a"}, Priority: 0},
		{Objective: "t2", RequiredFiles: []string{"a", "b"}, Priority: 1},
		{Objective: "t3", RequiredFiles: []string{"a", "b", "c"}, Priority: 2},
		{Objective: "t4", RequiredFiles: []string{"d"}, Priority: 3},
	}
	b, err := NewDecomposer(nil).Decompose("feat", specs)
	require.NoError(t, err)

	position := make(map[string]int)
	for i, task := range b.Tasks {
		position[task.ID] = i
	}
	for i, task := range b.Tasks {
		for _, dep := range task.DependsOn {
			assert.Less(t, position[dep], i, "task %s precedes its dependency", task.Objective)
		}
	}
}

func TestExtractSpecs(t *testing.T) {
	doc := &docstore.Document{
		Path:  "architecture",
		Title: "Architecture",
		Sections: []docstore.Section{
			{Title: "Task Breakdown", Body: "" +
				"- build store | files: store.go, types.go | accept: store persists; store reloads\n" +
				"- build engine | files: engine.go | accept: engine validates store.go output\n" +
				"not a bullet\n" +
				"- \n"},
		},
	}
	specs := ExtractSpecs(doc)
	require.Len(t, specs, 2)
	assert.Equal(t, "build store", specs[0].Objective)
	assert.Equal(t, []string{"store.go", "types.go"}, specs[0].RequiredFiles)
	assert.Equal(t, []string{"store persists", "store reloads"}, specs[0].AcceptanceCriteria)
	assert.Equal(t, []string{"engine.go"}, specs[1].RequiredFiles)
}

func TestFromDocuments(t *testing.T) {
	doc := &docstore.Document{
		Path: "architecture",
		Sections: []docstore.Section{
			{Title: "Task Breakdown", Body: "" +
				"- extend core | files: core.go, extra.go\n" +
				"- build core | files: core.go\n"},
		},
	}
	b, err := NewDecomposer(nil).FromDocuments("feat", []*docstore.Document{doc})
	require.NoError(t, err)
	assert.Equal(t, []string{"build core", "extend core"}, objectives(b))
}

func withPriority(s TaskSpec, p int) TaskSpec {
	s.Priority = p
	return s
}
