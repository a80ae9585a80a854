package docstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	return store
}

func body(lines int) string {
	var b strings.Builder
	for i := 0; i < lines; i++ {
		fmt.Fprintf(&b, "line %d\n", i)
	}
	return b.String()
}

func TestWrite_CreatesAndRebuildsIndex(t *testing.T) {
	store := newTestStore(t)

	doc, err := store.Write("requirements", "Requirements", []Section{
		{Title: "Overview", Body: "the overview"},
		{Title: "Constraints", Body: "the constraints\n"},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, doc.Status)
	// Bodies are normalized to end with a newline.
	assert.Equal(t, "the overview\n", doc.Sections[0].Body)

	index, err := store.Get(IndexPath)
	require.NoError(t, err)
	assert.Contains(t, index.Body(), "requirements.md")
	require.Len(t, index.Links, 1)
	assert.True(t, index.Links[0].Resolved)
}

func TestWrite_OverwriteKeepsLinksResetsStatus(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Write("architecture", "Architecture", []Section{{Title: "Components", Body: "x"}})
	require.NoError(t, err)
	require.NoError(t, store.AddLink("architecture", "requirements"))
	require.NoError(t, store.SetStatus("architecture", StatusReviewed))

	doc, err := store.Write("architecture", "Architecture", []Section{{Title: "Components", Body: "y"}})
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, doc.Status)
	require.Len(t, doc.Links, 1)
	assert.Equal(t, "requirements", doc.Links[0].Target)
}

func TestWrite_ConflictWhilePathHeld(t *testing.T) {
	store := newTestStore(t)

	lock := store.pathLock("busy")
	lock.Lock()
	defer lock.Unlock()

	_, err := store.Write("busy", "Busy", nil)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "busy", conflict.Path)
}

func TestWrite_ConcurrentDistinctPaths(t *testing.T) {
	store := newTestStore(t)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			path := fmt.Sprintf("doc-%d", i)
			_, errs[i] = store.Write(path, "Doc", []Section{{Title: "Body", Body: body(5)}})
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		assert.NoError(t, err, "write %d", i)
	}
	// Index sees all eight documents.
	index, err := store.Get(IndexPath)
	require.NoError(t, err)
	assert.Len(t, index.Links, 8)
}

func TestPersistence_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, nil)
	require.NoError(t, err)

	sections := []Section{
		{Title: "Overview", Body: body(3)},
		{Title: "Details", Body: body(7)},
	}
	_, err = store.Write("design", "Design", sections)
	require.NoError(t, err)
	require.NoError(t, store.AddLink("design", "index"))
	require.NoError(t, store.SetStatus("design", StatusReviewed))

	reopened, err := Open(dir, nil)
	require.NoError(t, err)
	doc, err := reopened.Get("design")
	require.NoError(t, err)
	assert.Equal(t, "Design", doc.Title)
	assert.Equal(t, StatusReviewed, doc.Status)
	require.Len(t, doc.Sections, 2)
	assert.Equal(t, "Overview", doc.Sections[0].Title)
	assert.Equal(t, body(3), doc.Sections[0].Body)
	assert.Equal(t, body(7), doc.Sections[1].Body)
	require.Len(t, doc.Links, 1)
}

func TestPersistence_BodyWithHeadingShapedLines(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, nil)
	require.NoError(t, err)

	// Bodies are opaque text and may contain lines that look like section
	// headings; reloading must not treat them as boundaries.
	tricky := "intro line\n## Not A Real Section\nmore text\n"
	sections := []Section{
		{Title: "Overview", Body: tricky},
		{Title: "Details", Body: "## \n---\n# also not a title\n"},
	}
	written, err := store.Write("notes", "Notes", sections)
	require.NoError(t, err)

	reopened, err := Open(dir, nil)
	require.NoError(t, err)
	doc, err := reopened.Get("notes")
	require.NoError(t, err)
	require.Len(t, doc.Sections, 2)
	assert.Equal(t, tricky, doc.Sections[0].Body)
	assert.Equal(t, "## \n---\n# also not a title\n", doc.Sections[1].Body)
	assert.Equal(t, written.Body(), doc.Body())
}

func TestResolveLinks(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Write("requirements", "Requirements", []Section{{Title: "Scope", Body: "s"}})
	require.NoError(t, err)
	_, err = store.Write("architecture", "Architecture", []Section{{Title: "Components", Body: "c"}})
	require.NoError(t, err)

	require.NoError(t, store.AddLink("architecture", "requirements"))
	require.NoError(t, store.AddLink("architecture", "requirements#Scope"))
	require.NoError(t, store.AddLink("architecture", "requirements#Missing"))
	require.NoError(t, store.AddLink("architecture", "nonexistent"))

	unresolved, err := store.ResolveLinks("architecture")
	require.NoError(t, err)
	require.Len(t, unresolved, 2)
	assert.Equal(t, "nonexistent", unresolved[0].Target)
	assert.Equal(t, "requirements#Missing", unresolved[1].Target)

	doc, err := store.Get("architecture")
	require.NoError(t, err)
	resolved := 0
	for _, l := range doc.Links {
		if l.Resolved {
			resolved++
		}
	}
	assert.Equal(t, 2, resolved)
}

func TestResolveLinks_Idempotent(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Write("a", "A", []Section{{Title: "S", Body: "x"}})
	require.NoError(t, err)
	require.NoError(t, store.AddLink("a", "missing"))

	first, err := store.ResolveLinks()
	require.NoError(t, err)
	second, err := store.ResolveLinks()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSplit_Scenario(t *testing.T) {
	// A 1,200-line, 5-section document with thresholds 1,000 lines and
	// 3 sections splits into two children: the first three sections,
	// then the remaining two. The parent becomes a stub with two child
	// links and the index lists stub plus children.
	store := newTestStore(t)

	sections := make([]Section, 5)
	for i := range sections {
		sections[i] = Section{Title: fmt.Sprintf("Section %d", i+1), Body: body(240)}
	}
	original, err := store.Write("architecture", "Architecture", sections)
	require.NoError(t, err)
	require.Equal(t, 1200, original.LineCount())

	children, err := store.Split("architecture", 3, 1000)
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Len(t, children[0].Sections, 3)
	assert.Len(t, children[1].Sections, 2)

	// Concatenated child bodies reconstruct the original exactly.
	assert.Equal(t, original.Body(), children[0].Body()+children[1].Body())

	parent, err := store.Get("architecture")
	require.NoError(t, err)
	assert.True(t, parent.IsStub())
	assert.Equal(t, []string{"architecture-1", "architecture-2"}, parent.Children)
	childLinks := 0
	for _, l := range parent.Links {
		if strings.HasPrefix(l.Target, "architecture-") {
			childLinks++
			assert.True(t, l.Resolved)
		}
	}
	assert.Equal(t, 2, childLinks)

	index, err := store.Get(IndexPath)
	require.NoError(t, err)
	assert.Len(t, index.Links, 3)
}

func TestSplit_NoopUnderThreshold(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Write("small", "Small", []Section{{Title: "Only", Body: body(10)}})
	require.NoError(t, err)

	children, err := store.Split("small", 3, 1000)
	require.NoError(t, err)
	assert.Nil(t, children)

	doc, err := store.Get("small")
	require.NoError(t, err)
	assert.False(t, doc.IsStub())
}

func TestSplit_NeverDividesASection(t *testing.T) {
	store := newTestStore(t)
	// One giant section beyond the line threshold stays whole.
	_, err := store.Write("big", "Big", []Section{
		{Title: "Huge", Body: body(2000)},
		{Title: "Tiny", Body: body(1)},
	})
	require.NoError(t, err)

	children, err := store.Split("big", 3, 1000)
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, 2000, children[0].LineCount())
	assert.Equal(t, 1, children[1].LineCount())
}

func TestSplit_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, nil)
	require.NoError(t, err)

	sections := make([]Section, 4)
	for i := range sections {
		sections[i] = Section{Title: fmt.Sprintf("S%d", i), Body: body(50)}
	}
	_, err = store.Write("doc", "Doc", sections)
	require.NoError(t, err)
	_, err = store.Split("doc", 2, 1000)
	require.NoError(t, err)

	reopened, err := Open(dir, nil)
	require.NoError(t, err)
	parent, err := reopened.Get("doc")
	require.NoError(t, err)
	assert.True(t, parent.IsStub())
	for _, child := range parent.Children {
		_, err := reopened.Get(child)
		assert.NoError(t, err)
	}
}

func TestSplit_ChildWriteFailureRollsBackCompletely(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, nil)
	require.NoError(t, err)

	sections := make([]Section, 4)
	for i := range sections {
		sections[i] = Section{Title: fmt.Sprintf("S%d", i), Body: body(50)}
	}
	original, err := store.Write("doc", "Doc", sections)
	require.NoError(t, err)

	// A directory squatting on the second child's path makes its save fail
	// partway through the split.
	require.NoError(t, os.Mkdir(filepath.Join(dir, "docs", "doc-2.md"), 0o755))

	_, err = store.Split("doc", 2, 1000)
	require.Error(t, err)

	// The parent is untouched, the first child's file was removed, and the
	// index still lists only the original document.
	parent, err := store.Get("doc")
	require.NoError(t, err)
	assert.False(t, parent.IsStub())
	assert.Equal(t, original.Body(), parent.Body())

	_, statErr := os.Stat(filepath.Join(dir, "docs", "doc-1.md"))
	assert.True(t, os.IsNotExist(statErr))

	_, err = store.Get("doc-1")
	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf)

	index, err := store.Get(IndexPath)
	require.NoError(t, err)
	assert.NotContains(t, index.Body(), "doc-1")
}

func TestSplit_IndexWriteFailureRollsBackChildren(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, nil)
	require.NoError(t, err)

	sections := make([]Section, 4)
	for i := range sections {
		sections[i] = Section{Title: fmt.Sprintf("S%d", i), Body: body(50)}
	}
	_, err = store.Write("doc", "Doc", sections)
	require.NoError(t, err)

	// Break the index path so persisting the rebuilt index fails after the
	// children were already written.
	require.NoError(t, os.Remove(filepath.Join(dir, "docs", IndexPath+".md")))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "docs", IndexPath+".md"), 0o755))

	_, err = store.Split("doc", 2, 1000)
	require.Error(t, err)

	parent, err := store.Get("doc")
	require.NoError(t, err)
	assert.False(t, parent.IsStub())

	for _, child := range []string{"doc-1", "doc-2"} {
		_, statErr := os.Stat(filepath.Join(dir, "docs", child+".md"))
		assert.True(t, os.IsNotExist(statErr), child)
		_, err := store.Get(child)
		var nf *NotFoundError
		assert.ErrorAs(t, err, &nf)
	}
}

func TestPartition_FirstFit(t *testing.T) {
	tests := []struct {
		name        string
		lines       []int
		maxSections int
		maxLines    int
		want        []int // sections per part
	}{
		{"by section count", []int{10, 10, 10, 10, 10}, 2, 1000, []int{2, 2, 1}},
		{"by line count", []int{600, 600, 600}, 10, 1000, []int{1, 1, 1}},
		{"mixed", []int{240, 240, 240, 240, 240}, 3, 1000, []int{3, 2}},
		{"single part", []int{1, 1}, 5, 100, []int{2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sections := make([]Section, len(tt.lines))
			for i, n := range tt.lines {
				sections[i] = Section{Title: fmt.Sprintf("S%d", i), Body: body(n)}
			}
			parts := partition(sections, tt.maxSections, tt.maxLines)
			got := make([]int, len(parts))
			for i, p := range parts {
				got[i] = len(p)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGet_NotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get("ghost")
	var notFound *NotFoundError
	assert.ErrorAs(t, err, &notFound)
}
