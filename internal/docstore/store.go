package docstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// IndexPath is the path of the distinguished index document. The index is
// rebuilt in full whenever a split or top-level creation occurs, so it is
// always consistent with the current document set.
const IndexPath = "index"

// Store persists structured documents under <root>/docs and tracks the
// cross-link graph between them.
//
// Writes to the same path are mutually exclusive; a write that finds the
// path lock held fails with ConflictError instead of queueing. The index
// rebuild acts as a barrier: it waits for all in-flight writes to finish
// and blocks new ones while it runs.
type Store struct {
	dir    string
	logger *zap.Logger

	// barrier serializes the index rebuild against in-flight writes.
	barrier sync.RWMutex

	// mu guards the docs map.
	mu   sync.Mutex
	docs map[string]*Document

	// pathLocks holds one mutex per document path.
	pathLocks sync.Map
}

// Open creates or reopens a store rooted at workspace/docs.
func Open(workspace string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dir := filepath.Join(workspace, "docs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create document directory: %w", err)
	}
	docs, err := load(dir)
	if err != nil {
		return nil, err
	}
	return &Store{dir: dir, logger: logger, docs: docs}, nil
}

func (s *Store) pathLock(path string) *sync.Mutex {
	lock, _ := s.pathLocks.LoadOrStore(path, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// Write creates or overwrites the document at path. Section bodies are
// normalized to end with a newline; positions are reassigned in order.
// Overwriting keeps recorded links but resets the document to draft.
func (s *Store) Write(path, title string, sections []Section) (*Document, error) {
	lock := s.pathLock(path)
	if !lock.TryLock() {
		writesTotal.WithLabelValues("conflict").Inc()
		return nil, &ConflictError{Path: path}
	}
	defer lock.Unlock()

	doc, created, err := s.writeLocked(path, title, sections)
	if err != nil {
		writesTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	writesTotal.WithLabelValues("success").Inc()

	if created && path != IndexPath {
		if err := s.RebuildIndex(); err != nil {
			return nil, err
		}
	}
	return doc.clone(), nil
}

func (s *Store) writeLocked(path, title string, sections []Section) (*Document, bool, error) {
	s.barrier.RLock()
	defer s.barrier.RUnlock()

	normalized := make([]Section, len(sections))
	for i, sec := range sections {
		body := sec.Body
		if body != "" && !strings.HasSuffix(body, "\n") {
			body += "\n"
		}
		normalized[i] = Section{Title: sec.Title, Body: body, Position: i}
	}

	s.mu.Lock()
	prev, exists := s.docs[path]
	doc := &Document{
		Path:     path,
		Title:    title,
		Status:   StatusDraft,
		Sections: normalized,
	}
	if exists {
		doc.Links = append([]Link(nil), prev.Links...)
	}
	s.mu.Unlock()

	if err := save(s.dir, doc); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	s.docs[path] = doc
	s.mu.Unlock()

	s.logger.Debug("document written",
		zap.String("path", path),
		zap.Int("sections", len(normalized)),
		zap.Bool("created", !exists))
	return doc, !exists, nil
}

// Get returns a copy of the document at path.
func (s *Store) Get(path string) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[path]
	if !ok {
		return nil, &NotFoundError{Path: path}
	}
	return doc.clone(), nil
}

// All returns copies of every document, ordered by path.
func (s *Store) All() []*Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs := make([]*Document, 0, len(s.docs))
	for _, d := range s.docs {
		docs = append(docs, d.clone())
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })
	return docs
}

// SetStatus updates and persists the review status of a document.
func (s *Store) SetStatus(path string, status Status) error {
	lock := s.pathLock(path)
	lock.Lock()
	defer lock.Unlock()

	s.barrier.RLock()
	defer s.barrier.RUnlock()

	s.mu.Lock()
	doc, ok := s.docs[path]
	if !ok {
		s.mu.Unlock()
		return &NotFoundError{Path: path}
	}
	updated := doc.clone()
	updated.Status = status
	s.mu.Unlock()

	if err := save(s.dir, updated); err != nil {
		return err
	}
	s.mu.Lock()
	s.docs[path] = updated
	s.mu.Unlock()
	return nil
}

// AddLink records a directed reference from one document to a target. The
// link is not resolved here; ResolveLinks does that.
func (s *Store) AddLink(from, target string) error {
	lock := s.pathLock(from)
	lock.Lock()
	defer lock.Unlock()

	s.barrier.RLock()
	defer s.barrier.RUnlock()

	s.mu.Lock()
	doc, ok := s.docs[from]
	if !ok {
		s.mu.Unlock()
		return &NotFoundError{Path: from}
	}
	for _, l := range doc.Links {
		if l.Target == target {
			s.mu.Unlock()
			return nil
		}
	}
	updated := doc.clone()
	updated.Links = append(updated.Links, Link{Source: from, Target: target})
	s.mu.Unlock()

	if err := save(s.dir, updated); err != nil {
		return err
	}
	s.mu.Lock()
	s.docs[from] = updated
	s.mu.Unlock()
	return nil
}

// ResolveLinks checks every link on the scoped documents (all documents when
// scope is empty), updates their resolved flags, and returns the unresolved
// links ordered by source then target.
//
// A target "path" resolves when that document exists; "path#Section Title"
// additionally requires a section with that exact title (case-insensitive).
func (s *Store) ResolveLinks(scope ...string) ([]Link, error) {
	s.mu.Lock()
	paths := scope
	if len(paths) == 0 {
		for p := range s.docs {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)

	var unresolved []Link
	var dirty []*Document
	for _, p := range paths {
		doc, ok := s.docs[p]
		if !ok {
			s.mu.Unlock()
			return nil, &NotFoundError{Path: p}
		}
		changed := false
		updated := doc.clone()
		for i := range updated.Links {
			resolved := s.targetExistsLocked(updated.Links[i].Target)
			if updated.Links[i].Resolved != resolved {
				updated.Links[i].Resolved = resolved
				changed = true
			}
			if !resolved {
				unresolved = append(unresolved, updated.Links[i])
			}
		}
		if changed {
			s.docs[p] = updated
			dirty = append(dirty, updated)
		}
	}
	s.mu.Unlock()

	s.barrier.RLock()
	defer s.barrier.RUnlock()
	for _, doc := range dirty {
		if err := save(s.dir, doc); err != nil {
			return nil, err
		}
	}

	sort.Slice(unresolved, func(i, j int) bool {
		if unresolved[i].Source != unresolved[j].Source {
			return unresolved[i].Source < unresolved[j].Source
		}
		return unresolved[i].Target < unresolved[j].Target
	})
	return unresolved, nil
}

func (s *Store) targetExistsLocked(target string) bool {
	path, section, hasSection := strings.Cut(target, "#")
	doc, ok := s.docs[path]
	if !ok {
		return false
	}
	if !hasSection {
		return true
	}
	return doc.Section(section) != nil
}

// NeedsSplit reports whether the document exceeds either threshold.
func (s *Store) NeedsSplit(path string, maxSections, maxLines int) (bool, error) {
	doc, err := s.Get(path)
	if err != nil {
		return false, err
	}
	return len(doc.Sections) > maxSections || doc.LineCount() > maxLines, nil
}

// Split partitions an oversize document into ordered children, rewrites the
// parent as a stub linking to them, and rebuilds the index. Partitioning is
// first-fit along section boundaries; a section is never divided, so the
// concatenation of the children's bodies equals the original body.
//
// The whole operation runs behind the write barrier: in-flight writes drain
// first, and readers see either the old document with the old index or the
// full split with the rebuilt index, never a mix. On any file-write failure
// the created children are removed and the in-memory state stays untouched.
//
// Returns nil children when the document is within thresholds.
func (s *Store) Split(path string, maxSections, maxLines int) ([]*Document, error) {
	lock := s.pathLock(path)
	if !lock.TryLock() {
		return nil, &ConflictError{Path: path}
	}
	defer lock.Unlock()

	s.barrier.Lock()
	defer s.barrier.Unlock()

	children, err := s.splitLocked(path, maxSections, maxLines)
	if err != nil || children == nil {
		return children, err
	}
	splitsTotal.Inc()
	return children, nil
}

// splitLocked assumes the path lock and the barrier are held.
func (s *Store) splitLocked(path string, maxSections, maxLines int) ([]*Document, error) {
	s.mu.Lock()
	doc, ok := s.docs[path]
	if !ok {
		s.mu.Unlock()
		return nil, &NotFoundError{Path: path}
	}
	doc = doc.clone()
	s.mu.Unlock()

	if len(doc.Sections) <= maxSections && doc.LineCount() <= maxLines {
		return nil, nil
	}
	if doc.IsStub() {
		return nil, fmt.Errorf("document %q is already a stub", path)
	}

	parts := partition(doc.Sections, maxSections, maxLines)
	children := make([]*Document, len(parts))
	stubLinks := append([]Link(nil), doc.Links...)
	var stubBody strings.Builder
	for i, part := range parts {
		childPath := fmt.Sprintf("%s-%d", path, i+1)
		for j := range part {
			part[j].Position = j
		}
		children[i] = &Document{
			Path:     childPath,
			Title:    fmt.Sprintf("%s (Part %d)", doc.Title, i+1),
			Status:   doc.Status,
			Sections: part,
		}
		stubLinks = append(stubLinks, Link{Source: path, Target: childPath, Resolved: true})
		stubBody.WriteString(fmt.Sprintf("- [%s](%s.md)\n", children[i].Title, childPath))
	}

	stub := &Document{
		Path:   path,
		Title:  doc.Title,
		Status: doc.Status,
		Sections: []Section{
			{Title: "Contents", Body: stubBody.String()},
		},
		Links:    stubLinks,
		Children: childPaths(children),
	}

	// Build the post-split index before touching disk so the whole split,
	// index included, can be persisted as one unit.
	s.mu.Lock()
	after := make(map[string]*Document, len(s.docs)+len(children))
	for p, d := range s.docs {
		after[p] = d
	}
	s.mu.Unlock()
	after[path] = stub
	for _, child := range children {
		after[child.Path] = child
	}
	index := buildIndex(after)

	// Persist children, then the index, then the stub. The stub rename is
	// the commit point: until it lands the parent file still holds the full
	// document. On failure the created children are removed and, if the
	// index was already rewritten, it is restored from the untouched
	// in-memory set.
	var written []string
	for _, child := range children {
		if err := save(s.dir, child); err != nil {
			s.removeFiles(written)
			return nil, err
		}
		written = append(written, child.Path)
	}
	if err := save(s.dir, index); err != nil {
		s.removeFiles(written)
		return nil, err
	}
	if err := save(s.dir, stub); err != nil {
		s.removeFiles(written)
		s.mu.Lock()
		prev := buildIndex(s.docs)
		s.mu.Unlock()
		if rerr := save(s.dir, prev); rerr != nil {
			s.logger.Warn("index restore failed after aborted split",
				zap.String("path", path), zap.Error(rerr))
		}
		return nil, err
	}

	s.mu.Lock()
	s.docs[path] = stub
	for _, child := range children {
		s.docs[child.Path] = child
	}
	s.docs[IndexPath] = index
	s.mu.Unlock()

	s.logger.Info("document split",
		zap.String("path", path),
		zap.Int("children", len(children)))

	out := make([]*Document, len(children))
	for i, c := range children {
		out[i] = c.clone()
	}
	return out, nil
}

func (s *Store) removeFiles(paths []string) {
	for _, p := range paths {
		os.Remove(filepath.Join(s.dir, p+".md"))
	}
}

func childPaths(children []*Document) []string {
	paths := make([]string, len(children))
	for i, c := range children {
		paths[i] = c.Path
	}
	return paths
}

// partition groups sections first-fit: a child closes when it holds
// maxSections sections or adding the next section would push it past
// maxLines. A single oversize section still gets its own child.
func partition(sections []Section, maxSections, maxLines int) [][]Section {
	var parts [][]Section
	var current []Section
	currentLines := 0
	for _, sec := range sections {
		lines := strings.Count(sec.Body, "\n")
		if len(current) > 0 && (len(current) >= maxSections || currentLines+lines > maxLines) {
			parts = append(parts, current)
			current = nil
			currentLines = 0
		}
		current = append(current, sec)
		currentLines += lines
	}
	if len(current) > 0 {
		parts = append(parts, current)
	}
	return parts
}

// buildIndex derives the index document from a document set. The index
// entry itself is excluded.
func buildIndex(docs map[string]*Document) *Document {
	paths := make([]string, 0, len(docs))
	for p := range docs {
		if p != IndexPath {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)

	var body strings.Builder
	links := make([]Link, 0, len(paths))
	for _, p := range paths {
		doc := docs[p]
		body.WriteString(fmt.Sprintf("- [%s](%s.md): %s\n", doc.Title, p, doc.Status))
		links = append(links, Link{Source: IndexPath, Target: p, Resolved: true})
	}

	return &Document{
		Path:   IndexPath,
		Title:  "Document Index",
		Status: StatusReviewed,
		Sections: []Section{
			{Title: "Documents", Body: body.String()},
		},
		Links: links,
	}
}

// RebuildIndex regenerates the index document from the full document set.
// It waits for in-flight writes to drain and blocks new ones while running.
func (s *Store) RebuildIndex() error {
	s.barrier.Lock()
	defer s.barrier.Unlock()

	s.mu.Lock()
	index := buildIndex(s.docs)
	s.mu.Unlock()

	if err := save(s.dir, index); err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}

	s.mu.Lock()
	s.docs[IndexPath] = index
	s.mu.Unlock()
	return nil
}
