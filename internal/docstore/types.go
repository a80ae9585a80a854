package docstore

import (
	"strings"
)

// Status is the review state of a document.
type Status string

const (
	// StatusDraft marks a document still under clarification.
	StatusDraft Status = "draft"

	// StatusReviewed marks a document accepted by a gate decision.
	StatusReviewed Status = "reviewed"
)

// Section is a titled unit of a document. Sections are owned exclusively by
// their document and ordered by Position.
type Section struct {
	Title    string `yaml:"title"`
	Body     string `yaml:"-"`
	Position int    `yaml:"-"`
}

// Link is a directed reference from one document (or section) to another.
// Targets use the form "path" or "path#Section Title". Resolved is set by
// ResolveLinks; an unresolved link on a non-draft document is a defect.
type Link struct {
	Source   string `yaml:"source"`
	Target   string `yaml:"target"`
	Resolved bool   `yaml:"resolved"`
}

// Document is a structured artifact held by the store. Documents are never
// deleted; a split rewrites the parent as a stub and records its children.
type Document struct {
	// Path is the logical name, unique within the store ("architecture",
	// "architecture-1"). The on-disk file is docs/<path>.md.
	Path     string
	Title    string
	Status   Status
	Sections []Section
	Links    []Link

	// Children lists the child paths when this document was split into
	// a stub. Empty for ordinary documents.
	Children []string
}

// Body returns the concatenated section bodies in order. Split guarantees
// the concatenation of the children's bodies equals the parent's original
// body.
func (d *Document) Body() string {
	var b strings.Builder
	for _, s := range d.Sections {
		b.WriteString(s.Body)
	}
	return b.String()
}

// LineCount counts the lines of the document body. Section bodies are
// newline-terminated, so the newline count is the line count.
func (d *Document) LineCount() int {
	return strings.Count(d.Body(), "\n")
}

// Section returns the section with the given title, matched
// case-insensitively, or nil.
func (d *Document) Section(title string) *Section {
	for i := range d.Sections {
		if strings.EqualFold(d.Sections[i].Title, title) {
			return &d.Sections[i]
		}
	}
	return nil
}

// IsStub reports whether this document was rewritten as a split stub.
func (d *Document) IsStub() bool {
	return len(d.Children) > 0
}

// clone returns a deep copy so callers never share slices with the store.
func (d *Document) clone() *Document {
	c := *d
	c.Sections = append([]Section(nil), d.Sections...)
	c.Links = append([]Link(nil), d.Links...)
	c.Children = append([]string(nil), d.Children...)
	return &c
}
