// Package validation runs structural and consistency checks over the
// document set and turns the findings into immutable reports.
package validation

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/designd/internal/config"
	"github.com/fyrsmithlabs/designd/internal/docstore"
	"github.com/fyrsmithlabs/designd/internal/template"
)

// Engine validates phase document sets. Checks run in a fixed order:
// required sections, link resolution, size compliance, then phase
// completion criteria.
type Engine struct {
	store    *docstore.Store
	registry *template.Registry
	split    config.SplitConfig
	logger   *zap.Logger
}

// NewEngine creates a validation engine over the given store.
func NewEngine(store *docstore.Store, registry *template.Registry, split config.SplitConfig, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: store, registry: registry, split: split, logger: logger}
}

// ValidatePhase checks the documents produced in a phase and returns the
// report. The capabilities drive phase-specific completion criteria.
func (e *Engine) ValidatePhase(phase string, paths []string, capabilities []template.Capability) (*Report, error) {
	var defects []Defect

	docs := make([]*docstore.Document, 0, len(paths))
	for _, path := range paths {
		doc, err := e.store.Get(path)
		if err != nil {
			return nil, fmt.Errorf("validate %s: %w", phase, err)
		}
		docs = append(docs, doc)
	}

	for _, doc := range docs {
		defects = append(defects, e.checkRequiredSections(doc)...)
	}

	linkDefects, err := e.checkLinks(paths)
	if err != nil {
		return nil, err
	}
	defects = append(defects, linkDefects...)

	for _, doc := range docs {
		defects = append(defects, e.checkSize(doc)...)
	}

	defects = append(defects, e.checkPhaseCriteria(phase, docs, capabilities)...)

	report := newReport(phase, defects)
	for _, d := range report.Defects {
		defectsTotal.WithLabelValues(string(d.Kind), string(d.Severity)).Inc()
	}
	e.logger.Debug("validation pass complete",
		zap.String("phase", phase),
		zap.Int("defects", len(report.Defects)),
		zap.Bool("pass", report.Pass()))
	return report, nil
}

// checkRequiredSections verifies template compliance. A split stub is
// checked against the union of its children's sections.
func (e *Engine) checkRequiredSections(doc *docstore.Document) []Defect {
	tpl, ok := e.registry.ByPath(doc.Path)
	if !ok {
		return nil
	}

	present := make(map[string]bool)
	collect := func(d *docstore.Document) {
		for _, s := range d.Sections {
			present[strings.ToLower(s.Title)] = true
		}
	}
	collect(doc)
	for _, childPath := range doc.Children {
		if child, err := e.store.Get(childPath); err == nil {
			collect(child)
		}
	}

	var defects []Defect
	for _, required := range tpl.RequiredSections {
		if !present[strings.ToLower(required)] {
			defects = append(defects, Defect{
				Kind:     DefectMissingSection,
				Severity: SeverityBlocking,
				Document: doc.Path,
				Detail:   fmt.Sprintf("required section %q is missing", required),
			})
		}
	}
	return defects
}

// checkLinks resolves links within scope. Link targets must resolve before
// the owning document can leave draft, so unresolved links block.
func (e *Engine) checkLinks(paths []string) ([]Defect, error) {
	unresolved, err := e.store.ResolveLinks(paths...)
	if err != nil {
		return nil, fmt.Errorf("resolve links: %w", err)
	}
	defects := make([]Defect, 0, len(unresolved))
	for _, link := range unresolved {
		defects = append(defects, Defect{
			Kind:     DefectBrokenLink,
			Severity: SeverityBlocking,
			Document: link.Source,
			Detail:   fmt.Sprintf("link target %q does not resolve", link.Target),
		})
	}
	return defects, nil
}

// checkSize flags documents beyond the split thresholds. A reviewed
// document must never exceed them, so the defect blocks until the
// orchestrator splits the document.
func (e *Engine) checkSize(doc *docstore.Document) []Defect {
	if doc.IsStub() {
		return nil
	}
	var defects []Defect
	if n := len(doc.Sections); n > e.split.MaxSections {
		defects = append(defects, Defect{
			Kind:     DefectOversize,
			Severity: SeverityBlocking,
			Document: doc.Path,
			Detail:   fmt.Sprintf("%d sections exceed limit of %d", n, e.split.MaxSections),
		})
	}
	if n := doc.LineCount(); n > e.split.MaxLines {
		defects = append(defects, Defect{
			Kind:     DefectOversize,
			Severity: SeverityBlocking,
			Document: doc.Path,
			Detail:   fmt.Sprintf("%d lines exceed limit of %d", n, e.split.MaxLines),
		})
	}
	return defects
}

// checkPhaseCriteria applies phase-specific completion rules.
func (e *Engine) checkPhaseCriteria(phase string, docs []*docstore.Document, capabilities []template.Capability) []Defect {
	switch phase {
	case "architecture_proposal":
		return e.checkArchitectureCriteria(docs, capabilities)
	case "requirement_capture":
		return e.checkRequirementsCriteria(docs)
	default:
		return nil
	}
}

// checkArchitectureCriteria requires at least one proposed component per
// detected capability.
func (e *Engine) checkArchitectureCriteria(docs []*docstore.Document, capabilities []template.Capability) []Defect {
	required := len(capabilities)
	if required == 0 {
		required = 1
	}
	for _, doc := range docs {
		section := e.findSection(doc, "Components")
		if section == nil {
			continue
		}
		if countBullets(section.Body) >= required {
			return nil
		}
		return []Defect{{
			Kind:     DefectIncompletePhase,
			Severity: SeverityBlocking,
			Document: doc.Path,
			Detail:   fmt.Sprintf("components section proposes fewer than %d components", required),
		}}
	}
	return nil
}

func (e *Engine) checkRequirementsCriteria(docs []*docstore.Document) []Defect {
	for _, doc := range docs {
		section := e.findSection(doc, "Functional Requirements")
		if section == nil {
			continue
		}
		if strings.TrimSpace(section.Body) != "" {
			return nil
		}
		return []Defect{{
			Kind:     DefectIncompletePhase,
			Severity: SeverityBlocking,
			Document: doc.Path,
			Detail:   "functional requirements section is empty",
		}}
	}
	return nil
}

// findSection looks for a section on the document or, for stubs, on its
// children.
func (e *Engine) findSection(doc *docstore.Document, title string) *docstore.Section {
	if s := doc.Section(title); s != nil {
		return s
	}
	for _, childPath := range doc.Children {
		if child, err := e.store.Get(childPath); err == nil {
			if s := child.Section(title); s != nil {
				return s
			}
		}
	}
	return nil
}

func countBullets(body string) int {
	count := 0
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* ") {
			count++
		}
	}
	return count
}
