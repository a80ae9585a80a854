// Package template holds the capability-tagged document template registry.
//
// Each document kind declares the sections a document of that kind must
// carry and a predicate over detected project capabilities deciding whether
// the kind is instantiated at all. Which documents exist is therefore an
// explicit, deterministic decision, never a free-text one.
package template

import "sort"

// Kind names a document template.
type Kind string

const (
	KindIndex        Kind = "index"
	KindRequirements Kind = "requirements"
	KindArchitecture Kind = "architecture"
	KindIntegration  Kind = "integration"
	KindSecurity     Kind = "security"
	KindPerformance  Kind = "performance"
	KindDecisions    Kind = "decisions"
)

// Capability is a detected project trait that gates optional document kinds.
type Capability string

const (
	CapabilityExternalAPI    Capability = "external_api"
	CapabilityAuthentication Capability = "authentication"
	CapabilityHighThroughput Capability = "high_throughput"
	CapabilityPersistence    Capability = "persistence"
)

// Template describes one document kind.
type Template struct {
	Kind Kind

	// Path is the document path the kind instantiates to.
	Path string

	// RequiredSections must all be present for validation to pass.
	RequiredSections []string

	// When returns true if the kind applies to the given capabilities.
	// nil means the kind is always instantiated.
	When func(capabilities []Capability) bool
}

// UnresolvedSection is the section forced progression writes blocking
// defects into. Every template carries it implicitly; validation never
// requires it.
const UnresolvedSection = "Unresolved Items"

func hasCapability(capabilities []Capability, want ...Capability) bool {
	for _, c := range capabilities {
		for _, w := range want {
			if c == w {
				return true
			}
		}
	}
	return false
}

// Registry resolves document kinds for a template style.
type Registry struct {
	templates map[Kind]Template
}

// NewRegistry builds the registry for the given style. Only the "standard"
// style is currently defined; unknown styles fall back to it.
func NewRegistry(style string) *Registry {
	templates := map[Kind]Template{
		KindIndex: {
			Kind:             KindIndex,
			Path:             "index",
			RequiredSections: []string{"Documents"},
		},
		KindRequirements: {
			Kind:             KindRequirements,
			Path:             "requirements",
			RequiredSections: []string{"Overview", "Functional Requirements", "Constraints"},
		},
		KindArchitecture: {
			Kind:             KindArchitecture,
			Path:             "architecture",
			RequiredSections: []string{"Overview", "Components", "Data Flow"},
		},
		KindIntegration: {
			Kind:             KindIntegration,
			Path:             "integration",
			RequiredSections: []string{"External Systems", "Contracts"},
			When: func(caps []Capability) bool {
				return hasCapability(caps, CapabilityExternalAPI)
			},
		},
		KindSecurity: {
			Kind:             KindSecurity,
			Path:             "security",
			RequiredSections: []string{"Threat Model", "Controls"},
			When: func(caps []Capability) bool {
				return hasCapability(caps, CapabilityAuthentication, CapabilityExternalAPI)
			},
		},
		KindPerformance: {
			Kind:             KindPerformance,
			Path:             "performance",
			RequiredSections: []string{"Targets", "Bottlenecks"},
			When: func(caps []Capability) bool {
				return hasCapability(caps, CapabilityHighThroughput)
			},
		},
		KindDecisions: {
			Kind:             KindDecisions,
			Path:             "decisions",
			RequiredSections: []string{"Log"},
		},
	}
	return &Registry{templates: templates}
}

// Get returns the template for a kind.
func (r *Registry) Get(kind Kind) (Template, bool) {
	tpl, ok := r.templates[kind]
	return tpl, ok
}

// ByPath returns the template whose instantiated path matches exactly.
// Split children ("architecture-1") have no template of their own; their
// structure is validated through the parent stub.
func (r *Registry) ByPath(path string) (Template, bool) {
	for _, tpl := range r.templates {
		if tpl.Path == path {
			return tpl, true
		}
	}
	return Template{}, false
}

// Select returns the templates instantiated for the given capabilities,
// ordered by path for determinism.
func (r *Registry) Select(capabilities []Capability) []Template {
	var selected []Template
	for _, tpl := range r.templates {
		if tpl.When == nil || tpl.When(capabilities) {
			selected = append(selected, tpl)
		}
	}
	sort.Slice(selected, func(i, j int) bool { return selected[i].Path < selected[j].Path })
	return selected
}
