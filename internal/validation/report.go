package validation

import "sort"

// DefectKind categorizes validation defects.
type DefectKind string

const (
	DefectMissingSection  DefectKind = "missing_section"
	DefectBrokenLink      DefectKind = "broken_link"
	DefectOversize        DefectKind = "oversize_document"
	DefectIncompletePhase DefectKind = "incomplete_phase"
)

// Severity splits defects into those that hold a gate closed and those
// that are recorded but never block.
type Severity string

const (
	SeverityBlocking Severity = "blocking"
	SeverityAdvisory Severity = "advisory"
)

// Defect is a single validation finding. Defects are per-item and non-fatal;
// they accumulate in a report.
type Defect struct {
	Kind     DefectKind `json:"kind"`
	Severity Severity   `json:"severity"`
	Document string     `json:"document"`
	Detail   string     `json:"detail"`
}

// Report is the immutable outcome of one validation pass. Validating
// unchanged input twice yields an identical report; defects are ordered
// by document, kind, then detail to guarantee it.
type Report struct {
	Phase   string   `json:"phase"`
	Defects []Defect `json:"defects"`
}

func newReport(phase string, defects []Defect) *Report {
	sort.Slice(defects, func(i, j int) bool {
		if defects[i].Document != defects[j].Document {
			return defects[i].Document < defects[j].Document
		}
		if defects[i].Kind != defects[j].Kind {
			return defects[i].Kind < defects[j].Kind
		}
		return defects[i].Detail < defects[j].Detail
	})
	return &Report{Phase: phase, Defects: defects}
}

// Pass reports whether the phase gate may open on this report.
func (r *Report) Pass() bool {
	return len(r.Blocking()) == 0
}

// Blocking returns the defects that hold the gate closed.
func (r *Report) Blocking() []Defect {
	var out []Defect
	for _, d := range r.Defects {
		if d.Severity == SeverityBlocking {
			out = append(out, d)
		}
	}
	return out
}

// Advisory returns the defects recorded without blocking.
func (r *Report) Advisory() []Defect {
	var out []Defect
	for _, d := range r.Defects {
		if d.Severity == SeverityAdvisory {
			out = append(out, d)
		}
	}
	return out
}
