package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/designd/internal/backlog"
	"github.com/fyrsmithlabs/designd/internal/config"
	"github.com/fyrsmithlabs/designd/internal/delegation"
	"github.com/fyrsmithlabs/designd/internal/docstore"
	"github.com/fyrsmithlabs/designd/internal/template"
	"github.com/fyrsmithlabs/designd/internal/validation"
)

// Deps are the collaborators the engine drives. Renderer may be nil when
// diagrams are disabled.
type Deps struct {
	Store      *docstore.Store
	Registry   *template.Registry
	Validator  *validation.Engine
	Decomposer *backlog.Decomposer
	Backlogs   *backlog.Store
	Executor   delegation.Executor
	Reasoner   Reasoner
	Renderer   DiagramRenderer
}

// Engine is the phase state machine. A single control loop drives phases
// sequentially; concurrency lives below it, in the document store and the
// delegation dispatcher.
type Engine struct {
	cfg        *config.Config
	store      *docstore.Store
	registry   *template.Registry
	validator  *validation.Engine
	decomposer *backlog.Decomposer
	backlogs   *backlog.Store
	dispatcher *delegation.Dispatcher
	reasoner   Reasoner
	renderer   DiagramRenderer
	logger     *zap.Logger

	state *State
}

func New(cfg *config.Config, deps Deps, logger *zap.Logger) (*Engine, error) {
	switch {
	case deps.Store == nil:
		return nil, fmt.Errorf("orchestrator: document store is required")
	case deps.Registry == nil:
		return nil, fmt.Errorf("orchestrator: template registry is required")
	case deps.Validator == nil:
		return nil, fmt.Errorf("orchestrator: validation engine is required")
	case deps.Decomposer == nil:
		return nil, fmt.Errorf("orchestrator: decomposer is required")
	case deps.Backlogs == nil:
		return nil, fmt.Errorf("orchestrator: backlog store is required")
	case deps.Executor == nil:
		return nil, fmt.Errorf("orchestrator: executor is required")
	case deps.Reasoner == nil:
		return nil, fmt.Errorf("orchestrator: reasoner is required")
	}
	log := logger.Named("orchestrator")
	return &Engine{
		cfg:        cfg,
		store:      deps.Store,
		registry:   deps.Registry,
		validator:  deps.Validator,
		decomposer: deps.Decomposer,
		backlogs:   deps.Backlogs,
		dispatcher: delegation.NewDispatcher(deps.Executor, cfg.Delegation, logger),
		reasoner:   newRetryingReasoner(deps.Reasoner, cfg.Reasoning, log),
		renderer:   deps.Renderer,
		logger:     log,
	}, nil
}

// Run starts a fresh workflow for the given features and drives it to
// closure. Features name the backlogs produced at decomposition time; an
// empty list defaults to a single "core" feature.
func (e *Engine) Run(ctx context.Context, features []string) error {
	if len(features) == 0 {
		features = []string{"core"}
	}
	e.state = NewState(features)
	if err := e.saveState(); err != nil {
		return err
	}
	return e.drive(ctx)
}

// Resume restores persisted state and continues from the first phase whose
// gate is not open.
func (e *Engine) Resume(ctx context.Context) error {
	s, err := LoadState(e.cfg.Workspace)
	if err != nil {
		return err
	}
	if s == nil {
		return fmt.Errorf("resume: no persisted state in %s", e.cfg.Workspace)
	}
	e.state = s
	return e.drive(ctx)
}

// State exposes the current state for inspection.
func (e *Engine) State() *State { return e.state }

func (e *Engine) saveState() error {
	return saveState(e.cfg.Workspace, e.state)
}

// drive is the single control loop. State is persisted at every phase
// boundary, including on error and cancellation paths.
func (e *Engine) drive(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			_ = e.saveState()
			return err
		}
		phase := e.state.Phase
		gate := e.state.Gate(phase)
		if gate.Status == GateOpen {
			nxt := next(phase)
			if nxt == "" {
				return e.saveState()
			}
			e.state.Phase = nxt
			continue
		}

		e.logger.Info("phase started",
			zap.String("phase", string(phase)),
			zap.Int("rounds", gate.Rounds))

		var err error
		rolledBack := false
		switch phase {
		case PhaseDiscovery, PhaseRequirementCapture, PhaseArchitectureProposal:
			err = e.runDesignPhase(ctx, phase)
		case PhaseTaskDecomposition:
			err = e.runDecomposition()
		case PhaseDelegation:
			rolledBack, err = e.runDelegation(ctx)
		case PhaseClosure:
			err = e.runClosure()
		default:
			err = fmt.Errorf("unknown phase %q", phase)
		}
		if err != nil {
			_ = e.saveState()
			return err
		}
		if rolledBack {
			if err := e.saveState(); err != nil {
				return err
			}
			continue
		}
		e.logger.Info("gate decided",
			zap.String("phase", string(phase)),
			zap.String("status", string(gate.Status)),
			zap.Bool("forced", gate.Forced))
		if err := e.saveState(); err != nil {
			return err
		}
	}
}

// phaseTemplates returns the document kinds a design phase must produce.
// Discovery is free-form; the optional kinds are re-evaluated every round
// as capabilities accumulate.
func (e *Engine) phaseTemplates(phase Phase) []template.Template {
	switch phase {
	case PhaseRequirementCapture:
		if tpl, ok := e.registry.Get(template.KindRequirements); ok {
			return []template.Template{tpl}
		}
	case PhaseArchitectureProposal:
		var out []template.Template
		for _, tpl := range e.registry.Select(e.state.Capabilities) {
			switch tpl.Kind {
			case template.KindIndex, template.KindRequirements, template.KindDecisions:
				continue
			}
			out = append(out, tpl)
		}
		return out
	}
	return nil
}

// runDesignPhase loops clarification rounds until validation passes or the
// round cap forces a gate decision.
func (e *Engine) runDesignPhase(ctx context.Context, phase Phase) error {
	gate := e.state.Gate(phase)
	gate.Status = GatePending

	seen := make(map[string]bool)
	var paths []string

	for gate.Rounds < e.cfg.Rounds.MaxClarification {
		if err := ctx.Err(); err != nil {
			return err
		}

		req := ProposalRequest{Phase: phase, Templates: e.phaseTemplates(phase)}
		if gate.Report != nil {
			req.Defects = gate.Report.Blocking()
		}
		proposal, err := e.reasoner.Propose(ctx, req)
		if err != nil {
			return err
		}
		gate.Rounds++
		roundsTotal.WithLabelValues(string(phase)).Inc()
		e.state.Capabilities = mergeCapabilities(e.state.Capabilities, proposal.Capabilities)

		written, err := e.writeDrafts(ctx, phase, proposal.Drafts)
		if err != nil {
			return err
		}
		for _, p := range written {
			if !seen[p] {
				seen[p] = true
				paths = append(paths, p)
			}
		}

		report, err := e.validator.ValidatePhase(string(phase), paths, e.state.Capabilities)
		if err != nil {
			return err
		}
		gate.Report = report

		if report.Pass() {
			if err := e.review(paths); err != nil {
				return err
			}
			gate.Status = GateOpen
			gateDecisionsTotal.WithLabelValues(string(phase), "open").Inc()
			return nil
		}
		e.logger.Info("clarification round failed validation",
			zap.String("phase", string(phase)),
			zap.Int("round", gate.Rounds),
			zap.Int("blocking", len(report.Blocking())))
	}

	if !e.cfg.Rounds.ForceProgression {
		gate.Status = GateBlocked
		gateDecisionsTotal.WithLabelValues(string(phase), "blocked").Inc()
		return &GateBlockedError{Phase: phase, Rounds: gate.Rounds}
	}
	return e.forceProgression(phase, gate, paths)
}

// writeDrafts persists the round's drafts, records their links, requests
// diagrams for architecture drafts, and splits anything over threshold.
func (e *Engine) writeDrafts(ctx context.Context, phase Phase, drafts []Draft) ([]string, error) {
	paths := make([]string, 0, len(drafts))
	for _, draft := range drafts {
		sections := draft.Sections
		if phase == PhaseArchitectureProposal && e.cfg.Diagrams.Enabled && e.renderer != nil {
			sections = e.withDiagram(ctx, draft, sections)
		}
		if _, err := e.store.Write(draft.Path, draft.Title, sections); err != nil {
			return nil, err
		}
		for _, target := range draft.Links {
			if err := e.store.AddLink(draft.Path, target); err != nil {
				return nil, err
			}
		}
		need, err := e.store.NeedsSplit(draft.Path, e.cfg.Split.MaxSections, e.cfg.Split.MaxLines)
		if err != nil {
			return nil, err
		}
		if need {
			if _, err := e.store.Split(draft.Path, e.cfg.Split.MaxSections, e.cfg.Split.MaxLines); err != nil {
				return nil, err
			}
		}
		paths = append(paths, draft.Path)
	}
	return paths, nil
}

// withDiagram asks the renderer for an embeddable block and appends it as
// a Diagrams section. Render failures are advisory and leave the draft
// untouched.
func (e *Engine) withDiagram(ctx context.Context, draft Draft, sections []docstore.Section) []docstore.Section {
	description := ""
	for _, s := range sections {
		if strings.EqualFold(s.Title, "Data Flow") {
			description = s.Body
			break
		}
	}
	if description == "" && len(sections) > 0 {
		description = sections[0].Body
	}
	block, err := e.renderer.Render(ctx, description)
	if err != nil {
		e.logger.Warn("diagram render failed",
			zap.String("document", draft.Path),
			zap.Error(err))
		return sections
	}
	out := append(append([]docstore.Section(nil), sections...), docstore.Section{
		Title: "Diagrams",
		Body:  block,
	})
	return out
}

// forceProgression opens a gate after the round cap by down-shifting the
// remaining blocking defects into each document's unresolved-items section.
// Nothing is silently dropped; the decision log records the override.
func (e *Engine) forceProgression(phase Phase, gate *Gate, paths []string) error {
	cycleErr := &CycleLimitError{Phase: phase, Rounds: gate.Rounds}
	e.logger.Warn("forcing progression", zap.Error(cycleErr))

	byDoc := make(map[string][]validation.Defect)
	if gate.Report != nil {
		for _, d := range gate.Report.Blocking() {
			byDoc[d.Document] = append(byDoc[d.Document], d)
		}
	}

	docPaths := append([]string(nil), paths...)
	inPaths := make(map[string]bool, len(paths))
	for _, p := range paths {
		inPaths[p] = true
	}
	var extra []string
	for p := range byDoc {
		if !inPaths[p] {
			extra = append(extra, p)
		}
	}
	sort.Strings(extra)
	docPaths = append(docPaths, extra...)

	blocking := 0
	for _, path := range docPaths {
		defects := byDoc[path]
		blocking += len(defects)
		if len(defects) > 0 {
			if err := e.recordUnresolved(path, defects); err != nil {
				return err
			}
		}
	}
	if err := e.review(docPaths); err != nil {
		return err
	}

	e.appendDecision(fmt.Sprintf("%s: progression forced after %d rounds, %d blocking defects recorded as unresolved items",
		phase, gate.Rounds, blocking))

	gate.Forced = true
	gate.Status = GateOpen
	gateDecisionsTotal.WithLabelValues(string(phase), "forced").Inc()
	return nil
}

// recordUnresolved appends the defects to the document's unresolved-items
// section, creating the section on first use.
func (e *Engine) recordUnresolved(path string, defects []validation.Defect) error {
	doc, err := e.store.Get(path)
	if err != nil {
		return err
	}
	var body strings.Builder
	for _, d := range defects {
		fmt.Fprintf(&body, "- [%s] %s\n", d.Kind, d.Detail)
	}

	sections := append([]docstore.Section(nil), doc.Sections...)
	found := false
	for i := range sections {
		if strings.EqualFold(sections[i].Title, template.UnresolvedSection) {
			sections[i].Body += body.String()
			found = true
			break
		}
	}
	if !found {
		sections = append(sections, docstore.Section{
			Title: template.UnresolvedSection,
			Body:  body.String(),
		})
	}
	_, err = e.store.Write(path, doc.Title, sections)
	return err
}

// review marks the documents and their split children reviewed.
func (e *Engine) review(paths []string) error {
	for _, path := range paths {
		doc, err := e.store.Get(path)
		if err != nil {
			return err
		}
		if err := e.store.SetStatus(path, docstore.StatusReviewed); err != nil {
			return err
		}
		for _, child := range doc.Children {
			if err := e.store.SetStatus(child, docstore.StatusReviewed); err != nil {
				return err
			}
		}
	}
	return nil
}

// runDecomposition builds one backlog per feature from the reviewed
// documents. A cyclic dependency is phase-fatal and blocks the gate.
func (e *Engine) runDecomposition() error {
	gate := e.state.Gate(PhaseTaskDecomposition)
	for _, feature := range e.state.Features {
		b, err := e.decomposer.FromDocuments(feature, e.featureDocs(feature))
		if err != nil {
			gate.Status = GateBlocked
			gateDecisionsTotal.WithLabelValues(string(PhaseTaskDecomposition), "blocked").Inc()
			return err
		}
		if err := e.backlogs.Save(b); err != nil {
			return err
		}
	}
	gate.Status = GateOpen
	gateDecisionsTotal.WithLabelValues(string(PhaseTaskDecomposition), "open").Inc()
	return nil
}

// featureDocs returns the reviewed documents feeding one feature's
// decomposition. With a single feature every reviewed document
// contributes; with several, documents are matched by name and unmatched
// features fall back to the full reviewed set.
func (e *Engine) featureDocs(feature string) []*docstore.Document {
	var all, matched []*docstore.Document
	needle := strings.ToLower(feature)
	for _, doc := range e.store.All() {
		if doc.Status != docstore.StatusReviewed || doc.IsStub() {
			continue
		}
		all = append(all, doc)
		if strings.Contains(strings.ToLower(doc.Path+" "+doc.Title), needle) {
			matched = append(matched, doc)
		}
	}
	if len(e.state.Features) > 1 && len(matched) > 0 {
		return matched
	}
	return all
}

// runDelegation dispatches every feature backlog. It reports rolledBack
// when systemic failure sends control back to the architecture phase.
func (e *Engine) runDelegation(ctx context.Context) (bool, error) {
	gate := e.state.Gate(PhaseDelegation)
	totalRejected := 0

	for _, feature := range e.state.Features {
		b, err := e.backlogs.Load(feature)
		if err != nil {
			return false, err
		}
		_, runErr := e.dispatcher.Run(ctx, b, nil)
		if err := e.backlogs.Save(b); err != nil {
			return false, err
		}
		if runErr != nil {
			return false, runErr
		}

		if parked := b.Parked(); len(parked) > 0 {
			if err := e.reenterRequirements(ctx, feature, b, parked); err != nil {
				return false, err
			}
		}
		totalRejected += b.Rejected()
	}

	if totalRejected >= e.cfg.Delegation.SystemicFailureThreshold {
		if e.state.Rollbacks >= 1 {
			gate.Status = GateBlocked
			gateDecisionsTotal.WithLabelValues(string(PhaseDelegation), "blocked").Inc()
			return false, fmt.Errorf("systemic delegation failure persists after rollback: %d tasks rejected", totalRejected)
		}
		e.rollback(totalRejected)
		return true, nil
	}

	gate.Status = GateOpen
	gateDecisionsTotal.WithLabelValues(string(PhaseDelegation), "open").Inc()
	return false, nil
}

// reenterRequirements is the scoped backward step for parked tasks: the
// parked questions go to the reasoning service, the answers land in the
// requirements document, and the tasks get one more dispatch. Tasks parked
// again stay parked.
func (e *Engine) reenterRequirements(ctx context.Context, feature string, b *backlog.Backlog, parked []*backlog.Task) error {
	e.logger.Info("re-entering requirement capture for parked tasks",
		zap.String("feature", feature),
		zap.Int("parked", len(parked)))

	var answers strings.Builder
	for _, task := range parked {
		question := task.Objective
		if len(task.FailureNotes) > 0 {
			question = task.FailureNotes[len(task.FailureNotes)-1]
		}
		answer, err := e.reasoner.Ask(ctx, question)
		if err != nil {
			return err
		}
		fmt.Fprintf(&answers, "- %s: %s\n", question, answer)
		task.Status = backlog.StatusPending
	}

	if tpl, ok := e.registry.Get(template.KindRequirements); ok {
		if doc, err := e.store.Get(tpl.Path); err == nil {
			title := fmt.Sprintf("Clarifications: %s", feature)
			sections := append([]docstore.Section(nil), doc.Sections...)
			found := false
			for i := range sections {
				if sections[i].Title == title {
					sections[i].Body += answers.String()
					found = true
					break
				}
			}
			if !found {
				sections = append(sections, docstore.Section{Title: title, Body: answers.String()})
			}
			if _, err := e.store.Write(tpl.Path, doc.Title, sections); err != nil {
				return err
			}
			if err := e.store.SetStatus(tpl.Path, docstore.StatusReviewed); err != nil {
				return err
			}
		}
	}

	_, runErr := e.dispatcher.Run(ctx, b, nil)
	if err := e.backlogs.Save(b); err != nil {
		return err
	}
	return runErr
}

// rollback is the only backward transition: systemic delegation failure
// returns control to the architecture phase with a fresh round budget and
// an annotation on the decision log.
func (e *Engine) rollback(rejected int) {
	e.appendDecision(fmt.Sprintf("rollback to %s: systemic delegation failure, %d tasks rejected",
		PhaseArchitectureProposal, rejected))
	for _, p := range []Phase{PhaseArchitectureProposal, PhaseTaskDecomposition, PhaseDelegation} {
		g := e.state.Gate(p)
		g.Status = GatePending
		g.Rounds = 0
		g.Forced = false
		g.Report = nil
	}
	e.state.Phase = PhaseArchitectureProposal
	e.state.Rollbacks++
	rollbacksTotal.Inc()
	e.logger.Warn("rolled back to architecture proposal",
		zap.Int("rejected", rejected))
}

// runClosure runs the final validation pass over the whole document set.
// Remaining defects are recorded, not fatal; the run still closes.
func (e *Engine) runClosure() error {
	gate := e.state.Gate(PhaseClosure)

	var paths []string
	for _, doc := range e.store.All() {
		paths = append(paths, doc.Path)
	}
	sort.Strings(paths)

	report, err := e.validator.ValidatePhase(string(PhaseClosure), paths, e.state.Capabilities)
	if err != nil {
		return err
	}
	gate.Report = report

	if report.Pass() {
		e.appendDecision("closure: final validation passed")
	} else {
		e.appendDecision(fmt.Sprintf("closure: %d defects outstanding at close", len(report.Defects)))
	}
	gate.Status = GateOpen
	gateDecisionsTotal.WithLabelValues(string(PhaseClosure), "open").Inc()
	return nil
}

// appendDecision adds a timestamped entry to the decision log document.
func (e *Engine) appendDecision(entry string) {
	tpl, ok := e.registry.Get(template.KindDecisions)
	if !ok {
		return
	}
	line := fmt.Sprintf("- %s %s\n", time.Now().UTC().Format(time.RFC3339), entry)

	title := "Decision Log"
	var sections []docstore.Section
	if doc, err := e.store.Get(tpl.Path); err == nil {
		title = doc.Title
		sections = append([]docstore.Section(nil), doc.Sections...)
		found := false
		for i := range sections {
			if sections[i].Title == "Log" {
				sections[i].Body += line
				found = true
				break
			}
		}
		if !found {
			sections = append(sections, docstore.Section{Title: "Log", Body: line})
		}
	} else {
		sections = []docstore.Section{{Title: "Log", Body: line}}
	}
	if _, err := e.store.Write(tpl.Path, title, sections); err != nil {
		e.logger.Warn("decision log update failed", zap.Error(err))
	}
}

func mergeCapabilities(have, add []template.Capability) []template.Capability {
	seen := make(map[template.Capability]bool, len(have))
	for _, c := range have {
		seen[c] = true
	}
	for _, c := range add {
		if !seen[c] {
			seen[c] = true
			have = append(have, c)
		}
	}
	return have
}
