package main

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/designd/internal/backlog"
	"github.com/fyrsmithlabs/designd/internal/delegation"
	"github.com/fyrsmithlabs/designd/internal/docstore"
	"github.com/fyrsmithlabs/designd/internal/orchestrator"
)

// stubReasoner is a deterministic stand-in for the reasoning service, used
// for dry runs until a real backend is wired in. It drafts exactly the
// documents the phase's templates require, with placeholder bodies.
type stubReasoner struct{}

func (s *stubReasoner) Ask(_ context.Context, question string) (string, error) {
	return fmt.Sprintf("no answer available for: %s", question), nil
}

func (s *stubReasoner) Propose(_ context.Context, req orchestrator.ProposalRequest) (*orchestrator.Proposal, error) {
	proposal := &orchestrator.Proposal{}
	if len(req.Templates) == 0 {
		proposal.Drafts = append(proposal.Drafts, orchestrator.Draft{
			Path:  string(req.Phase),
			Title: fmt.Sprintf("%s notes", req.Phase),
			Sections: []docstore.Section{
				{Title: "Summary", Body: "Placeholder content pending a reasoning backend.\n"},
			},
		})
		return proposal, nil
	}
	for _, tpl := range req.Templates {
		draft := orchestrator.Draft{
			Path:  tpl.Path,
			Title: string(tpl.Kind),
		}
		for _, section := range tpl.RequiredSections {
			draft.Sections = append(draft.Sections, docstore.Section{
				Title: section,
				Body:  fmt.Sprintf("- placeholder for %s\n", section),
			})
		}
		proposal.Drafts = append(proposal.Drafts, draft)
	}
	return proposal, nil
}

// stubExecutor acknowledges every task without doing any work.
type stubExecutor struct{}

func (s *stubExecutor) Delegate(_ context.Context, task *backlog.Task) (delegation.Result, error) {
	return delegation.Result{Outcome: delegation.OutcomeSuccess, Note: "dry run, no changes made"}, nil
}

// stubRenderer echoes the description as a fenced block.
type stubRenderer struct{}

func (s *stubRenderer) Render(_ context.Context, description string) (string, error) {
	return fmt.Sprintf("```mermaid\n%s\n```\n", description), nil
}
