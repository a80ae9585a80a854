package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/designd/internal/config"
)

// retryingReasoner wraps a Reasoner with the configured per-call timeout.
// Expiry is retryable up to MaxRetries; any other error is passed through,
// since an unreachable reasoning service is phase-fatal.
type retryingReasoner struct {
	inner  Reasoner
	cfg    config.ReasoningConfig
	logger *zap.Logger
}

func newRetryingReasoner(inner Reasoner, cfg config.ReasoningConfig, logger *zap.Logger) *retryingReasoner {
	return &retryingReasoner{inner: inner, cfg: cfg, logger: logger}
}

func (r *retryingReasoner) Ask(ctx context.Context, question string) (string, error) {
	var answer string
	err := r.call(ctx, "ask", func(cctx context.Context) error {
		var err error
		answer, err = r.inner.Ask(cctx, question)
		return err
	})
	return answer, err
}

func (r *retryingReasoner) Propose(ctx context.Context, req ProposalRequest) (*Proposal, error) {
	var proposal *Proposal
	err := r.call(ctx, "propose", func(cctx context.Context) error {
		var err error
		proposal, err = r.inner.Propose(cctx, req)
		return err
	})
	return proposal, err
}

func (r *retryingReasoner) call(ctx context.Context, op string, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		cctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
		err := fn(cctx)
		cancel()
		if err == nil {
			return nil
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("reasoning %s: %w", op, err)
		}
		lastErr = err
		r.logger.Warn("reasoning call timed out",
			zap.String("op", op),
			zap.Int("attempt", attempt+1))
	}
	return fmt.Errorf("reasoning %s: timed out after %d attempts: %w", op, r.cfg.MaxRetries+1, lastErr)
}
