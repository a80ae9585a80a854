package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/designd/internal/config"
)

type flakyReasoner struct {
	failures int
	calls    int
	err      error
}

func (f *flakyReasoner) Ask(_ context.Context, question string) (string, error) {
	f.calls++
	if f.calls <= f.failures {
		return "", f.err
	}
	return "answer to " + question, nil
}

func (f *flakyReasoner) Propose(_ context.Context, _ ProposalRequest) (*Proposal, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return &Proposal{}, nil
}

func retryCfg() config.ReasoningConfig {
	return config.ReasoningConfig{Timeout: 50 * time.Millisecond, MaxRetries: 2}
}

func TestRetryingReasoner_TimeoutIsRetried(t *testing.T) {
	inner := &flakyReasoner{failures: 2, err: context.DeadlineExceeded}
	r := newRetryingReasoner(inner, retryCfg(), zap.NewNop())

	answer, err := r.Ask(context.Background(), "scope?")
	require.NoError(t, err)
	assert.Equal(t, "answer to scope?", answer)
	assert.Equal(t, 3, inner.calls)
}

func TestRetryingReasoner_BudgetExhausted(t *testing.T) {
	inner := &flakyReasoner{failures: 10, err: context.DeadlineExceeded}
	r := newRetryingReasoner(inner, retryCfg(), zap.NewNop())

	_, err := r.Propose(context.Background(), ProposalRequest{Phase: PhaseDiscovery})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out after 3 attempts")
	assert.Equal(t, 3, inner.calls)
}

func TestRetryingReasoner_OtherErrorsPassThrough(t *testing.T) {
	inner := &flakyReasoner{failures: 10, err: errors.New("bad request")}
	r := newRetryingReasoner(inner, retryCfg(), zap.NewNop())

	_, err := r.Ask(context.Background(), "scope?")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad request")
	assert.Equal(t, 1, inner.calls)
}

func TestRetryingReasoner_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	inner := &flakyReasoner{}
	r := newRetryingReasoner(inner, retryCfg(), zap.NewNop())

	_, err := r.Ask(ctx, "scope?")
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, inner.calls)
}
