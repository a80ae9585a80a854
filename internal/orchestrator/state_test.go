package orchestrator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/designd/internal/validation"
)

func TestState_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := NewState([]string{"billing", "auth"})
	s.Phase = PhaseDelegation
	s.Rollbacks = 1
	gate := s.Gate(PhaseRequirementCapture)
	gate.Status = GateOpen
	gate.Rounds = 2
	gate.Forced = true
	gate.Report = &validation.Report{
		Phase: string(PhaseRequirementCapture),
		Defects: []validation.Defect{{
			Kind:     validation.DefectMissingSection,
			Severity: validation.SeverityBlocking,
			Document: "requirements",
			Detail:   `required section "Constraints" is missing`,
		}},
	}

	require.NoError(t, saveState(dir, s))

	loaded, err := LoadState(dir)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, PhaseDelegation, loaded.Phase)
	assert.Equal(t, []string{"billing", "auth"}, loaded.Features)
	assert.Equal(t, 1, loaded.Rollbacks)

	g := loaded.Gate(PhaseRequirementCapture)
	assert.Equal(t, GateOpen, g.Status)
	assert.Equal(t, 2, g.Rounds)
	assert.True(t, g.Forced)
	require.NotNil(t, g.Report)
	assert.Len(t, g.Report.Defects, 1)
	assert.False(t, loaded.UpdatedAt.IsZero())
}

func TestLoadState_MissingFileReturnsNil(t *testing.T) {
	loaded, err := LoadState(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestLoadState_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, stateFile), []byte("{not json"), 0o644))
	_, err := LoadState(dir)
	require.Error(t, err)
}

func TestSaveState_NoTempFileLeftBehind(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, saveState(dir, NewState(nil)))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, stateFile, entries[0].Name())
}

func TestNext_PhaseOrder(t *testing.T) {
	assert.Equal(t, PhaseRequirementCapture, next(PhaseDiscovery))
	assert.Equal(t, PhaseClosure, next(PhaseDelegation))
	assert.Equal(t, Phase(""), next(PhaseClosure))
}
