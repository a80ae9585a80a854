package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func kinds(templates []Template) []Kind {
	out := make([]Kind, len(templates))
	for i, tpl := range templates {
		out[i] = tpl.Kind
	}
	return out
}

func TestSelect_BaseKindsAlwaysPresent(t *testing.T) {
	reg := NewRegistry("standard")
	selected := reg.Select(nil)
	assert.ElementsMatch(t,
		[]Kind{KindIndex, KindRequirements, KindArchitecture, KindDecisions},
		kinds(selected))
}

func TestSelect_CapabilityGatedKinds(t *testing.T) {
	reg := NewRegistry("standard")

	tests := []struct {
		name         string
		capabilities []Capability
		extra        []Kind
	}{
		{"external api adds integration and security",
			[]Capability{CapabilityExternalAPI},
			[]Kind{KindIntegration, KindSecurity}},
		{"authentication adds security",
			[]Capability{CapabilityAuthentication},
			[]Kind{KindSecurity}},
		{"high throughput adds performance",
			[]Capability{CapabilityHighThroughput},
			[]Kind{KindPerformance}},
		{"persistence alone adds nothing",
			[]Capability{CapabilityPersistence},
			nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := append([]Kind{KindIndex, KindRequirements, KindArchitecture, KindDecisions}, tt.extra...)
			assert.ElementsMatch(t, want, kinds(reg.Select(tt.capabilities)))
		})
	}
}

func TestSelect_Deterministic(t *testing.T) {
	reg := NewRegistry("standard")
	caps := []Capability{CapabilityExternalAPI, CapabilityHighThroughput}
	first := reg.Select(caps)
	second := reg.Select(caps)
	assert.Equal(t, kinds(first), kinds(second))
}

func TestByPath(t *testing.T) {
	reg := NewRegistry("standard")
	tpl, ok := reg.ByPath("architecture")
	require.True(t, ok)
	assert.Equal(t, KindArchitecture, tpl.Kind)

	_, ok = reg.ByPath("unknown")
	assert.False(t, ok)

	// Split children never match; their stub carries the template.
	_, ok = reg.ByPath("architecture-1")
	assert.False(t, ok)
}
