package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/corpussync/internal/doi"
)

func TestPlan(t *testing.T) {
	a := doi.MustParse("10.1371/journal.pone.0000001")
	b := doi.MustParse("10.1371/journal.pone.0000002")
	c := doi.MustParse("10.1371/journal.pone.0000003")
	stray := doi.MustParse("10.1371/journal.pbio.0000004")

	tests := []struct {
		name      string
		canonical doi.Set
		local     doi.Set
		want      doi.Set
	}{
		{"empty store", doi.NewSet(a, b, c), doi.NewSet(), doi.NewSet(a, b, c)},
		{"up to date", doi.NewSet(a, b), doi.NewSet(a, b), doi.NewSet()},
		{"partial", doi.NewSet(a, b, c), doi.NewSet(b), doi.NewSet(a, c)},
		{"local extras ignored", doi.NewSet(a), doi.NewSet(a, stray), doi.NewSet()},
		{"empty registry", doi.NewSet(), doi.NewSet(a), doi.NewSet()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Plan(tt.canonical, tt.local)
			assert.True(t, tt.want.Equal(got), "Plan() = %v, want %v", got.Sorted(), tt.want.Sorted())
		})
	}
}

func TestPlan_DoesNotMutateInputs(t *testing.T) {
	a := doi.MustParse("10.1371/journal.pone.0000001")
	b := doi.MustParse("10.1371/journal.pone.0000002")
	canonical := doi.NewSet(a, b)
	local := doi.NewSet(a)

	_ = Plan(canonical, local)

	assert.Equal(t, 2, canonical.Len())
	assert.Equal(t, 1, local.Len())
}
