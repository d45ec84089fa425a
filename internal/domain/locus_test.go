package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLocus(t *testing.T) {
	tests := []struct {
		input   string
		want    Locus
		wantErr bool
	}{
		{"A", LocusA, false},
		{"drb1", LocusDrb1, false},
		{"HLA-DQB1", LocusDqb1, false},
		{" C ", LocusC, false},
		{"DPB1", LocusDpb1, false},
		{"DRB3", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLocus(tt.input)
			if tt.wantErr {
				var validationErr *ValidationError
				assert.ErrorAs(t, err, &validationErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLocus_JSON(t *testing.T) {
	data, err := json.Marshal([]Locus{LocusA, LocusDqb1})
	require.NoError(t, err)
	assert.JSONEq(t, `["A","DQB1"]`, string(data))

	var loci []Locus
	require.NoError(t, json.Unmarshal([]byte(`["drb1","C"]`), &loci))
	assert.Equal(t, []Locus{LocusDrb1, LocusC}, loci)

	assert.Error(t, json.Unmarshal([]byte(`["Q"]`), &loci))
	assert.Error(t, json.Unmarshal([]byte(`[1]`), &loci))
}

func TestLocus_IsMatchPredictionLocus(t *testing.T) {
	for _, locus := range MatchPredictionLoci {
		assert.True(t, locus.IsMatchPredictionLocus(), locus.String())
	}
	assert.False(t, LocusDpb1.IsMatchPredictionLocus())
	assert.Equal(t, "Locus(42)", Locus(42).String())
}

func TestLocusSet(t *testing.T) {
	set, err := ParseLocusSet([]string{"DRB1", "A", "a"})
	require.NoError(t, err)
	assert.Len(t, set, 2)
	assert.True(t, set.Contains(LocusA))
	assert.False(t, set.Contains(LocusB))
	assert.Equal(t, []Locus{LocusA, LocusDrb1}, set.Slice())

	var empty LocusSet
	assert.False(t, empty.Contains(LocusA))

	_, err = ParseLocusSet([]string{"A", "X"})
	assert.Error(t, err)
}

func TestPhenotypeHelpers(t *testing.T) {
	p := PhenotypeInfo[string]{
		A:    NewLocusInfo("01:01", "02:01"),
		B:    NewLocusInfo("08:01", ""),
		Drb1: NewLocusInfo("03:01", "04:01"),
	}

	assert.True(t, IsLocusTyped(p, LocusA))
	assert.False(t, IsLocusTyped(p, LocusB))
	assert.Equal(t, []Locus{LocusB, LocusC, LocusDqb1}, UntypedLoci(p).Slice())

	swapped := p.With(LocusA, p.A.Swap())
	assert.Equal(t, NewLocusInfo("02:01", "01:01"), swapped.A)
	assert.Equal(t, NewLocusInfo("01:01", "02:01"), p.A, "With must not modify the receiver")

	lengths := MapLoci(p, func(_ Locus, info LocusInfo[string]) int {
		return len(info.Position1) + len(info.Position2)
	})
	assert.Equal(t, 10, lengths.A)
	assert.Equal(t, 0, lengths.C)
	assert.Equal(t, "02:01", p.A.At(PositionTwo))
}
