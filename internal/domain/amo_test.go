package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnpivotAMO(t *testing.T) {
	rows := []AMORow{
		{Year: 1856, Values: [12]float64{0.238, 0.385, 0.056, -0.018, 0.064, 0.057, 0.124, 0.129, 0.159, 0.041, 0.093, 0.054}},
		{Year: 2023, Values: [12]float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, -99.99, -99.99, -99.99, -99.99}},
	}

	recs := UnpivotAMO(rows)
	require.Len(t, recs, 12*len(rows))

	// Month-major: both years for January first.
	assert.Equal(t, 1856, recs[0].Year)
	assert.Equal(t, 1, recs[0].Month)
	assert.Equal(t, 2023, recs[1].Year)
	assert.Equal(t, 1, recs[1].Month)
	assert.Equal(t, 2, recs[2].Month)

	require.NotNil(t, recs[0].Value)
	assert.Equal(t, 0.238, *recs[0].Value)

	for _, r := range recs {
		if r.Year == 2023 && r.Month >= 9 {
			assert.Nil(t, r.Value, "month %d", r.Month)
			continue
		}
		require.NotNil(t, r.Value)
		assert.NotEqual(t, AMOMissing, *r.Value)
	}
}

func TestUnpivotAMO_CountPerYear(t *testing.T) {
	rows := make([]AMORow, 30)
	for i := range rows {
		rows[i].Year = 1990 + i
	}
	recs := UnpivotAMO(rows)
	assert.Len(t, recs, 360)

	seen := make(map[[2]int]bool)
	for _, r := range recs {
		seen[[2]int{r.Year, r.Month}] = true
	}
	assert.Len(t, seen, 360)
}

func TestUnpivotAMO_ValuesAreIndependent(t *testing.T) {
	rows := []AMORow{{Year: 2000, Values: [12]float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}}}
	recs := UnpivotAMO(rows)
	for i, r := range recs {
		require.NotNil(t, r.Value)
		assert.Equal(t, float64(i+1), *r.Value)
	}
}

func TestUnpivotAMO_Empty(t *testing.T) {
	assert.Empty(t, UnpivotAMO(nil))
}
