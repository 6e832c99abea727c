package domain

import "math"

// AMOMissing is the sentinel the AMO table uses for months without a value.
const AMOMissing = -99.99

// AMORow is one line of the yearly-wide AMO table: a year and its twelve
// monthly index values, January first.
type AMORow struct {
	Year   int
	Values [12]float64
}

// AMORecord is one (year, month) observation. Value is nil where the source
// held the missing-value sentinel.
type AMORecord struct {
	Year  int
	Month int
	Value *float64
}

// UnpivotAMO reshapes yearly rows into one record per (year, month). Records
// are ordered month-major: every year for January, then every year for
// February, and so on.
func UnpivotAMO(rows []AMORow) []AMORecord {
	out := make([]AMORecord, 0, 12*len(rows))
	for m := range 12 {
		for _, row := range rows {
			rec := AMORecord{Year: row.Year, Month: m + 1}
			if v := row.Values[m]; !isAMOMissing(v) {
				rec.Value = &v
			}
			out = append(out, rec)
		}
	}
	return out
}

func isAMOMissing(v float64) bool {
	return math.Abs(v-AMOMissing) < 1e-9
}
