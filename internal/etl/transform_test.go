package etl_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"dental-etl/internal/etl"
)

func floatPtr(f float64) *float64 { return &f }

func chunkOf(rows ...etl.Row) etl.Chunk {
	cols := []string{"ProcNum", "Age", "Birthdate", "InsPayAmt", "InsPayEst"}
	return etl.Chunk{Index: 0, Columns: cols, Rows: rows}
}

func TestAgeBucketFromAgeField(t *testing.T) {
	features := etl.FeatureConfig{AgeField: "Age"}
	xform := etl.Transformer{KeyColumn: "ProcNum"}

	chunk := chunkOf(
		etl.Row{"ProcNum": int64(1), "Age": int64(10)},
		etl.Row{"ProcNum": int64(2), "Age": int64(40)},
		etl.Row{"ProcNum": int64(3), "Age": int64(70)},
		etl.Row{"ProcNum": int64(4), "Age": int64(17)},
		etl.Row{"ProcNum": int64(5), "Age": int64(18)},
		etl.Row{"ProcNum": int64(6), "Age": int64(64)},
		etl.Row{"ProcNum": int64(7), "Age": int64(65)},
	)
	records, violations := xform.Apply(chunk, nil, features)
	require.Len(t, records, 7)
	require.Empty(t, violations)

	want := []string{"child", "adult", "senior", "child", "adult", "adult", "senior"}
	for i, w := range want {
		require.Equal(t, w, records[i]["age_bucket"], "record %d", i)
	}
}

func TestAgeBucketNullIsAdvisory(t *testing.T) {
	features := etl.FeatureConfig{AgeField: "Age"}
	xform := etl.Transformer{KeyColumn: "ProcNum"}

	chunk := chunkOf(etl.Row{"ProcNum": int64(9), "Age": nil})
	records, violations := xform.Apply(chunk, nil, features)

	// Record kept, bucket null, one advisory violation.
	require.Len(t, records, 1)
	require.Nil(t, records[0]["age_bucket"])
	require.Len(t, violations, 1)
	require.Equal(t, etl.SeverityAdvisory, violations[0].Severity)
	require.Equal(t, "feature:age_bucket", violations[0].RuleID)
	require.Equal(t, "9", violations[0].RecordID)
}

func TestAgeBucketFromBirthdate(t *testing.T) {
	asOf := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	features := etl.FeatureConfig{BirthDateField: "Birthdate", AsOf: asOf}
	xform := etl.Transformer{}

	chunk := chunkOf(
		etl.Row{"Birthdate": "2016-06-15"}, // 9 years old
		etl.Row{"Birthdate": "1980-01-01"}, // 46
		etl.Row{"Birthdate": "1950-12-31"}, // 75
		etl.Row{"Birthdate": "2030-01-01"}, // future: invalid
		etl.Row{"Birthdate": "not-a-date"},
	)
	records, violations := xform.Apply(chunk, nil, features)
	require.Len(t, records, 5)
	require.Equal(t, "child", records[0]["age_bucket"])
	require.Equal(t, "adult", records[1]["age_bucket"])
	require.Equal(t, "senior", records[2]["age_bucket"])
	require.Nil(t, records[3]["age_bucket"])
	require.Nil(t, records[4]["age_bucket"])
	require.Len(t, violations, 2)
}

func TestAdvisoryRangeViolationKeepsRecord(t *testing.T) {
	rules := []etl.ValidationRule{
		{Field: "Age", Min: floatPtr(0), Max: floatPtr(120), Severity: etl.SeverityAdvisory},
	}
	xform := etl.Transformer{KeyColumn: "ProcNum"}

	chunk := chunkOf(etl.Row{"ProcNum": int64(1), "Age": int64(150)})
	records, violations := xform.Apply(chunk, rules, etl.FeatureConfig{})

	require.Len(t, records, 1)
	require.Len(t, violations, 1)
	require.Equal(t, "Age:range", violations[0].RuleID)
	require.Equal(t, etl.SeverityAdvisory, violations[0].Severity)
}

func TestFatalRangeViolationDropsRecord(t *testing.T) {
	rules := []etl.ValidationRule{
		{Field: "Age", Min: floatPtr(0), Max: floatPtr(120), Severity: etl.SeverityFatal},
	}
	xform := etl.Transformer{KeyColumn: "ProcNum"}

	chunk := chunkOf(
		etl.Row{"ProcNum": int64(1), "Age": int64(150)},
		etl.Row{"ProcNum": int64(2), "Age": int64(30)},
	)
	records, violations := xform.Apply(chunk, rules, etl.FeatureConfig{})

	// rows_in == rows_out + fatal_dropped
	require.Len(t, records, 1)
	require.Equal(t, int64(2), records[0]["ProcNum"])
	require.Len(t, violations, 1)
	require.Equal(t, etl.SeverityFatal, violations[0].Severity)
}

func TestRequiredAndCategoricalRules(t *testing.T) {
	rules := []etl.ValidationRule{
		{Field: "Gender", Allowed: []string{"M", "F", "U"}, Severity: etl.SeverityAdvisory},
		{Field: "ProcNum", Required: true, Severity: etl.SeverityFatal},
	}
	xform := etl.Transformer{KeyColumn: "ProcNum"}

	chunk := etl.Chunk{
		Columns: []string{"ProcNum", "Gender"},
		Rows: []etl.Row{
			{"ProcNum": int64(1), "Gender": "X"},
			{"ProcNum": nil, "Gender": "M"},
		},
	}
	records, violations := xform.Apply(chunk, rules, etl.FeatureConfig{})

	require.Len(t, records, 1)
	require.Len(t, violations, 2)
	require.Equal(t, "Gender:allowed", violations[0].RuleID)
	require.Equal(t, "ProcNum:required", violations[1].RuleID)
}

func TestCoverageRatio(t *testing.T) {
	features := etl.FeatureConfig{
		Ratios: []etl.RatioSpec{{Name: "coverage_ratio", Numerator: "InsPayAmt", Denominator: "InsPayEst"}},
	}
	xform := etl.Transformer{}

	chunk := chunkOf(
		etl.Row{"InsPayAmt": 80.0, "InsPayEst": 100.0},
		etl.Row{"InsPayAmt": 80.0, "InsPayEst": 0.0}, // zero denominator: null, not an error
		etl.Row{"InsPayAmt": nil, "InsPayEst": 100.0},
	)
	records, violations := xform.Apply(chunk, nil, features)
	require.Empty(t, violations)
	require.Equal(t, 0.8, records[0]["coverage_ratio"])
	require.Nil(t, records[1]["coverage_ratio"])
	require.Nil(t, records[2]["coverage_ratio"])
}

func TestLabelDerivation(t *testing.T) {
	features := etl.FeatureConfig{
		Labels: []etl.LabelSpec{{Name: "high_cost", Field: "ProcFee", Threshold: 1000}},
	}
	xform := etl.Transformer{}

	chunk := etl.Chunk{
		Columns: []string{"ProcFee"},
		Rows: []etl.Row{
			{"ProcFee": 1500.0},
			{"ProcFee": 200.0},
			{"ProcFee": nil},
		},
	}
	records, _ := xform.Apply(chunk, nil, features)
	require.Equal(t, true, records[0]["high_cost"])
	require.Equal(t, false, records[1]["high_cost"])
	require.Nil(t, records[2]["high_cost"])
}

func TestApplyIsDeterministic(t *testing.T) {
	rules := []etl.ValidationRule{
		{Field: "InsPayAmt", Min: floatPtr(0), Severity: etl.SeverityAdvisory},
		{Field: "Age", Min: floatPtr(0), Max: floatPtr(120), Severity: etl.SeverityFatal},
	}
	features := etl.FeatureConfig{
		AgeField: "Age",
		Ratios:   []etl.RatioSpec{{Name: "coverage_ratio", Numerator: "InsPayAmt", Denominator: "InsPayEst"}},
	}
	xform := etl.Transformer{KeyColumn: "ProcNum"}

	chunk := chunkOf(
		etl.Row{"ProcNum": int64(1), "Age": int64(30), "InsPayAmt": -5.0, "InsPayEst": 100.0},
		etl.Row{"ProcNum": int64(2), "Age": int64(200), "InsPayAmt": 10.0, "InsPayEst": 20.0},
		etl.Row{"ProcNum": int64(3), "Age": nil, "InsPayAmt": 10.0, "InsPayEst": 0.0},
	)

	recordsA, violationsA := xform.Apply(chunk, rules, features)
	recordsB, violationsB := xform.Apply(chunk, rules, features)
	require.Equal(t, recordsA, recordsB)
	require.Equal(t, violationsA, violationsB)
}

func TestOutputColumns(t *testing.T) {
	features := etl.FeatureConfig{
		AgeField: "Age",
		Ratios:   []etl.RatioSpec{{Name: "coverage_ratio", Numerator: "InsPayAmt", Denominator: "InsPayEst"}},
		Labels:   []etl.LabelSpec{{Name: "high_cost", Field: "ProcFee", Threshold: 1000}},
	}
	xform := etl.Transformer{}

	base := []string{"ProcNum", "Age", "InsPayAmt", "InsPayEst", "ProcFee"}
	got := xform.OutputColumns(base, features)
	require.Equal(t, append(base, "age_bucket", "coverage_ratio", "high_cost"), got)
}
