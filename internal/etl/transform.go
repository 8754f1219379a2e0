package etl

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"
)

// ValidationViolation records one rule failure. Violations are accumulated
// across the whole run and never discarded.
type ValidationViolation struct {
	RuleID   string
	RecordID string
	Field    string
	Value    any
	Severity Severity
}

// Transformer validates each chunk against the configured rules and enriches
// the surviving rows with derived fields. Apply is deterministic: the same
// chunk and configuration always produce byte-identical output.
type Transformer struct {
	// KeyColumn names the field used as the record identifier in
	// violations. Falls back to a chunk/row position when absent.
	KeyColumn string
}

// Apply returns the analytics-ready records and every violation observed.
// A fatal violation drops the record from the output; advisory violations
// keep it. Dropped records are still counted by the caller so that
// rows_in == rows_out + fatal_dropped reconciles at the Loader.
func (t Transformer) Apply(chunk Chunk, rules []ValidationRule, features FeatureConfig) ([]FeatureRecord, []ValidationViolation) {
	ordered := make([]ValidationRule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Field < ordered[j].Field })

	records := make([]FeatureRecord, 0, len(chunk.Rows))
	var violations []ValidationViolation

	for i, row := range chunk.Rows {
		id := t.recordID(chunk, i, row)

		fatal := false
		for _, rule := range ordered {
			for _, v := range checkRule(row, rule, id) {
				if v.Severity == SeverityFatal {
					fatal = true
				}
				violations = append(violations, v)
			}
		}
		if fatal {
			continue
		}

		rec := make(FeatureRecord, len(row)+len(features.Ratios)+len(features.Labels)+1)
		for k, v := range row {
			rec[k] = v
		}

		if features.wantsAgeBucket() {
			bucket, ok := deriveAgeBucket(row, features)
			if ok {
				rec[features.bucketField()] = bucket
			} else {
				rec[features.bucketField()] = nil
				violations = append(violations, ValidationViolation{
					RuleID:   "feature:" + features.bucketField(),
					RecordID: id,
					Field:    features.ageSourceField(),
					Value:    row[features.ageSourceField()],
					Severity: SeverityAdvisory,
				})
			}
		}
		for _, r := range features.Ratios {
			rec[r.Name] = deriveRatio(row, r)
		}
		for _, l := range features.Labels {
			rec[l.Name] = deriveLabel(row, l)
		}

		records = append(records, rec)
	}
	return records, violations
}

// OutputColumns appends the derived field names to the base extraction
// columns, in declaration order, skipping any name the query already yields.
func (t Transformer) OutputColumns(base []string, features FeatureConfig) []string {
	out := make([]string, len(base))
	copy(out, base)
	seen := make(map[string]bool, len(base))
	for _, c := range base {
		seen[c] = true
	}
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	if features.wantsAgeBucket() {
		add(features.bucketField())
	}
	for _, r := range features.Ratios {
		add(r.Name)
	}
	for _, l := range features.Labels {
		add(l.Name)
	}
	return out
}

func (t Transformer) recordID(chunk Chunk, offset int, row Row) string {
	if t.KeyColumn != "" {
		if v, ok := row[t.KeyColumn]; ok && v != nil {
			return fmt.Sprintf("%v", v)
		}
	}
	return fmt.Sprintf("chunk/%d:row/%d", chunk.Index, offset)
}

func checkRule(row Row, rule ValidationRule, id string) []ValidationViolation {
	violation := func(kind string, value any) ValidationViolation {
		return ValidationViolation{
			RuleID:   rule.Field + ":" + kind,
			RecordID: id,
			Field:    rule.Field,
			Value:    value,
			Severity: rule.Severity,
		}
	}

	value, present := row[rule.Field]
	if !present || value == nil {
		if rule.Required {
			return []ValidationViolation{violation("required", nil)}
		}
		return nil
	}

	var out []ValidationViolation
	if rule.Min != nil || rule.Max != nil {
		n, ok := numeric(value)
		switch {
		case !ok:
			out = append(out, violation("range", value))
		case rule.Min != nil && n < *rule.Min:
			out = append(out, violation("range", value))
		case rule.Max != nil && n > *rule.Max:
			out = append(out, violation("range", value))
		}
	}
	if len(rule.Allowed) > 0 {
		s := fmt.Sprintf("%v", value)
		allowed := false
		for _, a := range rule.Allowed {
			if s == a {
				allowed = true
				break
			}
		}
		if !allowed {
			out = append(out, violation("allowed", value))
		}
	}
	return out
}

// ageBucket policy: <18 child, 18-64 adult, >=65 senior.
func ageBucket(age int) string {
	switch {
	case age < 18:
		return "child"
	case age < 65:
		return "adult"
	default:
		return "senior"
	}
}

func (fc FeatureConfig) ageSourceField() string {
	if fc.AgeField != "" {
		return fc.AgeField
	}
	return fc.BirthDateField
}

// deriveAgeBucket returns ("", false) when the age source is missing or
// invalid; the caller records the advisory violation and writes a null
// bucket.
func deriveAgeBucket(row Row, fc FeatureConfig) (string, bool) {
	if fc.AgeField != "" {
		n, ok := numeric(row[fc.AgeField])
		if !ok || n < 0 {
			return "", false
		}
		return ageBucket(int(n)), true
	}

	birth, ok := asTime(row[fc.BirthDateField])
	if !ok || birth.IsZero() || birth.After(fc.AsOf) {
		return "", false
	}
	age := fc.AsOf.Year() - birth.Year()
	if fc.AsOf.YearDay() < birth.YearDay() {
		age--
	}
	return ageBucket(age), true
}

// deriveRatio returns nil when either operand is missing or the denominator
// is zero.
func deriveRatio(row Row, spec RatioSpec) any {
	num, okN := numeric(row[spec.Numerator])
	den, okD := numeric(row[spec.Denominator])
	if !okN || !okD || den == 0 {
		return nil
	}
	return num / den
}

// deriveLabel returns nil when the source field is missing, otherwise
// field >= threshold.
func deriveLabel(row Row, spec LabelSpec) any {
	n, ok := numeric(row[spec.Field])
	if !ok {
		return nil
	}
	return n >= spec.Threshold
}

// numeric coerces driver values to float64 for rule checks and derivations.
func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		if math.IsNaN(n) {
			return 0, false
		}
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	case []byte:
		f, err := strconv.ParseFloat(string(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		return parseDate(t)
	case []byte:
		return parseDate(string(t))
	default:
		return time.Time{}, false
	}
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range []string{"2006-01-02", "2006-01-02 15:04:05", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
