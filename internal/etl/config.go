package etl

import (
	"fmt"
	"time"

	"dental-etl/internal/dialect"
)

// DefaultChunkSize bounds extraction memory when no chunk size is configured.
const DefaultChunkSize = 10000

// Severity classifies a validation rule. Advisory violations are recorded
// and the record is kept; fatal violations drop the record from output.
type Severity string

const (
	SeverityAdvisory Severity = "advisory"
	SeverityFatal    Severity = "fatal"
)

// Format is an output file format.
type Format string

const (
	FormatParquet Format = "parquet"
	FormatCSV     Format = "csv"
)

// Compression selects the parquet codec. CSV output ignores it.
type Compression string

const (
	CompressionNone   Compression = "none"
	CompressionSnappy Compression = "snappy"
)

// IndexDefinition pairs an index name with the DDL statement that creates it.
type IndexDefinition struct {
	Name string `mapstructure:"name"`
	DDL  string `mapstructure:"ddl"`
}

// ValidationRule constrains one field of the extracted rows.
// Nil Min/Max and empty Allowed mean the corresponding check is off.
type ValidationRule struct {
	Field    string
	Min      *float64
	Max      *float64
	Allowed  []string
	Required bool
	Severity Severity
}

// RatioSpec derives Name = Numerator / Denominator. A zero or missing
// denominator yields a null ratio, not an error.
type RatioSpec struct {
	Name        string `mapstructure:"name"`
	Numerator   string `mapstructure:"numerator"`
	Denominator string `mapstructure:"denominator"`
}

// LabelSpec derives a boolean target label: Field >= Threshold.
type LabelSpec struct {
	Name      string  `mapstructure:"name"`
	Field     string  `mapstructure:"field"`
	Threshold float64 `mapstructure:"threshold"`
}

// FeatureConfig declares the derived fields. Age comes from AgeField when
// set, otherwise from BirthDateField measured against AsOf. Pinning AsOf at
// configuration time keeps transformation output byte-identical across
// repeated runs of the same configuration.
type FeatureConfig struct {
	AgeField       string
	BirthDateField string
	AsOf           time.Time
	AgeBucketField string
	Ratios         []RatioSpec
	Labels         []LabelSpec
}

func (fc FeatureConfig) wantsAgeBucket() bool {
	return fc.AgeField != "" || fc.BirthDateField != ""
}

func (fc FeatureConfig) bucketField() string {
	if fc.AgeBucketField != "" {
		return fc.AgeBucketField
	}
	return "age_bucket"
}

// kindHints reports the logical kind of every derived column, so the sink
// types them correctly even when a first batch leaves them all null.
func (fc FeatureConfig) kindHints() map[string]Kind {
	hints := make(map[string]Kind)
	if fc.wantsAgeBucket() {
		hints[fc.bucketField()] = KindString
	}
	for _, r := range fc.Ratios {
		hints[r.Name] = KindFloat
	}
	for _, l := range fc.Labels {
		hints[l.Name] = KindBool
	}
	return hints
}

// Config is the immutable per-run job configuration. It is constructed once,
// owned by the Job for the run's lifetime, and passed explicitly to every
// stage; there is no package-level state.
type Config struct {
	Database    string
	Variant     dialect.Variant
	Query       string
	KeyColumn   string
	ChunkSize   int
	Indexes     []IndexDefinition
	Rules       []ValidationRule
	Features    FeatureConfig
	Formats     []Format
	Compression Compression
	OutputDir   string
	Prefix      string
}

// Validate checks the configuration before a run starts.
func (c Config) Validate() error {
	if c.Query == "" {
		return fmt.Errorf("extraction query is required")
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize)
	}
	if len(c.Formats) == 0 {
		return fmt.Errorf("at least one output format is required")
	}
	for _, f := range c.Formats {
		if f != FormatParquet && f != FormatCSV {
			return fmt.Errorf("unsupported output format %q", f)
		}
	}
	switch c.Compression {
	case CompressionNone, CompressionSnappy:
	default:
		return fmt.Errorf("unsupported compression %q", c.Compression)
	}
	for _, r := range c.Rules {
		if r.Severity != SeverityAdvisory && r.Severity != SeverityFatal {
			return fmt.Errorf("rule %s: unknown severity %q", r.Field, r.Severity)
		}
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output directory is required")
	}
	if c.Prefix == "" {
		return fmt.Errorf("output prefix is required")
	}
	return nil
}
