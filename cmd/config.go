package cmd

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/viper"

	"dental-etl/internal/dialect"
	"dental-etl/internal/etl"
)

type ruleConfig struct {
	Min           *float64 `mapstructure:"min"`
	Max           *float64 `mapstructure:"max"`
	AllowedValues []string `mapstructure:"allowed_values"`
	Required      bool     `mapstructure:"required"`
	Severity      string   `mapstructure:"severity"`
}

type featuresConfig struct {
	AgeField       string          `mapstructure:"age_field"`
	BirthDateField string          `mapstructure:"birth_date_field"`
	AsOf           string          `mapstructure:"as_of"`
	AgeBucketField string          `mapstructure:"age_bucket_field"`
	Ratios         []etl.RatioSpec `mapstructure:"ratios"`
	Labels         []etl.LabelSpec `mapstructure:"labels"`
}

type etlFileConfig struct {
	Query       string                `mapstructure:"query"`
	QueryFile   string                `mapstructure:"query_file"`
	KeyColumn   string                `mapstructure:"key_column"`
	ChunkSize   int                   `mapstructure:"chunk_size"`
	OutputDir   string                `mapstructure:"output_dir"`
	Prefix      string                `mapstructure:"prefix"`
	Formats     []string              `mapstructure:"output_formats"`
	Compression string                `mapstructure:"compression"`
	Indexes     []etl.IndexDefinition `mapstructure:"indexes"`
	Validation  map[string]ruleConfig `mapstructure:"validation"`
	Features    featuresConfig        `mapstructure:"features"`
}

// BuildJobConfig assembles the immutable per-run configuration from the
// loaded config file. The extraction query and index definitions are read
// here, once, and travel with the configuration; no stage re-reads files.
func BuildJobConfig(variant dialect.Variant) (etl.Config, error) {
	var raw etlFileConfig
	if err := viper.UnmarshalKey("etl", &raw); err != nil {
		return etl.Config{}, fmt.Errorf("parse etl config: %w", err)
	}

	query := raw.Query
	if query == "" && raw.QueryFile != "" {
		data, err := os.ReadFile(raw.QueryFile)
		if err != nil {
			return etl.Config{}, fmt.Errorf("read query file: %w", err)
		}
		query = string(data)
	}

	chunkSize := raw.ChunkSize
	if chunkSize == 0 {
		chunkSize = etl.DefaultChunkSize
	}

	formats := make([]etl.Format, 0, len(raw.Formats))
	for _, f := range raw.Formats {
		formats = append(formats, etl.Format(f))
	}
	if len(formats) == 0 {
		formats = []etl.Format{etl.FormatParquet, etl.FormatCSV}
	}

	compression := etl.Compression(raw.Compression)
	if compression == "" {
		compression = etl.CompressionSnappy
	}

	outputDir := raw.OutputDir
	if outputDir == "" {
		outputDir = "output"
	}
	prefix := raw.Prefix
	if prefix == "" {
		prefix = "dental_features"
	}

	// Rule order must not depend on map iteration; sort by field.
	fields := make([]string, 0, len(raw.Validation))
	for f := range raw.Validation {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	rules := make([]etl.ValidationRule, 0, len(fields))
	for _, f := range fields {
		rc := raw.Validation[f]
		severity := etl.Severity(rc.Severity)
		if severity == "" {
			severity = etl.SeverityAdvisory
		}
		rules = append(rules, etl.ValidationRule{
			Field:    f,
			Min:      rc.Min,
			Max:      rc.Max,
			Allowed:  rc.AllowedValues,
			Required: rc.Required,
			Severity: severity,
		})
	}

	asOf := time.Now().UTC().Truncate(24 * time.Hour)
	if raw.Features.AsOf != "" {
		t, err := time.Parse("2006-01-02", raw.Features.AsOf)
		if err != nil {
			return etl.Config{}, fmt.Errorf("parse features.as_of: %w", err)
		}
		asOf = t
	}

	return etl.Config{
		Database:  viper.GetString("database.name"),
		Variant:   variant,
		Query:     query,
		KeyColumn: raw.KeyColumn,
		ChunkSize: chunkSize,
		Indexes:   raw.Indexes,
		Rules:     rules,
		Features: etl.FeatureConfig{
			AgeField:       raw.Features.AgeField,
			BirthDateField: raw.Features.BirthDateField,
			AsOf:           asOf,
			AgeBucketField: raw.Features.AgeBucketField,
			Ratios:         raw.Features.Ratios,
			Labels:         raw.Features.Labels,
		},
		Formats:     formats,
		Compression: compression,
		OutputDir:   outputDir,
		Prefix:      prefix,
	}, nil
}
