package etl

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"dental-etl/internal/dialect"
)

// Manifest maps each requested output format to its written file path.
// Populated only on a fully successful load; a failed run yields no manifest.
type Manifest map[Format]string

// SinkWriter receives transformed records chunk by chunk, then either
// promotes every temporary file into place or discards all of them.
type SinkWriter interface {
	Append(records []FeatureRecord) error
	Commit() (Manifest, error)
	Discard()
}

// Sink opens a writer for one run's outputs.
type Sink interface {
	Begin(columns []string) (SinkWriter, error)
}

// Loader persists the transformed dataset in one or more formats under
// OutputDir, named {Prefix}_{variant}.{format}. Each format is written to a
// temporary path and renamed into place on commit, so a crash mid-write never
// leaves a corrupt file at the canonical path.
type Loader struct {
	Formats     []Format
	OutputDir   string
	Prefix      string
	Variant     dialect.Variant
	Compression Compression

	// KindHints pins the logical kind of columns whose values may be
	// entirely null in the first batch, such as derived feature fields.
	// Hinted columns skip value-based inference.
	KindHints map[string]Kind
}

// Begin creates the output directory (reusing it if present) and returns a
// writer for the run. Column kinds are inferred from the first appended
// batch; a run that commits without records still produces valid empty
// files with string-typed columns.
func (l Loader) Begin(columns []string) (SinkWriter, error) {
	if err := os.MkdirAll(l.OutputDir, 0o755); err != nil {
		return nil, &LoadError{Path: l.OutputDir, Err: err}
	}
	return &runWriter{loader: l, columns: columns}, nil
}

// Save writes the full record set in one call: Begin, Append, Commit.
func (l Loader) Save(columns []string, records []FeatureRecord) (Manifest, error) {
	w, err := l.Begin(columns)
	if err != nil {
		return nil, err
	}
	if err := w.Append(records); err != nil {
		w.Discard()
		return nil, err
	}
	return w.Commit()
}

func (l Loader) outputPath(f Format) string {
	return filepath.Join(l.OutputDir, fmt.Sprintf("%s_%s.%s", l.Prefix, l.Variant, f))
}

type runWriter struct {
	loader  Loader
	columns []string
	schema  []Column
	sinks   []*formatSink
}

func (w *runWriter) Append(records []FeatureRecord) error {
	if len(records) == 0 {
		return nil
	}
	if w.sinks == nil {
		w.schema = inferColumns(w.columns, records, w.loader.KindHints)
		if err := w.open(); err != nil {
			return err
		}
	}
	for _, s := range w.sinks {
		if err := s.append(w.schema, records); err != nil {
			return &LoadError{Format: s.format, Path: s.path, Err: err}
		}
	}
	return nil
}

func (w *runWriter) Commit() (Manifest, error) {
	if w.sinks == nil {
		w.schema = inferColumns(w.columns, nil, w.loader.KindHints)
		if err := w.open(); err != nil {
			return nil, err
		}
	}
	for _, s := range w.sinks {
		if err := s.close(); err != nil {
			w.Discard()
			return nil, &LoadError{Format: s.format, Path: s.path, Err: err}
		}
	}
	// Rename only after every format closed cleanly, and take back any
	// file already promoted if a later rename fails, so a one-format
	// failure publishes nothing at all.
	manifest := make(Manifest, len(w.sinks))
	renamed := make([]string, 0, len(w.sinks))
	for _, s := range w.sinks {
		if err := os.Rename(s.tmpPath, s.path); err != nil {
			for _, p := range renamed {
				os.Remove(p)
			}
			w.Discard()
			return nil, &LoadError{Format: s.format, Path: s.path, Err: err}
		}
		renamed = append(renamed, s.path)
		manifest[s.format] = s.path
	}
	w.sinks = nil
	return manifest, nil
}

func (w *runWriter) Discard() {
	for _, s := range w.sinks {
		s.discard()
	}
	w.sinks = nil
}

func (w *runWriter) open() error {
	for _, f := range w.loader.Formats {
		s, err := newFormatSink(f, w.loader, w.schema)
		if err != nil {
			w.Discard()
			return err
		}
		w.sinks = append(w.sinks, s)
	}
	return nil
}

type formatSink struct {
	format  Format
	path    string
	tmpPath string
	file    *os.File
	csv     *csv.Writer
	parquet *parquet.GenericWriter[map[string]any]
}

func newFormatSink(f Format, l Loader, schema []Column) (*formatSink, error) {
	s := &formatSink{format: f, path: l.outputPath(f)}
	s.tmpPath = s.path + ".tmp"

	file, err := os.Create(s.tmpPath)
	if err != nil {
		return nil, &LoadError{Format: f, Path: s.path, Err: err}
	}
	s.file = file

	switch f {
	case FormatCSV:
		s.csv = csv.NewWriter(file)
		header := make([]string, len(schema))
		for i, c := range schema {
			header[i] = c.Name
		}
		if err := s.csv.Write(header); err != nil {
			s.discard()
			return nil, &LoadError{Format: f, Path: s.path, Err: err}
		}
	case FormatParquet:
		s.parquet = parquet.NewGenericWriter[map[string]any](file,
			parquetSchema(schema), parquet.Compression(parquetCodec(l.Compression)))
	default:
		s.discard()
		return nil, &LoadError{Format: f, Path: s.path, Err: fmt.Errorf("unsupported format")}
	}
	return s, nil
}

func (s *formatSink) append(schema []Column, records []FeatureRecord) error {
	switch s.format {
	case FormatCSV:
		row := make([]string, len(schema))
		for _, rec := range records {
			for i, c := range schema {
				row[i] = csvCell(rec[c.Name], c.Kind)
			}
			if err := s.csv.Write(row); err != nil {
				return err
			}
		}
		return nil
	case FormatParquet:
		rows := make([]map[string]any, len(records))
		for i, rec := range records {
			row := make(map[string]any, len(schema))
			for _, c := range schema {
				if v := parquetCell(rec[c.Name], c.Kind); v != nil {
					row[c.Name] = v
				}
			}
			rows[i] = row
		}
		_, err := s.parquet.Write(rows)
		return err
	}
	return nil
}

func (s *formatSink) close() error {
	if s.csv != nil {
		s.csv.Flush()
		if err := s.csv.Error(); err != nil {
			return err
		}
	}
	if s.parquet != nil {
		if err := s.parquet.Close(); err != nil {
			return err
		}
	}
	return s.file.Close()
}

func (s *formatSink) discard() {
	if s.file != nil {
		s.file.Close()
	}
	os.Remove(s.tmpPath)
}

// inferColumns decides each output column's kind. A hint wins outright;
// otherwise the kind comes from the first non-null value observed. Columns
// with neither default to string, which keeps zero-row outputs valid.
func inferColumns(names []string, records []FeatureRecord, hints map[string]Kind) []Column {
	cols := make([]Column, len(names))
	for i, name := range names {
		if kind, ok := hints[name]; ok {
			cols[i] = Column{Name: name, Kind: kind}
			continue
		}
		kind := KindString
		for _, rec := range records {
			v, ok := rec[name]
			if !ok || v == nil {
				continue
			}
			switch v.(type) {
			case bool:
				kind = KindBool
			case int, int8, int16, int32, int64, uint64:
				kind = KindInt
			case float32, float64:
				kind = KindFloat
			case time.Time:
				kind = KindTime
			}
			break
		}
		cols[i] = Column{Name: name, Kind: kind}
	}
	return cols
}

func parquetSchema(cols []Column) *parquet.Schema {
	group := parquet.Group{}
	for _, c := range cols {
		var node parquet.Node
		switch c.Kind {
		case KindInt:
			node = parquet.Int(64)
		case KindFloat:
			node = parquet.Leaf(parquet.DoubleType)
		case KindBool:
			node = parquet.Leaf(parquet.BooleanType)
		default:
			node = parquet.String()
		}
		group[c.Name] = parquet.Optional(node)
	}
	return parquet.NewSchema("features", group)
}

func parquetCodec(c Compression) compress.Codec {
	if c == CompressionSnappy {
		return &parquet.Snappy
	}
	return &parquet.Uncompressed
}

// parquetCell narrows a record value to the column's physical type.
// Returning nil leaves the optional field null.
func parquetCell(v any, kind Kind) any {
	if v == nil {
		return nil
	}
	switch kind {
	case KindInt:
		if n, ok := numeric(v); ok {
			return int64(n)
		}
	case KindFloat:
		if n, ok := numeric(v); ok {
			return n
		}
	case KindBool:
		if b, ok := v.(bool); ok {
			return b
		}
	case KindTime:
		if t, ok := v.(time.Time); ok {
			return t.Format("2006-01-02 15:04:05")
		}
		return fmt.Sprintf("%v", v)
	default:
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprintf("%v", v)
	}
	return nil
}

func csvCell(v any, kind Kind) string {
	if v == nil {
		return ""
	}
	switch kind {
	case KindInt:
		if n, ok := numeric(v); ok {
			return strconv.FormatInt(int64(n), 10)
		}
	case KindFloat:
		if n, ok := numeric(v); ok {
			return strconv.FormatFloat(n, 'f', -1, 64)
		}
	case KindBool:
		if b, ok := v.(bool); ok {
			return strconv.FormatBool(b)
		}
	case KindTime:
		if t, ok := v.(time.Time); ok {
			return t.Format("2006-01-02 15:04:05")
		}
	}
	return fmt.Sprintf("%v", v)
}

// WriteViolationsCSV writes the accumulated violations next to the outputs
// for reporting. Not part of the manifest contract, but it follows the same
// temp-then-rename discipline as the data files.
func WriteViolationsCSV(path string, violations []ValidationViolation) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create violations report: %w", err)
	}

	err = func() error {
		w := csv.NewWriter(file)
		if err := w.Write([]string{"rule_id", "record_id", "field", "value", "severity"}); err != nil {
			return err
		}
		for _, v := range violations {
			value := ""
			if v.Value != nil {
				value = fmt.Sprintf("%v", v.Value)
			}
			if err := w.Write([]string{v.RuleID, v.RecordID, v.Field, value, string(v.Severity)}); err != nil {
				return err
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return err
		}
		return file.Close()
	}()
	if err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write violations report: %w", err)
	}
	return os.Rename(tmpPath, path)
}
