package etl

// Row is one raw source row keyed by column name. Values are as scanned from
// the driver, with []byte normalized to string.
type Row map[string]any

// Chunk is an ordered, bounded batch of raw rows from the extraction query.
// Chunks are contiguous and non-overlapping; concatenating them in emission
// order reproduces the full query result. The Transformer never mutates a
// chunk, it returns new records instead.
type Chunk struct {
	Index   int
	Columns []string
	Rows    []Row
}

// FeatureRecord is one analytics-ready output row: the original fields plus
// the derived fields. Immutable once produced by the Transformer.
type FeatureRecord map[string]any

// Kind is the logical type of an output column, used to build the parquet
// schema and to render CSV cells.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindFloat
	KindBool
	KindTime
)

// Column describes one output column.
type Column struct {
	Name string
	Kind Kind
}
