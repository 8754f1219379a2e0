package etl

import (
	"fmt"
	"iter"

	"dental-etl/internal/dialect"
)

// Extractor issues the extraction query and yields rows in bounded chunks.
// With a KeyColumn configured it uses keyset pagination; the key must be
// unique and NOT NULL in the query result, since page boundaries are
// expressed as "key > last seen". Without a key column it falls back to
// offset pagination. Either way, peak memory is O(ChunkSize) rows.
type Extractor struct {
	Variant   dialect.Variant
	Query     string
	KeyColumn string
	ChunkSize int
}

// Chunks returns a lazy, finite sequence of chunks. The first chunk is
// always emitted, even when the result set is empty, so downstream stages
// learn the column layout. The final chunk may be smaller than ChunkSize.
//
// A transient failure fetching the current chunk is retried exactly once; a
// second consecutive failure surfaces as an ExtractionError carrying the
// number of chunks already completed. Restart only by calling Chunks again;
// there is no mid-stream resume.
func (e Extractor) Chunks(conn Conn) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		var (
			completed int
			lastKey   any
			offset    int64
		)
		for {
			chunk, err := e.fetchChunk(conn, completed, lastKey, offset)
			if err != nil {
				chunk, err = e.fetchChunk(conn, completed, lastKey, offset)
			}
			if err != nil {
				yield(Chunk{}, &ExtractionError{ChunksCompleted: completed, Err: err})
				return
			}
			if len(chunk.Rows) == 0 && chunk.Index > 0 {
				return
			}
			if e.KeyColumn != "" && len(chunk.Rows) == e.ChunkSize {
				// The next page is addressed as "key > last seen"; a
				// NULL or missing key here would re-read this page
				// forever, so refuse the data instead.
				key, ok := chunk.Rows[len(chunk.Rows)-1][e.KeyColumn]
				if !ok || key == nil {
					yield(Chunk{}, &ExtractionError{
						ChunksCompleted: completed,
						Err: fmt.Errorf("chunk %d: key column %s is NULL or absent in the last row, keyset pagination needs a unique NOT NULL key",
							chunk.Index, e.KeyColumn),
					})
					return
				}
				lastKey = key
			}
			offset += int64(len(chunk.Rows))
			if !yield(chunk, nil) {
				return
			}
			completed++
			if len(chunk.Rows) < e.ChunkSize {
				return
			}
		}
	}
}

// fetchChunk runs one pagination round-trip. lastKey and offset are only
// advanced after a successful fetch, so a retry re-reads the same page.
func (e Extractor) fetchChunk(conn Conn, index int, lastKey any, offset int64) (Chunk, error) {
	var (
		query string
		args  []any
	)
	switch {
	case e.KeyColumn != "" && lastKey == nil:
		query = e.Variant.KeysetFirstQuery(e.Query, e.KeyColumn)
		args = []any{e.ChunkSize}
	case e.KeyColumn != "":
		query = e.Variant.KeysetQuery(e.Query, e.KeyColumn)
		args = []any{lastKey, e.ChunkSize}
	default:
		query = e.Variant.OffsetQuery(e.Query)
		args = []any{e.ChunkSize, offset}
	}

	rows, err := conn.Query(query, args...)
	if err != nil {
		return Chunk{}, fmt.Errorf("fetch chunk %d: %w", index, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return Chunk{}, fmt.Errorf("columns for chunk %d: %w", index, err)
	}

	chunk := Chunk{Index: index, Columns: cols}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return Chunk{}, fmt.Errorf("scan chunk %d: %w", index, err)
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			row[c] = normalizeValue(vals[i])
		}
		chunk.Rows = append(chunk.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return Chunk{}, fmt.Errorf("iterate chunk %d: %w", index, err)
	}
	return chunk, nil
}

// normalizeValue maps driver raw bytes to string; the MySQL driver returns
// []byte for text columns outside of prepared statements.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
