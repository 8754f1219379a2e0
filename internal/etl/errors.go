package etl

import "fmt"

// ConnectionError reports a failure acquiring or using the source connection.
// Always fatal, at whatever stage it occurs.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection failure during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// IndexCreationError reports a DDL failure during setup that was not an
// "already exists" condition. Fatal; aborts setup.
type IndexCreationError struct {
	Index string
	Err   error
}

func (e *IndexCreationError) Error() string {
	return fmt.Sprintf("create index %s: %v", e.Index, e.Err)
}

func (e *IndexCreationError) Unwrap() error { return e.Err }

// ExtractionError reports a chunk fetch that failed twice in a row.
// ChunksCompleted is the number of chunks fully emitted before the failure,
// carried for diagnostics only; there is no auto-resume.
type ExtractionError struct {
	ChunksCompleted int
	Err             error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed after %d completed chunks: %v", e.ChunksCompleted, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// LoadError reports a failure writing one output format. Fatal for the run;
// the temporary file is discarded and never renamed into place.
type LoadError struct {
	Format Format
	Path   string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("write %s output %s: %v", e.Format, e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// StageError is the single structured failure surfaced by Job.Run: the
// failing stage, the underlying cause, and the metrics accumulated so far,
// so callers can tell "zero rows extracted" from "extraction crashed".
type StageError struct {
	Stage   State
	Err     error
	Metrics Metrics
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
