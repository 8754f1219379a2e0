package etl

import (
	"iter"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// State identifies the lifecycle stage of a job run.
type State int

const (
	StateSetup State = iota
	StateExtract
	StateTransform
	StateLoad
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateSetup:
		return "setup"
	case StateExtract:
		return "extract"
	case StateTransform:
		return "transform"
	case StateLoad:
		return "load"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IndexEnsurer provisions supporting indexes before extraction.
type IndexEnsurer interface {
	EnsureIndexes(conn Conn, defs []IndexDefinition) ([]IndexResult, error)
}

// ChunkSource yields the extraction result in bounded chunks.
type ChunkSource interface {
	Chunks(conn Conn) iter.Seq2[Chunk, error]
}

// RecordTransformer validates and enriches one chunk.
type RecordTransformer interface {
	Apply(chunk Chunk, rules []ValidationRule, features FeatureConfig) ([]FeatureRecord, []ValidationViolation)
}

// Job drives one batch run: SETUP -> EXTRACT -> TRANSFORM -> LOAD -> DONE,
// with FAILED terminal from any stage. Stages run strictly in order and the
// orchestrator retries nothing itself; the only retry in the system is the
// Extractor's single chunk-fetch retry. Each run owns its configuration and
// connection; a single run is synchronous and single-threaded.
//
// Chunks stream through transform and load as they arrive, so peak memory
// stays bounded by the chunk size rather than the full result set. The state
// field always names the stage whose code is executing, keeping failure
// attribution unambiguous.
type Job struct {
	cfg     Config
	conn    Conn
	indexes IndexEnsurer
	source  ChunkSource
	xform   RecordTransformer
	sink    Sink
	logger  *slog.Logger
	onChunk func(completed int)

	runID      string
	state      State
	metrics    *Metrics
	violations []ValidationViolation
}

// NewJob wires the default stage implementations for cfg. The connection is
// acquired by the caller and released by the caller at run completion; the
// job never closes it.
func NewJob(cfg Config, conn Conn, logger *slog.Logger) *Job {
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{
		cfg:     cfg,
		conn:    conn,
		indexes: IndexManager{},
		source: Extractor{
			Variant:   cfg.Variant,
			Query:     cfg.Query,
			KeyColumn: cfg.KeyColumn,
			ChunkSize: cfg.ChunkSize,
		},
		xform: Transformer{KeyColumn: cfg.KeyColumn},
		sink: Loader{
			Formats:     cfg.Formats,
			OutputDir:   cfg.OutputDir,
			Prefix:      cfg.Prefix,
			Variant:     cfg.Variant,
			Compression: cfg.Compression,
			KindHints:   cfg.Features.kindHints(),
		},
		logger:  logger,
		runID:   uuid.NewString(),
		state:   StateSetup,
		metrics: newMetrics(),
	}
}

// WithIndexEnsurer substitutes the setup stage.
func (j *Job) WithIndexEnsurer(e IndexEnsurer) *Job { j.indexes = e; return j }

// WithChunkSource substitutes the extract stage.
func (j *Job) WithChunkSource(s ChunkSource) *Job { j.source = s; return j }

// WithTransformer substitutes the transform stage.
func (j *Job) WithTransformer(t RecordTransformer) *Job { j.xform = t; return j }

// WithSink substitutes the load stage.
func (j *Job) WithSink(s Sink) *Job { j.sink = s; return j }

// WithChunkCallback registers a progress callback invoked after each
// completed chunk.
func (j *Job) WithChunkCallback(fn func(completed int)) *Job { j.onChunk = fn; return j }

// RunID returns the unique identifier of this run.
func (j *Job) RunID() string { return j.runID }

// State returns the current lifecycle state.
func (j *Job) State() State { return j.state }

// Violations returns every violation accumulated during the run.
func (j *Job) Violations() []ValidationViolation { return j.violations }

// Run executes the job. On success it returns the manifest and final
// metrics; on failure the error is a *StageError naming the failing stage
// and carrying the metrics snapshot accumulated so far.
func (j *Job) Run() (Manifest, *Metrics, error) {
	start := time.Now()
	j.logger.Info("job starting",
		"run_id", j.runID,
		"database", j.cfg.Database,
		"source", j.cfg.Variant.String(),
		"chunk_size", j.cfg.ChunkSize)

	manifest, stageErr := j.execute()
	j.metrics.Elapsed = time.Since(start)

	if stageErr != nil {
		j.transition(StateFailed)
		j.logger.Error("job failed",
			"run_id", j.runID,
			"stage", stageErr.Stage.String(),
			"error", stageErr.Err,
			"metrics", j.metrics)
		return nil, j.metrics, stageErr
	}

	j.transition(StateDone)
	j.logger.Info("job complete", "run_id", j.runID, "metrics", j.metrics)
	return manifest, j.metrics, nil
}

func (j *Job) execute() (Manifest, *StageError) {
	if err := j.cfg.Validate(); err != nil {
		return nil, j.fail(StateSetup, err)
	}

	setupStart := time.Now()
	results, err := j.indexes.EnsureIndexes(j.conn, j.cfg.Indexes)
	j.metrics.addStage(StateSetup, time.Since(setupStart))
	if err != nil {
		return nil, j.fail(StateSetup, err)
	}
	for _, r := range results {
		j.logger.Debug("index ensured", "run_id", j.runID, "index", r.Name, "created", r.Created)
	}

	var (
		writer    SinkWriter
		committed bool
	)
	defer func() {
		if writer != nil && !committed {
			writer.Discard()
		}
	}()

	j.transition(StateExtract)
	mark := time.Now()
	for chunk, err := range j.source.Chunks(j.conn) {
		j.metrics.addStage(StateExtract, time.Since(mark))
		if err != nil {
			return nil, j.fail(StateExtract, err)
		}
		j.metrics.RowsExtracted += int64(len(chunk.Rows))

		j.transition(StateTransform)
		mark = time.Now()
		records, violations := j.xform.Apply(chunk, j.cfg.Rules, j.cfg.Features)
		j.metrics.addStage(StateTransform, time.Since(mark))
		j.metrics.RowsTransformed += int64(len(records))
		j.metrics.FatalDropped += int64(len(chunk.Rows) - len(records))
		j.countViolations(violations)
		j.violations = append(j.violations, violations...)

		j.transition(StateLoad)
		mark = time.Now()
		if writer == nil {
			xform, ok := j.xform.(Transformer)
			columns := chunk.Columns
			if ok {
				columns = xform.OutputColumns(chunk.Columns, j.cfg.Features)
			}
			writer, err = j.sink.Begin(columns)
			if err != nil {
				j.metrics.addStage(StateLoad, time.Since(mark))
				return nil, j.fail(StateLoad, err)
			}
		}
		if err := writer.Append(records); err != nil {
			j.metrics.addStage(StateLoad, time.Since(mark))
			return nil, j.fail(StateLoad, err)
		}
		j.metrics.addStage(StateLoad, time.Since(mark))
		j.metrics.RowsWritten += int64(len(records))
		j.metrics.ChunksCompleted++
		if j.onChunk != nil {
			j.onChunk(j.metrics.ChunksCompleted)
		}

		j.transition(StateExtract)
		mark = time.Now()
	}
	j.metrics.addStage(StateExtract, time.Since(mark))

	j.transition(StateLoad)
	if writer == nil {
		// Substituted chunk sources may yield nothing at all; still
		// produce valid empty outputs.
		w, err := j.sink.Begin(nil)
		if err != nil {
			return nil, j.fail(StateLoad, err)
		}
		writer = w
	}
	mark = time.Now()
	manifest, err := writer.Commit()
	j.metrics.addStage(StateLoad, time.Since(mark))
	if err != nil {
		return nil, j.fail(StateLoad, err)
	}
	committed = true
	return manifest, nil
}

func (j *Job) countViolations(violations []ValidationViolation) {
	for _, v := range violations {
		switch v.Severity {
		case SeverityFatal:
			j.metrics.FatalViolations++
		default:
			j.metrics.AdvisoryViolations++
		}
	}
}

func (j *Job) fail(stage State, err error) *StageError {
	return &StageError{Stage: stage, Err: err, Metrics: j.metrics.Snapshot()}
}

func (j *Job) transition(next State) {
	if next == j.state {
		return
	}
	j.logger.Debug("stage transition",
		"run_id", j.runID,
		"from", j.state.String(),
		"to", next.String())
	j.state = next
}
