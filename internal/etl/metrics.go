package etl

import (
	"log/slog"
	"time"
)

// Metrics accumulates per-stage timing and row counts for one run.
// The Job owns it; other components only ever see snapshots.
// Reconciliation invariant: RowsExtracted == RowsWritten + FatalDropped.
type Metrics struct {
	RowsExtracted      int64
	RowsTransformed    int64
	RowsWritten        int64
	FatalDropped       int64
	AdvisoryViolations int64
	FatalViolations    int64
	ChunksCompleted    int
	StageElapsed       map[State]time.Duration
	Elapsed            time.Duration
}

func newMetrics() *Metrics {
	return &Metrics{StageElapsed: make(map[State]time.Duration)}
}

func (m *Metrics) addStage(s State, d time.Duration) {
	m.StageElapsed[s] += d
}

// Snapshot returns an independent copy, safe to hand to callers.
func (m *Metrics) Snapshot() Metrics {
	out := *m
	out.StageElapsed = make(map[State]time.Duration, len(m.StageElapsed))
	for s, d := range m.StageElapsed {
		out.StageElapsed[s] = d
	}
	return out
}

// LogValue implements slog.LogValuer for structured logging.
func (m *Metrics) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("rows_extracted", m.RowsExtracted),
		slog.Int64("rows_transformed", m.RowsTransformed),
		slog.Int64("rows_written", m.RowsWritten),
		slog.Int64("fatal_dropped", m.FatalDropped),
		slog.Int64("advisory_violations", m.AdvisoryViolations),
		slog.Int64("fatal_violations", m.FatalViolations),
		slog.Int("chunks_completed", m.ChunksCompleted),
		slog.Duration("setup_elapsed", m.StageElapsed[StateSetup]),
		slog.Duration("extract_elapsed", m.StageElapsed[StateExtract]),
		slog.Duration("transform_elapsed", m.StageElapsed[StateTransform]),
		slog.Duration("load_elapsed", m.StageElapsed[StateLoad]),
		slog.Duration("elapsed", m.Elapsed),
	)
}
