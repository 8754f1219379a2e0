package cmd

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/gosuri/uiprogress"
	"github.com/spf13/cobra"

	"dental-etl/internal/etl"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the ETL job against the configured source",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := BuildJobConfig(Variant)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		fmt.Printf("🦷 Extracting from %s (%s), chunk size %d\n", cfg.Database, cfg.Variant, cfg.ChunkSize)

		job := etl.NewJob(cfg, DB, newLogger())

		uiprogress.Start()
		bar := uiprogress.AddBar(estimateChunks(DB, cfg)).AppendCompleted().PrependElapsed()
		bar.PrependFunc(func(b *uiprogress.Bar) string {
			return "Chunks: "
		})
		job.WithChunkCallback(func(int) {
			bar.Incr()
		})

		start := time.Now()
		manifest, metrics, err := job.Run()
		uiprogress.Stop()
		if err != nil {
			return err
		}

		if len(job.Violations()) > 0 {
			path := filepath.Join(cfg.OutputDir, fmt.Sprintf("%s_%s_violations.csv", cfg.Prefix, cfg.Variant))
			if werr := etl.WriteViolationsCSV(path, job.Violations()); werr != nil {
				fmt.Printf("Warning: violations report not written: %v\n", werr)
			} else {
				fmt.Printf("Violations report: %s\n", path)
			}
		}

		fmt.Println("\n📊 Run Summary:")
		fmt.Printf("  rows extracted:      %d\n", metrics.RowsExtracted)
		fmt.Printf("  rows written:        %d\n", metrics.RowsWritten)
		fmt.Printf("  dropped (fatal):     %d\n", metrics.FatalDropped)
		fmt.Printf("  violations:          %d advisory, %d fatal\n", metrics.AdvisoryViolations, metrics.FatalViolations)
		fmt.Printf("  chunks:              %d\n", metrics.ChunksCompleted)
		for _, stage := range []etl.State{etl.StateSetup, etl.StateExtract, etl.StateTransform, etl.StateLoad} {
			fmt.Printf("  %-9s elapsed:    %v\n", stage, metrics.StageElapsed[stage].Round(time.Millisecond))
		}
		fmt.Printf("  total elapsed:       %v\n", time.Since(start).Round(time.Millisecond))
		fmt.Println("\nOutputs:")
		for _, f := range cfg.Formats {
			fmt.Printf("  %-8s %s\n", f, manifest[f])
		}
		return nil
	},
}

// estimateChunks sizes the progress bar with one COUNT round-trip. Progress
// display only; the job itself never needs the total up front.
func estimateChunks(db *sql.DB, cfg etl.Config) int {
	var count int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM (%s) AS q", strings.TrimSuffix(strings.TrimSpace(cfg.Query), ";"))
	if err := db.QueryRow(query).Scan(&count); err != nil {
		return 1
	}
	chunks := int((count + int64(cfg.ChunkSize) - 1) / int64(cfg.ChunkSize))
	if chunks < 1 {
		chunks = 1
	}
	return chunks
}

func init() {
	RootCmd.AddCommand(runCmd)
}
