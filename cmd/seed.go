package cmd

import (
	"fmt"
	"time"

	"github.com/gosuri/uiprogress"
	"github.com/spf13/cobra"

	"dental-etl/internal/seed"
)

var (
	seedPatients   int
	seedProcedures int
	seedClean      bool
	seedValue      uint64
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Populate the source database with synthetic dental data",
	Long: `Creates the patient/procedurelog fixture tables if needed and pumps
synthetic rows into them, for exercising ETL runs without a real practice
database.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := seed.EnsureSchema(DB); err != nil {
			return err
		}
		if seedClean {
			if err := seed.Clean(DB); err != nil {
				return err
			}
		}

		total := seedPatients * seedProcedures
		fmt.Printf("🦷 Seeding %d patients x %d procedures (%s)\n", seedPatients, seedProcedures, Variant)
		start := time.Now()

		uiprogress.Start()
		bar := uiprogress.AddBar(total).AppendCompleted().PrependElapsed()
		bar.PrependFunc(func(b *uiprogress.Bar) string {
			return "Rows: "
		})

		res, err := seed.Pump(DB, seedPatients, seedProcedures, seedValue, func() {
			bar.Incr()
		})
		uiprogress.Stop()
		if err != nil {
			return err
		}

		fmt.Printf("\n📊 Seeded %d patients, %d procedures in %v\n",
			res.Patients, res.Procedures, time.Since(start).Round(time.Millisecond))
		return nil
	},
}

func init() {
	RootCmd.AddCommand(seedCmd)

	seedCmd.Flags().IntVar(&seedPatients, "patients", 1000, "number of patients to insert")
	seedCmd.Flags().IntVar(&seedProcedures, "procedures", 5, "procedures per patient")
	seedCmd.Flags().BoolVar(&seedClean, "clean", false, "delete existing fixture rows first")
	seedCmd.Flags().Uint64Var(&seedValue, "seed", 1, "faker seed for reproducible data")
}
