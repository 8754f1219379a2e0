package cmd

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dental-etl/internal/dialect"
	"dental-etl/internal/etl"
)

var (
	cfgFile string
	dsn     string
	verbose bool

	// DB is the source connection handed to the core. It is acquired once
	// in PersistentPreRunE and released in PersistentPostRun, success or
	// failure, so it is never leaked across stages.
	DB      *sql.DB
	Variant dialect.Variant
)

var RootCmd = &cobra.Command{
	Use:   "dental-etl",
	Short: "Extract analytics-ready datasets from a dental practice database",
	Long: `dental-etl pulls rows from a live MariaDB or MySQL practice database in
bounded chunks, validates and enriches them, and writes parquet/csv feature
datasets for the analytics store.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		v, err := dialect.Parse(viper.GetString("database.type"))
		if err != nil {
			return err
		}
		Variant = v

		connStr := viper.GetString("database.dsn")
		if connStr == "" {
			return fmt.Errorf("database.dsn is required (via flag or config)")
		}

		db, err := v.Open(connStr)
		if err != nil {
			return &etl.ConnectionError{Op: "setup", Err: err}
		}
		DB = db
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			DB.Close()
		}
	},
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./dental-etl.yaml)")
	RootCmd.PersistentFlags().StringVar(&dsn, "dsn", "", "Database Source Name (DSN)")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	viper.BindPFlag("database.dsn", RootCmd.PersistentFlags().Lookup("dsn"))

	viper.SetDefault("database.type", "mariadb")
	viper.SetDefault("database.dsn", "root:root@tcp(127.0.0.1:3306)/opendental?parseTime=true")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		ex, err := os.Executable()
		if err == nil {
			viper.AddConfigPath(filepath.Dir(ex))
		}
		viper.AddConfigPath(".")

		viper.SetConfigName("dental-etl")
		viper.SetConfigType("yaml")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}
