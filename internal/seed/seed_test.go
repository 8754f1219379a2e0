package seed_test

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"dental-etl/internal/seed"
)

// fixtureDB mirrors the pump schema with sqlite column types so inserts can
// run without a database server.
func fixtureDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "seed.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	for _, ddl := range []string{
		`CREATE TABLE patient (
			PatNum INTEGER PRIMARY KEY AUTOINCREMENT,
			LName TEXT NOT NULL,
			FName TEXT NOT NULL,
			Birthdate TEXT NULL,
			Gender TEXT NOT NULL
		)`,
		`CREATE TABLE procedurelog (
			ProcNum INTEGER PRIMARY KEY AUTOINCREMENT,
			PatNum INTEGER NOT NULL,
			ProcDate TEXT NOT NULL,
			ProcCode TEXT NOT NULL,
			ProcFee REAL NOT NULL,
			InsPayEst REAL NOT NULL,
			InsPayAmt REAL NOT NULL
		)`,
	} {
		_, err := db.Exec(ddl)
		require.NoError(t, err)
	}
	return db
}

func countRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestPumpCounts(t *testing.T) {
	db := fixtureDB(t)

	var progress int
	res, err := seed.Pump(db, 10, 3, 1, func() { progress++ })
	require.NoError(t, err)
	require.Equal(t, 10, res.Patients)
	require.Equal(t, 30, res.Procedures)
	require.Equal(t, 30, progress)

	require.Equal(t, 10, countRows(t, db, "patient"))
	require.Equal(t, 30, countRows(t, db, "procedurelog"))
}

func TestPumpIsDeterministicPerSeed(t *testing.T) {
	names := func(seedVal uint64) []string {
		db := fixtureDB(t)
		_, err := seed.Pump(db, 5, 1, seedVal, nil)
		require.NoError(t, err)

		rows, err := db.Query("SELECT LName FROM patient ORDER BY PatNum")
		require.NoError(t, err)
		defer rows.Close()

		var out []string
		for rows.Next() {
			var name string
			require.NoError(t, rows.Scan(&name))
			out = append(out, name)
		}
		require.NoError(t, rows.Err())
		return out
	}

	require.Equal(t, names(7), names(7))
	require.NotEqual(t, names(7), names(8))
}

func TestCleanEmptiesFixtureTables(t *testing.T) {
	db := fixtureDB(t)
	_, err := seed.Pump(db, 4, 2, 1, nil)
	require.NoError(t, err)

	require.NoError(t, seed.Clean(db))
	require.Zero(t, countRows(t, db, "patient"))
	require.Zero(t, countRows(t, db, "procedurelog"))
}
