// Package seed populates a local MariaDB/MySQL instance with synthetic
// dental-practice data so ETL runs can be exercised without touching a real
// practice database.
package seed

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
)

var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS patient (
		PatNum BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		LName VARCHAR(100) NOT NULL,
		FName VARCHAR(100) NOT NULL,
		Birthdate DATE NULL,
		Gender VARCHAR(10) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS procedurelog (
		ProcNum BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		PatNum BIGINT NOT NULL,
		ProcDate DATE NOT NULL,
		ProcCode VARCHAR(16) NOT NULL,
		ProcFee DECIMAL(10,2) NOT NULL,
		InsPayEst DECIMAL(10,2) NOT NULL,
		InsPayAmt DECIMAL(10,2) NOT NULL
	)`,
}

// procCodes is a small set of common ADA procedure codes: exams, x-rays,
// cleanings, fillings, crowns, extractions.
var procCodes = []string{
	"D0120", "D0150", "D0210", "D0274", "D1110", "D1120",
	"D2140", "D2331", "D2740", "D2750", "D4341", "D7140",
}

// Result reports how many rows each fixture table received.
type Result struct {
	Patients   int
	Procedures int
}

// EnsureSchema creates the fixture tables if they do not exist.
func EnsureSchema(db *sql.DB) error {
	for _, ddl := range schemaDDL {
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("create fixture schema: %w", err)
		}
	}
	return nil
}

// Clean removes all fixture rows.
func Clean(db *sql.DB) error {
	for _, table := range []string{"procedurelog", "patient"} {
		if _, err := db.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("clean %s: %w", table, err)
		}
	}
	return nil
}

// Pump inserts patients plus procedures-per-patient synthetic rows in
// batched transactions. onProgress, when set, is invoked once per inserted
// procedure row. The faker is seeded so repeated runs with the same seed
// produce the same dataset.
func Pump(db *sql.DB, patients, proceduresPerPatient int, seed uint64, onProgress func()) (Result, error) {
	faker := gofakeit.New(seed)
	var res Result

	tx, err := db.Begin()
	if err != nil {
		return res, fmt.Errorf("begin fixture insert: %w", err)
	}
	defer tx.Rollback()

	insertPatient, err := tx.Prepare(
		"INSERT INTO patient (LName, FName, Birthdate, Gender) VALUES (?, ?, ?, ?)")
	if err != nil {
		return res, fmt.Errorf("prepare patient insert: %w", err)
	}
	defer insertPatient.Close()

	insertProc, err := tx.Prepare(
		"INSERT INTO procedurelog (PatNum, ProcDate, ProcCode, ProcFee, InsPayEst, InsPayAmt) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return res, fmt.Errorf("prepare procedure insert: %w", err)
	}
	defer insertProc.Close()

	now := time.Now()
	for i := 0; i < patients; i++ {
		birth := birthdate(faker, now)
		r, err := insertPatient.Exec(faker.LastName(), faker.FirstName(), birth, gender(faker))
		if err != nil {
			return res, fmt.Errorf("insert patient: %w", err)
		}
		patNum, err := r.LastInsertId()
		if err != nil {
			return res, fmt.Errorf("patient id: %w", err)
		}
		res.Patients++

		for p := 0; p < proceduresPerPatient; p++ {
			fee := faker.Price(40, 1800)
			est := fee * faker.Float64Range(0, 1)
			paid := est * faker.Float64Range(0.5, 1)
			procDate := faker.DateRange(now.AddDate(-3, 0, 0), now)
			code := procCodes[faker.IntRange(0, len(procCodes)-1)]
			if _, err := insertProc.Exec(patNum, procDate.Format("2006-01-02"), code, fee, est, paid); err != nil {
				return res, fmt.Errorf("insert procedure: %w", err)
			}
			res.Procedures++
			if onProgress != nil {
				onProgress()
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return res, fmt.Errorf("commit fixture insert: %w", err)
	}
	return res, nil
}

// birthdate returns nil for a small fraction of patients so transformation
// runs exercise the null age-bucket path.
func birthdate(faker *gofakeit.Faker, now time.Time) any {
	if faker.IntRange(0, 99) < 3 {
		return nil
	}
	d := faker.DateRange(now.AddDate(-95, 0, 0), now.AddDate(-1, 0, 0))
	return d.Format("2006-01-02")
}

func gender(faker *gofakeit.Faker) string {
	switch faker.IntRange(0, 2) {
	case 0:
		return "M"
	case 1:
		return "F"
	default:
		return "U"
	}
}
