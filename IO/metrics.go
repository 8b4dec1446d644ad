package IO

import (
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite"
)

// EpochMetrics is the summary reported after every training epoch.
type EpochMetrics struct {
	Epoch    int
	Loss     float64 // mean training loss
	Accuracy float64 // held-out accuracy under EMA weights
	LR       float64
	Elapsed  time.Duration
}

type Reporter interface {
	Report(EpochMetrics) error
}

// CSVReporter appends one row per epoch to a CSV log.
type CSVReporter struct {
	f *os.File
	w *csv.Writer
}

func NewCSVReporter(path string) (*CSVReporter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("metrics csv: %w", err)
	}
	w := csv.NewWriter(f)
	if err := w.Write([]string{"epoch", "loss", "accuracy", "lr", "seconds"}); err != nil {
		f.Close()
		return nil, err
	}
	w.Flush()
	return &CSVReporter{f: f, w: w}, w.Error()
}

func (r *CSVReporter) Report(m EpochMetrics) error {
	err := r.w.Write([]string{
		strconv.Itoa(m.Epoch),
		strconv.FormatFloat(m.Loss, 'f', 6, 64),
		strconv.FormatFloat(m.Accuracy, 'f', 6, 64),
		strconv.FormatFloat(m.LR, 'g', -1, 64),
		strconv.FormatFloat(m.Elapsed.Seconds(), 'f', 3, 64),
	})
	if err != nil {
		return err
	}
	r.w.Flush()
	return r.w.Error()
}

func (r *CSVReporter) Close() error {
	r.w.Flush()
	return errors.Join(r.w.Error(), r.f.Close())
}

// SQLiteReporter stores epochs in the table
// epochs(run, epoch, loss, accuracy, lr, ts) so several runs can share one
// database file.
type SQLiteReporter struct {
	db  *sql.DB
	run string
}

func NewSQLiteReporter(path, run string) (*SQLiteReporter, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("metrics db: %w", err)
	}
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS epochs(
			run TEXT NOT NULL,
			epoch INTEGER NOT NULL,
			loss REAL,
			accuracy REAL,
			lr REAL,
			ts REAL
		)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("metrics db: %w", err)
	}
	return &SQLiteReporter{db: db, run: run}, nil
}

func (r *SQLiteReporter) Report(m EpochMetrics) error {
	_, err := r.db.Exec("INSERT INTO epochs(run, epoch, loss, accuracy, lr, ts) VALUES(?,?,?,?,?,?)",
		r.run, m.Epoch, m.Loss, m.Accuracy, m.LR, float64(time.Now().UnixMilli())/1000)
	return err
}

// Epochs reads back the rows stored for run, ordered by epoch.
func (r *SQLiteReporter) Epochs(run string) ([]EpochMetrics, error) {
	rows, err := r.db.Query("SELECT epoch, loss, accuracy, lr FROM epochs WHERE run = ? ORDER BY epoch", run)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []EpochMetrics
	for rows.Next() {
		var m EpochMetrics
		if err := rows.Scan(&m.Epoch, &m.Loss, &m.Accuracy, &m.LR); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *SQLiteReporter) Close() error {
	return r.db.Close()
}

// MultiReporter forwards each report to all of its members.
type MultiReporter []Reporter

func (mr MultiReporter) Report(m EpochMetrics) error {
	var errs []error
	for _, r := range mr {
		if err := r.Report(m); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
