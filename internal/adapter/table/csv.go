package table

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/couchcryptid/climate-prep-etl/internal/domain"
)

var (
	amoHeader       = []string{"year", "month", "amo_value"}
	detectionHeader = []string{"YYYYMMDD", "HHMM", "sat", "lat", "lon", "conf"}
)

// EncodeAMO writes records as CSV with a year,month,amo_value header. A nil
// value is written as an empty field.
func EncodeAMO(w io.Writer, records []domain.AMORecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(amoHeader); err != nil {
		return err
	}
	for _, r := range records {
		value := ""
		if r.Value != nil {
			value = strconv.FormatFloat(*r.Value, 'f', -1, 64)
		}
		if err := cw.Write([]string{strconv.Itoa(r.Year), strconv.Itoa(r.Month), value}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteAMOFile writes records to path, replacing it atomically.
func WriteAMOFile(path string, records []domain.AMORecord) error {
	f, err := createTemp(path)
	if err != nil {
		return err
	}
	if err := EncodeAMO(f, records); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return fmt.Errorf("write %s: %w", path, err)
	}
	return commit(f, path)
}

// ReadAMOCSV parses a file written by EncodeAMO.
func ReadAMOCSV(r io.Reader) ([]domain.AMORecord, error) {
	rows, err := readCSV(r, amoHeader)
	if err != nil {
		return nil, err
	}
	records := make([]domain.AMORecord, 0, len(rows))
	for i, row := range rows {
		var rec domain.AMORecord
		if rec.Year, err = strconv.Atoi(row[0]); err != nil {
			return nil, fmt.Errorf("row %d: %w: year %q", i+2, ErrBadRow, row[0])
		}
		if rec.Month, err = strconv.Atoi(row[1]); err != nil {
			return nil, fmt.Errorf("row %d: %w: month %q", i+2, ErrBadRow, row[1])
		}
		if row[2] != "" {
			v, err := strconv.ParseFloat(row[2], 64)
			if err != nil {
				return nil, fmt.Errorf("row %d: %w: amo_value %q", i+2, ErrBadRow, row[2])
			}
			rec.Value = &v
		}
		records = append(records, rec)
	}
	return records, nil
}

// DetectionCSV streams projected detections into a CSV file. Rows go to a
// hidden temporary file that Close renames into place; Abort discards it.
type DetectionCSV struct {
	path string
	file *os.File
	csv  *csv.Writer
	rows int
}

// NewDetectionCSV creates the output and writes its header.
func NewDetectionCSV(path string) (*DetectionCSV, error) {
	f, err := createTemp(path)
	if err != nil {
		return nil, err
	}
	w := &DetectionCSV{path: path, file: f, csv: csv.NewWriter(f)}
	if err := w.csv.Write(detectionHeader); err != nil {
		w.Abort()
		return nil, err
	}
	return w, nil
}

// LoadBatch appends detections in order.
func (w *DetectionCSV) LoadBatch(_ context.Context, detections []domain.FireDetection) error {
	for _, d := range detections {
		if err := w.csv.Write([]string{d.Date, d.Time, d.Satellite, d.LatText, d.LonText, d.ConfText}); err != nil {
			return fmt.Errorf("write %s: %w", w.path, err)
		}
	}
	w.rows += len(detections)
	return nil
}

// Rows returns the number of data rows written so far.
func (w *DetectionCSV) Rows() int {
	return w.rows
}

func (w *DetectionCSV) Close() error {
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		w.Abort()
		return fmt.Errorf("write %s: %w", w.path, err)
	}
	return commit(w.file, w.path)
}

// Abort removes the partial output.
func (w *DetectionCSV) Abort() {
	_ = w.file.Close()
	_ = os.Remove(w.file.Name())
}

// ReadDetectionCSV parses a file written by DetectionCSV. Type is not part of
// the projection and is left zero.
func ReadDetectionCSV(r io.Reader) ([]domain.FireDetection, error) {
	rows, err := readCSV(r, detectionHeader)
	if err != nil {
		return nil, err
	}
	out := make([]domain.FireDetection, 0, len(rows))
	idx := map[string]int{"YYYYMMDD": 0, "HHMM": 1, "sat": 2, "lat": 3, "lon": 4, "conf": 5, "type": 6}
	for i, row := range rows {
		d, err := parseDetection(append(row[:6:6], "0"), idx)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		out = append(out, d)
	}
	return out, nil
}

func readCSV(r io.Reader, header []string) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(header)
	got, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("empty file")
	}
	if err != nil {
		return nil, err
	}
	for i, name := range header {
		if got[i] != name {
			return nil, fmt.Errorf("%w: header %v, want %v", ErrMissingColumn, got, header)
		}
	}
	return cr.ReadAll()
}

func createTemp(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return f, nil
}

func commit(f *os.File, path string) error {
	if err := f.Chmod(0o644); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(f.Name(), path); err != nil {
		_ = os.Remove(f.Name())
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
