package writer

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"

	"ibtrading/models"
)

// ExportCSV writes bars with a header row.
func ExportCSV(w io.Writer, bars []models.Bar) error {
	rows := Records(bars)
	if err := gocsv.Marshal(&rows, w); err != nil {
		return fmt.Errorf("marshal bars: %w", err)
	}
	return nil
}

// ExportCSVFile writes bars to path, creating parent directories.
func ExportCSVFile(path string, bars []models.Bar) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer file.Close()

	rows := Records(bars)
	if err := gocsv.MarshalFile(&rows, file); err != nil {
		return fmt.Errorf("marshal bars: %w", err)
	}
	return nil
}

// ImportCSV reads bars written by ExportCSV.
func ImportCSV(r io.Reader) ([]BarRecord, error) {
	var rows []BarRecord
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("unmarshal bars: %w", err)
	}
	return rows, nil
}
