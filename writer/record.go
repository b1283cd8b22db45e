// Package writer persists historical bars: a SQLite table per instrument,
// Parquet archives with optional S3 upload, and CSV exports.
package writer

import (
	"time"

	"ibtrading/models"
)

// DateLayout is the textual form of a bar date in every output.
const DateLayout = "2006-01-02 15:04:05"

// BarRecord is the flat row written for one bar.
type BarRecord struct {
	Date   string  `gorm:"column:date;type:DATETIME;primaryKey" csv:"date"`
	Open   float64 `gorm:"column:open;type:REAL" csv:"open"`
	High   float64 `gorm:"column:high;type:REAL" csv:"high"`
	Low    float64 `gorm:"column:low;type:REAL" csv:"low"`
	Close  float64 `gorm:"column:close;type:REAL" csv:"close"`
	Volume int64   `gorm:"column:volume;type:INTEGER" csv:"volume"`
}

// Records flattens bars. Bars whose time is unknown keep the gateway's
// date string.
func Records(bars []models.Bar) []BarRecord {
	out := make([]BarRecord, 0, len(bars))
	for _, b := range bars {
		out = append(out, BarRecord{
			Date:   barDate(b),
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: b.Volume.IntPart(),
		})
	}
	return out
}

func barTime(b models.Bar) (time.Time, bool) {
	if !b.Time.IsZero() {
		return b.Time, true
	}
	t, err := models.ParseBarTime(b.Date)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func barDate(b models.Bar) string {
	if t, ok := barTime(b); ok {
		return t.Format(DateLayout)
	}
	return b.Date
}
