package models

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Market data types accepted by the gateway's data-mode switch.
const (
	MarketDataLive          = 1
	MarketDataFrozen        = 2
	MarketDataDelayed       = 3
	MarketDataDelayedFrozen = 4
)

// HeadTimestampLayout is the layout of the oldest-available timestamp.
const HeadTimestampLayout = "20060102 15:04:05"

// Bar is one historical OHLCV record.
type Bar struct {
	Date     string          `json:"date"`
	Time     time.Time       `json:"-"`
	Open     float64         `json:"open"`
	High     float64         `json:"high"`
	Low      float64         `json:"low"`
	Close    float64         `json:"close"`
	Volume   decimal.Decimal `json:"volume"`
	WAP      decimal.Decimal `json:"wap"`
	BarCount int64           `json:"bar_count"`
}

func (b Bar) Columns() []string {
	return []string{"Date", "Open", "High", "Low", "Close", "Volume"}
}

func (b Bar) Values() []string {
	date := b.Date
	if !b.Time.IsZero() {
		date = b.Time.Format(time.DateTime)
	}
	return []string{date, formatFloat(b.Open), formatFloat(b.High), formatFloat(b.Low), formatFloat(b.Close), b.Volume.String()}
}

// BarSeries is an ordered, time indexed table of bars.
type BarSeries []Bar

// NewBarSeries parses every bar date and orders the series by time.
// Bars whose date cannot be parsed keep a zero Time and sort first.
func NewBarSeries(bars []Bar) BarSeries {
	series := make(BarSeries, len(bars))
	for i, b := range bars {
		if b.Time.IsZero() {
			if t, err := ParseBarTime(b.Date); err == nil {
				b.Time = t
			}
		}
		series[i] = b
	}
	sort.SliceStable(series, func(i, j int) bool { return series[i].Time.Before(series[j].Time) })
	return series
}

// Index returns the time index of the series.
func (s BarSeries) Index() []time.Time {
	idx := make([]time.Time, len(s))
	for i, b := range s {
		idx[i] = b.Time
	}
	return idx
}

// At returns the bar stamped exactly at t.
func (s BarSeries) At(t time.Time) (Bar, bool) {
	i := sort.Search(len(s), func(i int) bool { return !s[i].Time.Before(t) })
	if i < len(s) && s[i].Time.Equal(t) {
		return s[i], true
	}
	return Bar{}, false
}

// Slice returns bars in the half open interval [from, to).
func (s BarSeries) Slice(from, to time.Time) BarSeries {
	lo := sort.Search(len(s), func(i int) bool { return !s[i].Time.Before(from) })
	hi := sort.Search(len(s), func(i int) bool { return !s[i].Time.Before(to) })
	if lo >= hi {
		return nil
	}
	return s[lo:hi]
}

// ParseBarTime understands the date formats the gateway emits for bars:
// "20060102" for daily bars, "20060102 15:04:05" optionally followed by a
// time zone name, and epoch seconds when dates are requested as integers.
func ParseBarTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty bar date")
	}
	if len(s) == 8 {
		return time.Parse("20060102", s)
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	if len(s) < len(HeadTimestampLayout) {
		return time.Time{}, fmt.Errorf("unrecognised bar date %q", s)
	}
	loc := time.UTC
	if rest := strings.TrimSpace(s[len(HeadTimestampLayout):]); rest != "" {
		l, err := time.LoadLocation(rest)
		if err != nil {
			return time.Time{}, fmt.Errorf("bar date %q: %w", s, err)
		}
		loc = l
	}
	return time.ParseInLocation(HeadTimestampLayout, s[:len(HeadTimestampLayout)], loc)
}

// HistoricalRequest carries the parameters of a historical bars request.
type HistoricalRequest struct {
	EndDateTime  string     `json:"end_date_time"`
	Duration     string     `json:"duration"`
	BarSize      string     `json:"bar_size"`
	WhatToShow   string     `json:"what_to_show"`
	UseRTH       *bool      `json:"use_rth,omitempty"`
	FormatDate   int        `json:"format_date"`
	KeepUpToDate bool       `json:"keep_up_to_date"`
	ChartOptions []TagValue `json:"chart_options,omitempty"`
}

// RegularHours reports whether only regular trading hours are requested.
// An unset UseRTH means true.
func (r HistoricalRequest) RegularHours() bool {
	return r.UseRTH == nil || *r.UseRTH
}

// Bool returns a pointer to v, for optional request fields.
func Bool(v bool) *bool {
	return &v
}

// DefaultHistoricalRequest returns the usual daily request:
// one year of adjusted daily bars inside regular trading hours.
func DefaultHistoricalRequest() HistoricalRequest {
	return HistoricalRequest{
		Duration:   "1 Y",
		BarSize:    "1 day",
		WhatToShow: "ADJUSTED_LAST",
		UseRTH:     Bool(true),
		FormatDate: 1,
	}
}

// TagValue is a free-form option pair passed along with some requests.
type TagValue struct {
	Tag   string `json:"tag"`
	Value string `json:"value"`
}
