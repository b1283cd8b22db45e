package models

import (
	"fmt"
	"time"
)

// ScannerSubscription describes a market scan.
type ScannerSubscription struct {
	NumberOfRows          int     `json:"number_of_rows"`
	Instrument            string  `json:"instrument"`
	LocationCode          string  `json:"location_code"`
	ScanCode              string  `json:"scan_code"`
	AbovePrice            float64 `json:"above_price,omitempty"`
	BelowPrice            float64 `json:"below_price,omitempty"`
	AboveVolume           int64   `json:"above_volume,omitempty"`
	MarketCapAbove        float64 `json:"market_cap_above,omitempty"`
	MarketCapBelow        float64 `json:"market_cap_below,omitempty"`
	StockTypeFilter       string  `json:"stock_type_filter,omitempty"`
	AverageOptionVolAbove int64   `json:"average_option_volume_above,omitempty"`
}

// ScannerRow is one ranked result of a scan.
type ScannerRow struct {
	ReqID      int64           `json:"req_id"`
	Rank       int             `json:"rank"`
	Details    ContractDetails `json:"contract_details"`
	Distance   string          `json:"distance,omitempty"`
	Benchmark  string          `json:"benchmark,omitempty"`
	Projection string          `json:"projection,omitempty"`
	LegsStr    string          `json:"legs_str,omitempty"`
}

func (r ScannerRow) Columns() []string {
	return []string{"ReqId", "Rank", "Symbol", "SecType", "Currency", "Exchange", "ContractDetails"}
}

func (r ScannerRow) Values() []string {
	c := r.Details.Contract
	return []string{fmt.Sprint(r.ReqID), fmt.Sprint(r.Rank), c.Symbol, c.SecType, c.Currency, c.Exchange, r.Details.LongName}
}

// GatewayError is an error or informational notice pushed by the gateway.
type GatewayError struct {
	ReqID   int64     `json:"req_id"`
	Code    int       `json:"code"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

func (e GatewayError) Error() string {
	return fmt.Sprintf("reqId %d: code %d: %s", e.ReqID, e.Code, e.Message)
}

// Informational reports whether the code is one of the gateway's connectivity
// notices (market data farm status and similar) rather than a failure.
func (e GatewayError) Informational() bool {
	switch e.Code {
	case 2104, 2106, 2107, 2108, 2119, 2158:
		return true
	}
	return false
}
