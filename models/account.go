package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Position is a held quantity of a contract in an account.
type Position struct {
	Account  string          `json:"account"`
	Contract Contract        `json:"contract"`
	Quantity decimal.Decimal `json:"position"`
	AvgCost  float64         `json:"avg_cost"`
}

// Value is the cost basis of the position.
func (p Position) Value() decimal.Decimal {
	return p.Quantity.Mul(decimal.NewFromFloat(p.AvgCost))
}

func (p Position) Columns() []string {
	return []string{"Account", "Symbol", "SecType", "Currency", "Expiry", "Strike", "Right", "Position", "AvgCost"}
}

func (p Position) Values() []string {
	c := p.Contract
	return []string{
		p.Account, c.Symbol, c.SecType, c.Currency, c.LastTradeDateOrContractMonth,
		formatFloat(c.Strike), c.Right, p.Quantity.String(), formatFloat(p.AvgCost),
	}
}

// NetQuantity sums the quantity held in symbol across all rows.
func NetQuantity(positions []Position, symbol string) decimal.Decimal {
	total := decimal.Zero
	for _, p := range positions {
		if p.Contract.Symbol == symbol {
			total = total.Add(p.Quantity)
		}
	}
	return total
}

// AccountValue is one tag of an account summary.
type AccountValue struct {
	ReqID    int64  `json:"req_id"`
	Account  string `json:"account"`
	Tag      string `json:"tag"`
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

func (v AccountValue) Columns() []string {
	return []string{"ReqId", "Account", "Tag", "Value", "Currency"}
}

func (v AccountValue) Values() []string {
	return []string{fmt.Sprint(v.ReqID), v.Account, v.Tag, v.Value, v.Currency}
}

// PnL is the daily, unrealized and realized profit and loss of an account.
type PnL struct {
	ReqID         int64   `json:"req_id"`
	DailyPnL      float64 `json:"daily_pnl"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	RealizedPnL   float64 `json:"realized_pnl"`
}

func (p PnL) Columns() []string {
	return []string{"ReqId", "DailyPnL", "UnrealizedPnL", "RealizedPnL"}
}

func (p PnL) Values() []string {
	return []string{fmt.Sprint(p.ReqID), formatFloat(p.DailyPnL), formatFloat(p.UnrealizedPnL), formatFloat(p.RealizedPnL)}
}
