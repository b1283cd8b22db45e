package models

import (
	"fmt"
	"strings"
)

// Security types understood by the gateway.
const (
	SecTypeStock  = "STK"
	SecTypeOption = "OPT"
	SecTypeFuture = "FUT"
	SecTypeForex  = "CASH"
	SecTypeIndex  = "IND"
)

// Contract is a loosely or fully specified instrument descriptor.
type Contract struct {
	ConID                        int64   `json:"con_id,omitempty"`
	Symbol                       string  `json:"symbol"`
	SecType                      string  `json:"sec_type"`
	Exchange                     string  `json:"exchange,omitempty"`
	PrimaryExchange              string  `json:"primary_exchange,omitempty"`
	Currency                     string  `json:"currency,omitempty"`
	LastTradeDateOrContractMonth string  `json:"last_trade_date_or_contract_month,omitempty"`
	Strike                       float64 `json:"strike,omitempty"`
	Right                        string  `json:"right,omitempty"`
	Multiplier                   string  `json:"multiplier,omitempty"`
	LocalSymbol                  string  `json:"local_symbol,omitempty"`
	TradingClass                 string  `json:"trading_class,omitempty"`
}

// NewStock returns a SMART routed stock contract.
func NewStock(symbol, currency string) Contract {
	return Contract{Symbol: strings.ToUpper(symbol), SecType: SecTypeStock, Exchange: "SMART", Currency: currency}
}

// NewOption returns an option contract. right is "C" or "P".
func NewOption(symbol, expiry string, strike float64, right, exchange, currency string) Contract {
	return Contract{
		Symbol:                       strings.ToUpper(symbol),
		SecType:                      SecTypeOption,
		Exchange:                     exchange,
		Currency:                     currency,
		LastTradeDateOrContractMonth: expiry,
		Strike:                       strike,
		Right:                        strings.ToUpper(right),
	}
}

// NewFuture returns a futures contract for the given contract month.
func NewFuture(symbol, expiry, exchange, currency string) Contract {
	return Contract{
		Symbol:                       strings.ToUpper(symbol),
		SecType:                      SecTypeFuture,
		Exchange:                     exchange,
		Currency:                     currency,
		LastTradeDateOrContractMonth: expiry,
	}
}

func (c Contract) String() string {
	switch c.SecType {
	case SecTypeOption:
		return fmt.Sprintf("%s %s %s %g %s", c.SecType, c.Symbol, c.LastTradeDateOrContractMonth, c.Strike, c.Right)
	case SecTypeFuture:
		return fmt.Sprintf("%s %s %s", c.SecType, c.Symbol, c.LastTradeDateOrContractMonth)
	default:
		return fmt.Sprintf("%s %s", c.SecType, c.Symbol)
	}
}

// ContractDetails is a fully resolved contract as returned by a contract lookup.
type ContractDetails struct {
	Contract       Contract `json:"contract"`
	MarketName     string   `json:"market_name,omitempty"`
	MinTick        float64  `json:"min_tick,omitempty"`
	LongName       string   `json:"long_name,omitempty"`
	Industry       string   `json:"industry,omitempty"`
	Category       string   `json:"category,omitempty"`
	TimeZoneID     string   `json:"time_zone_id,omitempty"`
	TradingHours   string   `json:"trading_hours,omitempty"`
	LiquidHours    string   `json:"liquid_hours,omitempty"`
	ContractMonth  string   `json:"contract_month,omitempty"`
	UnderConID     int64    `json:"under_con_id,omitempty"`
	MarketRuleIDs  string   `json:"market_rule_ids,omitempty"`
	ValidExchanges string   `json:"valid_exchanges,omitempty"`
}

func (cd ContractDetails) Columns() []string {
	return []string{"ConID", "Symbol", "SecType", "Exchange", "Currency", "Expiry", "Strike", "Right", "LongName"}
}

func (cd ContractDetails) Values() []string {
	c := cd.Contract
	return []string{
		fmt.Sprint(c.ConID), c.Symbol, c.SecType, c.Exchange, c.Currency,
		c.LastTradeDateOrContractMonth, formatFloat(c.Strike), c.Right, cd.LongName,
	}
}
