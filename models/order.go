package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order actions.
const (
	ActionBuy  = "BUY"
	ActionSell = "SELL"
)

// Order types used by the builders.
const (
	OrderTypeMarket = "MKT"
	OrderTypeLimit  = "LMT"
	OrderTypeStop   = "STP"
)

// Order is an instruction to trade a contract. Prices are left at zero when
// the order type does not use them.
type Order struct {
	OrderID       int64           `json:"order_id"`
	ParentID      int64           `json:"parent_id,omitempty"`
	Account       string          `json:"account,omitempty"`
	Action        string          `json:"action"`
	OrderType     string          `json:"order_type"`
	TotalQuantity decimal.Decimal `json:"total_quantity"`
	LmtPrice      float64         `json:"lmt_price,omitempty"`
	AuxPrice      float64         `json:"aux_price,omitempty"`
	TIF           string          `json:"tif,omitempty"`
	OrderRef      string          `json:"order_ref,omitempty"`
	Transmit      bool            `json:"transmit"`
}

// NewOrder returns a transmitting order with a fresh order reference.
func NewOrder(action, orderType string, quantity decimal.Decimal) Order {
	return Order{
		Action:        action,
		OrderType:     orderType,
		TotalQuantity: quantity,
		TIF:           "DAY",
		OrderRef:      uuid.NewString(),
		Transmit:      true,
	}
}

// Opposite returns the action that closes a position opened with action.
func Opposite(action string) string {
	if action == ActionBuy {
		return ActionSell
	}
	return ActionBuy
}

// OrderState is the server side state attached to open and completed orders.
type OrderState struct {
	Status             string          `json:"status"`
	Commission         float64         `json:"commission,omitempty"`
	CommissionCurrency string          `json:"commission_currency,omitempty"`
	InitMarginChange   string          `json:"init_margin_change,omitempty"`
	CompletedTime      string          `json:"completed_time,omitempty"`
	CompletedStatus    string          `json:"completed_status,omitempty"`
	WarningText        string          `json:"warning_text,omitempty"`
	Filled             decimal.Decimal `json:"filled"`
}

// OpenOrder is one row of an open orders listing.
type OpenOrder struct {
	OrderID  int64      `json:"order_id"`
	Contract Contract   `json:"contract"`
	Order    Order      `json:"order"`
	State    OrderState `json:"state"`
}

func (o OpenOrder) Columns() []string {
	return []string{"OrderID", "Symbol", "SecType", "Exchange", "Action", "OrderType", "Quantity", "LmtPrice", "AuxPrice", "Status"}
}

func (o OpenOrder) Values() []string {
	return []string{
		fmt.Sprint(o.OrderID), o.Contract.Symbol, o.Contract.SecType, o.Contract.Exchange,
		o.Order.Action, o.Order.OrderType, o.Order.TotalQuantity.String(),
		formatFloat(o.Order.LmtPrice), formatFloat(o.Order.AuxPrice), o.State.Status,
	}
}

// CompletedOrder is one row of the completed orders listing.
type CompletedOrder struct {
	Contract Contract   `json:"contract"`
	Order    Order      `json:"order"`
	State    OrderState `json:"state"`
}

func (o CompletedOrder) Columns() []string {
	return []string{"OrderID", "Symbol", "SecType", "Action", "OrderType", "Quantity", "Status", "CompletedTime"}
}

func (o CompletedOrder) Values() []string {
	status := o.State.CompletedStatus
	if status == "" {
		status = o.State.Status
	}
	return []string{
		fmt.Sprint(o.Order.OrderID), o.Contract.Symbol, o.Contract.SecType,
		o.Order.Action, o.Order.OrderType, o.Order.TotalQuantity.String(),
		status, o.State.CompletedTime,
	}
}

// OrderStatus is a status update for a placed order.
type OrderStatus struct {
	OrderID       int64           `json:"order_id"`
	Status        string          `json:"status"`
	Filled        decimal.Decimal `json:"filled"`
	Remaining     decimal.Decimal `json:"remaining"`
	AvgFillPrice  float64         `json:"avg_fill_price"`
	PermID        int64           `json:"perm_id"`
	ParentID      int64           `json:"parent_id"`
	LastFillPrice float64         `json:"last_fill_price"`
	ClientID      int64           `json:"client_id"`
	WhyHeld       string          `json:"why_held,omitempty"`
	ReceivedAt    time.Time       `json:"-"`
}

// Done reports whether no further status updates are expected.
func (s OrderStatus) Done() bool {
	switch s.Status {
	case "Filled", "Cancelled", "ApiCancelled", "Inactive":
		return true
	}
	return false
}
