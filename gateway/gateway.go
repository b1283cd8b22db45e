// Package gateway is the seam between a session and the brokerage gateway.
// A Client sends requests; replies arrive asynchronously as tagged Messages
// delivered to a Dispatcher from the client's receive loop.
package gateway

import (
	"context"

	"ibtrading/models"
)

// Message is one inbound gateway event. Exactly one payload field is set,
// selected by Kind; terminal kinds without a body carry none.
type Message struct {
	Kind  Kind
	ReqID int64

	OrderID         int64
	Timestamp       string
	Start           string
	End             string
	ContractDetails *models.ContractDetails
	Bar             *models.Bar
	Position        *models.Position
	AccountValue    *models.AccountValue
	PnL             *models.PnL
	OpenOrder       *models.OpenOrder
	OrderStatus     *models.OrderStatus
	CompletedOrder  *models.CompletedOrder
	ScannerRow      *models.ScannerRow
	Error           *models.GatewayError
}

// Dispatcher receives inbound messages on the client's receive goroutine.
type Dispatcher interface {
	Dispatch(Message)
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(Message)

func (f DispatcherFunc) Dispatch(m Message) { f(m) }

// Client is the outbound capability of a gateway connection. Requests are
// fire and forget; their replies come back through Run.
type Client interface {
	Connect(ctx context.Context, host string, port int, clientID int64) error
	Disconnect() error
	IsConnected() bool
	// Run delivers inbound messages to d until the connection ends or ctx
	// is cancelled.
	Run(ctx context.Context, d Dispatcher) error

	ReqIDs(numIDs int) error
	ReqContractDetails(reqID int64, contract models.Contract) error
	ReqMarketDataType(marketDataType int) error
	ReqHistoricalData(reqID int64, contract models.Contract, req models.HistoricalRequest) error
	CancelHistoricalData(reqID int64) error
	ReqHeadTimeStamp(reqID int64, contract models.Contract, whatToShow string, useRTH bool, formatDate int) error
	ReqPositions() error
	CancelPositions() error
	ReqAccountSummary(reqID int64, group, tags string) error
	CancelAccountSummary(reqID int64) error
	ReqPnL(reqID int64, account, modelCode string) error
	CancelPnL(reqID int64) error
	ReqOpenOrders() error
	ReqAllOpenOrders() error
	ReqCompletedOrders(apiOnly bool) error
	PlaceOrder(orderID int64, contract models.Contract, order models.Order) error
	CancelOrder(orderID int64, manualCancelOrderTime string) error
	ReqGlobalCancel() error
	ReqScannerSubscription(reqID int64, sub models.ScannerSubscription, options, filters []models.TagValue) error
	CancelScannerSubscription(reqID int64) error
}
