// Package gatewaytest provides a scripted in-process gateway for tests.
package gatewaytest

import (
	"context"
	"errors"
	"sync"
	"time"

	"ibtrading/gateway"
	"ibtrading/models"
)

// Call is one outbound request received by the fake.
type Call struct {
	Op    string
	ReqID int64
	Args  interface{}
}

// Responder scripts the replies to a call.
type Responder func(Call) []gateway.Message

// Fake is a gateway.Client whose replies are scripted per operation. Replies
// are delivered from the Run goroutine after Delay, as a real gateway would.
type Fake struct {
	// NextValidID is announced when Run starts unless SkipHandshake is set.
	NextValidID   int64
	SkipHandshake bool
	Delay         time.Duration
	ConnectErr    error

	mu         sync.Mutex
	calls      []Call
	responders map[string]Responder
	connected  bool
	ready      chan struct{}
	stopped    chan struct{}
	inbox      chan gateway.Message
}

func New() *Fake {
	return &Fake{
		NextValidID: 1,
		responders:  make(map[string]Responder),
		ready:       make(chan struct{}),
		stopped:     make(chan struct{}),
		inbox:       make(chan gateway.Message, 1024),
	}
}

// On scripts the replies for op, replacing any earlier script.
func (f *Fake) On(op string, r Responder) {
	f.mu.Lock()
	f.responders[op] = r
	f.mu.Unlock()
}

// Reply is a Responder that always answers with msgs.
func Reply(msgs ...gateway.Message) Responder {
	return func(Call) []gateway.Message { return msgs }
}

// Calls returns the outbound requests in the order they were sent.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// Ops returns the operation names of Calls.
func (f *Fake) Ops() []string {
	calls := f.Calls()
	ops := make([]string, len(calls))
	for i, c := range calls {
		ops[i] = c.Op
	}
	return ops
}

// CallsTo returns the calls made to op.
func (f *Fake) CallsTo(op string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Push delivers msgs as unsolicited gateway messages.
func (f *Fake) Push(msgs ...gateway.Message) {
	f.mu.Lock()
	ready, stopped := f.ready, f.stopped
	f.mu.Unlock()
	go f.deliver(ready, stopped, 0, msgs)
}

func (f *Fake) deliver(ready, stopped <-chan struct{}, delay time.Duration, msgs []gateway.Message) {
	select {
	case <-ready:
	case <-stopped:
		return
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-stopped:
			return
		}
	}
	for _, m := range msgs {
		select {
		case f.inbox <- m:
		case <-stopped:
			return
		}
	}
}

func (f *Fake) Connect(ctx context.Context, host string, port int, clientID int64) error {
	if f.ConnectErr != nil {
		return f.ConnectErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connected {
		return errors.New("already connected")
	}
	f.connected = true
	f.ready = make(chan struct{})
	f.stopped = make(chan struct{})
	return nil
}

func (f *Fake) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return nil
	}
	f.connected = false
	close(f.stopped)
	return nil
}

func (f *Fake) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// Run dispatches scripted replies until Disconnect or ctx ends, then
// reports the closed connection.
func (f *Fake) Run(ctx context.Context, d gateway.Dispatcher) error {
	f.mu.Lock()
	if !f.connected {
		f.mu.Unlock()
		return gateway.ErrNotConnected
	}
	ready, stopped := f.ready, f.stopped
	close(ready)
	f.mu.Unlock()

	if !f.SkipHandshake {
		d.Dispatch(gateway.Message{Kind: gateway.KindNextValidID, ReqID: -1, OrderID: f.NextValidID})
	}

	for {
		select {
		case m := <-f.inbox:
			d.Dispatch(m)
		case <-stopped:
			d.Dispatch(gateway.Message{Kind: gateway.KindConnectionClosed, ReqID: -1})
			return nil
		case <-ctx.Done():
			_ = f.Disconnect()
			d.Dispatch(gateway.Message{Kind: gateway.KindConnectionClosed, ReqID: -1})
			return ctx.Err()
		}
	}
}

func (f *Fake) record(op string, reqID int64, args interface{}) error {
	f.mu.Lock()
	if !f.connected {
		f.mu.Unlock()
		return gateway.ErrNotConnected
	}
	call := Call{Op: op, ReqID: reqID, Args: args}
	f.calls = append(f.calls, call)
	r := f.responders[op]
	ready, stopped := f.ready, f.stopped
	f.mu.Unlock()

	if r != nil {
		if msgs := r(call); len(msgs) > 0 {
			go f.deliver(ready, stopped, f.Delay, msgs)
		}
	}
	return nil
}

func (f *Fake) ReqIDs(numIDs int) error {
	return f.record(gateway.OpReqIDs, 0, gateway.IDsArgs{NumIDs: numIDs})
}

func (f *Fake) ReqContractDetails(reqID int64, contract models.Contract) error {
	return f.record(gateway.OpReqContractDetails, reqID, gateway.ContractArgs{Contract: contract})
}

func (f *Fake) ReqMarketDataType(marketDataType int) error {
	return f.record(gateway.OpReqMarketDataType, 0, gateway.MarketDataTypeArgs{MarketDataType: marketDataType})
}

func (f *Fake) ReqHistoricalData(reqID int64, contract models.Contract, req models.HistoricalRequest) error {
	return f.record(gateway.OpReqHistoricalData, reqID, gateway.HistoricalArgs{Contract: contract, Request: req})
}

func (f *Fake) CancelHistoricalData(reqID int64) error {
	return f.record(gateway.OpCancelHistoricalData, reqID, nil)
}

func (f *Fake) ReqHeadTimeStamp(reqID int64, contract models.Contract, whatToShow string, useRTH bool, formatDate int) error {
	return f.record(gateway.OpReqHeadTimeStamp, reqID, gateway.HeadTimestampArgs{
		Contract: contract, WhatToShow: whatToShow, UseRTH: useRTH, FormatDate: formatDate,
	})
}

func (f *Fake) ReqPositions() error {
	return f.record(gateway.OpReqPositions, 0, nil)
}

func (f *Fake) CancelPositions() error {
	return f.record(gateway.OpCancelPositions, 0, nil)
}

func (f *Fake) ReqAccountSummary(reqID int64, group, tags string) error {
	return f.record(gateway.OpReqAccountSummary, reqID, gateway.AccountSummaryArgs{Group: group, Tags: tags})
}

func (f *Fake) CancelAccountSummary(reqID int64) error {
	return f.record(gateway.OpCancelAccountSummary, reqID, nil)
}

func (f *Fake) ReqPnL(reqID int64, account, modelCode string) error {
	return f.record(gateway.OpReqPnL, reqID, gateway.PnLArgs{Account: account, ModelCode: modelCode})
}

func (f *Fake) CancelPnL(reqID int64) error {
	return f.record(gateway.OpCancelPnL, reqID, nil)
}

func (f *Fake) ReqOpenOrders() error {
	return f.record(gateway.OpReqOpenOrders, 0, nil)
}

func (f *Fake) ReqAllOpenOrders() error {
	return f.record(gateway.OpReqAllOpenOrders, 0, nil)
}

func (f *Fake) ReqCompletedOrders(apiOnly bool) error {
	return f.record(gateway.OpReqCompletedOrders, 0, gateway.CompletedOrdersArgs{APIOnly: apiOnly})
}

func (f *Fake) PlaceOrder(orderID int64, contract models.Contract, order models.Order) error {
	return f.record(gateway.OpPlaceOrder, orderID, gateway.PlaceOrderArgs{Contract: contract, Order: order})
}

func (f *Fake) CancelOrder(orderID int64, manualCancelOrderTime string) error {
	return f.record(gateway.OpCancelOrder, orderID, gateway.CancelOrderArgs{ManualCancelOrderTime: manualCancelOrderTime})
}

func (f *Fake) ReqGlobalCancel() error {
	return f.record(gateway.OpReqGlobalCancel, 0, nil)
}

func (f *Fake) ReqScannerSubscription(reqID int64, sub models.ScannerSubscription, options, filters []models.TagValue) error {
	return f.record(gateway.OpReqScannerSubscription, reqID, gateway.ScannerArgs{Subscription: sub, Options: options, Filters: filters})
}

func (f *Fake) CancelScannerSubscription(reqID int64) error {
	return f.record(gateway.OpCancelScannerSubscription, reqID, nil)
}

var _ gateway.Client = (*Fake)(nil)
