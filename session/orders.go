package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"ibtrading/internal/gate"
	"ibtrading/logger"
	"ibtrading/models"
)

var (
	// ErrMissingStopPrice is returned when a bracket's stop leg has no
	// auxiliary price.
	ErrMissingStopPrice = errors.New("bracket order: stop loss aux price is required")
	// ErrMissingLimitPrice is returned when a bracket's take profit leg has
	// no limit price.
	ErrMissingLimitPrice = errors.New("bracket order: take profit limit price is required")
)

// ReqOpenOrders returns the open orders placed by this client.
func (s *Session) ReqOpenOrders(ctx context.Context, opts ...RequestOption) (Result[models.OpenOrder], error) {
	return s.openOrdersRoundTrip(ctx, "open_orders", s.client.ReqOpenOrders, opts)
}

// ReqAllOpenOrders returns the open orders of every client of the account.
func (s *Session) ReqAllOpenOrders(ctx context.Context, opts ...RequestOption) (Result[models.OpenOrder], error) {
	return s.openOrdersRoundTrip(ctx, "all_open_orders", s.client.ReqAllOpenOrders, opts)
}

func (s *Session) openOrdersRoundTrip(ctx context.Context, op string, send func() error, opts []RequestOption) (Result[models.OpenOrder], error) {
	o := buildOptions(s.cfg.Timeouts.OpenOrders, opts)
	key := gate.Key{Kind: kindOpenOrders}
	ok, elapsed, err := s.roundTrip(ctx, op, key, o.timeout, clearing(func() { s.openOrders.Reset(0) }), send)
	if err != nil {
		return Result[models.OpenOrder]{}, fmt.Errorf("%s: %w", op, err)
	}
	rows := s.openOrders.Drain(0, o.keep)
	return finish(s, op, rows, ok, elapsed), nil
}

// ReqCompletedOrders returns filled and cancelled orders. With apiOnly the
// orders entered in other front ends are left out.
func (s *Session) ReqCompletedOrders(ctx context.Context, apiOnly bool, opts ...RequestOption) (Result[models.CompletedOrder], error) {
	o := buildOptions(s.cfg.Timeouts.CompletedOrders, opts)
	key := gate.Key{Kind: kindCompletedOrders}
	ok, elapsed, err := s.roundTrip(ctx, kindCompletedOrders, key, o.timeout,
		clearing(func() { s.completed.Reset(0) }),
		func() error { return s.client.ReqCompletedOrders(apiOnly) })
	if err != nil {
		return Result[models.CompletedOrder]{}, fmt.Errorf("completed orders: %w", err)
	}
	rows := s.completed.Drain(0, o.keep)
	return finish(s, kindCompletedOrders, rows, ok, elapsed), nil
}

// PlaceOrder sends order for contract under orderID and returns without
// waiting. Status updates arrive through SubscribeOrderStatus.
func (s *Session) PlaceOrder(ctx context.Context, orderID int64, contract models.Contract, order models.Order) error {
	order.OrderID = orderID
	if order.Account == "" {
		order.Account = s.cfg.Gateway.Account
	}
	s.errLog.Infof("Placing order %d for %s, %s, %s, %s %s", orderID, contract.Symbol, contract.SecType, order.OrderType, order.Action, order.TotalQuantity)
	s.log.WithFields(logger.Fields{
		"order_id":   orderID,
		"contract":   contract.String(),
		"action":     order.Action,
		"order_type": order.OrderType,
		"quantity":   order.TotalQuantity.String(),
		"order_ref":  order.OrderRef,
	}).Info("placing order")

	if err := s.pacer.WaitMessage(ctx); err != nil {
		return err
	}
	if err := s.client.PlaceOrder(orderID, contract, order); err != nil {
		s.errLog.Errorf("Order %d not sent: %v", orderID, err)
		return fmt.Errorf("place order %d: %w", orderID, err)
	}
	return nil
}

// CancelOrder asks the gateway to cancel orderID.
func (s *Session) CancelOrder(ctx context.Context, orderID int64) error {
	s.errLog.Infof("Cancelling order %d", orderID)
	if err := s.pacer.WaitMessage(ctx); err != nil {
		return err
	}
	if err := s.client.CancelOrder(orderID, ""); err != nil {
		return fmt.Errorf("cancel order %d: %w", orderID, err)
	}
	return nil
}

// ReqGlobalCancel cancels every open order of the account.
func (s *Session) ReqGlobalCancel(ctx context.Context) error {
	s.errLog.Infof("Cancelling all open orders")
	if err := s.pacer.WaitMessage(ctx); err != nil {
		return err
	}
	if err := s.client.ReqGlobalCancel(); err != nil {
		return fmt.Errorf("global cancel: %w", err)
	}
	return nil
}

// SubscribeOrderStatus calls fn for every order status update until the
// returned function is called. fn runs on its own goroutine.
func (s *Session) SubscribeOrderStatus(fn func(models.OrderStatus)) (func(), error) {
	if err := s.bus.SubscribeAsync(TopicOrderStatus, fn, false); err != nil {
		return nil, fmt.Errorf("subscribe order status: %w", err)
	}
	return func() {
		if err := s.bus.Unsubscribe(TopicOrderStatus, fn); err != nil {
			s.log.WithError(err).Debug("order status unsubscribe")
		}
	}, nil
}

// MarketOrder returns a transmitting market order.
func MarketOrder(action string, quantity decimal.Decimal) models.Order {
	return models.NewOrder(action, models.OrderTypeMarket, quantity)
}

// LimitOrder returns a transmitting limit order at price.
func LimitOrder(action string, quantity decimal.Decimal, price float64) models.Order {
	o := models.NewOrder(action, models.OrderTypeLimit, quantity)
	o.LmtPrice = price
	return o
}

// BracketOrder links entry, stop loss and take profit legs under parentID.
// The legs get ids parentID, parentID+1 and parentID+2; only the take profit
// leg transmits, which releases the whole bracket at once. Unset actions,
// order types and quantities take the usual defaults: a market buy of one
// unit, a sell stop and a sell limit. Nothing is sent.
func BracketOrder(parentID int64, entry, stopLoss, takeProfit models.Order) ([]models.Order, error) {
	if stopLoss.AuxPrice == 0 {
		return nil, ErrMissingStopPrice
	}
	if takeProfit.LmtPrice == 0 {
		return nil, ErrMissingLimitPrice
	}

	entry = legDefaults(entry, models.ActionBuy, models.OrderTypeMarket, decimal.NewFromInt(1))
	entry.OrderID = parentID
	entry.ParentID = 0
	entry.Transmit = false

	stopLoss = legDefaults(stopLoss, models.Opposite(entry.Action), models.OrderTypeStop, entry.TotalQuantity)
	stopLoss.OrderID = parentID + 1
	stopLoss.ParentID = parentID
	stopLoss.Transmit = false

	takeProfit = legDefaults(takeProfit, models.Opposite(entry.Action), models.OrderTypeLimit, entry.TotalQuantity)
	takeProfit.OrderID = parentID + 2
	takeProfit.ParentID = parentID
	takeProfit.Transmit = true

	return []models.Order{entry, stopLoss, takeProfit}, nil
}

func legDefaults(o models.Order, action, orderType string, qty decimal.Decimal) models.Order {
	if o.Action == "" {
		o.Action = action
	}
	if o.OrderType == "" {
		o.OrderType = orderType
	}
	if o.TotalQuantity.IsZero() {
		o.TotalQuantity = qty
	}
	if o.TIF == "" {
		o.TIF = "DAY"
	}
	return o
}

// PlaceBracket sends the legs built by BracketOrder in order. It stops at
// the first failure.
func (s *Session) PlaceBracket(ctx context.Context, contract models.Contract, legs []models.Order) error {
	for _, leg := range legs {
		if err := s.PlaceOrder(ctx, leg.OrderID, contract, leg); err != nil {
			return err
		}
	}
	return nil
}
