package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ibtrading/config"
	"ibtrading/logger"
	"ibtrading/models"
)

// SummaryTags are the account values reported by Summary.
const SummaryTags = "AccountType,NetLiquidation,TotalCashValue,AvailableFunds"

const summaryReqID = 1

// ErrAccountRequired is returned by EndSession when positions would be
// flattened in a production-like environment without a named account.
var ErrAccountRequired = errors.New("closing positions needs an explicit account")

// HasExposure reports whether symbol has an open order from any client or
// a non-zero net position.
func (s *Session) HasExposure(ctx context.Context, symbol string) (bool, error) {
	orders, err := s.ReqAllOpenOrders(ctx)
	if err != nil {
		return false, err
	}
	for _, o := range orders.Rows {
		if o.Contract.Symbol == symbol {
			return true, nil
		}
	}

	positions, err := s.ReqPositions(ctx)
	if err != nil {
		return false, err
	}
	return !models.NetQuantity(positions.Rows, symbol).IsZero(), nil
}

// AccountSnapshot is the state of an account at one point of the session.
type AccountSnapshot struct {
	Positions       Result[models.Position]
	PnL             Result[models.PnL]
	OpenOrders      Result[models.OpenOrder]
	AccountSummary  Result[models.AccountValue]
	CompletedOrders Result[models.CompletedOrder]
}

// Summary collects positions, PnL, open orders, the SummaryTags account
// values and completed orders for account. Sections that time out are left
// empty.
func (s *Session) Summary(ctx context.Context, account string) (AccountSnapshot, error) {
	var snap AccountSnapshot
	var err error

	if snap.Positions, err = s.ReqPositions(ctx); err != nil {
		return snap, err
	}
	if snap.PnL, err = s.ReqPnL(ctx, summaryReqID, account); err != nil {
		return snap, err
	}
	if snap.OpenOrders, err = s.ReqAllOpenOrders(ctx); err != nil {
		return snap, err
	}
	if snap.AccountSummary, err = s.ReqAccountSummary(ctx, summaryReqID, DefaultSummaryGroup, SummaryTags); err != nil {
		return snap, err
	}
	if snap.CompletedOrders, err = s.ReqCompletedOrders(ctx, false); err != nil {
		return snap, err
	}

	s.log.WithFields(logger.Fields{
		"account":          account,
		"positions":        snap.Positions.Outcome.String(),
		"pnl":              snap.PnL.Outcome.String(),
		"open_orders":      snap.OpenOrders.Len(),
		"account_values":   snap.AccountSummary.Len(),
		"completed_orders": snap.CompletedOrders.Len(),
	}).Info("session summary")
	return snap, nil
}

// EndSession writes every row of a final summary to the error log, then
// optionally cancels every open order and flattens every position with
// market orders under fresh order ids. Positions in security types other
// than STK, OPT and FUT are left open with a warning. In production-like
// environments closing positions requires account or gateway.account.
func (s *Session) EndSession(ctx context.Context, account string, closeOrders, closePositions bool) (AccountSnapshot, error) {
	if closePositions && account == "" && s.cfg.Gateway.Account == "" && config.IsProductionLike(config.AppEnvironment()) {
		return AccountSnapshot{}, ErrAccountRequired
	}

	snap, err := s.Summary(ctx, account)
	if err != nil {
		return snap, err
	}
	s.errLog.Infof("Final session state before changes:")
	logRows(s.errLog, "positions", snap.Positions.Rows)
	logRows(s.errLog, "pnl", snap.PnL.Rows)
	logRows(s.errLog, "open_orders", snap.OpenOrders.Rows)
	logRows(s.errLog, "account_summary", snap.AccountSummary.Rows)
	logRows(s.errLog, "completed_orders", snap.CompletedOrders.Rows)

	if closeOrders {
		if err := s.ReqGlobalCancel(ctx); err != nil {
			return snap, err
		}
	}
	if !closePositions {
		return snap, nil
	}

	positions, err := s.ReqPositions(ctx)
	if err != nil {
		return snap, err
	}
	for _, p := range positions.Rows {
		if p.Quantity.IsZero() {
			continue
		}
		contract, ok := closingContract(p.Contract)
		if !ok {
			s.log.WithFields(logger.Fields{
				"symbol":   p.Contract.Symbol,
				"sec_type": p.Contract.SecType,
			}).Warn("cannot close position of this security type")
			continue
		}

		id, fresh, err := s.ReqIDs(ctx)
		if err != nil {
			return snap, err
		}
		if !fresh {
			return snap, fmt.Errorf("close %s: no order id from gateway", contract)
		}

		action := models.ActionSell
		if p.Quantity.IsNegative() {
			action = models.ActionBuy
		}
		order := MarketOrder(action, p.Quantity.Abs())
		order.Account = p.Account
		if err := s.PlaceOrder(ctx, id, contract, order); err != nil {
			return snap, err
		}
	}
	return snap, nil
}

// logRows writes one "section -> Column: value - ..." line per row.
func logRows[T models.Row](el *logger.ErrorLog, section string, rows []T) {
	header, cells := models.Table(rows)
	for _, row := range cells {
		pairs := make([]string, 0, len(row))
		for i, v := range row {
			name := ""
			if i < len(header) {
				name = header[i]
			}
			pairs = append(pairs, name+": "+v)
		}
		el.Infof("%s -> %s", section, strings.Join(pairs, " - "))
	}
}

// closingContract rebuilds the routable contract used to flatten a
// position.
func closingContract(c models.Contract) (models.Contract, bool) {
	switch c.SecType {
	case models.SecTypeStock:
		return models.NewStock(c.Symbol, "USD"), true
	case models.SecTypeOption:
		return models.NewOption(c.Symbol, c.LastTradeDateOrContractMonth, c.Strike, c.Right, "BOX", "USD"), true
	case models.SecTypeFuture:
		return models.NewFuture(c.Symbol, c.LastTradeDateOrContractMonth, "COMEX", "USD"), true
	}
	return models.Contract{}, false
}
