package session

import (
	"context"
	"fmt"

	"ibtrading/internal/gate"
	"ibtrading/models"
)

// Defaults of an account summary request.
const (
	DefaultSummaryGroup = "All"
	DefaultSummaryTags  = "$LEDGER:USD"
)

// ReqPositions returns every position across the accounts of the login.
// The positions subscription is cancelled once the batch is read.
func (s *Session) ReqPositions(ctx context.Context, opts ...RequestOption) (Result[models.Position], error) {
	o := buildOptions(s.cfg.Timeouts.Positions, opts)
	key := gate.Key{Kind: kindPositions}
	ok, elapsed, err := s.roundTrip(ctx, kindPositions, key, o.timeout,
		clearing(func() { s.positions.Reset(0) }),
		s.client.ReqPositions)
	if err != nil {
		return Result[models.Position]{}, fmt.Errorf("positions: %w", err)
	}
	rows := s.positions.Drain(0, o.keep)
	s.cancel("positions", s.client.CancelPositions)
	return finish(s, kindPositions, rows, ok, elapsed), nil
}

// ReqAccountSummary returns the requested summary tags for group. Empty
// arguments select DefaultSummaryGroup and DefaultSummaryTags.
func (s *Session) ReqAccountSummary(ctx context.Context, reqID int64, group, tags string, opts ...RequestOption) (Result[models.AccountValue], error) {
	o := buildOptions(s.cfg.Timeouts.AccountSummary, opts)
	if group == "" {
		group = DefaultSummaryGroup
	}
	if tags == "" {
		tags = DefaultSummaryTags
	}
	key := gate.Key{Kind: kindAccountSummary, ID: reqID}
	ok, elapsed, err := s.roundTrip(ctx, kindAccountSummary, key, o.timeout,
		clearing(func() { s.summaries.Reset(reqID) }),
		func() error { return s.client.ReqAccountSummary(reqID, group, tags) })
	if err != nil {
		return Result[models.AccountValue]{}, fmt.Errorf("account summary: %w", err)
	}
	rows := s.summaries.Drain(reqID, o.keep)
	s.cancel("account summary", func() error { return s.client.CancelAccountSummary(reqID) })
	return finish(s, kindAccountSummary, rows, ok, elapsed), nil
}

// ReqPnL returns the first profit and loss update for account. An empty
// account falls back to gateway.account from the configuration.
func (s *Session) ReqPnL(ctx context.Context, reqID int64, account string, opts ...RequestOption) (Result[models.PnL], error) {
	o := buildOptions(s.cfg.Timeouts.PnL, opts)
	if account == "" {
		account = s.cfg.Gateway.Account
	}
	key := gate.Key{Kind: kindPnL, ID: reqID}
	ok, elapsed, err := s.roundTrip(ctx, kindPnL, key, o.timeout,
		clearing(func() { s.pnls.Reset(reqID) }),
		func() error { return s.client.ReqPnL(reqID, account, "") })
	if err != nil {
		return Result[models.PnL]{}, fmt.Errorf("pnl %s: %w", account, err)
	}
	rows := s.pnls.Drain(reqID, o.keep)
	s.cancel("pnl", func() error { return s.client.CancelPnL(reqID) })
	return finish(s, kindPnL, rows, ok, elapsed), nil
}

// cancel ends a subscription. Failures are logged; the rows already read
// are still returned to the caller.
func (s *Session) cancel(what string, fn func() error) {
	if err := fn(); err != nil {
		s.log.WithError(err).WithField("subscription", what).Warn("cancel failed")
	}
}
