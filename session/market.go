package session

import (
	"context"
	"fmt"
	"time"

	"ibtrading/internal/gate"
	"ibtrading/logger"
	"ibtrading/models"
)

// ReqContractDetails resolves contract into its full details. Replies are
// buffered under the contract's security type and request id.
func (s *Session) ReqContractDetails(ctx context.Context, reqID int64, contract models.Contract, opts ...RequestOption) (Result[models.ContractDetails], error) {
	o := buildOptions(s.cfg.Timeouts.ContractDetails, opts)
	group := contract.SecType

	var owned bool
	defer func() {
		if owned {
			s.mu.Lock()
			delete(s.contractGroups, reqID)
			s.mu.Unlock()
		}
	}()

	key := gate.Key{Kind: kindContractDetails, ID: reqID}
	ok, elapsed, err := s.roundTrip(ctx, kindContractDetails, key, o.timeout,
		func() error {
			owned = true
			s.mu.Lock()
			s.contractGroups[reqID] = group
			s.mu.Unlock()
			s.contracts.Reset(group, reqID)
			return nil
		},
		func() error { return s.client.ReqContractDetails(reqID, contract) })
	if err != nil {
		return Result[models.ContractDetails]{}, fmt.Errorf("contract details %s: %w", contract, err)
	}
	rows := s.contracts.Drain(group, reqID, o.keep)
	return finish(s, kindContractDetails, rows, ok, elapsed), nil
}

// ReqHistoricalData fetches bars for contract ordered by time. The market
// data type (live, or delayed with DelayedData) is selected before the
// request and stays selected for the session.
func (s *Session) ReqHistoricalData(ctx context.Context, reqID int64, contract models.Contract, req models.HistoricalRequest, opts ...RequestOption) (Result[models.Bar], error) {
	o := buildOptions(s.cfg.Timeouts.Historical, opts)
	return s.historical(ctx, reqID, contract, withHistoricalDefaults(req), o)
}

func (s *Session) historical(ctx context.Context, reqID int64, contract models.Contract, req models.HistoricalRequest, o requestOptions) (Result[models.Bar], error) {
	dataType := models.MarketDataLive
	if o.delayed {
		dataType = models.MarketDataDelayed
	}

	key := gate.Key{Kind: kindHistorical, ID: reqID}
	ok, elapsed, err := s.roundTrip(ctx, kindHistorical, key, o.timeout,
		func() error {
			if err := s.setMarketDataType(dataType); err != nil {
				return fmt.Errorf("market data type: %w", err)
			}
			if err := s.pacer.WaitHistorical(ctx); err != nil {
				return err
			}
			s.bars.Reset(reqID)
			return nil
		},
		func() error { return s.client.ReqHistoricalData(reqID, contract, req) })
	if err != nil {
		return Result[models.Bar]{}, fmt.Errorf("historical data %s: %w", contract, err)
	}
	rows := s.bars.Drain(reqID, o.keep)
	if len(rows) > 0 {
		rows = []models.Bar(models.NewBarSeries(rows))
		logger.LogDataFlowEntry(s.log, "gateway", "session", len(rows), "bars")
	}
	return finish(s, kindHistorical, rows, ok, elapsed), nil
}

// ReqHeadTimestamp returns the oldest available timestamp for contract in
// the "20060102 15:04:05" layout.
func (s *Session) ReqHeadTimestamp(ctx context.Context, reqID int64, contract models.Contract, whatToShow string, useRTH bool, opts ...RequestOption) (Result[string], error) {
	o := buildOptions(s.cfg.Timeouts.HeadTimestamp, opts)
	if whatToShow == "" {
		whatToShow = "TRADES"
	}

	key := gate.Key{Kind: kindHeadTimestamp, ID: reqID}
	ok, elapsed, err := s.roundTrip(ctx, kindHeadTimestamp, key, o.timeout,
		func() error {
			if err := s.pacer.WaitHistorical(ctx); err != nil {
				return err
			}
			s.heads.Reset(reqID)
			return nil
		},
		func() error { return s.client.ReqHeadTimeStamp(reqID, contract, whatToShow, useRTH, 1) })
	if err != nil {
		return Result[string]{}, fmt.Errorf("head timestamp %s: %w", contract, err)
	}
	rows := s.heads.Drain(reqID, o.keep)
	return finish(s, kindHeadTimestamp, rows, ok, elapsed), nil
}

// ReqMaxHistory fetches every daily bar available for contract. It looks up
// the head timestamp, asks for whole years back to it and forces delayed
// data. The bars request waits for timeouts.max_history, where zero means
// until ctx ends.
func (s *Session) ReqMaxHistory(ctx context.Context, reqID int64, contract models.Contract, req models.HistoricalRequest, opts ...RequestOption) (Result[models.Bar], error) {
	req = withHistoricalDefaults(req)
	head, err := s.ReqHeadTimestamp(ctx, reqID, contract, req.WhatToShow, req.RegularHours())
	if err != nil {
		return Result[models.Bar]{}, err
	}
	ts, found := head.First()
	if !found {
		return Result[models.Bar]{Outcome: head.Outcome, Elapsed: head.Elapsed}, nil
	}
	start, err := models.ParseBarTime(ts)
	if err != nil {
		return Result[models.Bar]{}, fmt.Errorf("head timestamp %q: %w", ts, err)
	}

	req.Duration = maxHistoryDuration(start, s.now())
	req.BarSize = "1 day"
	req.EndDateTime = ""

	o := buildOptions(s.cfg.Timeouts.MaxHistory, opts)
	o.delayed = true
	s.log.WithFields(logger.Fields{
		"contract": contract.String(),
		"head":     ts,
		"duration": req.Duration,
	}).Info("requesting maximum history")
	return s.historical(ctx, reqID, contract, req, o)
}

// StoredBars returns the bars still buffered for reqID.
func (s *Session) StoredBars(reqID int64) []models.Bar {
	return s.bars.Peek(reqID)
}

// StoredContractDetails returns the details still buffered under secType
// and reqID.
func (s *Session) StoredContractDetails(secType string, reqID int64) []models.ContractDetails {
	return s.contracts.Peek(secType, reqID)
}

// maxHistoryDuration counts calendar years from start to now inclusive.
func maxHistoryDuration(start, now time.Time) string {
	years := now.Year() - start.Year() + 1
	if years < 1 {
		years = 1
	}
	return fmt.Sprintf("%d Y", years)
}

// withHistoricalDefaults fills every unset field of req from
// models.DefaultHistoricalRequest.
func withHistoricalDefaults(req models.HistoricalRequest) models.HistoricalRequest {
	def := models.DefaultHistoricalRequest()
	if req.Duration == "" {
		req.Duration = def.Duration
	}
	if req.BarSize == "" {
		req.BarSize = def.BarSize
	}
	if req.WhatToShow == "" {
		req.WhatToShow = def.WhatToShow
	}
	if req.UseRTH == nil {
		req.UseRTH = def.UseRTH
	}
	if req.FormatDate == 0 {
		req.FormatDate = def.FormatDate
	}
	return req
}
