package session

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ibtrading/config"
	"ibtrading/gateway"
	"ibtrading/gateway/gatewaytest"
	"ibtrading/internal/gate"
	"ibtrading/internal/pacing"
	"ibtrading/logger"
	"ibtrading/models"
)

const shortWait = 150 * time.Millisecond

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Gateway.HandshakeTimeout = time.Second
	cfg.ErrorLog.Path = filepath.Join(t.TempDir(), "error.log")
	cfg.Timeouts = config.TimeoutsConfig{
		ReqIDs:          shortWait,
		ContractDetails: shortWait,
		Historical:      shortWait,
		HeadTimestamp:   shortWait,
		MaxHistory:      time.Second,
		Positions:       shortWait,
		AccountSummary:  shortWait,
		PnL:             shortWait,
		OpenOrders:      shortWait,
		CompletedOrders: shortWait,
		Scanner:         shortWait,
	}
	return cfg
}

func connected(t *testing.T, fake *gatewaytest.Fake, opts ...Option) *Session {
	t.Helper()
	cfg := testConfig(t)
	opts = append([]Option{WithLogger(logger.Logger()), WithPacing(pacing.Unlimited())}, opts...)
	s, err := New(cfg, fake, opts...)
	require.NoError(t, err)
	require.NoError(t, s.Connect(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func readErrorLog(t *testing.T, s *Session) string {
	t.Helper()
	data, err := os.ReadFile(s.errLog.Path())
	require.NoError(t, err)
	return string(data)
}

func bar(date string, close float64) gateway.Message {
	return gateway.Message{Kind: gateway.KindHistoricalData, Bar: &models.Bar{
		Date: date, Open: close, High: close, Low: close, Close: close, Volume: decimal.NewFromInt(100),
	}}
}

func withReqID(id int64, msgs ...gateway.Message) []gateway.Message {
	out := make([]gateway.Message, len(msgs))
	for i, m := range msgs {
		m.ReqID = id
		out[i] = m
	}
	return out
}

func TestConnectStoresHandshakeID(t *testing.T) {
	fake := gatewaytest.New()
	fake.NextValidID = 42
	s := connected(t, fake)

	assert.True(t, s.IsConnected())
	assert.Equal(t, int64(42), s.NextOrderID())
	assert.ErrorIs(t, s.Connect(context.Background()), ErrAlreadyConnected)
}

func TestConnectWithoutHandshakeIsNotFatal(t *testing.T) {
	fake := gatewaytest.New()
	fake.SkipHandshake = true
	cfg := testConfig(t)
	cfg.Gateway.HandshakeTimeout = 50 * time.Millisecond

	s, err := New(cfg, fake, WithLogger(logger.Logger()))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Connect(context.Background()))
	assert.Contains(t, readErrorLog(t, s), "handshake not received")
}

func TestDisconnectLogsOnce(t *testing.T) {
	s := connected(t, gatewaytest.New())

	require.NoError(t, s.Disconnect())
	require.NoError(t, s.Disconnect())

	assert.Equal(t, 1, strings.Count(readErrorLog(t, s), "Disconnected from the gateway"))
	assert.False(t, s.IsConnected())
}

func TestReqIDsRefreshesOrderID(t *testing.T) {
	fake := gatewaytest.New()
	fake.On(gateway.OpReqIDs, gatewaytest.Reply(gateway.Message{Kind: gateway.KindNextValidID, OrderID: 77}))
	s := connected(t, fake)

	id, ok, err := s.ReqIDs(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(77), id)
}

func TestHistoricalDataDrainsAndClears(t *testing.T) {
	fake := gatewaytest.New()
	fake.On(gateway.OpReqHistoricalData, gatewaytest.Reply(withReqID(7,
		bar("20240104", 3),
		bar("20240102", 1),
		bar("20240103", 2),
		gateway.Message{Kind: gateway.KindHistoricalDataEnd},
	)...))
	s := connected(t, fake)

	res, err := s.ReqHistoricalData(context.Background(), 7, models.NewStock("AAPL", "USD"), models.DefaultHistoricalRequest())
	require.NoError(t, err)
	require.True(t, res.OK())
	require.Len(t, res.Rows, 3)
	assert.Equal(t, "20240102", res.Rows[0].Date)
	assert.Equal(t, "20240104", res.Rows[2].Date)
	assert.Empty(t, s.StoredBars(7))

	ops := fake.Ops()
	require.Len(t, ops, 2)
	assert.Equal(t, gateway.OpReqMarketDataType, ops[0])
	assert.Equal(t, gateway.OpReqHistoricalData, ops[1])
	assert.Equal(t, models.MarketDataLive, s.MarketDataType())
}

func TestHistoricalDataKeepStored(t *testing.T) {
	fake := gatewaytest.New()
	fake.On(gateway.OpReqHistoricalData, gatewaytest.Reply(withReqID(3,
		bar("20240102", 1),
		gateway.Message{Kind: gateway.KindHistoricalDataEnd},
	)...))
	s := connected(t, fake)

	res, err := s.ReqHistoricalData(context.Background(), 3, models.NewStock("AAPL", "USD"), models.HistoricalRequest{}, KeepStored(), DelayedData())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Len())
	assert.Len(t, s.StoredBars(3), 1)
	assert.Equal(t, models.MarketDataDelayed, s.MarketDataType())

	args := fake.CallsTo(gateway.OpReqHistoricalData)[0].Args.(gateway.HistoricalArgs)
	assert.Equal(t, "1 Y", args.Request.Duration)
	assert.Equal(t, "ADJUSTED_LAST", args.Request.WhatToShow)
}

func TestHistoricalDataDefaultsToRegularHours(t *testing.T) {
	fake := gatewaytest.New()
	fake.On(gateway.OpReqHistoricalData, func(c gatewaytest.Call) []gateway.Message {
		return withReqID(c.ReqID, gateway.Message{Kind: gateway.KindHistoricalDataEnd})
	})
	s := connected(t, fake)

	_, err := s.ReqHistoricalData(context.Background(), 1, models.NewStock("AAPL", "USD"), models.HistoricalRequest{})
	require.NoError(t, err)
	_, err = s.ReqHistoricalData(context.Background(), 2, models.NewStock("AAPL", "USD"), models.HistoricalRequest{UseRTH: models.Bool(false)})
	require.NoError(t, err)

	calls := fake.CallsTo(gateway.OpReqHistoricalData)
	require.Len(t, calls, 2)
	first := calls[0].Args.(gateway.HistoricalArgs).Request
	require.NotNil(t, first.UseRTH)
	assert.True(t, *first.UseRTH)
	assert.False(t, calls[1].Args.(gateway.HistoricalArgs).Request.RegularHours())
}

func TestTimeoutIsNotAnError(t *testing.T) {
	s := connected(t, gatewaytest.New())

	res, err := s.ReqHistoricalData(context.Background(), 1, models.NewStock("AAPL", "USD"), models.DefaultHistoricalRequest())
	require.NoError(t, err)
	assert.True(t, res.TimedOut())
	assert.False(t, res.OK())
	assert.Empty(t, res.Rows)
}

func TestReplySlowerThanTimeout(t *testing.T) {
	fake := gatewaytest.New()
	fake.Delay = 300 * time.Millisecond
	fake.On(gateway.OpReqPositions, gatewaytest.Reply(gateway.Message{Kind: gateway.KindPositionEnd}))
	s := connected(t, fake)

	res, err := s.ReqPositions(context.Background(), Timeout(30*time.Millisecond))
	require.NoError(t, err)
	assert.True(t, res.TimedOut())
	assert.Len(t, fake.CallsTo(gateway.OpCancelPositions), 1)
}

func TestTerminalReplyForOtherRequestDoesNotResolve(t *testing.T) {
	fake := gatewaytest.New()
	fake.On(gateway.OpReqHistoricalData, gatewaytest.Reply(
		gateway.Message{Kind: gateway.KindHistoricalDataEnd, ReqID: 3},
	))
	s := connected(t, fake)

	res, err := s.ReqHistoricalData(context.Background(), 7, models.NewStock("AAPL", "USD"), models.DefaultHistoricalRequest())
	require.NoError(t, err)
	assert.True(t, res.TimedOut())
}

func TestLateReplyAfterTimeoutIsIgnored(t *testing.T) {
	fake := gatewaytest.New()
	s := connected(t, fake)

	first, err := s.ReqContractDetails(context.Background(), 5, models.NewStock("AAPL", "USD"))
	require.NoError(t, err)
	require.True(t, first.TimedOut())

	// the end marker of the abandoned request arrives late
	fake.Push(gateway.Message{Kind: gateway.KindContractDetailsEnd, ReqID: 5})
	time.Sleep(20 * time.Millisecond)

	second, err := s.ReqContractDetails(context.Background(), 5, models.NewStock("AAPL", "USD"))
	require.NoError(t, err)
	assert.True(t, second.TimedOut())
}

func TestDuplicateInFlightRequestIsRejected(t *testing.T) {
	fake := gatewaytest.New()
	s := connected(t, fake)
	row := func(name string) gateway.Message {
		return gateway.Message{Kind: gateway.KindContractDetails, ReqID: 9, ContractDetails: &models.ContractDetails{
			Contract: models.Contract{Symbol: "AAPL", SecType: "STK"}, LongName: name,
		}}
	}

	results := make(chan Result[models.ContractDetails], 1)
	go func() {
		res, err := s.ReqContractDetails(context.Background(), 9, models.NewStock("AAPL", "USD"), Timeout(time.Second))
		assert.NoError(t, err)
		results <- res
	}()
	require.Eventually(t, func() bool {
		return len(fake.CallsTo(gateway.OpReqContractDetails)) == 1
	}, time.Second, 5*time.Millisecond)

	fake.Push(row("APPLE INC"))
	require.Eventually(t, func() bool {
		return len(s.StoredContractDetails("STK", 9)) == 1
	}, time.Second, 5*time.Millisecond)

	_, err := s.ReqContractDetails(context.Background(), 9, models.NewStock("AAPL", "USD"))
	assert.ErrorIs(t, err, gate.ErrInFlight)
	assert.Len(t, fake.CallsTo(gateway.OpReqContractDetails), 1)

	fake.Push(row("APPLE INC CLASS B"), gateway.Message{Kind: gateway.KindContractDetailsEnd, ReqID: 9})

	first := <-results
	assert.Equal(t, Completed, first.Outcome)
	require.Equal(t, 2, first.Len())
	assert.Equal(t, "APPLE INC", first.Rows[0].LongName)
	assert.Equal(t, "APPLE INC CLASS B", first.Rows[1].LongName)
}

func TestDuplicateHistoricalRequestKeepsMarketDataType(t *testing.T) {
	fake := gatewaytest.New()
	s := connected(t, fake)

	results := make(chan Result[models.Bar], 1)
	go func() {
		res, err := s.ReqHistoricalData(context.Background(), 7, models.NewStock("AAPL", "USD"), models.DefaultHistoricalRequest(), DelayedData(), Timeout(time.Second))
		assert.NoError(t, err)
		results <- res
	}()
	require.Eventually(t, func() bool {
		return len(fake.CallsTo(gateway.OpReqHistoricalData)) == 1
	}, time.Second, 5*time.Millisecond)

	_, err := s.ReqHistoricalData(context.Background(), 7, models.NewStock("AAPL", "USD"), models.DefaultHistoricalRequest())
	assert.ErrorIs(t, err, gate.ErrInFlight)
	assert.Len(t, fake.CallsTo(gateway.OpReqMarketDataType), 1)
	assert.Equal(t, models.MarketDataDelayed, s.MarketDataType())

	fake.Push(withReqID(7, bar("20240102", 1), gateway.Message{Kind: gateway.KindHistoricalDataEnd})...)
	first := <-results
	assert.True(t, first.OK())
	assert.Equal(t, 1, first.Len())
}

func TestContractDetailsGroupedBySecType(t *testing.T) {
	fake := gatewaytest.New()
	details := models.ContractDetails{Contract: models.Contract{ConID: 265598, Symbol: "AAPL", SecType: "STK"}, LongName: "APPLE INC"}
	fake.On(gateway.OpReqContractDetails, gatewaytest.Reply(withReqID(4,
		gateway.Message{Kind: gateway.KindContractDetails, ContractDetails: &details},
		gateway.Message{Kind: gateway.KindContractDetailsEnd},
	)...))
	s := connected(t, fake)

	res, err := s.ReqContractDetails(context.Background(), 4, models.NewStock("AAPL", "USD"), KeepStored())
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Equal(t, "APPLE INC", res.Rows[0].LongName)
	assert.Len(t, s.StoredContractDetails("STK", 4), 1)
	assert.Empty(t, s.StoredContractDetails("OPT", 4))
}

func TestServerErrorsNeverResolve(t *testing.T) {
	fake := gatewaytest.New()
	fake.On(gateway.OpReqContractDetails, func(c gatewaytest.Call) []gateway.Message {
		return []gateway.Message{{
			Kind:  gateway.KindError,
			ReqID: c.ReqID,
			Error: &models.GatewayError{ReqID: c.ReqID, Code: 200, Message: "No security definition has been found for the request"},
		}}
	})
	s := connected(t, fake)

	res, err := s.ReqContractDetails(context.Background(), 5, models.NewStock("ZZZZ", "USD"))
	require.NoError(t, err)
	assert.True(t, res.TimedOut())
	assert.Contains(t, readErrorLog(t, s), "Request error: 5, Code: 200 - No security definition")
}

func TestPositionsEmptyAndCancelled(t *testing.T) {
	fake := gatewaytest.New()
	fake.On(gateway.OpReqPositions, gatewaytest.Reply(gateway.Message{Kind: gateway.KindPositionEnd}))
	s := connected(t, fake)

	res, err := s.ReqPositions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Empty, res.Outcome)
	assert.False(t, res.OK())
	assert.Equal(t, []string{gateway.OpReqPositions, gateway.OpCancelPositions}, fake.Ops())
}

func TestAccountSummaryDefaults(t *testing.T) {
	fake := gatewaytest.New()
	fake.On(gateway.OpReqAccountSummary, gatewaytest.Reply(withReqID(11,
		gateway.Message{Kind: gateway.KindAccountSummary, AccountValue: &models.AccountValue{Account: "DU1", Tag: "NetLiquidation", Value: "1000", Currency: "USD"}},
		gateway.Message{Kind: gateway.KindAccountSummaryEnd},
	)...))
	s := connected(t, fake)

	res, err := s.ReqAccountSummary(context.Background(), 11, "", "")
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Equal(t, int64(11), res.Rows[0].ReqID)

	args := fake.CallsTo(gateway.OpReqAccountSummary)[0].Args.(gateway.AccountSummaryArgs)
	assert.Equal(t, DefaultSummaryGroup, args.Group)
	assert.Equal(t, DefaultSummaryTags, args.Tags)
	cancels := fake.CallsTo(gateway.OpCancelAccountSummary)
	require.Len(t, cancels, 1)
	assert.Equal(t, int64(11), cancels[0].ReqID)
}

func TestPnLResolvesOnFirstUpdate(t *testing.T) {
	fake := gatewaytest.New()
	fake.On(gateway.OpReqPnL, gatewaytest.Reply(gateway.Message{
		Kind: gateway.KindPnL, ReqID: 1, PnL: &models.PnL{DailyPnL: 12.5},
	}))
	s := connected(t, fake)

	res, err := s.ReqPnL(context.Background(), 1, "DU1")
	require.NoError(t, err)
	p, ok := res.First()
	require.True(t, ok)
	assert.Equal(t, 12.5, p.DailyPnL)
	assert.Len(t, fake.CallsTo(gateway.OpCancelPnL), 1)
}

func TestPnLUpdatesAfterFirstAreDropped(t *testing.T) {
	fake := gatewaytest.New()
	fake.On(gateway.OpReqPnL, gatewaytest.Reply(
		gateway.Message{Kind: gateway.KindPnL, ReqID: 1, PnL: &models.PnL{DailyPnL: 12.5}},
		gateway.Message{Kind: gateway.KindPnL, ReqID: 1, PnL: &models.PnL{DailyPnL: 13}},
		gateway.Message{Kind: gateway.KindNextValidID, OrderID: 42},
	))
	s := connected(t, fake)

	res, err := s.ReqPnL(context.Background(), 1, "DU1", KeepStored())
	require.NoError(t, err)
	require.Equal(t, 1, res.Len())

	// the id arrives after the second update, so both have been dispatched
	require.Eventually(t, func() bool { return s.NextOrderID() == 42 }, time.Second, 5*time.Millisecond)
	stored := s.pnls.Peek(1)
	require.Len(t, stored, 1)
	assert.Equal(t, 12.5, stored[0].DailyPnL)
}

func TestScannerCancelsBeforeNextRequest(t *testing.T) {
	fake := gatewaytest.New()
	fake.On(gateway.OpReqScannerSubscription, func(c gatewaytest.Call) []gateway.Message {
		return withReqID(c.ReqID,
			gateway.Message{Kind: gateway.KindScannerData, ScannerRow: &models.ScannerRow{Rank: 0}},
			gateway.Message{Kind: gateway.KindScannerDataEnd},
		)
	})
	s := connected(t, fake)
	sub := models.ScannerSubscription{NumberOfRows: 10, Instrument: "STK", LocationCode: "STK.US.MAJOR", ScanCode: "TOP_PERC_GAIN"}

	for _, id := range []int64{1, 2} {
		res, err := s.ReqScannerSubscription(context.Background(), id, sub, nil)
		require.NoError(t, err)
		require.True(t, res.OK())
	}

	calls := fake.Calls()
	require.Len(t, calls, 4)
	assert.Equal(t, gateway.OpReqScannerSubscription, calls[0].Op)
	assert.Equal(t, gateway.OpCancelScannerSubscription, calls[1].Op)
	assert.Equal(t, int64(1), calls[1].ReqID)
	assert.Equal(t, gateway.OpReqScannerSubscription, calls[2].Op)
	assert.Equal(t, int64(2), calls[2].ReqID)
}

func TestMaxHistoryUsesYearsSinceHead(t *testing.T) {
	fake := gatewaytest.New()
	fake.On(gateway.OpReqHeadTimeStamp, gatewaytest.Reply(gateway.Message{
		Kind: gateway.KindHeadTimestamp, ReqID: 2, Timestamp: "20200102 09:30:00",
	}))
	fake.On(gateway.OpReqHistoricalData, gatewaytest.Reply(withReqID(2,
		bar("20200102", 1),
		gateway.Message{Kind: gateway.KindHistoricalDataEnd},
	)...))
	clock := func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }
	s := connected(t, fake, WithClock(clock))

	res, err := s.ReqMaxHistory(context.Background(), 2, models.NewStock("AAPL", "USD"), models.DefaultHistoricalRequest())
	require.NoError(t, err)
	require.True(t, res.OK())

	args := fake.CallsTo(gateway.OpReqHistoricalData)[0].Args.(gateway.HistoricalArgs)
	assert.Equal(t, "5 Y", args.Request.Duration)
	assert.Equal(t, "1 day", args.Request.BarSize)
	mdt := fake.CallsTo(gateway.OpReqMarketDataType)[0].Args.(gateway.MarketDataTypeArgs)
	assert.Equal(t, models.MarketDataDelayed, mdt.MarketDataType)
}

func TestBracketOrderLinksLegs(t *testing.T) {
	stop := models.Order{AuxPrice: 95}
	tp := models.Order{LmtPrice: 110}

	legs, err := BracketOrder(10, models.Order{}, stop, tp)
	require.NoError(t, err)
	require.Len(t, legs, 3)

	assert.Equal(t, int64(10), legs[0].OrderID)
	assert.Equal(t, models.ActionBuy, legs[0].Action)
	assert.Equal(t, models.OrderTypeMarket, legs[0].OrderType)
	assert.False(t, legs[0].Transmit)

	assert.Equal(t, int64(11), legs[1].OrderID)
	assert.Equal(t, int64(10), legs[1].ParentID)
	assert.Equal(t, models.OrderTypeStop, legs[1].OrderType)
	assert.Equal(t, models.ActionSell, legs[1].Action)
	assert.False(t, legs[1].Transmit)

	assert.Equal(t, int64(12), legs[2].OrderID)
	assert.Equal(t, int64(10), legs[2].ParentID)
	assert.Equal(t, models.OrderTypeLimit, legs[2].OrderType)
	assert.True(t, legs[2].Transmit)
}

func TestBracketOrderRequiresPrices(t *testing.T) {
	_, err := BracketOrder(1, models.Order{}, models.Order{}, models.Order{LmtPrice: 1})
	assert.ErrorIs(t, err, ErrMissingStopPrice)

	_, err = BracketOrder(1, models.Order{}, models.Order{AuxPrice: 1}, models.Order{})
	assert.ErrorIs(t, err, ErrMissingLimitPrice)
}

func TestPlaceBracketSendsLegsInOrder(t *testing.T) {
	fake := gatewaytest.New()
	s := connected(t, fake)
	legs, err := BracketOrder(20, MarketOrder(models.ActionBuy, decimal.NewFromInt(5)), models.Order{AuxPrice: 90}, models.Order{LmtPrice: 120})
	require.NoError(t, err)

	require.NoError(t, s.PlaceBracket(context.Background(), models.NewStock("AAPL", "USD"), legs))

	calls := fake.CallsTo(gateway.OpPlaceOrder)
	require.Len(t, calls, 3)
	for i, c := range calls {
		assert.Equal(t, int64(20+i), c.ReqID)
	}
	last := calls[2].Args.(gateway.PlaceOrderArgs)
	assert.True(t, last.Order.Transmit)
	assert.True(t, last.Order.TotalQuantity.Equal(decimal.NewFromInt(5)))
	assert.Contains(t, readErrorLog(t, s), "Placing order 20 for AAPL, STK, MKT, BUY")
}

func TestOrderStatusIsPublished(t *testing.T) {
	fake := gatewaytest.New()
	s := connected(t, fake)

	got := make(chan models.OrderStatus, 1)
	unsubscribe, err := s.SubscribeOrderStatus(func(st models.OrderStatus) { got <- st })
	require.NoError(t, err)
	defer unsubscribe()

	fake.Push(gateway.Message{Kind: gateway.KindOrderStatus, OrderStatus: &models.OrderStatus{OrderID: 5, Status: "Filled"}})

	select {
	case st := <-got:
		assert.Equal(t, int64(5), st.OrderID)
		assert.True(t, st.Done())
	case <-time.After(time.Second):
		t.Fatal("order status not published")
	}
}

func TestHasExposure(t *testing.T) {
	fake := gatewaytest.New()
	fake.On(gateway.OpReqAllOpenOrders, gatewaytest.Reply(
		gateway.Message{Kind: gateway.KindOpenOrder, OpenOrder: &models.OpenOrder{OrderID: 1, Contract: models.NewStock("TSLA", "USD")}},
		gateway.Message{Kind: gateway.KindOpenOrderEnd},
	))
	fake.On(gateway.OpReqPositions, gatewaytest.Reply(
		gateway.Message{Kind: gateway.KindPosition, Position: &models.Position{Contract: models.NewStock("AAPL", "USD"), Quantity: decimal.NewFromInt(10)}},
		gateway.Message{Kind: gateway.KindPosition, Position: &models.Position{Contract: models.NewStock("AAPL", "USD"), Quantity: decimal.NewFromInt(-10)}},
		gateway.Message{Kind: gateway.KindPosition, Position: &models.Position{Contract: models.NewStock("MSFT", "USD"), Quantity: decimal.NewFromInt(3)}},
		gateway.Message{Kind: gateway.KindPositionEnd},
	))
	s := connected(t, fake)
	ctx := context.Background()

	for symbol, want := range map[string]bool{"TSLA": true, "MSFT": true, "AAPL": false, "NVDA": false} {
		got, err := s.HasExposure(ctx, symbol)
		require.NoError(t, err)
		assert.Equal(t, want, got, symbol)
	}
}

func TestEndSessionFlattensPositions(t *testing.T) {
	fake := gatewaytest.New()
	var nextID atomic.Int64
	nextID.Store(100)
	fake.On(gateway.OpReqIDs, func(gatewaytest.Call) []gateway.Message {
		return []gateway.Message{{Kind: gateway.KindNextValidID, OrderID: nextID.Add(1)}}
	})
	fake.On(gateway.OpReqPositions, gatewaytest.Reply(
		gateway.Message{Kind: gateway.KindPosition, Position: &models.Position{Account: "DU1", Contract: models.Contract{Symbol: "AAPL", SecType: "STK"}, Quantity: decimal.NewFromInt(10)}},
		gateway.Message{Kind: gateway.KindPosition, Position: &models.Position{Account: "DU1", Contract: models.Contract{Symbol: "GC", SecType: "FUT", LastTradeDateOrContractMonth: "202412"}, Quantity: decimal.NewFromInt(-2)}},
		gateway.Message{Kind: gateway.KindPosition, Position: &models.Position{Account: "DU1", Contract: models.Contract{Symbol: "EUR", SecType: "CASH"}, Quantity: decimal.NewFromInt(1000)}},
		gateway.Message{Kind: gateway.KindPosition, Position: &models.Position{Account: "DU1", Contract: models.Contract{Symbol: "SPY", SecType: "STK"}, Quantity: decimal.Zero}},
		gateway.Message{Kind: gateway.KindPositionEnd},
	))
	fake.On(gateway.OpReqAllOpenOrders, gatewaytest.Reply(gateway.Message{Kind: gateway.KindOpenOrderEnd}))
	fake.On(gateway.OpReqCompletedOrders, gatewaytest.Reply(gateway.Message{Kind: gateway.KindCompletedOrdersEnd}))
	s := connected(t, fake)

	snap, err := s.EndSession(context.Background(), "DU1", true, true)
	require.NoError(t, err)
	assert.Equal(t, 4, snap.Positions.Len())
	assert.True(t, snap.PnL.TimedOut())
	assert.Equal(t, Empty, snap.OpenOrders.Outcome)
	assert.Len(t, fake.CallsTo(gateway.OpReqGlobalCancel), 1)

	placed := fake.CallsTo(gateway.OpPlaceOrder)
	require.Len(t, placed, 2)

	aapl := placed[0].Args.(gateway.PlaceOrderArgs)
	assert.Equal(t, int64(101), placed[0].ReqID)
	assert.Equal(t, "SMART", aapl.Contract.Exchange)
	assert.Equal(t, models.ActionSell, aapl.Order.Action)
	assert.True(t, aapl.Order.TotalQuantity.Equal(decimal.NewFromInt(10)))

	gc := placed[1].Args.(gateway.PlaceOrderArgs)
	assert.Equal(t, int64(102), placed[1].ReqID)
	assert.Equal(t, "COMEX", gc.Contract.Exchange)
	assert.Equal(t, "202412", gc.Contract.LastTradeDateOrContractMonth)
	assert.Equal(t, models.ActionBuy, gc.Order.Action)
	assert.True(t, gc.Order.TotalQuantity.Equal(decimal.NewFromInt(2)))
}

func TestEndSessionLogsFinalState(t *testing.T) {
	fake := gatewaytest.New()
	fake.On(gateway.OpReqPositions, gatewaytest.Reply(
		gateway.Message{Kind: gateway.KindPosition, Position: &models.Position{Account: "DU1", Contract: models.Contract{Symbol: "AAPL", SecType: "STK", Currency: "USD"}, Quantity: decimal.NewFromInt(10), AvgCost: 150}},
		gateway.Message{Kind: gateway.KindPositionEnd},
	))
	fake.On(gateway.OpReqAccountSummary, func(c gatewaytest.Call) []gateway.Message {
		return withReqID(c.ReqID,
			gateway.Message{Kind: gateway.KindAccountSummary, AccountValue: &models.AccountValue{Account: "DU1", Tag: "NetLiquidation", Value: "100000", Currency: "USD"}},
			gateway.Message{Kind: gateway.KindAccountSummaryEnd},
		)
	})
	s := connected(t, fake)

	_, err := s.EndSession(context.Background(), "DU1", false, false)
	require.NoError(t, err)

	logged := readErrorLog(t, s)
	assert.Contains(t, logged, "Final session state before changes:")
	assert.Contains(t, logged, "positions -> Account: DU1 - Symbol: AAPL - SecType: STK")
	assert.Contains(t, logged, "account_summary -> ")
	assert.Contains(t, logged, "NetLiquidation")
	assert.Empty(t, fake.CallsTo(gateway.OpReqGlobalCancel))
}

func TestEndSessionNeedsAccountInProduction(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	fake := gatewaytest.New()
	s := connected(t, fake)

	_, err := s.EndSession(context.Background(), "", true, true)
	assert.ErrorIs(t, err, ErrAccountRequired)
	assert.Empty(t, fake.CallsTo(gateway.OpReqPositions))
	assert.Empty(t, fake.CallsTo(gateway.OpReqGlobalCancel))

	// summaries alone stay allowed
	_, err = s.EndSession(context.Background(), "", false, false)
	assert.NoError(t, err)
}

func TestRequestsFailWhenDisconnected(t *testing.T) {
	s, err := New(testConfig(t), gatewaytest.New(), WithLogger(logger.Logger()))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.ReqPositions(context.Background())
	assert.ErrorIs(t, err, gateway.ErrNotConnected)
}

func TestClearErrorLog(t *testing.T) {
	s := connected(t, gatewaytest.New())
	require.NotEmpty(t, readErrorLog(t, s))

	require.NoError(t, s.ClearErrorLog())
	assert.Empty(t, readErrorLog(t, s))
}
