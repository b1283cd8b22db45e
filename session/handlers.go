package session

import (
	"time"

	"ibtrading/gateway"
	"ibtrading/internal/gate"
	"ibtrading/internal/pacing"
	"ibtrading/logger"
	"ibtrading/models"
)

// Completion handle kinds. Replies that carry no request id resolve id 0.
const (
	kindNextValidID     = "next_valid_id"
	kindContractDetails = "contract_details"
	kindHistorical      = "historical_data"
	kindHeadTimestamp   = "head_timestamp"
	kindPositions       = "positions"
	kindAccountSummary  = "account_summary"
	kindPnL             = "pnl"
	kindOpenOrders      = "open_orders"
	kindCompletedOrders = "completed_orders"
	kindScanner         = "scanner"
)

// TopicOrderStatus is the event bus topic carrying models.OrderStatus.
const TopicOrderStatus = "order:status"

type handlerFunc func(gateway.Message)

func (s *Session) handlerTable() map[gateway.Kind]handlerFunc {
	return map[gateway.Kind]handlerFunc{
		gateway.KindNextValidID:        s.onNextValidID,
		gateway.KindContractDetails:    s.onContractDetails,
		gateway.KindContractDetailsEnd: s.resolves(kindContractDetails),
		gateway.KindHistoricalData:     s.onHistoricalData,
		gateway.KindHistoricalDataEnd:  s.resolves(kindHistorical),
		gateway.KindHeadTimestamp:      s.onHeadTimestamp,
		gateway.KindPosition:           s.onPosition,
		gateway.KindPositionEnd:        s.resolvesUnkeyed(kindPositions),
		gateway.KindAccountSummary:     s.onAccountSummary,
		gateway.KindAccountSummaryEnd:  s.resolves(kindAccountSummary),
		gateway.KindPnL:                s.onPnL,
		gateway.KindOpenOrder:          s.onOpenOrder,
		gateway.KindOpenOrderEnd:       s.resolvesUnkeyed(kindOpenOrders),
		gateway.KindOrderStatus:        s.onOrderStatus,
		gateway.KindCompletedOrder:     s.onCompletedOrder,
		gateway.KindCompletedOrdersEnd: s.resolvesUnkeyed(kindCompletedOrders),
		gateway.KindScannerData:        s.onScannerData,
		gateway.KindScannerDataEnd:     s.resolves(kindScanner),
		gateway.KindError:              s.onError,
		gateway.KindConnectionClosed:   s.onConnectionClosed,
	}
}

// Dispatch routes one inbound message to its handler. It runs on the
// client's receive goroutine.
func (s *Session) Dispatch(m gateway.Message) {
	h, ok := s.handlers[m.Kind]
	if !ok {
		s.log.WithField("kind", m.Kind.String()).Debug("no handler for message")
		return
	}
	h(m)
}

func (s *Session) resolve(kind string, id int64) {
	if !s.pending.Resolve(gate.Key{Kind: kind, ID: id}) {
		s.log.WithFields(logger.Fields{"kind": kind, "req_id": id}).Debug("terminal reply with no waiting request")
	}
}

func (s *Session) resolves(kind string) handlerFunc {
	return func(m gateway.Message) { s.resolve(kind, m.ReqID) }
}

func (s *Session) resolvesUnkeyed(kind string) handlerFunc {
	return func(gateway.Message) { s.resolve(kind, 0) }
}

func (s *Session) onNextValidID(m gateway.Message) {
	s.mu.Lock()
	s.nextOrderID = m.OrderID
	s.mu.Unlock()
	if s.cfg.ErrorLog.Verbose {
		s.log.WithField("order_id", m.OrderID).Info("next valid id")
	}
	s.handshake.Signal()
	s.pending.Resolve(gate.Key{Kind: kindNextValidID})
}

func (s *Session) onContractDetails(m gateway.Message) {
	if m.ContractDetails == nil {
		return
	}
	s.mu.Lock()
	group, ok := s.contractGroups[m.ReqID]
	s.mu.Unlock()
	if !ok {
		group = m.ContractDetails.Contract.SecType
	}
	s.contracts.Record(group, m.ReqID, *m.ContractDetails)
}

func (s *Session) onHistoricalData(m gateway.Message) {
	if m.Bar == nil {
		return
	}
	bar := *m.Bar
	if t, err := models.ParseBarTime(bar.Date); err == nil {
		bar.Time = t
	}
	s.bars.Record(m.ReqID, bar)
}

func (s *Session) onHeadTimestamp(m gateway.Message) {
	s.heads.Record(m.ReqID, m.Timestamp)
	s.resolve(kindHeadTimestamp, m.ReqID)
}

func (s *Session) onPosition(m gateway.Message) {
	if m.Position != nil {
		s.positions.Record(0, *m.Position)
	}
}

func (s *Session) onAccountSummary(m gateway.Message) {
	if m.AccountValue == nil {
		return
	}
	v := *m.AccountValue
	v.ReqID = m.ReqID
	s.summaries.Record(m.ReqID, v)
}

// onPnL resolves on the first update; the gateway has no end marker for
// PnL subscriptions.
func (s *Session) onPnL(m gateway.Message) {
	if m.PnL == nil {
		return
	}
	// The stream has no end marker; updates after the first, or after a
	// timeout, are dropped until the next request for the id.
	key := gate.Key{Kind: kindPnL, ID: m.ReqID}
	if !s.pending.Pending(key) {
		return
	}
	p := *m.PnL
	p.ReqID = m.ReqID
	s.pnls.Record(m.ReqID, p)
	s.resolve(kindPnL, m.ReqID)
}

func (s *Session) onOpenOrder(m gateway.Message) {
	if m.OpenOrder != nil {
		s.openOrders.Record(0, *m.OpenOrder)
	}
}

func (s *Session) onCompletedOrder(m gateway.Message) {
	if m.CompletedOrder != nil {
		s.completed.Record(0, *m.CompletedOrder)
	}
}

func (s *Session) onScannerData(m gateway.Message) {
	if m.ScannerRow == nil {
		return
	}
	row := *m.ScannerRow
	row.ReqID = m.ReqID
	s.scannerRows.Record(m.ReqID, row)
}

// onOrderStatus logs the update and publishes it; statuses are never
// buffered.
func (s *Session) onOrderStatus(m gateway.Message) {
	if m.OrderStatus == nil {
		return
	}
	st := *m.OrderStatus
	if st.ReceivedAt.IsZero() {
		st.ReceivedAt = time.Now()
	}
	s.errLog.Infof("Order Id: %d - Status: %s - Filled: %s - Remaining: %s - Avg Fill Price: %g - Perm Id: %d - Parent Id: %d - Last Fill Price: %g - Client Id: %d - Why Held: %s",
		st.OrderID, st.Status, st.Filled, st.Remaining, st.AvgFillPrice, st.PermID, st.ParentID, st.LastFillPrice, st.ClientID, st.WhyHeld)
	if s.cfg.ErrorLog.Verbose {
		s.log.WithFields(logger.Fields{"order_id": st.OrderID, "status": st.Status}).Info("order status")
	}
	s.bus.Publish(TopicOrderStatus, st)
}

// onError records a gateway error. It never resolves a waiting request.
func (s *Session) onError(m gateway.Message) {
	if m.Error == nil {
		return
	}
	e := *m.Error
	if e.ReqID == 0 {
		e.ReqID = m.ReqID
	}
	s.errLog.Errorf("Request error: %d, Code: %d - %s", e.ReqID, e.Code, e.Message)
	if s.cfg.ErrorLog.ErrorsVerbose {
		s.log.WithFields(logger.Fields{"req_id": e.ReqID, "code": e.Code}).Warn(e.Message)
	}
	if pacing.IsViolation(e.Code, e.Message) {
		pacing.ReportViolation(s.baseLog, e.ReqID, e.Code, e.Message)
	}
	if !e.Informational() {
		s.recorder.RecordGatewayError(e.Code)
	}
}

func (s *Session) onConnectionClosed(gateway.Message) {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	s.log.Info("connection closed")
}
