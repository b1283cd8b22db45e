package session

import (
	"context"
	"fmt"

	"ibtrading/internal/gate"
	"ibtrading/models"
)

// ReqScannerSubscription runs one scan and returns its ranked rows. The
// subscription is cancelled as soon as the batch is drained, before any
// later request can be sent.
func (s *Session) ReqScannerSubscription(ctx context.Context, reqID int64, sub models.ScannerSubscription, filters []models.TagValue, opts ...RequestOption) (Result[models.ScannerRow], error) {
	o := buildOptions(s.cfg.Timeouts.Scanner, opts)
	key := gate.Key{Kind: kindScanner, ID: reqID}
	ok, elapsed, err := s.roundTrip(ctx, kindScanner, key, o.timeout,
		clearing(func() { s.scannerRows.Reset(reqID) }),
		func() error { return s.client.ReqScannerSubscription(reqID, sub, nil, filters) })
	if err != nil {
		return Result[models.ScannerRow]{}, fmt.Errorf("scanner %s: %w", sub.ScanCode, err)
	}
	rows := s.scannerRows.Drain(reqID, o.keep)
	s.cancel("scanner", func() error { return s.client.CancelScannerSubscription(reqID) })
	return finish(s, kindScanner, rows, ok, elapsed), nil
}

// StoredScannerRows returns the scanner rows still buffered for reqID.
func (s *Session) StoredScannerRows(reqID int64) []models.ScannerRow {
	return s.scannerRows.Peek(reqID)
}
