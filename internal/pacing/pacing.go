// Package pacing keeps outbound requests inside the gateway's pacing limits.
package pacing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"ibtrading/config"
	"ibtrading/internal/metrics"
	"ibtrading/logger"
)

// Gateway error codes that report a pacing problem.
const (
	CodeMaxRateExceeded  = 100
	CodeHistoricalPacing = 162
	CodeAlreadyPending   = 322
)

// Limiter throttles outbound messages and, separately, historical data
// requests which the gateway limits per time span.
type Limiter struct {
	messages   *rate.Limiter
	historical *rate.Limiter
}

func New(cfg config.PacingConfig) *Limiter {
	burst := cfg.MessageBurst
	if burst <= 0 {
		burst = 1
	}
	every := cfg.HistoricalSpan / time.Duration(cfg.HistoricalPerSpan)
	return &Limiter{
		messages:   rate.NewLimiter(rate.Limit(cfg.MessagesPerSecond), burst),
		historical: rate.NewLimiter(rate.Every(every), cfg.HistoricalPerSpan),
	}
}

// Unlimited never blocks.
func Unlimited() *Limiter {
	return &Limiter{
		messages:   rate.NewLimiter(rate.Inf, 1),
		historical: rate.NewLimiter(rate.Inf, 1),
	}
}

// WaitMessage blocks until one more outbound message may be sent.
func (l *Limiter) WaitMessage(ctx context.Context) error {
	if err := l.messages.Wait(ctx); err != nil {
		return fmt.Errorf("message pacing: %w", err)
	}
	return nil
}

// WaitHistorical blocks until a historical request may be sent.
func (l *Limiter) WaitHistorical(ctx context.Context) error {
	if err := l.historical.Wait(ctx); err != nil {
		return fmt.Errorf("historical pacing: %w", err)
	}
	return l.WaitMessage(ctx)
}

// IsViolation reports whether a gateway error code is a pacing complaint.
func IsViolation(code int, msg string) bool {
	switch code {
	case CodeMaxRateExceeded, CodeAlreadyPending:
		return true
	case CodeHistoricalPacing:
		return strings.Contains(strings.ToLower(msg), "pacing violation")
	}
	return false
}

// ReportViolation logs and counts a pacing violation.
func ReportViolation(log *logger.Log, reqID int64, code int, msg string) {
	fields := logger.Fields{"req_id": reqID, "code": code}
	log.WithComponent("pacing").WithFields(fields).Warn(msg)
	metrics.EmitMetric(log, "pacing", "pacing_violation", int64(1), "counter", fields)
}
