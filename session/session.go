// Package session turns the gateway's asynchronous callbacks into blocking
// request/response calls.
//
// A Session owns one gateway connection. Inbound messages are dispatched on
// the client's receive goroutine to a handler table that fills per kind
// reply buffers and resolves per request completion handles; façade methods
// on the caller's goroutine send a request, wait for its handle with a
// bounded timeout and drain the reply buffer.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/google/uuid"

	"ibtrading/config"
	"ibtrading/gateway"
	"ibtrading/internal/buffer"
	"ibtrading/internal/gate"
	"ibtrading/internal/metrics"
	"ibtrading/internal/pacing"
	"ibtrading/logger"
	"ibtrading/models"
)

var (
	// ErrNotConnected is returned when a request needs a live connection.
	ErrNotConnected = errors.New("session not connected")
	// ErrAlreadyConnected is returned by Connect on a running session.
	ErrAlreadyConnected = errors.New("session already connected")
)

// Option customises a Session.
type Option func(*Session)

// WithErrorLog uses el as the persistent error log instead of opening the
// configured file.
func WithErrorLog(el *logger.ErrorLog) Option {
	return func(s *Session) { s.errLog = el }
}

func WithLogger(log *logger.Log) Option {
	return func(s *Session) { s.baseLog = log }
}

func WithRecorder(r *metrics.Recorder) Option {
	return func(s *Session) { s.recorder = r }
}

// WithPacing replaces the configured pacing limiter.
func WithPacing(l *pacing.Limiter) Option {
	return func(s *Session) { s.pacer = l }
}

// WithClock overrides the time source used for maximum history requests.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

type Session struct {
	cfg    *config.Config
	client gateway.Client
	id     string

	baseLog    *logger.Log
	log        *logger.Entry
	errLog     *logger.ErrorLog
	ownsErrLog bool
	recorder   *metrics.Recorder
	pacer      *pacing.Limiter
	bus        EventBus.Bus
	now        func() time.Time

	handshake *gate.Gate
	pending   *gate.Registry
	handlers  map[gateway.Kind]handlerFunc

	contracts   *buffer.Grouped[models.ContractDetails]
	bars        *buffer.Buffer[models.Bar]
	heads       *buffer.Buffer[string]
	positions   *buffer.Buffer[models.Position]
	summaries   *buffer.Buffer[models.AccountValue]
	pnls        *buffer.Buffer[models.PnL]
	openOrders  *buffer.Buffer[models.OpenOrder]
	completed   *buffer.Buffer[models.CompletedOrder]
	scannerRows *buffer.Buffer[models.ScannerRow]

	mu             sync.Mutex
	contractGroups map[int64]string
	nextOrderID    int64
	marketDataType int
	running        bool
	disconnects    int
	runCancel      context.CancelFunc
	wg             sync.WaitGroup
}

// New builds a session around client. The error log configured in
// cfg.ErrorLog is opened unless WithErrorLog is given.
func New(cfg *config.Config, client gateway.Client, opts ...Option) (*Session, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if client == nil {
		return nil, fmt.Errorf("gateway client is required")
	}

	s := &Session{
		cfg:            cfg,
		client:         client,
		id:             uuid.NewString(),
		bus:            EventBus.New(),
		now:            time.Now,
		handshake:      gate.New(),
		pending:        gate.NewRegistry(),
		contracts:      buffer.NewGrouped[models.ContractDetails](),
		bars:           buffer.New[models.Bar](),
		heads:          buffer.New[string](),
		positions:      buffer.New[models.Position](),
		summaries:      buffer.New[models.AccountValue](),
		pnls:           buffer.New[models.PnL](),
		openOrders:     buffer.New[models.OpenOrder](),
		completed:      buffer.New[models.CompletedOrder](),
		scannerRows:    buffer.New[models.ScannerRow](),
		contractGroups: make(map[int64]string),
		marketDataType: models.MarketDataLive,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.baseLog == nil {
		s.baseLog = logger.GetLogger()
	}
	s.log = s.baseLog.WithComponent("session").WithFields(logger.Fields{
		"session_id": s.id,
		"client_id":  cfg.Gateway.ClientID,
	})
	if s.recorder == nil {
		s.recorder = metrics.NewRecorder(s.baseLog)
	}
	if s.pacer == nil {
		s.pacer = pacing.New(cfg.Pacing)
	}
	if s.errLog == nil {
		el, err := logger.OpenErrorLog(cfg.ErrorLog.Path, cfg.ErrorLog.Mode)
		if err != nil {
			return nil, err
		}
		s.errLog = el
		s.ownsErrLog = true
	}
	s.handlers = s.handlerTable()

	s.log.WithFields(logger.Fields{
		"host":      cfg.Gateway.Host,
		"port":      cfg.Gateway.Port,
		"error_log": s.errLog.Path(),
	}).Info("session initialized")
	return s, nil
}

// ID identifies the session in logs.
func (s *Session) ID() string {
	return s.id
}

// Connect opens the gateway connection, starts the receive loop and waits
// for the next valid order id handshake. A missing handshake is logged as a
// warning and does not fail the call.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.mu.Unlock()

	gw := s.cfg.Gateway
	s.errLog.Infof("%s", "----------------------------------------")
	s.errLog.Infof("Connecting")

	s.handshake.Clear()
	if err := s.client.Connect(ctx, gw.Host, gw.Port, gw.ClientID); err != nil {
		s.errLog.Errorf("Connection failed on host: %s - port: %d with clientId: %d: %v", gw.Host, gw.Port, gw.ClientID, err)
		return fmt.Errorf("connect: %w", err)
	}
	if s.client.IsConnected() {
		s.errLog.Infof("Connection established on host: %s - port: %d with clientId: %d", gw.Host, gw.Port, gw.ClientID)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.running = true
	s.runCancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.client.Run(runCtx, s); err != nil && !errors.Is(err, context.Canceled) {
			s.log.WithError(err).Warn("receive loop ended")
		}
	}()

	waitCtx, waitCancel := context.WithTimeout(ctx, gw.HandshakeTimeout)
	defer waitCancel()
	if !s.handshake.Wait(waitCtx) {
		s.errLog.Warnf("Connection handshake not received")
		s.log.WithField("timeout", gw.HandshakeTimeout.String()).Warn("handshake not received")
	}
	s.handshake.Clear()
	return nil
}

// IsConnected reports whether the receive loop is running.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running && s.client.IsConnected()
}

// Disconnect closes the connection and waits for the receive loop to end.
// Only the first disconnect is written to the error log.
func (s *Session) Disconnect() error {
	err := s.client.Disconnect()

	s.mu.Lock()
	cancel := s.runCancel
	s.runCancel = nil
	first := s.disconnects == 0
	s.disconnects++
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	if first {
		s.errLog.Infof("Disconnected from the gateway")
		s.errLog.Infof("%s", "----------------------------------------")
	}
	if err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	return nil
}

// Close disconnects and releases the error log if the session opened it.
func (s *Session) Close() error {
	err := s.Disconnect()
	s.bus.WaitAsync()
	if s.ownsErrLog {
		if cerr := s.errLog.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// ClearErrorLog truncates the persistent error log.
func (s *Session) ClearErrorLog() error {
	return s.errLog.Clear()
}

// NextOrderID returns the last order id announced by the gateway.
func (s *Session) NextOrderID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextOrderID
}

// ReqIDs asks the gateway for a fresh order id and waits for it. On timeout
// the last known id is returned with false.
func (s *Session) ReqIDs(ctx context.Context) (int64, bool, error) {
	key := gate.Key{Kind: kindNextValidID}
	ok, _, err := s.roundTrip(ctx, "req_ids", key, s.cfg.Timeouts.ReqIDs, nil, func() error {
		return s.client.ReqIDs(-1)
	})
	if err != nil {
		return 0, false, err
	}
	return s.NextOrderID(), ok, nil
}

func (s *Session) setMarketDataType(t int) error {
	s.mu.Lock()
	s.marketDataType = t
	s.mu.Unlock()
	return s.client.ReqMarketDataType(t)
}

// MarketDataType returns the data mode selected by the last historical
// request.
func (s *Session) MarketDataType() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.marketDataType
}
