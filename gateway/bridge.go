package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ibtrading/config"
	"ibtrading/logger"
	"ibtrading/models"
)

const (
	defaultKeepAlive    = 20 * time.Second
	defaultWriteTimeout = 5 * time.Second
)

// ErrNotConnected is returned by sends on a closed bridge.
var ErrNotConnected = errors.New("gateway not connected")

// Bridge is a Client speaking JSON over a WebSocket to a gateway bridge
// process that owns the native brokerage connection.
type Bridge struct {
	cfg    config.GatewayConfig
	dialer *websocket.Dialer
	log    *logger.Entry

	mu         sync.RWMutex
	conn       *websocket.Conn
	pingCancel context.CancelFunc

	writeMu sync.Mutex
}

func NewBridge(cfg config.GatewayConfig, log *logger.Log) *Bridge {
	if log == nil {
		log = logger.GetLogger()
	}
	b := &Bridge{
		cfg:    cfg,
		dialer: websocket.DefaultDialer,
		log:    log.WithComponent("gateway_bridge"),
	}
	b.log.WithFields(logger.Fields{
		"bridge_path":   cfg.BridgePath,
		"ping_interval": cfg.PingInterval.String(),
	}).Info("gateway bridge initialized")
	return b
}

func (b *Bridge) endpoint(host string, port int, clientID int64) string {
	path := b.cfg.BridgePath
	if path == "" {
		path = "/"
	}
	u := url.URL{
		Scheme:   "ws",
		Host:     net.JoinHostPort(host, strconv.Itoa(port)),
		Path:     path,
		RawQuery: url.Values{"client_id": {strconv.FormatInt(clientID, 10)}}.Encode(),
	}
	return u.String()
}

func (b *Bridge) Connect(ctx context.Context, host string, port int, clientID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		return fmt.Errorf("gateway bridge already connected")
	}

	endpoint := b.endpoint(host, port, clientID)
	conn, _, err := b.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to gateway bridge %s: %w", endpoint, err)
	}
	b.conn = conn
	b.pingCancel = b.startPingLoop(conn)

	b.log.WithFields(logger.Fields{"url": endpoint, "client_id": clientID}).Info("connected to gateway bridge")
	return nil
}

func (b *Bridge) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.conn != nil
}

func (b *Bridge) Disconnect() error {
	b.mu.Lock()
	conn := b.conn
	if conn == nil {
		b.mu.Unlock()
		return nil
	}
	b.conn = nil
	if b.pingCancel != nil {
		b.pingCancel()
	}
	b.mu.Unlock()

	b.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "disconnect"),
		time.Now().Add(time.Second))
	b.writeMu.Unlock()

	return conn.Close()
}

// Run reads inbound messages until the socket closes. The end of the
// connection is reported to d as KindConnectionClosed.
func (b *Bridge) Run(ctx context.Context, d Dispatcher) error {
	b.mu.RLock()
	conn := b.conn
	b.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = b.Disconnect()
		case <-stop:
		}
	}()

	err := b.readMessages(conn, d)

	b.mu.Lock()
	deliberate := b.conn != conn
	if !deliberate {
		b.conn = nil
		if b.pingCancel != nil {
			b.pingCancel()
		}
	}
	b.mu.Unlock()
	conn.Close()

	d.Dispatch(Message{Kind: KindConnectionClosed, ReqID: -1})

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if deliberate {
		return nil
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure {
		return nil
	}
	return err
}

func (b *Bridge) readMessages(conn *websocket.Conn, d Dispatcher) error {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		msg, err := DecodeMessage(raw)
		if err != nil {
			if errors.Is(err, ErrUnknownKind) {
				b.log.WithError(err).Debug("ignoring gateway message")
			} else {
				b.log.WithError(err).Warn("failed to decode gateway message")
			}
			continue
		}
		logger.RecordMessage(msg.Kind.String(), len(raw))
		d.Dispatch(msg)
	}
}

func (b *Bridge) startPingLoop(conn *websocket.Conn) context.CancelFunc {
	interval := b.cfg.PingInterval
	if interval <= 0 {
		interval = defaultKeepAlive
	}
	pingCtx, cancel := context.WithCancel(context.Background())
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				b.writeMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second))
				b.writeMu.Unlock()
				if err != nil {
					b.log.WithError(err).Warn("failed to send websocket ping")
					return
				}
			}
		}
	}()
	return cancel
}

func (b *Bridge) send(op string, reqID int64, args interface{}) error {
	b.mu.RLock()
	conn := b.conn
	b.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("%s: %w", op, ErrNotConnected)
	}

	payload, err := EncodeRequest(op, reqID, args)
	if err != nil {
		return err
	}

	timeout := b.cfg.WriteTimeout
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(timeout))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("failed to send %s: %w", op, err)
	}
	return nil
}

func (b *Bridge) ReqIDs(numIDs int) error {
	return b.send(OpReqIDs, 0, IDsArgs{NumIDs: numIDs})
}

func (b *Bridge) ReqContractDetails(reqID int64, contract models.Contract) error {
	return b.send(OpReqContractDetails, reqID, ContractArgs{Contract: contract})
}

func (b *Bridge) ReqMarketDataType(marketDataType int) error {
	return b.send(OpReqMarketDataType, 0, MarketDataTypeArgs{MarketDataType: marketDataType})
}

func (b *Bridge) ReqHistoricalData(reqID int64, contract models.Contract, req models.HistoricalRequest) error {
	return b.send(OpReqHistoricalData, reqID, HistoricalArgs{Contract: contract, Request: req})
}

func (b *Bridge) CancelHistoricalData(reqID int64) error {
	return b.send(OpCancelHistoricalData, reqID, nil)
}

func (b *Bridge) ReqHeadTimeStamp(reqID int64, contract models.Contract, whatToShow string, useRTH bool, formatDate int) error {
	return b.send(OpReqHeadTimeStamp, reqID, HeadTimestampArgs{
		Contract:   contract,
		WhatToShow: whatToShow,
		UseRTH:     useRTH,
		FormatDate: formatDate,
	})
}

func (b *Bridge) ReqPositions() error {
	return b.send(OpReqPositions, 0, nil)
}

func (b *Bridge) CancelPositions() error {
	return b.send(OpCancelPositions, 0, nil)
}

func (b *Bridge) ReqAccountSummary(reqID int64, group, tags string) error {
	return b.send(OpReqAccountSummary, reqID, AccountSummaryArgs{Group: group, Tags: tags})
}

func (b *Bridge) CancelAccountSummary(reqID int64) error {
	return b.send(OpCancelAccountSummary, reqID, nil)
}

func (b *Bridge) ReqPnL(reqID int64, account, modelCode string) error {
	return b.send(OpReqPnL, reqID, PnLArgs{Account: account, ModelCode: modelCode})
}

func (b *Bridge) CancelPnL(reqID int64) error {
	return b.send(OpCancelPnL, reqID, nil)
}

func (b *Bridge) ReqOpenOrders() error {
	return b.send(OpReqOpenOrders, 0, nil)
}

func (b *Bridge) ReqAllOpenOrders() error {
	return b.send(OpReqAllOpenOrders, 0, nil)
}

func (b *Bridge) ReqCompletedOrders(apiOnly bool) error {
	return b.send(OpReqCompletedOrders, 0, CompletedOrdersArgs{APIOnly: apiOnly})
}

func (b *Bridge) PlaceOrder(orderID int64, contract models.Contract, order models.Order) error {
	return b.send(OpPlaceOrder, orderID, PlaceOrderArgs{Contract: contract, Order: order})
}

func (b *Bridge) CancelOrder(orderID int64, manualCancelOrderTime string) error {
	return b.send(OpCancelOrder, orderID, CancelOrderArgs{ManualCancelOrderTime: manualCancelOrderTime})
}

func (b *Bridge) ReqGlobalCancel() error {
	return b.send(OpReqGlobalCancel, 0, nil)
}

func (b *Bridge) ReqScannerSubscription(reqID int64, sub models.ScannerSubscription, options, filters []models.TagValue) error {
	return b.send(OpReqScannerSubscription, reqID, ScannerArgs{Subscription: sub, Options: options, Filters: filters})
}

func (b *Bridge) CancelScannerSubscription(reqID int64) error {
	return b.send(OpCancelScannerSubscription, reqID, nil)
}

var _ Client = (*Bridge)(nil)
