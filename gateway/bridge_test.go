package gateway

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ibtrading/config"
	"ibtrading/models"
)

type collector struct {
	mu   sync.Mutex
	msgs []Message
	ch   chan Message
}

func newCollector() *collector {
	return &collector{ch: make(chan Message, 64)}
}

func (c *collector) Dispatch(m Message) {
	c.mu.Lock()
	c.msgs = append(c.msgs, m)
	c.mu.Unlock()
	c.ch <- m
}

func (c *collector) next(t *testing.T) Message {
	t.Helper()
	select {
	case m := <-c.ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no message dispatched")
		return Message{}
	}
}

// bridgeServer answers contract detail requests with one row and an end
// marker, preceded by a message type the client does not know.
func bridgeServer(t *testing.T, requests chan<- Request, clientIDs chan<- string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIDs <- r.URL.Query().Get("client_id")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		hello, _ := EncodeMessage(Message{Kind: KindNextValidID, ReqID: -1, OrderID: 42})
		_ = conn.WriteMessage(websocket.TextMessage, hello)

		for {
			var req Request
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			requests <- req
			if req.Op != OpReqContractDetails {
				continue
			}
			var args ContractArgs
			_ = req.DecodeArgs(&args)
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"tick_price","req_id":1}`))
			row, _ := EncodeMessage(Message{
				Kind:  KindContractDetails,
				ReqID: req.ReqID,
				ContractDetails: &models.ContractDetails{
					Contract: models.Contract{ConID: 265598, Symbol: args.Contract.Symbol, SecType: "STK", Exchange: "SMART", Currency: "USD"},
					LongName: "APPLE INC",
				},
			})
			end, _ := EncodeMessage(Message{Kind: KindContractDetailsEnd, ReqID: req.ReqID})
			_ = conn.WriteMessage(websocket.TextMessage, row)
			_ = conn.WriteMessage(websocket.TextMessage, end)
		}
	}))
}

func hostPort(t *testing.T, srv *httptest.Server) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

func TestBridgeRoundTrip(t *testing.T) {
	requests := make(chan Request, 8)
	clientIDs := make(chan string, 1)
	srv := bridgeServer(t, requests, clientIDs)
	defer srv.Close()

	host, port := hostPort(t, srv)
	b := NewBridge(config.GatewayConfig{BridgePath: "/ws", PingInterval: time.Hour}, nil)
	require.NoError(t, b.Connect(context.Background(), host, port, 9))
	assert.True(t, b.IsConnected())
	assert.Equal(t, "9", <-clientIDs)

	c := newCollector()
	runErr := make(chan error, 1)
	go func() { runErr <- b.Run(context.Background(), c) }()

	hello := c.next(t)
	assert.Equal(t, KindNextValidID, hello.Kind)
	assert.EqualValues(t, 42, hello.OrderID)

	require.NoError(t, b.ReqContractDetails(5, models.NewStock("AAPL", "USD")))
	req := <-requests
	assert.Equal(t, OpReqContractDetails, req.Op)
	assert.EqualValues(t, 5, req.ReqID)

	row := c.next(t)
	require.Equal(t, KindContractDetails, row.Kind)
	assert.EqualValues(t, 5, row.ReqID)
	require.NotNil(t, row.ContractDetails)
	assert.Equal(t, "AAPL", row.ContractDetails.Contract.Symbol)
	assert.Equal(t, KindContractDetailsEnd, c.next(t).Kind)

	require.NoError(t, b.Disconnect())
	assert.Equal(t, KindConnectionClosed, c.next(t).Kind)
	assert.NoError(t, <-runErr)
	assert.False(t, b.IsConnected())
	assert.ErrorIs(t, b.ReqPositions(), ErrNotConnected)
}

func TestBridgeServerDropReportsClosed(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer srv.Close()

	host, port := hostPort(t, srv)
	b := NewBridge(config.GatewayConfig{}, nil)
	require.NoError(t, b.Connect(context.Background(), host, port, 1))

	c := newCollector()
	err := b.Run(context.Background(), c)
	assert.Error(t, err)
	assert.Equal(t, KindConnectionClosed, c.next(t).Kind)
	assert.False(t, b.IsConnected())
}

func TestBridgeConnectFailure(t *testing.T) {
	b := NewBridge(config.GatewayConfig{}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	assert.Error(t, b.Connect(ctx, "127.0.0.1", 1, 1))
	assert.ErrorIs(t, b.Run(ctx, newCollector()), ErrNotConnected)
}

func TestDecodeMessage(t *testing.T) {
	raw, err := EncodeMessage(Message{Kind: KindHistoricalDataEnd, ReqID: 7, Start: "20240101", End: "20240201"})
	require.NoError(t, err)
	m, err := DecodeMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, KindHistoricalDataEnd, m.Kind)
	assert.Equal(t, "20240201", m.End)

	m, err = DecodeMessage([]byte(`{"type":"error","req_id":3,"data":{"code":200,"message":"No security definition has been found"}}`))
	require.NoError(t, err)
	require.NotNil(t, m.Error)
	assert.Equal(t, 200, m.Error.Code)

	_, err = DecodeMessage([]byte(`{"type":"nope"}`))
	assert.ErrorIs(t, err, ErrUnknownKind)
	_, err = DecodeMessage([]byte(`{`))
	assert.Error(t, err)
}

func TestKindNames(t *testing.T) {
	for _, k := range Kinds() {
		parsed, ok := ParseKind(k.String())
		require.True(t, ok, k.String())
		assert.Equal(t, k, parsed)
	}
	assert.True(t, KindScannerDataEnd.Terminal())
	assert.False(t, KindScannerData.Terminal())
	assert.False(t, KindError.Terminal())
}
