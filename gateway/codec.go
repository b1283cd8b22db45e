package gateway

import (
	"encoding/json"
	"errors"
	"fmt"

	"ibtrading/models"
)

// Outbound operation names understood by the bridge.
const (
	OpReqIDs                    = "req_ids"
	OpReqContractDetails        = "req_contract_details"
	OpReqMarketDataType         = "req_market_data_type"
	OpReqHistoricalData         = "req_historical_data"
	OpCancelHistoricalData      = "cancel_historical_data"
	OpReqHeadTimeStamp          = "req_head_timestamp"
	OpReqPositions              = "req_positions"
	OpCancelPositions           = "cancel_positions"
	OpReqAccountSummary         = "req_account_summary"
	OpCancelAccountSummary      = "cancel_account_summary"
	OpReqPnL                    = "req_pnl"
	OpCancelPnL                 = "cancel_pnl"
	OpReqOpenOrders             = "req_open_orders"
	OpReqAllOpenOrders          = "req_all_open_orders"
	OpReqCompletedOrders        = "req_completed_orders"
	OpPlaceOrder                = "place_order"
	OpCancelOrder               = "cancel_order"
	OpReqGlobalCancel           = "req_global_cancel"
	OpReqScannerSubscription    = "req_scanner_subscription"
	OpCancelScannerSubscription = "cancel_scanner_subscription"
)

// Request is the outbound envelope.
type Request struct {
	Op    string          `json:"op"`
	ReqID int64           `json:"req_id,omitempty"`
	Args  json.RawMessage `json:"args,omitempty"`
}

// DecodeArgs unmarshals the request arguments into v.
func (r Request) DecodeArgs(v interface{}) error {
	if len(r.Args) == 0 {
		return nil
	}
	return json.Unmarshal(r.Args, v)
}

// Argument bodies of the outbound operations.
type (
	IDsArgs struct {
		NumIDs int `json:"num_ids"`
	}
	ContractArgs struct {
		Contract models.Contract `json:"contract"`
	}
	MarketDataTypeArgs struct {
		MarketDataType int `json:"market_data_type"`
	}
	HistoricalArgs struct {
		Contract models.Contract          `json:"contract"`
		Request  models.HistoricalRequest `json:"request"`
	}
	HeadTimestampArgs struct {
		Contract   models.Contract `json:"contract"`
		WhatToShow string          `json:"what_to_show"`
		UseRTH     bool            `json:"use_rth"`
		FormatDate int             `json:"format_date"`
	}
	AccountSummaryArgs struct {
		Group string `json:"group"`
		Tags  string `json:"tags"`
	}
	PnLArgs struct {
		Account   string `json:"account"`
		ModelCode string `json:"model_code"`
	}
	CompletedOrdersArgs struct {
		APIOnly bool `json:"api_only"`
	}
	PlaceOrderArgs struct {
		Contract models.Contract `json:"contract"`
		Order    models.Order    `json:"order"`
	}
	CancelOrderArgs struct {
		ManualCancelOrderTime string `json:"manual_cancel_order_time,omitempty"`
	}
	ScannerArgs struct {
		Subscription models.ScannerSubscription `json:"subscription"`
		Options      []models.TagValue          `json:"options,omitempty"`
		Filters      []models.TagValue          `json:"filters,omitempty"`
	}
)

// EncodeRequest builds the wire form of an outbound operation.
func EncodeRequest(op string, reqID int64, args interface{}) ([]byte, error) {
	req := Request{Op: op, ReqID: reqID}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("encode %s args: %w", op, err)
		}
		req.Args = raw
	}
	return json.Marshal(req)
}

// envelope is the inbound wire form.
type envelope struct {
	Type  string          `json:"type"`
	ReqID int64           `json:"req_id"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type orderIDBody struct {
	OrderID int64 `json:"order_id"`
}

type timestampBody struct {
	Timestamp string `json:"timestamp"`
}

type rangeBody struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// payload returns the body of m that goes on the wire, or nil.
func (m Message) payload() interface{} {
	switch m.Kind {
	case KindNextValidID:
		return orderIDBody{OrderID: m.OrderID}
	case KindHeadTimestamp:
		return timestampBody{Timestamp: m.Timestamp}
	case KindHistoricalDataEnd:
		return rangeBody{Start: m.Start, End: m.End}
	case KindContractDetails:
		return m.ContractDetails
	case KindHistoricalData:
		return m.Bar
	case KindPosition:
		return m.Position
	case KindAccountSummary:
		return m.AccountValue
	case KindPnL:
		return m.PnL
	case KindOpenOrder:
		return m.OpenOrder
	case KindOrderStatus:
		return m.OrderStatus
	case KindCompletedOrder:
		return m.CompletedOrder
	case KindScannerData:
		return m.ScannerRow
	case KindError:
		return m.Error
	}
	return nil
}

// EncodeMessage builds the wire form of an inbound message.
func EncodeMessage(m Message) ([]byte, error) {
	env := envelope{Type: m.Kind.String(), ReqID: m.ReqID}
	if p := m.payload(); p != nil {
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", m.Kind, err)
		}
		env.Data = raw
	}
	return json.Marshal(env)
}

// ErrUnknownKind is wrapped by DecodeMessage for unrecognised types.
var ErrUnknownKind = errors.New("unknown message type")

// DecodeMessage parses the wire form of an inbound message.
func DecodeMessage(raw []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Message{}, fmt.Errorf("decode envelope: %w", err)
	}
	kind, ok := ParseKind(env.Type)
	if !ok {
		return Message{}, fmt.Errorf("%w %q", ErrUnknownKind, env.Type)
	}
	m := Message{Kind: kind, ReqID: env.ReqID}

	var target interface{}
	switch kind {
	case KindNextValidID:
		var body orderIDBody
		if err := decodeData(env.Data, &body); err != nil {
			return Message{}, err
		}
		m.OrderID = body.OrderID
		return m, nil
	case KindHeadTimestamp:
		var body timestampBody
		if err := decodeData(env.Data, &body); err != nil {
			return Message{}, err
		}
		m.Timestamp = body.Timestamp
		return m, nil
	case KindHistoricalDataEnd:
		var body rangeBody
		if err := decodeData(env.Data, &body); err != nil {
			return Message{}, err
		}
		m.Start, m.End = body.Start, body.End
		return m, nil
	case KindContractDetails:
		m.ContractDetails = new(models.ContractDetails)
		target = m.ContractDetails
	case KindHistoricalData:
		m.Bar = new(models.Bar)
		target = m.Bar
	case KindPosition:
		m.Position = new(models.Position)
		target = m.Position
	case KindAccountSummary:
		m.AccountValue = new(models.AccountValue)
		target = m.AccountValue
	case KindPnL:
		m.PnL = new(models.PnL)
		target = m.PnL
	case KindOpenOrder:
		m.OpenOrder = new(models.OpenOrder)
		target = m.OpenOrder
	case KindOrderStatus:
		m.OrderStatus = new(models.OrderStatus)
		target = m.OrderStatus
	case KindCompletedOrder:
		m.CompletedOrder = new(models.CompletedOrder)
		target = m.CompletedOrder
	case KindScannerData:
		m.ScannerRow = new(models.ScannerRow)
		target = m.ScannerRow
	case KindError:
		m.Error = new(models.GatewayError)
		target = m.Error
	default:
		return m, nil
	}
	if err := decodeData(env.Data, target); err != nil {
		return Message{}, fmt.Errorf("decode %s: %w", kind, err)
	}
	return m, nil
}

func decodeData(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
