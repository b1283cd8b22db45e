package gateway

import "fmt"

// Kind tags an inbound gateway message.
type Kind int

const (
	KindUnknown Kind = iota
	KindNextValidID
	KindContractDetails
	KindContractDetailsEnd
	KindHistoricalData
	KindHistoricalDataEnd
	KindHeadTimestamp
	KindPosition
	KindPositionEnd
	KindAccountSummary
	KindAccountSummaryEnd
	KindPnL
	KindOpenOrder
	KindOpenOrderEnd
	KindOrderStatus
	KindCompletedOrder
	KindCompletedOrdersEnd
	KindScannerData
	KindScannerDataEnd
	KindError
	KindConnectionClosed
)

var kindNames = map[Kind]string{
	KindNextValidID:        "next_valid_id",
	KindContractDetails:    "contract_details",
	KindContractDetailsEnd: "contract_details_end",
	KindHistoricalData:     "historical_data",
	KindHistoricalDataEnd:  "historical_data_end",
	KindHeadTimestamp:      "head_timestamp",
	KindPosition:           "position",
	KindPositionEnd:        "position_end",
	KindAccountSummary:     "account_summary",
	KindAccountSummaryEnd:  "account_summary_end",
	KindPnL:                "pnl",
	KindOpenOrder:          "open_order",
	KindOpenOrderEnd:       "open_order_end",
	KindOrderStatus:        "order_status",
	KindCompletedOrder:     "completed_order",
	KindCompletedOrdersEnd: "completed_orders_end",
	KindScannerData:        "scanner_data",
	KindScannerDataEnd:     "scanner_data_end",
	KindError:              "error",
	KindConnectionClosed:   "connection_closed",
}

var kindsByName = func() map[string]Kind {
	m := make(map[string]Kind, len(kindNames))
	for k, n := range kindNames {
		m[n] = k
	}
	return m
}()

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind returns the kind with the given wire name.
func ParseKind(name string) (Kind, bool) {
	k, ok := kindsByName[name]
	return k, ok
}

// Kinds lists every known kind.
func Kinds() []Kind {
	out := make([]Kind, 0, len(kindNames))
	for k := KindNextValidID; k <= KindConnectionClosed; k++ {
		out = append(out, k)
	}
	return out
}

// Terminal reports whether the kind ends a reply sequence.
func (k Kind) Terminal() bool {
	switch k {
	case KindContractDetailsEnd, KindHistoricalDataEnd, KindPositionEnd,
		KindAccountSummaryEnd, KindOpenOrderEnd, KindCompletedOrdersEnd,
		KindScannerDataEnd, KindHeadTimestamp, KindPnL, KindNextValidID:
		return true
	}
	return false
}
