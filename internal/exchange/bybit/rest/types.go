package rest

import (
	"fmt"
	"net/http"
	"time"

	"intentbot/internal/logger"

	"golang.org/x/time/rate"
)

type Client struct {
	baseURL     string
	accountType string
	category    string
	settleCoin  string
	apiKey      string
	secret      string
	httpClient  *http.Client
	limiter     *rate.Limiter
	maxRetries  int
	backoff     time.Duration
	log         *logger.Logger
}

type bybitResponse[T any] struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  T      `json:"result"`
	Time    int64  `json:"time"`
}

func (r *bybitResponse[T]) status() (int, string) {
	return r.RetCode, r.RetMsg
}

type retStatus interface {
	status() (int, string)
}

// APIError is a business rejection: the venue answered with retCode != 0.
type APIError struct {
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("Ошибка bybit: %s (code=%d)", e.Msg, e.Code)
}

// Temporary reports codes worth trying again later.
func (e *APIError) Temporary() bool {
	switch e.Code {
	case 10000, 10006, 10016, 10018, 10002:
		return true
	}
	return false
}

// NotFound reports a cancel or amend for an order the venue no longer has open.
func (e *APIError) NotFound() bool {
	return e.Code == 110001 || e.Code == 170213
}

type instrumentInfo struct {
	List []struct {
		Symbol       string `json:"symbol"`
		ContractType string `json:"contractType"`
		BaseCoin     string `json:"baseCoin"`
		QuoteCoin    string `json:"quoteCoin"`
		PriceFilter  struct {
			TickSize string `json:"tickSize"`
		} `json:"priceFilter"`
		LotSizeFilter struct {
			BasePrecision    string `json:"basePrecision"`
			MinOrderQty      string `json:"minOrderQty"`
			MinOrderAmt      string `json:"minOrderAmt"`
			MinNotionalValue string `json:"minNotionalValue"`
			QtyStep          string `json:"qtyStep"`
		} `json:"lotSizeFilter"`
	} `json:"list"`
}

// OrderItem is an order as /v5/order/realtime and the order stream report it.
type OrderItem struct {
	OrderID       string `json:"orderId"`
	OrderLinkID   string `json:"orderLinkId"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	OrderType     string `json:"orderType"`
	StopOrderType string `json:"stopOrderType"`
	Price         string `json:"price"`
	TriggerPrice  string `json:"triggerPrice"`
	Qty           string `json:"qty"`
	CumExecQty    string `json:"cumExecQty"`
	OrderStatus   string `json:"orderStatus"`
	TimeInForce   string `json:"timeInForce"`
	ReduceOnly    bool   `json:"reduceOnly"`
	CloseOnTrig   bool   `json:"closeOnTrigger"`
	RejectReason  string `json:"rejectReason"`
	CreatedTime   string `json:"createdTime"`
	UpdatedTime   string `json:"updatedTime"`
}

// PositionItem is a position as /v5/position/list and the position stream report it.
type PositionItem struct {
	Symbol       string `json:"symbol"`
	Side         string `json:"side"`
	Size         string `json:"size"`
	AvgPrice     string `json:"avgPrice"`
	EntryPrice   string `json:"entryPrice"`
	TrailingStop string `json:"trailingStop"`
	CreatedTime  string `json:"createdTime"`
	UpdatedTime  string `json:"updatedTime"`
}

// TickerItem carries strings as sent; stream deltas leave unchanged fields empty.
type TickerItem struct {
	Symbol    string `json:"symbol"`
	Bid1Price string `json:"bid1Price"`
	Ask1Price string `json:"ask1Price"`
	LastPrice string `json:"lastPrice"`
}
