package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"intentbot/internal/exchange"
	"intentbot/internal/exchange/bybit/rest"
	"intentbot/internal/logger"
	"intentbot/internal/market"
	"intentbot/internal/models"
)

const symbol = "BTCUSDT"

// fakeBybit answers the v5 endpoints the venue uses from in-memory state.
type fakeBybit struct {
	mu         sync.Mutex
	seq        int
	orders     map[string]rest.OrderItem
	positions  []rest.PositionItem
	trailing   string
	rejectCode int
	lastCreate map[string]any
}

func (f *fakeBybit) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var body map[string]any
	if r.Method == http.MethodPost {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	reply := func(result any) {
		_ = json.NewEncoder(w).Encode(map[string]any{"retCode": 0, "retMsg": "OK", "result": result})
	}
	fail := func(code int, msg string) {
		_ = json.NewEncoder(w).Encode(map[string]any{"retCode": code, "retMsg": msg, "result": map[string]any{}})
	}

	switch r.URL.Path {
	case "/v5/market/instruments-info":
		reply(map[string]any{"list": []map[string]any{{
			"symbol": symbol, "contractType": "LinearPerpetual", "baseCoin": "BTC", "quoteCoin": "USDT",
			"priceFilter":   map[string]string{"tickSize": "0.1"},
			"lotSizeFilter": map[string]string{"qtyStep": "0.001", "minOrderQty": "0.001", "minNotionalValue": "5"},
		}}})
	case "/v5/market/tickers":
		reply(map[string]any{"list": []rest.TickerItem{{Symbol: symbol, Bid1Price: "20000", Ask1Price: "20001", LastPrice: "20000"}}})
	case "/v5/account/wallet-balance":
		reply(map[string]any{"list": []map[string]any{{"coin": []map[string]string{{"coin": "USDT", "walletBalance": "1000", "availableToWithdraw": "800"}}}}})
	case "/v5/position/list":
		reply(map[string]any{"list": f.positions})
	case "/v5/position/trading-stop":
		f.trailing = fmt.Sprint(body["trailingStop"])
		reply(map[string]any{})
	case "/v5/order/create":
		f.lastCreate = body
		if f.rejectCode != 0 {
			fail(f.rejectCode, "rejected by fake")
			return
		}
		f.seq++
		id := fmt.Sprintf("v-%d", f.seq)
		item := rest.OrderItem{
			OrderID:     id,
			OrderLinkID: fmt.Sprint(body["orderLinkId"]),
			Symbol:      fmt.Sprint(body["symbol"]),
			Side:        fmt.Sprint(body["side"]),
			OrderType:   fmt.Sprint(body["orderType"]),
			Price:       str(body["price"]),
			Qty:         fmt.Sprint(body["qty"]),
			OrderStatus: "New",
			TimeInForce: str(body["timeInForce"]),
		}
		if reduce, ok := body["reduceOnly"].(bool); ok {
			item.ReduceOnly = reduce
		}
		f.orders[id] = item
		reply(rest.PlacedOrder{OrderID: id, OrderLinkID: item.OrderLinkID})
	case "/v5/order/cancel":
		id := fmt.Sprint(body["orderId"])
		item, ok := f.orders[id]
		if !ok || item.OrderStatus != "New" {
			fail(110001, "Order does not exist")
			return
		}
		item.OrderStatus = "Cancelled"
		f.orders[id] = item
		reply(rest.PlacedOrder{OrderID: id})
	case "/v5/order/cancel-all":
		var list []rest.PlacedOrder
		for id, item := range f.orders {
			if item.OrderStatus == "New" {
				item.OrderStatus = "Cancelled"
				f.orders[id] = item
				list = append(list, rest.PlacedOrder{OrderID: id, OrderLinkID: item.OrderLinkID})
			}
		}
		reply(map[string]any{"list": list})
	case "/v5/order/realtime":
		list := []rest.OrderItem{}
		for _, item := range f.orders {
			if item.OrderStatus == "New" {
				list = append(list, item)
			}
		}
		reply(map[string]any{"list": list})
	case "/v5/order/history":
		item, ok := f.orders[r.URL.Query().Get("orderId")]
		if !ok {
			reply(map[string]any{"list": []rest.OrderItem{}})
			return
		}
		reply(map[string]any{"list": []rest.OrderItem{item}})
	default:
		http.NotFound(w, r)
	}
}

func str(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func (f *fakeBybit) setStatus(id, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item := f.orders[id]
	item.OrderStatus = status
	if status == "Filled" {
		item.CumExecQty = item.Qty
	}
	f.orders[id] = item
}

func (f *fakeBybit) create() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastCreate
}

func newTestVenue(t *testing.T) (*Venue, *fakeBybit) {
	t.Helper()
	fake := &fakeBybit{orders: make(map[string]rest.OrderItem)}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client := rest.New(rest.Config{
		BaseURL:     srv.URL,
		APIKey:      "key",
		Secret:      "secret",
		AccountType: "UNIFIED",
		Category:    "linear",
		SettleCoin:  "USDT",
	}, logger.Discard())
	v := New(Config{Name: "bybit", Symbols: []string{"BTC/USDT"}}, client, market.NewTickers(0), logger.Discard())
	if err := v.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return v, fake
}

func TestInitLoadsAccount(t *testing.T) {
	v, _ := newTestVenue(t)

	if balance, ok := v.TradableBalance(); !ok || balance != 800 {
		t.Errorf("balance = %v %v, want 800", balance, ok)
	}
	if got := v.CalculatePrice(20000.06, "BTC/USDT"); got != 20000.1 {
		t.Errorf("CalculatePrice = %v", got)
	}
	if got := v.CalculateAmount(0.0129, symbol); got != 0.012 {
		t.Errorf("CalculateAmount = %v", got)
	}
	if v.IsInverseSymbol(symbol) {
		t.Error("linear symbol reported inverse")
	}
	if ticker, ok := v.tickers.Ticker("bybit", symbol); !ok || ticker.Ask != 20001 {
		t.Errorf("ticker = %+v %v", ticker, ok)
	}
}

func TestOrderAndCancel(t *testing.T) {
	v, fake := newTestVenue(t)
	ctx := context.Background()

	order, _ := models.NewPostOnlyLimitOrder(symbol, models.SideLong, 19999.94, 0.0129)
	placed, err := v.Order(ctx, order)
	if err != nil {
		t.Fatalf("Order: %v", err)
	}
	if !placed.IsOpen() || placed.ID == order.ID {
		t.Fatalf("placed = %+v, want an open order under the venue id", placed)
	}

	body := fake.create()
	if body["price"] != "19999.9" || body["qty"] != "0.012" || body["timeInForce"] != "PostOnly" || body["orderLinkId"] != order.ID {
		t.Errorf("create body = %v", body)
	}

	found, ok := v.FindOrderByID(order.ID)
	if !ok || found.ID != placed.ID {
		t.Fatalf("FindOrderByID(client id) = %+v %v", found, ok)
	}

	canceled, err := v.CancelOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if canceled == nil || canceled.Status != models.OrderStatusCanceled {
		t.Errorf("canceled = %+v", canceled)
	}
	if len(v.OrdersForSymbol(symbol)) != 0 {
		t.Error("canceled order still listed as open")
	}

	if got, err := v.CancelOrder(ctx, "unknown"); got != nil || err != nil {
		t.Errorf("CancelOrder(unknown) = %v, %v", got, err)
	}
}

func TestBusinessRejection(t *testing.T) {
	v, fake := newTestVenue(t)
	fake.rejectCode = 110007

	order, _ := models.NewMarketOrder(symbol, models.SideLong, 0.01)
	got, err := v.Order(context.Background(), order)
	if err != nil {
		t.Fatalf("rejection must not be an error: %v", err)
	}
	if !got.IsRejected() || got.Retry {
		t.Errorf("got = %+v, want final rejection", got)
	}
	if found, ok := v.FindOrderByID(order.ID); !ok || !found.IsRejected() {
		t.Errorf("rejection not tracked: %+v", found)
	}
}

func TestStopOrderBody(t *testing.T) {
	v, fake := newTestVenue(t)

	stop, _ := models.NewStopOrder(symbol, models.SideShort, 19600, 0.02)
	placed, err := v.Order(context.Background(), stop)
	if err != nil {
		t.Fatal(err)
	}

	body := fake.create()
	if _, ok := body["price"]; ok {
		t.Errorf("stop body carries a price: %v", body)
	}
	if body["triggerPrice"] != "19600.0" || body["triggerDirection"] != float64(2) || body["orderType"] != "Market" || body["reduceOnly"] != true {
		t.Errorf("stop body = %v", body)
	}
	if placed.Type != models.OrderTypeStop || !placed.Options.ReduceOnly {
		t.Errorf("placed = %+v", placed)
	}
}

func TestUpdateOrderReplaces(t *testing.T) {
	v, _ := newTestVenue(t)
	ctx := context.Background()

	order, _ := models.NewPostOnlyLimitOrder(symbol, models.SideLong, 19900, 0.01)
	placed, _ := v.Order(ctx, order)

	updated, err := v.UpdateOrder(ctx, placed.ID, exchange.PatchAmount(0.02))
	if err != nil {
		t.Fatalf("UpdateOrder: %v", err)
	}
	if updated == nil || updated.ID == placed.ID || updated.Amount != 0.02 || updated.Price != 19900 {
		t.Fatalf("updated = %+v", updated)
	}
	if !updated.Options.PostOnly || !updated.Options.AdjustPrice {
		t.Errorf("options lost on replace: %+v", updated.Options)
	}
	if old, _ := v.FindOrderByID(placed.ID); old.Status != models.OrderStatusCanceled {
		t.Errorf("old order = %+v", old)
	}
}

func TestResyncFindsMissedFill(t *testing.T) {
	v, fake := newTestVenue(t)
	ctx := context.Background()

	order, _ := models.NewPostOnlyLimitOrder(symbol, models.SideLong, 19900, 0.01)
	placed, _ := v.Order(ctx, order)
	fake.setStatus(placed.ID, "Filled")

	// Let the local write age past the snapshot start.
	v.now = func() time.Time { return time.Now().Add(time.Minute) }
	if err := v.Resync(ctx); err != nil {
		t.Fatalf("Resync: %v", err)
	}

	got, ok := v.FindOrderByID(order.ID)
	if !ok || !got.IsDone() {
		t.Errorf("order = %+v %v, want done", got, ok)
	}
}

func TestResyncKeepsLocalCancel(t *testing.T) {
	v, fake := newTestVenue(t)
	ctx := context.Background()

	order, _ := models.NewPostOnlyLimitOrder(symbol, models.SideLong, 19900, 0.01)
	placed, _ := v.Order(ctx, order)
	if _, err := v.CancelOrder(ctx, placed.ID); err != nil {
		t.Fatal(err)
	}
	// The venue still lists the order as open for a moment.
	fake.setStatus(placed.ID, "New")

	if err := v.Resync(ctx); err != nil {
		t.Fatal(err)
	}
	if got, _ := v.FindOrderByID(placed.ID); got.Status != models.OrderStatusCanceled {
		t.Errorf("status = %s, want canceled", got.Status)
	}
}

func TestPositionsAndTrailingStop(t *testing.T) {
	v, fake := newTestVenue(t)
	ctx := context.Background()

	fake.mu.Lock()
	fake.positions = []rest.PositionItem{{Symbol: symbol, Side: "Buy", Size: "0.01", AvgPrice: "20000", TrailingStop: "0"}}
	fake.mu.Unlock()
	if err := v.Resync(ctx); err != nil {
		t.Fatal(err)
	}
	position, ok := v.PositionForSymbol(symbol)
	if !ok || position.Amount != 0.01 {
		t.Fatalf("position = %+v %v", position, ok)
	}

	trailing, _ := models.NewTrailingStopOrder(symbol, models.SideShort, 210, 0.01)
	placed, err := v.Order(ctx, trailing)
	if err != nil || !placed.IsOpen() {
		t.Fatalf("trailing = %+v, %v", placed, err)
	}
	fake.mu.Lock()
	armed := fake.trailing
	fake.mu.Unlock()
	if armed != "210.0" {
		t.Errorf("trailingStop = %q", armed)
	}
	if open := v.OrdersForSymbol(symbol); len(open) != 1 || open[0].Type != models.OrderTypeTrailingStop {
		t.Errorf("open = %+v", open)
	}

	fake.mu.Lock()
	fake.positions = nil
	fake.mu.Unlock()
	if err := v.Resync(ctx); err != nil {
		t.Fatal(err)
	}
	if got, _ := v.FindOrderByID(trailing.ID); !got.IsDone() {
		t.Errorf("trailing after close = %+v", got)
	}

	select {
	case e := <-v.Events():
		if e.Type != exchange.EventTypePositionClosed || e.Symbol != symbol {
			t.Errorf("event = %+v", e)
		}
	default:
		t.Error("position close was not forwarded")
	}
}

func TestStreamEvents(t *testing.T) {
	v, _ := newTestVenue(t)

	order, _ := models.NewPostOnlyLimitOrder(symbol, models.SideLong, 19900, 0.01)
	v.remember(order.ID, &models.ExchangeOrder{ID: "v-77"}, &order.Options)
	v.apply(exchange.Event{
		Type:     exchange.EventTypeOrder,
		ClientID: order.ID,
		Order:    &models.ExchangeOrder{ID: "v-77", Symbol: symbol, Status: models.OrderStatusOpen, Price: 19900, Amount: 0.01, Side: models.OrderSideBuy, Type: models.OrderTypeLimit, UpdatedAt: time.Now()},
	})
	got, ok := v.FindOrderByID(order.ID)
	if !ok || got.ID != "v-77" || !got.Options.AdjustPrice {
		t.Errorf("streamed order = %+v %v", got, ok)
	}

	position, _ := models.NewPosition(symbol, models.SideShort, -0.01, 20000, time.Now(), time.Now())
	v.apply(exchange.Event{Type: exchange.EventTypePosition, Position: &position})
	v.apply(exchange.Event{Type: exchange.EventTypeWallet, Balance: &exchange.Balance{Coin: "USDT", Available: 42}})
	v.apply(exchange.Event{Type: exchange.EventTypeTicker, Ticker: &models.Ticker{Symbol: symbol, Bid: 1, Ask: 2, Last: 1.5, Time: time.Now()}})

	if p, ok := v.PositionForSymbol(symbol); !ok || p.Side != models.SideShort {
		t.Errorf("position = %+v", p)
	}
	if balance, _ := v.TradableBalance(); balance != 42 {
		t.Errorf("balance = %v", balance)
	}
	if ticker, _ := v.tickers.Ticker("bybit", symbol); ticker.Last != 1.5 {
		t.Errorf("ticker = %+v", ticker)
	}

	v.apply(exchange.Event{Type: exchange.EventTypePositionClosed, Symbol: symbol})
	if _, ok := v.PositionForSymbol(symbol); ok {
		t.Error("closed position still listed")
	}

	var types []exchange.EventType
	for len(v.Events()) > 0 {
		types = append(types, (<-v.Events()).Type)
	}
	want := []exchange.EventType{exchange.EventTypeOrder, exchange.EventTypePosition, exchange.EventTypePositionClosed}
	if fmt.Sprint(types) != fmt.Sprint(want) {
		t.Errorf("forwarded = %v, want %v", types, want)
	}
}

func TestQuirks(t *testing.T) {
	q := Quirks{Category: "linear"}
	for _, in := range []string{"BTC/USDT", "btc-usdt", "BTC/USDT:USDT", "BTCUSDT"} {
		if got := q.RewriteSymbol(in); got != symbol {
			t.Errorf("RewriteSymbol(%q) = %q", in, got)
		}
	}

	limit, _ := models.NewPostOnlyLimitOrder(symbol, models.SideLong, 100, 1)
	body := map[string]any{"price": "100"}
	q.InjectCreateFields(limit, body)
	if body["price"] != "100" || body["positionIdx"] != 0 {
		t.Errorf("limit body = %v", body)
	}

	spot := Quirks{Category: "spot"}
	args := spot.CancelArgsFor(models.ExchangeOrder{ID: "1", Symbol: symbol, Type: models.OrderTypeStop})
	if args["orderFilter"] != "StopOrder" {
		t.Errorf("spot stop cancel args = %v", args)
	}
	if args := q.CancelArgsFor(models.ExchangeOrder{ID: "1", Symbol: symbol, Type: models.OrderTypeStop}); args["orderFilter"] != nil {
		t.Errorf("linear cancel args = %v", args)
	}
}
