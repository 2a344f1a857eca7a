package paper

import (
	"context"
	"testing"
	"time"

	"intentbot/internal/exchange"
	"intentbot/internal/models"
)

func newVenue(t *testing.T) *Venue {
	t.Helper()
	v := New("paper", nil)
	v.SetRules(exchange.InstrumentRules{Symbol: "BTCUSDT", TickSize: 0.5, LotSize: 0.001})
	v.SetTicker(models.Ticker{Symbol: "BTCUSDT", Bid: 100, Ask: 101, Last: 100.5, Time: time.Now()})
	return v
}

func TestMarketOrderFillsAndOpensPosition(t *testing.T) {
	v := newVenue(t)
	ctx := context.Background()

	order, _ := models.NewMarketOrder("BTCUSDT", models.SideLong, 2)
	placed, err := v.Order(ctx, order)
	if err != nil {
		t.Fatalf("Order: %v", err)
	}
	if !placed.IsDone() || placed.Price != 101 {
		t.Fatalf("placed = %+v, want done at ask", placed)
	}
	position, ok := v.PositionForSymbol("BTCUSDT")
	if !ok || position.Amount != 2 || position.Side != models.SideLong {
		t.Fatalf("position = %+v", position)
	}

	closing, _ := models.NewCloseMarketOrder("BTCUSDT", models.SideShort, 2)
	if _, err := v.Order(ctx, closing); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, ok := v.PositionForSymbol("BTCUSDT"); ok {
		t.Fatal("position must be gone after an exact inverse fill")
	}

	var sawClosed bool
	for len(v.Events()) > 0 {
		if ev := <-v.Events(); ev.Type == exchange.EventTypePositionClosed && ev.Symbol == "BTCUSDT" {
			sawClosed = true
		}
	}
	if !sawClosed {
		t.Error("expected a position closed event")
	}
}

func TestLimitOrderRestsUntilFilled(t *testing.T) {
	v := newVenue(t)
	order, _ := models.NewPostOnlyLimitOrder("BTCUSDT", models.SideShort, 102, 1)
	placed, err := v.Order(context.Background(), order)
	if err != nil {
		t.Fatalf("Order: %v", err)
	}
	if !placed.IsOpen() || len(v.OrdersForSymbol("BTCUSDT")) != 1 {
		t.Fatalf("limit order must rest open: %+v", placed)
	}
	if err := v.FillOrder(placed.ID); err != nil {
		t.Fatalf("FillOrder: %v", err)
	}
	position, ok := v.PositionForSymbol("BTCUSDT")
	if !ok || position.Amount != -1 || position.Entry != 102 {
		t.Fatalf("position = %+v", position)
	}
}

func TestScriptedOutcomes(t *testing.T) {
	v := newVenue(t)
	v.QueueOutcome(OutcomeReject, OutcomeRejectRetry, OutcomeError)
	order, _ := models.NewPostOnlyLimitOrder("BTCUSDT", models.SideLong, 99, 1)
	ctx := context.Background()

	first, _ := v.Order(ctx, order)
	if !first.IsRejected() || first.Retry {
		t.Errorf("first = %+v, want non-retryable rejection", first)
	}
	second, _ := v.Order(ctx, order.WithID(models.NewClientOrderID()))
	if !second.IsRejected() || !second.Retry || !second.ShouldCancel() {
		t.Errorf("second = %+v, want retryable rejection", second)
	}
	if _, err := v.Order(ctx, order); err == nil {
		t.Error("third call must fail with a transport error")
	}
	if v.Calls().Order != 3 {
		t.Errorf("Order calls = %d, want 3", v.Calls().Order)
	}
}

func TestUpdateOrderReplacesThroughCancel(t *testing.T) {
	v := newVenue(t)
	ctx := context.Background()
	stop, _ := models.NewStopOrder("BTCUSDT", models.SideShort, 95, 1)
	placed, _ := v.Order(ctx, stop)

	updated, err := v.UpdateOrder(ctx, placed.ID, exchange.PatchAmount(1.5))
	if err != nil {
		t.Fatalf("UpdateOrder: %v", err)
	}
	if updated == nil || updated.Amount != 1.5 || updated.ID == placed.ID {
		t.Fatalf("updated = %+v", updated)
	}
	old, _ := v.FindOrderByID(placed.ID)
	if old.Status != models.OrderStatusCanceled {
		t.Errorf("old order status = %q, want canceled", old.Status)
	}
	if open := v.OrdersForSymbol("BTCUSDT"); len(open) != 1 {
		t.Errorf("open orders = %d, want exactly the replacement", len(open))
	}

	missing, err := v.UpdateOrder(ctx, "nope", exchange.PatchAmount(1))
	if err != nil || missing != nil {
		t.Errorf("unknown id: got %+v, %v", missing, err)
	}
}

func TestCalculateRounding(t *testing.T) {
	v := newVenue(t)
	if got := v.CalculateAmount(0.0019, "BTCUSDT"); got != 0.001 {
		t.Errorf("CalculateAmount = %v, want 0.001", got)
	}
	if got := v.CalculatePrice(100.3, "BTCUSDT"); got != 100.5 {
		t.Errorf("CalculatePrice = %v, want 100.5", got)
	}
	if got := v.CalculateAmount(0.0019, "ETHUSDT"); got != 0.0019 {
		t.Errorf("unknown symbol must pass through, got %v", got)
	}
}
