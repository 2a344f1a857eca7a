package watchdog

import (
	"context"
	"testing"
	"time"

	"intentbot/internal/config"
	"intentbot/internal/engine"
	"intentbot/internal/exchange"
	"intentbot/internal/exchange/paper"
	"intentbot/internal/intent"
	"intentbot/internal/logger"
	"intentbot/internal/market"
	"intentbot/internal/models"
)

const symbol = "BTCUSDT"

type fixture struct {
	watchdog *Engine
	engine   *engine.Engine
	venue    *paper.Venue
	intents  *intent.Store
}

func newFixture(t *testing.T, specs ...config.WatchdogSpec) *fixture {
	t.Helper()
	tickers := market.NewTickers(0)
	venue := paper.New("paper", tickers)
	venue.SetRules(exchange.InstrumentRules{Symbol: symbol, TickSize: 0.1, LotSize: 0.001})
	venue.SetTicker(models.Ticker{Symbol: symbol, Bid: 20000, Ask: 20001, Last: 20000})
	venue.SetBalance(10000)

	registry := exchange.NewRegistry(venue)
	intents := intent.NewStore()
	cfg := config.DefaultEngineConfig()
	cfg.RetryBackoff = time.Millisecond
	exec := engine.New(cfg, registry, intents, tickers, logger.Discard())

	pairs := []config.PairConfig{{Exchange: "paper", Symbol: symbol, Watchdogs: specs}}
	return &fixture{
		watchdog: New(pairs, registry, intents, tickers, exec, logger.Discard()),
		engine:   exec,
		venue:    venue,
		intents:  intents,
	}
}

func (f *fixture) setPosition(t *testing.T, side models.Side, amount, entry float64) {
	t.Helper()
	pos, err := models.NewPosition(symbol, side, amount, entry, time.Now(), time.Now())
	if err != nil {
		t.Fatalf("NewPosition: %v", err)
	}
	f.venue.SetPosition(pos)
}

func (f *fixture) tick(t *testing.T) {
	t.Helper()
	if !f.watchdog.Tick(context.Background()) {
		t.Fatal("Tick was skipped")
	}
}

func (f *fixture) setTicker(last float64) {
	f.venue.SetTicker(models.Ticker{Symbol: symbol, Bid: last, Ask: last + 1, Last: last, Time: time.Now().Add(time.Second)})
}

func TestStopLossIsCreatedOnceAndAmended(t *testing.T) {
	f := newFixture(t, config.WatchdogSpec{Type: config.WatchdogStopLoss, Percent: 2})
	f.setPosition(t, models.SideLong, 0.02, 20000)

	f.tick(t)
	f.tick(t)

	open := f.venue.OrdersForSymbol(symbol)
	if len(open) != 1 {
		t.Fatalf("open orders = %d, want 1", len(open))
	}
	stop := open[0]
	if stop.Type != models.OrderTypeStop || stop.Side != models.OrderSideSell || stop.Price != 19600 || stop.Amount != 0.02 {
		t.Errorf("stop = %+v", stop)
	}
	if !stop.Options.ReduceOnly {
		t.Error("stop must be reduce-only")
	}
	if got := f.venue.Calls().Order; got != 1 {
		t.Errorf("Order calls = %d, want 1", got)
	}

	f.setPosition(t, models.SideLong, 0.03, 20000)
	f.tick(t)

	open = f.venue.OrdersForSymbol(symbol)
	if len(open) != 1 || open[0].ID == stop.ID || open[0].Amount != 0.03 {
		t.Fatalf("open = %+v, want the stop resized to 0.03", open)
	}
}

func TestStopLossSkippedWhenItWouldTrigger(t *testing.T) {
	f := newFixture(t, config.WatchdogSpec{Type: config.WatchdogStopLoss, Percent: 2})
	f.setPosition(t, models.SideLong, 0.02, 20000)
	f.setTicker(19500)

	f.tick(t)

	if calls := f.venue.Calls().Total(); calls != 0 {
		t.Errorf("venue calls = %d, want 0", calls)
	}
}

func TestRiskRewardBracket(t *testing.T) {
	f := newFixture(t, config.WatchdogSpec{Type: config.WatchdogRiskReward, TargetPercent: 6, StopPercent: 2})
	f.setPosition(t, models.SideShort, -0.01, 20000)

	f.tick(t)

	var target, stop *models.ExchangeOrder
	for _, o := range f.venue.OrdersForSymbol(symbol) {
		o := o
		switch o.Type {
		case models.OrderTypeLimit:
			target = &o
		case models.OrderTypeStop:
			stop = &o
		}
	}
	if target == nil || target.Price != 18800 || target.Side != models.OrderSideBuy {
		t.Errorf("target = %+v", target)
	}
	if stop == nil || stop.Price != 20400 || stop.Side != models.OrderSideBuy {
		t.Errorf("stop = %+v", stop)
	}
}

func TestTrailingStopArmsAtTarget(t *testing.T) {
	f := newFixture(t, config.WatchdogSpec{Type: config.WatchdogTrailingStop, TargetPercent: 3, StopPercent: 1})
	f.setPosition(t, models.SideLong, 0.01, 20000)

	f.tick(t)
	if got := f.venue.Calls().Order; got != 0 {
		t.Fatalf("trailing stop armed too early: %d orders", got)
	}

	f.setTicker(21000)
	f.tick(t)

	open := f.venue.OrdersForSymbol(symbol)
	if len(open) != 1 || open[0].Type != models.OrderTypeTrailingStop || open[0].Price != 210 {
		t.Fatalf("open = %+v, want a trailing stop 210 behind", open)
	}
}

func TestStopLossWatch(t *testing.T) {
	spec := config.WatchdogSpec{Type: config.WatchdogStopLossWatch, MaxLoss: 3}

	t.Run("breach writes market close", func(t *testing.T) {
		f := newFixture(t, spec)
		f.setPosition(t, models.SideLong, 0.01, 20000)
		f.setTicker(19000)

		f.tick(t)

		ps, ok := f.intents.Get("paper", symbol)
		if !ok || ps.State != models.IntentClose || !ps.Options.Market {
			t.Fatalf("intent = %+v, want market close", ps)
		}
		if calls := f.venue.Calls().Total(); calls != 0 {
			t.Errorf("watcher placed %d orders itself", calls)
		}
	})

	t.Run("within limit", func(t *testing.T) {
		f := newFixture(t, spec)
		f.setPosition(t, models.SideLong, 0.01, 20000)
		f.setTicker(19700)

		f.tick(t)

		if !f.intents.IsNeutral("paper", symbol) {
			t.Error("no intent expected within the loss limit")
		}
	})

	t.Run("pending intent is kept", func(t *testing.T) {
		f := newFixture(t, spec)
		f.setPosition(t, models.SideShort, -0.01, 20000)
		f.setTicker(21000)
		capital := &models.CapitalSpec{Kind: models.CapitalAsset, Value: 0.01}
		if _, err := f.intents.SetIntent("paper", symbol, models.IntentLong, capital, models.IntentOptions{}); err != nil {
			t.Fatal(err)
		}

		f.tick(t)

		if ps, _ := f.intents.Get("paper", symbol); ps.State != models.IntentLong {
			t.Errorf("state = %s, want the pending long intent", ps.State)
		}
	})
}

func TestOnPositionClosedCancelsProtectiveOnly(t *testing.T) {
	f := newFixture(t)
	f.venue.AddOrder(models.ExchangeOrder{ID: "stop", Symbol: symbol, Status: models.OrderStatusOpen, Price: 19000, Amount: 0.01, Side: models.OrderSideSell, Type: models.OrderTypeStop})
	f.venue.AddOrder(models.ExchangeOrder{ID: "target", Symbol: symbol, Status: models.OrderStatusOpen, Price: 21000, Amount: 0.01, Side: models.OrderSideSell, Type: models.OrderTypeLimit, Options: models.OrderOptions{ReduceOnly: true}})
	f.venue.AddOrder(models.ExchangeOrder{ID: "entry", Symbol: symbol, Status: models.OrderStatusOpen, Price: 19900, Amount: 0.01, Side: models.OrderSideBuy, Type: models.OrderTypeLimit})

	got := f.watchdog.OnPositionClosed(context.Background(), f.venue, symbol)

	if got != 2 {
		t.Errorf("canceled = %d, want 2", got)
	}
	open := f.venue.OrdersForSymbol(symbol)
	if len(open) != 1 || open[0].ID != "entry" {
		t.Errorf("open = %+v, want only the entry order", open)
	}
}

func TestPositionClosedEventCancelsStops(t *testing.T) {
	f := newFixture(t, config.WatchdogSpec{Type: config.WatchdogStopLoss, Percent: 2})
	f.setPosition(t, models.SideLong, 0.01, 20000)
	f.tick(t)
	if len(f.venue.OrdersForSymbol(symbol)) != 1 {
		t.Fatal("stop was not placed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.watchdog.HandleEvents(ctx, f.venue, f.venue.Events())
	}()

	closing, err := models.NewCloseMarketOrder(symbol, models.SideShort, 0.01)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.venue.Order(context.Background(), closing); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(f.venue.OrdersForSymbol(symbol)) > 0 {
		if time.Now().After(deadline) {
			t.Fatal("protective order outlived the position")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done
}

func TestPairsWithoutWatchdogsAreIgnored(t *testing.T) {
	f := newFixture(t)
	f.setPosition(t, models.SideLong, 0.01, 20000)

	f.tick(t)

	if calls := f.venue.Calls().Total(); calls != 0 {
		t.Errorf("venue calls = %d, want 0", calls)
	}
}

func TestFlipIntentLeavesStopInPlace(t *testing.T) {
	f := newFixture(t, config.WatchdogSpec{Type: config.WatchdogStopLoss, Percent: 5})
	f.setPosition(t, models.SideShort, -0.01, 20000)
	f.tick(t)
	if _, err := f.intents.SetIntent("paper", symbol, models.IntentLong, &models.CapitalSpec{Kind: models.CapitalAsset, Value: 0.01}, models.IntentOptions{}); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		if !f.engine.Tick(context.Background()) {
			t.Fatal("engine tick was skipped")
		}
		f.tick(t)
	}

	calls := f.venue.Calls()
	if calls.Order != 2 || calls.Cancel != 0 {
		t.Errorf("calls = %+v, want the stop and one entry order only", calls)
	}
	var stops int
	for _, o := range f.venue.OrdersForSymbol(symbol) {
		if o.Type == models.OrderTypeStop {
			stops++
		}
	}
	if stops != 1 {
		t.Errorf("open stops = %d, want 1", stops)
	}
}
