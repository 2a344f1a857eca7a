package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"intentbot/internal/intent"
	"intentbot/internal/logger"
	"intentbot/internal/models"
)

func openStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "intentbot.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestActionJournal(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	records := []models.ActionRecord{
		{Time: base, Exchange: "bybit", Symbol: "BTCUSDT", Verb: "create", IntentID: "i-1", OrderID: "ib-1", Side: models.OrderSideBuy, Type: models.OrderTypeLimit, Price: 20000, Amount: 0.01, Status: "open"},
		{Time: base.Add(time.Second), Exchange: "bybit", Symbol: "ETHUSDT", Verb: "cancel", OrderID: "ib-2"},
		{Time: base.Add(2 * time.Second), Exchange: "bybit", Symbol: "BTCUSDT", Verb: "update", IntentID: "i-1", OrderID: "ib-3", Error: "timeout"},
	}
	for _, r := range records {
		if err := s.RecordAction(ctx, r); err != nil {
			t.Fatalf("RecordAction: %v", err)
		}
	}

	tests := []struct {
		name   string
		filter ActionFilter
		want   []string
	}{
		{"all", ActionFilter{}, []string{"ib-1", "ib-2", "ib-3"}},
		{"by symbol", ActionFilter{Symbol: "BTCUSDT"}, []string{"ib-1", "ib-3"}},
		{"by intent", ActionFilter{IntentID: "i-1"}, []string{"ib-1", "ib-3"}},
		{"most recent", ActionFilter{Limit: 2}, []string{"ib-2", "ib-3"}},
		{"other venue", ActionFilter{Exchange: "paper"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListActions(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListActions: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d records, want %d", len(got), len(tt.want))
			}
			for i, r := range got {
				if r.OrderID != tt.want[i] {
					t.Errorf("record %d = %s, want %s", i, r.OrderID, tt.want[i])
				}
			}
		})
	}

	all, _ := s.ListActions(ctx, ActionFilter{})
	first := all[0]
	if !first.Time.Equal(base) || first.Side != models.OrderSideBuy || first.Type != models.OrderTypeLimit || first.Price != 20000 {
		t.Errorf("first record = %+v", first)
	}
	if all[2].Error != "timeout" {
		t.Errorf("error not kept: %+v", all[2])
	}
}

func TestIntentPersistence(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	intents := intent.NewStore().WithPersister(s, logger.Discard())
	capital := &models.CapitalSpec{Kind: models.CapitalCurrency, Value: 100}
	long, err := intents.SetIntent("bybit", "BTCUSDT", models.IntentLong, capital, models.IntentOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := intents.SetIntent("bybit", "ETHUSDT", models.IntentClose, nil, models.IntentOptions{Market: true}); err != nil {
		t.Fatal(err)
	}

	order, _ := models.NewPostOnlyLimitOrder("BTCUSDT", models.SideLong, 20000, 0.005)
	long.Order = &order
	long.Retries = 2
	intents.Update(long)
	intents.ClearIntent("bybit", "ETHUSDT")

	loaded, err := s.LoadIntents(ctx)
	if err != nil {
		t.Fatalf("LoadIntents: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("loaded %d intents, want 1", len(loaded))
	}
	got := loaded[0]
	if got.ID != long.ID || got.State != models.IntentLong || got.Retries != 2 {
		t.Errorf("loaded = %+v", got)
	}
	if got.Capital == nil || *got.Capital != *capital {
		t.Errorf("capital = %+v", got.Capital)
	}
	if got.Order == nil || got.Order.ID != order.ID || !got.Order.Options.PostOnly {
		t.Errorf("order = %+v", got.Order)
	}

	restored := intent.NewStore()
	if n := restored.Restore(loaded); n != 1 {
		t.Errorf("Restore = %d, want 1", n)
	}
	if restored.IsNeutral("bybit", "BTCUSDT") {
		t.Error("restored store must hold the intent")
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "intentbot.db")
	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	ps, _ := models.NewPairState("paper", "BTCUSDT", models.IntentClose, nil, models.IntentOptions{}, time.Now())
	if err := s.SaveIntent(context.Background(), ps); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	loaded, err := s.LoadIntents(context.Background())
	if err != nil || len(loaded) != 1 || loaded[0].ID != ps.ID {
		t.Errorf("loaded = %+v, %v", loaded, err)
	}
}

func TestDeleteIntentMatchesID(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	old, _ := models.NewPairState("bybit", "BTCUSDT", models.IntentLong, &models.CapitalSpec{Kind: models.CapitalAsset, Value: 0.01}, models.IntentOptions{}, time.Now())
	next, _ := models.NewPairState("bybit", "BTCUSDT", models.IntentClose, nil, models.IntentOptions{Market: true}, time.Now())
	if err := s.SaveIntent(ctx, next); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteIntent(ctx, "bybit", "BTCUSDT", old.ID); err != nil {
		t.Fatalf("DeleteIntent: %v", err)
	}
	loaded, _ := s.LoadIntents(ctx)
	if len(loaded) != 1 || loaded[0].ID != next.ID {
		t.Fatalf("loaded = %+v, want the newer intent kept", loaded)
	}

	if err := s.DeleteIntent(ctx, "bybit", "BTCUSDT", next.ID); err != nil {
		t.Fatal(err)
	}
	if loaded, _ := s.LoadIntents(ctx); len(loaded) != 0 {
		t.Errorf("loaded = %+v, want none", loaded)
	}
}
