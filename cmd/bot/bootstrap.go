package main

import (
	"context"
	"errors"
	"fmt"

	"intentbot/internal/config"
	"intentbot/internal/exchange"
	"intentbot/internal/exchange/bybit"
	"intentbot/internal/exchange/bybit/rest"
	"intentbot/internal/exchange/bybit/ws"
	"intentbot/internal/exchange/paper"
	"intentbot/internal/logger"
	"intentbot/internal/market"
	"intentbot/internal/secrets"
	"intentbot/internal/store"

	"github.com/sirupsen/logrus"
)

type eventSource interface {
	Events() <-chan exchange.Event
}

type loop func(ctx context.Context) error

// app holds everything the commands share once config and venues are up.
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	tickers *market.Tickers
	venues  *exchange.Registry
	sources map[string]eventSource
	loops   []loop
	store   *store.SQLiteStore
	closers []func() error
}

func loadConfig(ctx context.Context) (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}

	log := logger.New(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})

	if cfg.GCP.UseSecrets {
		sm, err := secrets.NewGCPSecretManager(ctx, cfg.GCP.ProjectID, log.WithComponent("secrets"))
		if err != nil {
			return nil, nil, err
		}
		defer sm.Close()
		if err := cfg.ResolveSecrets(ctx, sm); err != nil {
			return nil, nil, err
		}
	}
	return cfg, log, nil
}

func openStore(cfg *config.Config) (*store.SQLiteStore, error) {
	if cfg.Storage.SQLitePath == "" {
		return nil, nil
	}
	return store.NewSQLiteStore(cfg.Storage.SQLitePath)
}

func bootstrap(ctx context.Context) (*app, error) {
	cfg, log, err := loadConfig(ctx)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		log:     log,
		tickers: market.NewTickers(cfg.Runtime.TickerMaxAge),
		venues:  exchange.NewRegistry(),
		sources: make(map[string]eventSource),
	}

	a.store, err = openStore(cfg)
	if err != nil {
		return nil, err
	}
	if a.store != nil {
		a.closers = append(a.closers, a.store.Close)
	}

	for _, exCfg := range cfg.Exchanges {
		if err := a.addVenue(ctx, exCfg); err != nil {
			a.Close()
			return nil, fmt.Errorf("Биржа %s: %w", exCfg.Name, err)
		}
	}

	log.WithFields(logrus.Fields{
		"exchanges": len(cfg.Exchanges),
		"pairs":     len(cfg.Pairs),
		"dry_run":   cfg.Runtime.DryRun,
	}).Info("Бот запущен.")
	return a, nil
}

func (a *app) addVenue(ctx context.Context, exCfg config.ExchangeConfig) error {
	symbols := a.cfg.Symbols(exCfg.Name)

	if exCfg.Kind == "paper" || a.cfg.Runtime.DryRun {
		venue := paper.New(exCfg.Name, a.tickers)
		balance := exCfg.PaperBalance
		if balance <= 0 {
			balance = 10000
		}
		venue.SetBalance(balance)
		if exCfg.Kind == "bybit" {
			if err := a.mirrorMarket(ctx, exCfg, venue, symbols); err != nil {
				return err
			}
		}
		a.sources[exCfg.Name] = venue
		return a.venues.Add(venue)
	}

	client := a.restClient(exCfg)
	venue := bybit.New(bybit.Config{
		Name:            exCfg.Name,
		Symbols:         symbols,
		ResyncInterval:  exCfg.ResyncInterval,
		LedgerRetention: a.cfg.Runtime.LedgerRetention,
	}, client, a.tickers, a.log)
	venue.WithStreams(
		ws.New(exCfg.Name, exCfg.WSPublicURL, "", "", a.log),
		ws.New(exCfg.Name, exCfg.WSPrivateURL, exCfg.APIKey, exCfg.Secret, a.log),
	)
	if err := venue.Init(ctx); err != nil {
		return err
	}
	a.sources[exCfg.Name] = venue
	a.loops = append(a.loops, venue.Run)
	return a.venues.Add(venue)
}

// mirrorMarket gives a paper venue the real instrument rules and book of a
// Bybit market, so dry runs size and round like live trading.
func (a *app) mirrorMarket(ctx context.Context, exCfg config.ExchangeConfig, venue *paper.Venue, symbols []string) error {
	client := a.restClient(exCfg)
	quirks := bybit.Quirks{Category: client.Category()}
	for _, symbol := range symbols {
		rules, err := client.GetInstrumentRules(ctx, quirks.RewriteSymbol(symbol))
		if err != nil {
			return err
		}
		rules.Symbol = symbol
		venue.SetRules(rules)
	}

	stream := ws.New(exCfg.Name, exCfg.WSPublicURL, "", "", a.log)
	names := make(map[string]string, len(symbols))
	topics := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		venueSymbol := quirks.RewriteSymbol(symbol)
		names[venueSymbol] = symbol
		topics = append(topics, venueSymbol)
	}
	a.loops = append(a.loops, func(ctx context.Context) error {
		if err := stream.Connect(ctx); err != nil {
			return err
		}
		defer stream.Close()
		if err := stream.Subscribe(ws.TickerTopics(topics)); err != nil {
			return err
		}
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case event := <-stream.Events():
				if event.Type != exchange.EventTypeTicker || event.Ticker == nil {
					continue
				}
				ticker := *event.Ticker
				if name, ok := names[ticker.Symbol]; ok {
					ticker.Symbol = name
				}
				venue.SetTicker(ticker)
			}
		}
	})
	return nil
}

func (a *app) restClient(exCfg config.ExchangeConfig) *rest.Client {
	return rest.New(rest.Config{
		BaseURL:     exCfg.BaseURL,
		APIKey:      exCfg.APIKey,
		Secret:      exCfg.Secret,
		AccountType: exCfg.AccountType,
		Category:    exCfg.Category,
		SettleCoin:  exCfg.SettleCoin,
		RateLimit:   exCfg.RateLimit,
		RateBurst:   exCfg.RateBurst,
		Timeout:     exCfg.Timeout,
	}, a.log)
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
