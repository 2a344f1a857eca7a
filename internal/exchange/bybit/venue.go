package bybit

import (
	"context"
	"sort"
	"sync"
	"time"

	"intentbot/internal/exchange"
	"intentbot/internal/exchange/bybit/rest"
	"intentbot/internal/exchange/bybit/ws"
	"intentbot/internal/ledger"
	"intentbot/internal/logger"
	"intentbot/internal/market"
	"intentbot/internal/models"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var _ exchange.Exchange = (*Venue)(nil)
var _ exchange.Quirks = Quirks{}

type Config struct {
	Name            string
	Symbols         []string
	ResyncInterval  time.Duration
	LedgerRetention time.Duration
}

type link struct {
	venueID string
	at      time.Time
}

// Venue is a Bybit v5 account. Streams keep its state fresh, a periodic REST
// resync repairs whatever the streams missed.
type Venue struct {
	cfg     Config
	rest    *rest.Client
	public  *ws.Client
	private *ws.Client
	tickers *market.Tickers
	ledger  *ledger.Ledger
	quirks  Quirks
	log     *logger.Logger

	mu         sync.RWMutex
	positions  map[string]models.Position
	trailing   map[string]models.ExchangeOrder
	rules      map[string]exchange.InstrumentRules
	balance    exchange.Balance
	hasBalance bool
	links      map[string]link
	options    map[string]models.OrderOptions

	events   chan exchange.Event
	resyncCh chan struct{}
	now      func() time.Time
}

func New(cfg Config, client *rest.Client, tickers *market.Tickers, log *logger.Logger) *Venue {
	if cfg.ResyncInterval <= 0 {
		cfg.ResyncInterval = 30 * time.Second
	}
	if tickers == nil {
		tickers = market.NewTickers(0)
	}
	return &Venue{
		cfg:       cfg,
		rest:      client,
		tickers:   tickers,
		ledger:    ledger.New(cfg.LedgerRetention),
		quirks:    Quirks{Category: client.Category()},
		log:       log,
		positions: make(map[string]models.Position),
		trailing:  make(map[string]models.ExchangeOrder),
		rules:     make(map[string]exchange.InstrumentRules),
		links:     make(map[string]link),
		options:   make(map[string]models.OrderOptions),
		events:    make(chan exchange.Event, 256),
		resyncCh:  make(chan struct{}, 1),
		now:       time.Now,
	}
}

// WithStreams attaches websocket clients; either may be nil.
func (v *Venue) WithStreams(public, private *ws.Client) *Venue {
	v.public = public
	v.private = private
	return v
}

func (v *Venue) Name() string {
	return v.cfg.Name
}

// Events carries order, position and reconnect pushes for the watchdog.
func (v *Venue) Events() <-chan exchange.Event {
	return v.events
}

// Init loads instrument rules and the first account snapshot.
func (v *Venue) Init(ctx context.Context) error {
	for _, symbol := range v.cfg.Symbols {
		symbol = v.quirks.RewriteSymbol(symbol)
		rules, err := v.rest.GetInstrumentRules(ctx, symbol)
		if err != nil {
			return err
		}
		v.mu.Lock()
		v.rules[symbol] = rules
		v.mu.Unlock()
		v.logEntry().WithFields(logrus.Fields{
			"symbol":    symbol,
			"tick_size": rules.TickSize,
			"lot_size":  rules.LotSize,
			"min_qty":   rules.MinQty,
		}).Info("Правила инструмента загружены.")
	}
	return v.Resync(ctx)
}

// Run connects the streams and keeps the venue state in sync until ctx is done.
func (v *Venue) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if v.public != nil {
		if err := v.public.Connect(ctx); err != nil {
			return err
		}
		symbols := make([]string, 0, len(v.cfg.Symbols))
		for _, s := range v.cfg.Symbols {
			symbols = append(symbols, v.quirks.RewriteSymbol(s))
		}
		if err := v.public.Subscribe(ws.TickerTopics(symbols)); err != nil {
			return err
		}
		g.Go(func() error { return v.consume(ctx, v.public.Events()) })
	}
	if v.private != nil {
		if err := v.private.Connect(ctx); err != nil {
			return err
		}
		if err := v.private.Subscribe(ws.PrivateTopics()); err != nil {
			return err
		}
		g.Go(func() error { return v.consume(ctx, v.private.Events()) })
	}
	g.Go(func() error { return v.resyncLoop(ctx) })

	err := g.Wait()
	if v.public != nil {
		_ = v.public.Close()
	}
	if v.private != nil {
		_ = v.private.Close()
	}
	return err
}

func (v *Venue) Orders() []models.ExchangeOrder {
	return v.ledger.ListOpen()
}

func (v *Venue) OrdersForSymbol(symbol string) []models.ExchangeOrder {
	return v.ledger.ListOpenForSymbol(v.quirks.RewriteSymbol(symbol))
}

// FindOrderByID accepts both venue ids and the client ids orders were
// submitted under.
func (v *Venue) FindOrderByID(id string) (models.ExchangeOrder, bool) {
	if order, ok := v.ledger.Get(v.resolve(id)); ok {
		return order, true
	}
	return v.ledger.Get(id)
}

func (v *Venue) Positions() []models.Position {
	v.mu.RLock()
	defer v.mu.RUnlock()
	result := make([]models.Position, 0, len(v.positions))
	for _, p := range v.positions {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Symbol < result[j].Symbol })
	return result
}

func (v *Venue) PositionForSymbol(symbol string) (models.Position, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	p, ok := v.positions[v.quirks.RewriteSymbol(symbol)]
	return p, ok
}

func (v *Venue) CalculatePrice(price float64, symbol string) float64 {
	if rules, ok := v.rulesFor(symbol); ok {
		return rules.Price(price)
	}
	return price
}

func (v *Venue) CalculateAmount(amount float64, symbol string) float64 {
	if rules, ok := v.rulesFor(symbol); ok {
		return rules.Amount(amount)
	}
	return amount
}

func (v *Venue) IsInverseSymbol(symbol string) bool {
	rules, ok := v.rulesFor(symbol)
	return ok && rules.Inverse
}

func (v *Venue) TradableBalance() (float64, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.balance.Available, v.hasBalance
}

func (v *Venue) rulesFor(symbol string) (exchange.InstrumentRules, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	rules, ok := v.rules[v.quirks.RewriteSymbol(symbol)]
	return rules, ok
}

func (v *Venue) resolve(id string) string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if l, ok := v.links[id]; ok {
		return l.venueID
	}
	return id
}

// remember links a client id to the venue id and restores the options the
// order was submitted with.
func (v *Venue) remember(clientID string, order *models.ExchangeOrder, options *models.OrderOptions) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if clientID != "" && clientID != order.ID {
		v.links[clientID] = link{venueID: order.ID, at: v.now()}
	}
	if options != nil {
		v.options[order.ID] = *options
		return
	}
	if known, ok := v.options[order.ID]; ok {
		order.Options = known
	}
}

func (v *Venue) logEntry() *logrus.Entry {
	return v.log.WithExchange("bybit", v.cfg.Name)
}
