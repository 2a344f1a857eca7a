package paper

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"intentbot/internal/exchange"
	"intentbot/internal/ledger"
	"intentbot/internal/market"
	"intentbot/internal/models"
)

var ErrScripted = errors.New("сбой соединения (сценарий)")

type Outcome int

const (
	OutcomeDefault Outcome = iota
	OutcomeOpen
	OutcomeFill
	OutcomeReject
	OutcomeRejectRetry
	OutcomeError
)

type Calls struct {
	Order     int
	Cancel    int
	CancelAll int
	Update    int
}

func (c Calls) Total() int {
	return c.Order + c.Cancel + c.CancelAll + c.Update
}

// Venue is an in-memory exchange: market orders fill at the ticker, the rest
// rest open until FillOrder is called.
type Venue struct {
	name    string
	ledger  *ledger.Ledger
	tickers *market.Tickers

	mu        sync.Mutex
	positions map[string]models.Position
	rules     map[string]exchange.InstrumentRules
	balance   float64
	hasFunds  bool
	outcomes  []Outcome
	calls     Calls
	events    chan exchange.Event
	now       func() time.Time
}

func New(name string, tickers *market.Tickers) *Venue {
	if tickers == nil {
		tickers = market.NewTickers(0)
	}
	return &Venue{
		name:      name,
		ledger:    ledger.New(0),
		tickers:   tickers,
		positions: make(map[string]models.Position),
		rules:     make(map[string]exchange.InstrumentRules),
		events:    make(chan exchange.Event, 64),
		now:       time.Now,
	}
}

func (v *Venue) Name() string {
	return v.name
}

func (v *Venue) Events() <-chan exchange.Event {
	return v.events
}

func (v *Venue) Ledger() *ledger.Ledger {
	return v.ledger
}

func (v *Venue) SetRules(rules exchange.InstrumentRules) {
	v.mu.Lock()
	v.rules[rules.Symbol] = rules
	v.mu.Unlock()
}

func (v *Venue) SetBalance(balance float64) {
	v.mu.Lock()
	v.balance = balance
	v.hasFunds = true
	v.mu.Unlock()
}

func (v *Venue) SetTicker(ticker models.Ticker) {
	v.tickers.Set(v.name, ticker)
}

func (v *Venue) SetPosition(position models.Position) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if position.Amount == 0 {
		delete(v.positions, position.Symbol)
		return
	}
	v.positions[position.Symbol] = position
}

// AddOrder seeds the ledger with an order placed outside the engine.
func (v *Venue) AddOrder(order models.ExchangeOrder) {
	v.ledger.Upsert(order)
}

// QueueOutcome scripts the results of the next Order calls in FIFO order.
func (v *Venue) QueueOutcome(outcomes ...Outcome) {
	v.mu.Lock()
	v.outcomes = append(v.outcomes, outcomes...)
	v.mu.Unlock()
}

func (v *Venue) Calls() Calls {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls
}

func (v *Venue) Order(ctx context.Context, order models.Order) (models.ExchangeOrder, error) {
	if err := ctx.Err(); err != nil {
		return models.ExchangeOrder{}, err
	}
	v.mu.Lock()
	v.calls.Order++
	outcome := OutcomeDefault
	if len(v.outcomes) > 0 {
		outcome = v.outcomes[0]
		v.outcomes = v.outcomes[1:]
	}
	v.mu.Unlock()

	now := v.now()
	switch outcome {
	case OutcomeError:
		return models.ExchangeOrder{}, ErrScripted
	case OutcomeReject:
		rejected := models.RejectedOrder(order, false, "insufficient balance", now)
		v.ledger.Upsert(rejected)
		return rejected, nil
	case OutcomeRejectRetry:
		rejected := models.RejectedOrder(order, true, "expired", now)
		v.ledger.Upsert(rejected)
		return rejected, nil
	}

	price := order.Price
	if order.Type == models.OrderTypeMarket || price <= 0 {
		ticker, ok := v.tickers.Ticker(v.name, order.Symbol)
		if !ok {
			rejected := models.RejectedOrder(order, true, "no market price", now)
			v.ledger.Upsert(rejected)
			return rejected, nil
		}
		price = takerPrice(ticker, order.OrderSide())
	}

	placed := models.ExchangeOrder{
		ID:        order.ID,
		Symbol:    order.Symbol,
		Status:    models.OrderStatusOpen,
		Price:     price,
		Amount:    order.Amount,
		Side:      order.OrderSide(),
		Type:      order.Type,
		CreatedAt: now,
		UpdatedAt: now,
		Options:   order.Options,
	}
	if (order.Type == models.OrderTypeMarket && outcome == OutcomeDefault) || outcome == OutcomeFill {
		placed.Status = models.OrderStatusDone
		v.applyFill(order.Symbol, order.Side, order.Amount, price, now)
	}
	v.ledger.Upsert(placed)
	return placed, nil
}

func takerPrice(ticker models.Ticker, side models.OrderSide) float64 {
	if side == models.OrderSideBuy && ticker.Ask > 0 {
		return ticker.Ask
	}
	if side == models.OrderSideSell && ticker.Bid > 0 {
		return ticker.Bid
	}
	return ticker.Last
}

// FillOrder executes a resting order in full.
func (v *Venue) FillOrder(id string) error {
	order, ok := v.ledger.Get(id)
	if !ok || !order.IsOpen() {
		return fmt.Errorf("ордер %s не найден среди открытых", id)
	}
	now := v.now()
	v.applyFill(order.Symbol, order.Side.Side(), order.Amount, order.Price, now)
	order.Status = models.OrderStatusDone
	order.UpdatedAt = now
	v.ledger.Upsert(order)
	return nil
}

func (v *Venue) applyFill(symbol string, side models.Side, amount, price float64, now time.Time) {
	delta := amount
	if side == models.SideShort {
		delta = -amount
	}

	v.mu.Lock()
	current, had := v.positions[symbol]
	net := current.Amount + delta
	if math.Abs(net) < 1e-12 {
		delete(v.positions, symbol)
		v.mu.Unlock()
		if had {
			v.emit(exchange.Event{Type: exchange.EventTypePositionClosed, Exchange: v.name, Symbol: symbol})
		}
		return
	}

	entry := price
	createdAt := now
	if had && (current.Amount > 0) == (net > 0) {
		createdAt = current.CreatedAt
		if math.Abs(net) > math.Abs(current.Amount) {
			entry = (current.Entry*math.Abs(current.Amount) + price*amount) / math.Abs(net)
		} else {
			entry = current.Entry
		}
	}
	newSide := models.SideLong
	if net < 0 {
		newSide = models.SideShort
	}
	position, err := models.NewPosition(symbol, newSide, net, entry, createdAt, now)
	if err != nil {
		v.mu.Unlock()
		return
	}
	v.positions[symbol] = position
	v.mu.Unlock()
	v.emit(exchange.Event{Type: exchange.EventTypePosition, Exchange: v.name, Position: &position})
}

func (v *Venue) emit(event exchange.Event) {
	select {
	case v.events <- event:
	default:
	}
}

func (v *Venue) CancelOrder(ctx context.Context, id string) (*models.ExchangeOrder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v.mu.Lock()
	v.calls.Cancel++
	v.mu.Unlock()
	return v.cancel(id), nil
}

func (v *Venue) cancel(id string) *models.ExchangeOrder {
	order, ok := v.ledger.Get(id)
	if !ok {
		return nil
	}
	if order.IsOpen() {
		order.Status = models.OrderStatusCanceled
		order.UpdatedAt = v.now()
		v.ledger.Upsert(order)
	}
	return &order
}

func (v *Venue) CancelAll(ctx context.Context, symbol string) ([]models.ExchangeOrder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v.mu.Lock()
	v.calls.CancelAll++
	v.mu.Unlock()

	var result []models.ExchangeOrder
	for _, order := range v.ledger.ListOpenForSymbol(symbol) {
		if canceled := v.cancel(order.ID); canceled != nil {
			result = append(result, *canceled)
		}
	}
	return result, nil
}

func (v *Venue) UpdateOrder(ctx context.Context, id string, patch exchange.OrderPatch) (*models.ExchangeOrder, error) {
	v.mu.Lock()
	v.calls.Update++
	v.mu.Unlock()

	current, ok := v.ledger.Get(id)
	if !ok || !current.IsOpen() {
		return nil, nil
	}
	return exchange.ReplaceOrder(ctx, v, current, patch)
}

func (v *Venue) Orders() []models.ExchangeOrder {
	return v.ledger.ListOpen()
}

func (v *Venue) OrdersForSymbol(symbol string) []models.ExchangeOrder {
	return v.ledger.ListOpenForSymbol(symbol)
}

func (v *Venue) FindOrderByID(id string) (models.ExchangeOrder, bool) {
	return v.ledger.Get(id)
}

func (v *Venue) Positions() []models.Position {
	v.mu.Lock()
	defer v.mu.Unlock()
	result := make([]models.Position, 0, len(v.positions))
	for _, p := range v.positions {
		result = append(result, p)
	}
	return result
}

func (v *Venue) PositionForSymbol(symbol string) (models.Position, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, ok := v.positions[symbol]
	return p, ok
}

func (v *Venue) CalculatePrice(price float64, symbol string) float64 {
	v.mu.Lock()
	rules, ok := v.rules[symbol]
	v.mu.Unlock()
	if !ok {
		return price
	}
	return rules.Price(price)
}

func (v *Venue) CalculateAmount(amount float64, symbol string) float64 {
	v.mu.Lock()
	rules, ok := v.rules[symbol]
	v.mu.Unlock()
	if !ok {
		return amount
	}
	return rules.Amount(amount)
}

func (v *Venue) IsInverseSymbol(symbol string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.rules[symbol].Inverse
}

func (v *Venue) TradableBalance() (float64, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.balance, v.hasFunds
}
