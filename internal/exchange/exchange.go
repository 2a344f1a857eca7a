package exchange

import (
	"context"

	"intentbot/internal/calc"
	"intentbot/internal/models"
)

type EventType string

const (
	EventTypeOrder          EventType = "Order"
	EventTypePosition       EventType = "Position"
	EventTypePositionClosed EventType = "PositionClosed"
	EventTypeTicker         EventType = "Ticker"
	EventTypeWallet         EventType = "Wallet"
	EventTypeReconnect      EventType = "Reconnect"
)

type Event struct {
	Type     EventType
	Exchange string
	Order    *models.ExchangeOrder
	Position *models.Position
	Ticker   *models.Ticker
	Balance  *Balance
	// Symbol is set for PositionClosed, where no position is left to carry it.
	Symbol string
	// ClientID is the id an order was submitted under, when the venue echoes it.
	ClientID string
}

type InstrumentRules struct {
	Symbol      string
	TickSize    float64
	LotSize     float64
	MinQty      float64
	MinNotional float64
	BaseCoin    string
	QuoteCoin   string
	Inverse     bool
}

func (r InstrumentRules) Price(price float64) float64 {
	return calc.RoundToStepFloat(price, r.TickSize)
}

// Amount never rounds up: an oversized order may not fit the balance.
func (r InstrumentRules) Amount(amount float64) float64 {
	return calc.FloorToStepFloat(amount, r.LotSize)
}

type Balance struct {
	Coin      string
	Wallet    float64
	Available float64
}

// OrderPatch holds the fields an update changes; nil keeps the current value.
type OrderPatch struct {
	Price  *float64
	Amount *float64
}

func (p OrderPatch) Apply(order models.Order) models.Order {
	if p.Price != nil {
		order = order.WithPrice(*p.Price)
	}
	if p.Amount != nil {
		order = order.WithAmount(*p.Amount)
	}
	return order
}

func PatchAmount(amount float64) OrderPatch {
	return OrderPatch{Amount: &amount}
}

func PatchPrice(price float64) OrderPatch {
	return OrderPatch{Price: &price}
}

func PatchPriceAmount(price, amount float64) OrderPatch {
	return OrderPatch{Price: &price, Amount: &amount}
}

// Exchange is what the core needs from a venue. Order returns a rejected
// ExchangeOrder for business rejections and an error only for transport
// failures. Cancel and update return nil when the id is unknown.
type Exchange interface {
	Name() string
	Order(ctx context.Context, order models.Order) (models.ExchangeOrder, error)
	CancelOrder(ctx context.Context, id string) (*models.ExchangeOrder, error)
	CancelAll(ctx context.Context, symbol string) ([]models.ExchangeOrder, error)
	UpdateOrder(ctx context.Context, id string, patch OrderPatch) (*models.ExchangeOrder, error)
	Orders() []models.ExchangeOrder
	OrdersForSymbol(symbol string) []models.ExchangeOrder
	FindOrderByID(id string) (models.ExchangeOrder, bool)
	Positions() []models.Position
	PositionForSymbol(symbol string) (models.Position, bool)
	CalculatePrice(price float64, symbol string) float64
	CalculateAmount(amount float64, symbol string) float64
	IsInverseSymbol(symbol string) bool
	TradableBalance() (float64, bool)
}

// Quirks isolates venue specific request shaping from the generic order path.
type Quirks interface {
	RewriteSymbol(symbol string) string
	InjectCreateFields(order models.Order, body map[string]any)
	CancelArgsFor(order models.ExchangeOrder) map[string]any
}
