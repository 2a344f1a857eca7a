package bybit

import (
	"strings"

	"intentbot/internal/models"
)

// Quirks shapes v5 requests for one category.
type Quirks struct {
	Category string
}

// RewriteSymbol turns "BTC/USDT", "btc-usdt" or "BTC/USDT:USDT" into "BTCUSDT".
func (q Quirks) RewriteSymbol(symbol string) string {
	if i := strings.IndexByte(symbol, ':'); i >= 0 {
		symbol = symbol[:i]
	}
	symbol = strings.NewReplacer("/", "", "-", "", "_", "").Replace(symbol)
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// InjectCreateFields turns the generic body into a conditional order for
// stops. The body must carry the formatted price.
func (q Quirks) InjectCreateFields(order models.Order, body map[string]any) {
	if q.Category != "spot" {
		body["positionIdx"] = 0
	}
	if order.Type != models.OrderTypeStop {
		return
	}
	body["orderType"] = "Market"
	body["triggerPrice"] = body["price"]
	delete(body, "price")
	delete(body, "timeInForce")
	body["triggerBy"] = "LastPrice"
	if order.OrderSide() == models.OrderSideSell {
		body["triggerDirection"] = 2
	} else {
		body["triggerDirection"] = 1
	}
	if q.Category == "spot" {
		body["orderFilter"] = "StopOrder"
		return
	}
	body["reduceOnly"] = true
	body["closeOnTrigger"] = true
}

func (q Quirks) CancelArgsFor(order models.ExchangeOrder) map[string]any {
	args := map[string]any{
		"category": q.Category,
		"symbol":   order.Symbol,
		"orderId":  order.ID,
	}
	if q.Category == "spot" && order.Type.IsProtective() {
		args["orderFilter"] = "StopOrder"
	}
	return args
}
