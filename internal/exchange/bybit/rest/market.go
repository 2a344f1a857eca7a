package rest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"intentbot/internal/exchange"
)

func (c *Client) GetInstrumentRules(ctx context.Context, symbol string) (exchange.InstrumentRules, error) {
	params := url.Values{}
	params.Set("category", c.category)
	params.Set("symbol", symbol)

	var resp bybitResponse[instrumentInfo]
	if err := c.doRequest(ctx, http.MethodGet, "/v5/market/instruments-info", params, nil, false, &resp); err != nil {
		return exchange.InstrumentRules{}, err
	}
	if len(resp.Result.List) == 0 {
		return exchange.InstrumentRules{}, fmt.Errorf("Инструмент %s не найден", symbol)
	}

	item := resp.Result.List[0]
	tick, err := parseFloatOrZero(item.PriceFilter.TickSize)
	if err != nil {
		return exchange.InstrumentRules{}, fmt.Errorf("Некорректный tickSize %q: %w", item.PriceFilter.TickSize, err)
	}
	lot, err := parseFloatOrZero(item.LotSizeFilter.QtyStep)
	if err != nil {
		return exchange.InstrumentRules{}, fmt.Errorf("Некорректный qtyStep %q: %w", item.LotSizeFilter.QtyStep, err)
	}
	if lot == 0 {
		lot, _ = parseFloatOrZero(item.LotSizeFilter.BasePrecision)
	}
	minQty, _ := parseFloatOrZero(item.LotSizeFilter.MinOrderQty)
	minNotional, _ := parseFloatOrZero(item.LotSizeFilter.MinNotionalValue)
	if minNotional == 0 {
		minNotional, _ = parseFloatOrZero(item.LotSizeFilter.MinOrderAmt)
	}

	return exchange.InstrumentRules{
		Symbol:      item.Symbol,
		TickSize:    tick,
		LotSize:     lot,
		MinQty:      minQty,
		MinNotional: minNotional,
		BaseCoin:    item.BaseCoin,
		QuoteCoin:   item.QuoteCoin,
		Inverse:     c.category == "inverse" || strings.HasPrefix(item.ContractType, "Inverse"),
	}, nil
}

// GetTickers returns the book top for every symbol of the category when
// symbol is empty.
func (c *Client) GetTickers(ctx context.Context, symbol string) ([]TickerItem, error) {
	params := url.Values{}
	params.Set("category", c.category)
	if symbol != "" {
		params.Set("symbol", symbol)
	}

	var resp bybitResponse[struct {
		List []TickerItem `json:"list"`
	}]
	if err := c.doRequest(ctx, http.MethodGet, "/v5/market/tickers", params, nil, false, &resp); err != nil {
		return nil, err
	}
	return resp.Result.List, nil
}
