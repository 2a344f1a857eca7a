package rest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

type PlacedOrder struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}

// PlaceOrder sends a prepared /v5/order/create body; category is filled in
// when missing.
func (c *Client) PlaceOrder(ctx context.Context, body map[string]any) (PlacedOrder, error) {
	if _, ok := body["category"]; !ok {
		body["category"] = c.category
	}
	var resp bybitResponse[PlacedOrder]
	if err := c.doRequest(ctx, http.MethodPost, "/v5/order/create", nil, body, true, &resp); err != nil {
		return PlacedOrder{}, err
	}
	if resp.Result.OrderID == "" {
		return PlacedOrder{}, fmt.Errorf("Биржа не вернула orderId")
	}
	return resp.Result, nil
}

func (c *Client) CancelOrder(ctx context.Context, body map[string]any) error {
	if _, ok := body["category"]; !ok {
		body["category"] = c.category
	}
	var resp bybitResponse[PlacedOrder]
	return c.doRequest(ctx, http.MethodPost, "/v5/order/cancel", nil, body, true, &resp)
}

// CancelAll cancels every open order of the symbol and returns their ids.
func (c *Client) CancelAll(ctx context.Context, symbol string) ([]PlacedOrder, error) {
	body := map[string]any{
		"category": c.category,
		"symbol":   symbol,
	}
	var resp bybitResponse[struct {
		List []PlacedOrder `json:"list"`
	}]
	if err := c.doRequest(ctx, http.MethodPost, "/v5/order/cancel-all", nil, body, true, &resp); err != nil {
		return nil, err
	}
	return resp.Result.List, nil
}

// GetOpenOrders pages through /v5/order/realtime. Linear and inverse need
// either a symbol or a settle coin.
func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]OrderItem, error) {
	var items []OrderItem
	cursor := ""
	for {
		params := url.Values{}
		params.Set("category", c.category)
		if symbol != "" {
			params.Set("symbol", symbol)
		} else if c.settleCoin != "" {
			params.Set("settleCoin", c.settleCoin)
		}
		params.Set("openOnly", "0")
		params.Set("limit", "50")
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		var resp bybitResponse[struct {
			List           []OrderItem `json:"list"`
			NextPageCursor string      `json:"nextPageCursor"`
		}]
		if err := c.doRequest(ctx, http.MethodGet, "/v5/order/realtime", params, nil, true, &resp); err != nil {
			return nil, err
		}
		items = append(items, resp.Result.List...)
		if resp.Result.NextPageCursor == "" || resp.Result.NextPageCursor == cursor {
			return items, nil
		}
		cursor = resp.Result.NextPageCursor
	}
}

// GetOrder looks an order up in the history; ok is false when the venue
// does not know it.
func (c *Client) GetOrder(ctx context.Context, orderID string) (OrderItem, bool, error) {
	params := url.Values{}
	params.Set("category", c.category)
	params.Set("orderId", orderID)

	var resp bybitResponse[struct {
		List []OrderItem `json:"list"`
	}]
	if err := c.doRequest(ctx, http.MethodGet, "/v5/order/history", params, nil, true, &resp); err != nil {
		return OrderItem{}, false, err
	}
	if len(resp.Result.List) == 0 {
		return OrderItem{}, false, nil
	}
	return resp.Result.List[0], true, nil
}
