package rest

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"intentbot/internal/exchange"
)

func (c *Client) GetBalances(ctx context.Context, coins []string) (map[string]exchange.Balance, error) {
	params := url.Values{}
	params.Set("accountType", c.accountType)

	if len(coins) > 0 {
		params.Set("coin", strings.Join(coins, ","))
	}

	var resp bybitResponse[struct {
		List []struct {
			Coin []struct {
				Coin                string `json:"coin"`
				WalletBalance       string `json:"walletBalance"`
				AvailableToWithdraw string `json:"availableToWithdraw"`
				AvailableBalance    string `json:"availableBalance"`
			} `json:"coin"`
		} `json:"list"`
	}]

	if err := c.doRequest(ctx, http.MethodGet, "/v5/account/wallet-balance", params, nil, true, &resp); err != nil {
		return nil, err
	}

	balances := map[string]exchange.Balance{}
	for _, account := range resp.Result.List {
		for _, item := range account.Coin {
			wallet, _ := parseFloatOrZero(item.WalletBalance)

			available, _ := parseFloatOrZero(item.AvailableToWithdraw)
			if available == 0 {
				available, _ = parseFloatOrZero(item.AvailableBalance)
			}
			if available == 0 {
				available = wallet
			}

			balances[item.Coin] = exchange.Balance{
				Coin:      item.Coin,
				Wallet:    wallet,
				Available: available,
			}
		}
	}
	return balances, nil
}

// GetPositions lists positions of the client's category, flat ones included.
func (c *Client) GetPositions(ctx context.Context) ([]PositionItem, error) {
	var items []PositionItem
	cursor := ""
	for {
		params := url.Values{}
		params.Set("category", c.category)
		if c.settleCoin != "" {
			params.Set("settleCoin", c.settleCoin)
		}
		params.Set("limit", "200")
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		var resp bybitResponse[struct {
			List           []PositionItem `json:"list"`
			NextPageCursor string         `json:"nextPageCursor"`
		}]
		if err := c.doRequest(ctx, http.MethodGet, "/v5/position/list", params, nil, true, &resp); err != nil {
			return nil, err
		}
		items = append(items, resp.Result.List...)
		if resp.Result.NextPageCursor == "" || resp.Result.NextPageCursor == cursor {
			return items, nil
		}
		cursor = resp.Result.NextPageCursor
	}
}

// SetTradingStop attaches a trailing stop to the position; distance 0 removes it.
func (c *Client) SetTradingStop(ctx context.Context, symbol string, distance string) error {
	body := map[string]any{
		"category":     c.category,
		"symbol":       symbol,
		"trailingStop": distance,
		"tpslMode":     "Full",
		"positionIdx":  0,
	}
	var resp bybitResponse[struct{}]
	return c.doRequest(ctx, http.MethodPost, "/v5/position/trading-stop", nil, body, true, &resp)
}
