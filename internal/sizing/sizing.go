package sizing

import (
	"intentbot/internal/exchange"
	"intentbot/internal/logger"
	"intentbot/internal/market"
	"intentbot/internal/models"

	"github.com/sirupsen/logrus"
)

// Calculator turns a capital spec into a venue rounded asset amount.
type Calculator struct {
	tickers market.TickerSource
	log     *logger.Logger
}

func New(tickers market.TickerSource, log *logger.Logger) *Calculator {
	return &Calculator{tickers: tickers, log: log}
}

// SizeFor returns false when the amount cannot be resolved this tick; the
// caller should simply try again later.
func (c *Calculator) SizeFor(ex exchange.Exchange, symbol string, capital models.CapitalSpec) (float64, bool) {
	entry := c.log.WithExchange("sizing", ex.Name()).WithFields(logrus.Fields{
		"symbol": symbol,
		"kind":   capital.Kind,
		"value":  capital.Value,
	})
	if err := capital.Validate(); err != nil {
		entry.WithError(err).Warn("Некорректный объём капитала.")
		return 0, false
	}

	var amount float64
	switch capital.Kind {
	case models.CapitalAsset:
		amount = capital.Value
	case models.CapitalCurrency:
		a, ok := c.fromCurrency(ex, symbol, capital.Value, entry)
		if !ok {
			return 0, false
		}
		amount = a
	case models.CapitalBalancePercent:
		balance, ok := ex.TradableBalance()
		if !ok || balance <= 0 {
			entry.WithField("balance", balance).Warn("Нет доступного баланса для расчёта объёма.")
			return 0, false
		}
		a, ok := c.fromCurrency(ex, symbol, balance*capital.Value/100, entry)
		if !ok {
			return 0, false
		}
		amount = a
	}

	rounded := ex.CalculateAmount(amount, symbol)
	if rounded <= 0 {
		entry.WithField("amount", amount).Warn("Объём после округления до лота равен нулю.")
		return 0, false
	}
	entry.WithFields(logrus.Fields{"raw": amount, "amount": rounded}).Debug("Рассчитан объём ордера.")
	return rounded, true
}

// Inverse contracts are quoted in currency, so the value is already the amount.
func (c *Calculator) fromCurrency(ex exchange.Exchange, symbol string, currency float64, entry *logrus.Entry) (float64, bool) {
	if ex.IsInverseSymbol(symbol) {
		return currency, true
	}
	ticker, ok := c.tickers.Ticker(ex.Name(), symbol)
	if !ok {
		entry.Warn("Нет тикера для пересчёта валюты в объём.")
		return 0, false
	}
	price := ticker.Bid
	if price <= 0 {
		price = ticker.Mid()
	}
	if price <= 0 {
		entry.WithField("ticker", ticker).Warn("Нет цены в тикере для пересчёта валюты в объём.")
		return 0, false
	}
	return currency / price, true
}
