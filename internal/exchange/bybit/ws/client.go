package ws

import (
	"context"
	"fmt"
	"time"

	"intentbot/internal/exchange"
	"intentbot/internal/logger"
	"intentbot/internal/models"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// New prepares a stream for one venue. With an empty key the stream is public.
func New(exchangeName, url, apiKey, secret string, log *logger.Logger) *Client {
	return &Client{
		exchange:     exchangeName,
		url:          url,
		apiKey:       apiKey,
		secret:       secret,
		log:          log,
		events:       make(chan exchange.Event, 256),
		stopCh:       make(chan struct{}),
		tickers:      make(map[string]models.Ticker),
		reconnectMin: 1 * time.Second,
		reconnectMax: 30 * time.Second,
		pingInterval: 20 * time.Second,
	}
}

func (w *Client) Connect(ctx context.Context) error {
	w.logEntry().WithField("url", w.url).Info("Подключение к WS.")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("Не удалось подключиться к WS: %w", err)
	}

	w.conn = conn
	w.conn.SetReadLimit(2 << 20)

	if w.apiKey != "" && w.secret != "" {
		if err := w.authenticate(); err != nil {
			return err
		}
	}

	w.logEntry().Info("WS соединение установлено.")

	go w.readLoop()
	go w.pingLoop()

	return nil
}

// Close stops the read loop for good; no reconnect follows.
func (w *Client) Close() error {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if w.conn == nil {
		return nil
	}
	return w.conn.Close()
}

func (w *Client) logEntry() *logrus.Entry {
	entry := w.log.WithExchange("bybit_ws", w.exchange)
	if w.apiKey != "" {
		entry = entry.WithField("stream", "private")
	}
	return entry
}

func (w *Client) Events() <-chan exchange.Event {
	return w.events
}

func (w *Client) writeJSON(v any) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if w.conn == nil {
		return fmt.Errorf("WS не подключён")
	}
	return w.conn.WriteJSON(v)
}

// emit blocks while the consumer is busy, but never past Close.
func (w *Client) emit(event exchange.Event) {
	event.Exchange = w.exchange
	select {
	case w.events <- event:
	case <-w.stopCh:
	}
}
