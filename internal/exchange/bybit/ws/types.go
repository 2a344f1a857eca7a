package ws

import (
	"encoding/json"
	"sync"
	"time"

	"intentbot/internal/exchange"
	"intentbot/internal/logger"
	"intentbot/internal/models"

	"github.com/gorilla/websocket"
)

type Client struct {
	exchange     string
	url          string
	apiKey       string
	secret       string
	log          *logger.Logger
	conn         *websocket.Conn
	writeMu      sync.Mutex
	events       chan exchange.Event
	stopCh       chan struct{}
	stopOnce     sync.Once
	topics       []string
	tickers      map[string]models.Ticker
	reconnectMin time.Duration
	reconnectMax time.Duration
	pingInterval time.Duration
}

type Message struct {
	Op      string          `json:"op"`
	Success *bool           `json:"success"`
	RetMsg  string          `json:"ret_msg"`
	Topic   string          `json:"topic"`
	Type    string          `json:"type"`
	TS      int64           `json:"ts"`
	Data    json.RawMessage `json:"data"`
}

type AuthMessage struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

type SubscribeMessage struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}
