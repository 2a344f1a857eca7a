package ws

import (
	"strings"
)

// Subscribe remembers topics so that a reconnect restores them.
func (w *Client) Subscribe(topics []string) error {
	w.topics = topics
	if len(topics) == 0 {
		return nil
	}

	msg := SubscribeMessage{
		Op:   "subscribe",
		Args: topics,
	}

	return w.writeJSON(msg)
}

func TickerTopics(symbols []string) []string {
	topics := make([]string, 0, len(symbols))
	for _, s := range symbols {
		topics = append(topics, "tickers."+strings.ToUpper(s))
	}
	return topics
}

func PrivateTopics() []string {
	return []string{"order", "position", "wallet"}
}
