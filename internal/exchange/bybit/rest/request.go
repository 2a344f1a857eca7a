package rest

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

var errServer = errors.New("ошибка сервера bybit")

// doRequest retries transport failures and 5xx answers; business errors come
// back at once as *APIError.
func (c *Client) doRequest(ctx context.Context, method, path string, params url.Values, body any, auth bool, out retStatus) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("Не удалось подготовить тело запроса: %w", err)
		}
	}

	backoff := c.backoff
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			c.log.WithComponent("bybit_rest").WithError(lastErr).WithFields(map[string]interface{}{
				"path":    path,
				"attempt": attempt + 1,
			}).Warn("Ошибка, повторяем запрос.")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		lastErr = c.send(ctx, method, path, params, payload, auth, out)
		if lastErr == nil {
			return nil
		}
		var apiErr *APIError
		if errors.As(lastErr, &apiErr) || ctx.Err() != nil {
			return lastErr
		}
		if !errors.Is(lastErr, errServer) && !isTransport(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func (c *Client) send(ctx context.Context, method, path string, params url.Values, payload []byte, auth bool, out retStatus) error {
	urlStr := c.baseURL + path
	query := ""
	if len(params) > 0 {
		query = params.Encode()
		urlStr += "?" + query
	}

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, urlStr, bodyReader)
	if err != nil {
		return fmt.Errorf("Не удалось создать запрос: %w", err)
	}

	if auth {
		timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
		recvWindow := "5000"
		signBase := timestamp + c.apiKey + recvWindow
		if method == http.MethodGet {
			signBase += query
		} else {
			signBase += string(payload)
		}
		req.Header.Set("X-BAPI-API-KEY", c.apiKey)
		req.Header.Set("X-BAPI-SIGN", sign(c.secret, signBase))
		req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
		req.Header.Set("X-BAPI-RECV-WINDOW", recvWindow)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &transportError{err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &transportError{err: err}
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: %s", errServer, resp.Status)
	}
	if err := json.Unmarshal(data, out); err != nil {
		if resp.StatusCode >= 400 {
			return fmt.Errorf("Неуспешный статус: %s", resp.Status)
		}
		return fmt.Errorf("Не удалось разобрать ответ: %w", err)
	}
	if code, msg := out.status(); code != 0 {
		return &APIError{Code: code, Msg: msg}
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("Неуспешный статус: %s", resp.Status)
	}
	return nil
}

type transportError struct {
	err error
}

func (e *transportError) Error() string {
	return fmt.Sprintf("Ошибка запроса: %v", e.err)
}

func (e *transportError) Unwrap() error {
	return e.err
}

func isTransport(err error) bool {
	var t *transportError
	return errors.As(err, &t)
}

func sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
