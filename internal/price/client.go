// Package price предоставляет клиент внешнего источника курса BCH.
package price

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Client инкапсулирует HTTP-взаимодействие с источником курса.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт HTTP-клиент источника курса по указанному адресу.
func NewClient(baseURL string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = time.Second
	rc.HTTPClient.Timeout = 5 * time.Second
	rc.Logger = nil

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: rc.StandardClient(),
	}
}

type tickerResponse struct {
	Timestamp int64              `json:"ts"`
	Rates     map[string]float64 `json:"rates"`
}

// CurrentPrice возвращает текущий курс BCH в долларах за монету. Возвращает
// ошибку при недоступности источника и при некорректной котировке: расчёты с
// нулевым или отрицательным курсом недопустимы.
func (c *Client) CurrentPrice(ctx context.Context) (float64, error) {
	if c == nil || c.baseURL == "" {
		return 0, fmt.Errorf("price client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/v2/tickers?currency=usd", nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var ticker tickerResponse
	if err := json.NewDecoder(resp.Body).Decode(&ticker); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}

	rate, ok := ticker.Rates["usd"]
	if !ok {
		return 0, fmt.Errorf("quote for usd missing")
	}
	if math.IsNaN(rate) || rate <= 0 {
		return 0, fmt.Errorf("invalid quote: %v", rate)
	}

	return rate, nil
}
