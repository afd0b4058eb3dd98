// Package bch предоставляет клиент индексатора Blockbook и работу с HD-кошельком.
package bch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Client инкапсулирует HTTP-взаимодействие с индексатором Blockbook.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт HTTP-клиент индексатора по указанному адресу.
func NewClient(baseURL string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = 5 * time.Second
	rc.Logger = nil

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: rc.StandardClient(),
	}
}

type addressInfo struct {
	Address            string `json:"address"`
	Balance            string `json:"balance"`
	UnconfirmedBalance string `json:"unconfirmedBalance"`
	Txs                int    `json:"txs"`
}

// UTXO описывает непотраченный выход депозитного адреса.
type UTXO struct {
	TxID     string `json:"txid"`
	Vout     uint32 `json:"vout"`
	Value    string `json:"value"`
	Height   int64  `json:"height"`
	Confirms int64  `json:"confirmations"`
}

// ValueSat возвращает номинал выхода в сатоши.
func (u UTXO) ValueSat() (int64, error) {
	v, err := strconv.ParseInt(u.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse utxo value %q: %w", u.Value, err)
	}
	return v, nil
}

func (c *Client) url(path string) (string, error) {
	if c == nil || c.baseURL == "" {
		return "", fmt.Errorf("blockbook client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	return base + path, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	url, err := c.url(path)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

// GetBalance возвращает подтверждённый и неподтверждённый баланс адреса в
// сатоши. Blockbook отдаёт балансы десятичными строками.
func (c *Client) GetBalance(ctx context.Context, addr string) (confirmed, unconfirmed int64, err error) {
	var info addressInfo
	if err := c.getJSON(ctx, "/api/v2/address/"+addr, &info); err != nil {
		return 0, 0, err
	}

	confirmed, err = strconv.ParseInt(info.Balance, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse balance %q: %w", info.Balance, err)
	}

	unconfirmed = 0
	if info.UnconfirmedBalance != "" {
		unconfirmed, err = strconv.ParseInt(info.UnconfirmedBalance, 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("parse unconfirmed balance %q: %w", info.UnconfirmedBalance, err)
		}
	}

	if confirmed < 0 || unconfirmed < 0 {
		return 0, 0, fmt.Errorf("indexer returned negative balance for %s", addr)
	}

	return confirmed, unconfirmed, nil
}

// GetUTXOs возвращает список непотраченных выходов адреса.
func (c *Client) GetUTXOs(ctx context.Context, addr string) ([]UTXO, error) {
	var utxos []UTXO
	if err := c.getJSON(ctx, "/api/v2/utxo/"+addr, &utxos); err != nil {
		return nil, err
	}
	return utxos, nil
}

type sendTxResult struct {
	Result string `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// SendTx отправляет сериализованную транзакцию в сеть и возвращает её txid.
func (c *Client) SendTx(ctx context.Context, rawHex string) (string, error) {
	var res sendTxResult
	if err := c.getJSON(ctx, "/api/v2/sendtx/"+rawHex, &res); err != nil {
		return "", err
	}
	if res.Error != nil {
		return "", fmt.Errorf("broadcast rejected: %s", res.Error.Message)
	}
	return res.Result, nil
}
