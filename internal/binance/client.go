package binance

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const searchPath = "/bapi/c2c/v2/friendly/c2c/adv/search"

// Options parameterise the P2P search client.
type Options struct {
	BaseURL   string
	Asset     string
	Rows      int
	Timeout   time.Duration
	UserAgent string
}

// Client fetches advertisement pages from the P2P search endpoint.
type Client struct {
	opts    Options
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewClient constructs a search client.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://p2p.binance.com"
	}
	if opts.Asset == "" {
		opts.Asset = "USDT"
	}
	if opts.Rows <= 0 {
		opts.Rows = 20
	}

	return &Client{
		opts:    opts,
		logger:  logger.With().Str("component", "binance_client").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FetchPage retrieves one page of advertisements for (fiat, method, side).
// An empty method means no payment-method filter.
func (c *Client) FetchPage(ctx context.Context, fiat, method string, side Side, page int) PageResult {
	return c.fetch(ctx, fiat, method, side, page, c.opts.Rows)
}

// FetchTop retrieves only the single top-ranked advertisement for a side.
func (c *Client) FetchTop(ctx context.Context, fiat, method string, side Side) PageResult {
	return c.fetch(ctx, fiat, method, side, 1, 1)
}

func (c *Client) fetch(ctx context.Context, fiat, method string, side Side, page, rows int) PageResult {
	entries, res := c.searchEntries(ctx, fiat, method, side, page, rows)
	if res.Status != PageOK {
		return res
	}

	ads := make([]Advertisement, 0, len(entries))
	for _, entry := range entries {
		ads = append(ads, entry.toAdvertisement(fiat, method, side))
	}
	res.Ads = ads
	return res
}

func (c *Client) searchEntries(ctx context.Context, fiat, method string, side Side, page, rows int) ([]advEntry, PageResult) {
	payTypes := []string{}
	if method != "" {
		payTypes = []string{method}
	}

	reqPayload := searchRequest{
		Asset:         c.opts.Asset,
		Fiat:          fiat,
		TradeType:     string(side),
		Page:          page,
		Rows:          rows,
		PayTypes:      payTypes,
		MerchantCheck: false,
	}

	body, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, PageResult{Status: PageFailed, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+searchPath, bytes.NewReader(body))
	if err != nil {
		return nil, PageResult{Status: PageFailed, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "p2pwatcher/1.0")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, PageResult{Status: PageFailed, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, PageResult{Status: PageThrottled, RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	}

	payloadBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, PageResult{Status: PageFailed, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, PageResult{Status: PageFailed, Err: parseHTTPError(resp.StatusCode, payloadBytes)}
	}

	var searchRes searchResponse
	if err := json.Unmarshal(payloadBytes, &searchRes); err != nil {
		return nil, PageResult{Status: PageFailed, Err: err}
	}

	return searchRes.Data, PageResult{Status: PageOK}
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

type searchRequest struct {
	Asset         string   `json:"asset"`
	Fiat          string   `json:"fiat"`
	TradeType     string   `json:"tradeType"`
	Page          int      `json:"page"`
	Rows          int      `json:"rows"`
	PayTypes      []string `json:"payTypes"`
	MerchantCheck bool     `json:"merchantCheck"`
}

type searchResponse struct {
	Code string     `json:"code"`
	Data []advEntry `json:"data"`
}

type advEntry struct {
	Adv struct {
		Price                string               `json:"price"`
		MinSingleTransAmount string               `json:"minSingleTransAmount"`
		MaxSingleTransAmount string               `json:"maxSingleTransAmount"`
		TradeMethods         []tradeMethodPayload `json:"tradeMethods"`
	} `json:"adv"`
	Advertiser struct {
		NickName string `json:"nickName"`
	} `json:"advertiser"`
}

type tradeMethodPayload struct {
	Identifier      string `json:"identifier"`
	PayType         string `json:"payType"`
	TradeMethodName string `json:"tradeMethodName"`
}

func (e advEntry) toAdvertisement(fiat, method string, side Side) Advertisement {
	// Absent or malformed numeric fields decay to zero; a zero price is
	// treated as non-qualifying downstream, a zero max as unconstrained.
	return Advertisement{
		Side:       side,
		Fiat:       fiat,
		Method:     method,
		Price:      parseDecimal(e.Adv.Price),
		MinLimit:   parseDecimal(e.Adv.MinSingleTransAmount),
		MaxLimit:   parseDecimal(e.Adv.MaxSingleTransAmount),
		Advertiser: e.Advertiser.NickName,
	}
}

func parseDecimal(raw string) decimal.Decimal {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return d
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil && apiErr.Message != "" {
		return &apiError{status: status, message: apiErr.Message}
	}
	if len(payload) > 0 {
		return &apiError{status: status, message: strings.TrimSpace(string(payload))}
	}
	return &apiError{status: status}
}

type apiError struct {
	status  int
	message string
}

func (e *apiError) Error() string {
	if e.message == "" {
		return "p2p api error (" + strconv.Itoa(e.status) + ")"
	}
	return "p2p api error (" + strconv.Itoa(e.status) + "): " + e.message
}
