// Package eastmoney provides clients for the Tiantian Jijin (Eastmoney) fund
// APIs: the realtime jsonpgz valuation feed and the paged lsjz NAV history.
package eastmoney

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/fundfolio/internal/clientdata"
	"github.com/aristath/fundfolio/internal/modules/funds"
)

const (
	defaultRealtimeURL = "http://fundgz.1234567.com.cn"
	defaultHistoryURL  = "http://api.fund.eastmoney.com"

	historyPageSize = 49
	userAgent       = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
)

// jsonpgz wraps a JSON object in a jsonp callback, optionally terminated
// with a semicolon.
var jsonpgzRe = regexp.MustCompile(`jsonpgz\((.*)\)`)

// Client for the Eastmoney fund APIs
type Client struct {
	realtimeURL string
	historyURL  string
	client      *http.Client
	log         zerolog.Logger
	cacheRepo   *clientdata.Repository
}

// NewClient creates a new Eastmoney client.
// cacheRepo is optional; when set, fetched history is kept as a stale
// fallback for network failures.
func NewClient(cacheRepo *clientdata.Repository, log zerolog.Logger) *Client {
	return &Client{
		realtimeURL: defaultRealtimeURL,
		historyURL:  defaultHistoryURL,
		client:      &http.Client{Timeout: 10 * time.Second},
		log:         log.With().Str("client", "eastmoney").Logger(),
		cacheRepo:   cacheRepo,
	}
}

// SetBaseURLs overrides the API endpoints (for testing).
func (c *Client) SetBaseURLs(realtimeURL, historyURL string) {
	c.realtimeURL = realtimeURL
	c.historyURL = historyURL
}

// Name identifies this provider in quote sources and logs.
func (c *Client) Name() string {
	return "eastmoney"
}

// realtimePayload is the JSON inside the jsonpgz callback. Numeric fields
// arrive as strings.
type realtimePayload struct {
	Code     string `json:"fundcode"`
	Name     string `json:"name"`
	NavDate  string `json:"jzrq"`
	Nav      string `json:"dwjz"`
	Estimate string `json:"gsz"`
	EstRate  string `json:"gszzl"`
	EstTime  string `json:"gztime"`
}

// Fetch retrieves the realtime valuation for a fund code.
// Money market funds have no intraday estimate; the quote then carries only
// the last official NAV.
func (c *Client) Fetch(ctx context.Context, code string) (*funds.Quote, error) {
	url := fmt.Sprintf("%s/js/%s.js?rt=%d", c.realtimeURL, code, time.Now().UnixMilli())

	body, err := c.get(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("realtime request failed for %s: %w", code, err)
	}

	match := jsonpgzRe.FindSubmatch(body)
	if match == nil || len(match[1]) == 0 {
		return nil, fmt.Errorf("no jsonpgz payload for %s", code)
	}

	var payload realtimePayload
	if err := json.Unmarshal(match[1], &payload); err != nil {
		return nil, fmt.Errorf("failed to parse realtime payload for %s: %w", code, err)
	}

	nav, err := strconv.ParseFloat(payload.Nav, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid nav %q for %s", payload.Nav, code)
	}

	quote := &funds.Quote{
		Code:    code,
		Name:    payload.Name,
		Nav:     nav,
		NavDate: payload.NavDate,
		AsOf:    time.Now(),
		Source:  c.Name(),
	}

	if est, err := strconv.ParseFloat(payload.Estimate, 64); err == nil && est > 0 {
		quote.Estimate = &est
		if rate, err := strconv.ParseFloat(payload.EstRate, 64); err == nil {
			quote.EstimateRate = &rate
		}
		if asOf, err := time.ParseInLocation("2006-01-02 15:04", payload.EstTime, time.Local); err == nil {
			quote.AsOf = asOf
		}
	}

	return quote, nil
}

// historyPage is one page of the f10/lsjz endpoint.
type historyPage struct {
	Data struct {
		LSJZList []struct {
			Date string `json:"FSRQ"`
			Nav  string `json:"DWJZ"`
		} `json:"LSJZList"`
	} `json:"Data"`
	TotalCount int `json:"TotalCount"`
}

// FetchRange retrieves published NAVs for [start, end], paging through the
// lsjz endpoint. Dates with no published NAV are absent from the map. On
// network failure a previously cached result is returned if one exists.
func (c *Client) FetchRange(ctx context.Context, code, start, end string) (map[string]float64, error) {
	navs := make(map[string]float64)
	fetched := 0

	for page := 1; ; page++ {
		url := fmt.Sprintf(
			"%s/f10/lsjz?fundCode=%s&pageIndex=%d&pageSize=%d&startDate=%s&endDate=%s",
			c.historyURL, code, page, historyPageSize, start, end,
		)

		body, err := c.get(ctx, url, map[string]string{
			// the f10 API rejects requests without an Eastmoney referer
			"Referer": "http://fundf10.eastmoney.com/",
		})
		if err != nil {
			if stale, ok := c.staleHistory(code, start, end); ok {
				c.log.Warn().Err(err).Str("code", code).
					Msg("History fetch failed, using stale cached history")
				return stale, nil
			}
			return nil, fmt.Errorf("history request failed for %s: %w", code, err)
		}

		var parsed historyPage
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, fmt.Errorf("failed to parse history page for %s: %w", code, err)
		}
		if len(parsed.Data.LSJZList) == 0 {
			break
		}

		for _, row := range parsed.Data.LSJZList {
			nav, err := strconv.ParseFloat(row.Nav, 64)
			if err != nil {
				// dividend and split rows carry an empty DWJZ
				continue
			}
			navs[row.Date] = nav
		}

		fetched += len(parsed.Data.LSJZList)
		if fetched >= parsed.TotalCount {
			break
		}
	}

	if c.cacheRepo != nil && len(navs) > 0 {
		if err := c.cacheRepo.Store("eastmoney_history", code, navs, clientdata.TTLHistory); err != nil {
			c.log.Warn().Err(err).Str("code", code).Msg("Failed to cache history")
		}
	}

	return navs, nil
}

// staleHistory returns the last cached history restricted to [start, end].
func (c *Client) staleHistory(code, start, end string) (map[string]float64, bool) {
	if c.cacheRepo == nil {
		return nil, false
	}

	var cached map[string]float64
	found, err := c.cacheRepo.Get("eastmoney_history", code, &cached)
	if err != nil || !found {
		return nil, false
	}

	navs := make(map[string]float64)
	for date, nav := range cached {
		if date >= start && date <= end {
			navs[date] = nav
		}
	}
	return navs, len(navs) > 0
}

func (c *Client) get(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}
