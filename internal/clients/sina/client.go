// Package sina provides a fallback realtime valuation client backed by the
// Sina finance quote feed.
package sina

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/fundfolio/internal/modules/funds"
)

const defaultBaseURL = "http://hq.sinajs.cn"

// quoted captures the comma string inside `var hq_str_fu_XXX="...";`
var quotedRe = regexp.MustCompile(`="(.*)"`)

// Client for the Sina fund quote feed
type Client struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a new Sina client
func NewClient(log zerolog.Logger) *Client {
	return &Client{
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log.With().Str("client", "sina").Logger(),
	}
}

// SetBaseURL overrides the API endpoint (for testing).
func (c *Client) SetBaseURL(baseURL string) {
	c.baseURL = baseURL
}

// Name identifies this provider in quote sources and logs.
func (c *Client) Name() string {
	return "sina"
}

// Fetch retrieves the realtime valuation for a fund code. Fund symbols carry
// a fu_ prefix on this feed. The payload is positional:
// name, time, estimate, nav, ..., rate, date. The name field is GBK-encoded
// and left blank in the quote.
func (c *Client) Fetch(ctx context.Context, code string) (*funds.Quote, error) {
	url := fmt.Sprintf("%s/list=fu_%s", c.baseURL, code)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	// the feed returns an empty payload without a Sina referer
	req.Header.Set("Referer", "http://finance.sina.com.cn")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("realtime request failed for %s: %w", code, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d for %s", resp.StatusCode, code)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	match := quotedRe.FindSubmatch(body)
	if match == nil || len(match[1]) == 0 {
		return nil, fmt.Errorf("empty quote for %s", code)
	}

	parts := strings.Split(string(match[1]), ",")
	if len(parts) < 8 {
		return nil, fmt.Errorf("malformed quote for %s: %d fields", code, len(parts))
	}

	estimate, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid estimate %q for %s", parts[2], code)
	}
	nav, err := strconv.ParseFloat(parts[3], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid nav %q for %s", parts[3], code)
	}
	rate, err := strconv.ParseFloat(parts[6], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid rate %q for %s", parts[6], code)
	}

	quote := &funds.Quote{
		Code:   code,
		Nav:    nav,
		AsOf:   time.Now(),
		Source: c.Name(),
	}
	if estimate > 0 {
		quote.Estimate = &estimate
		quote.EstimateRate = &rate
	}
	if asOf, err := time.ParseInLocation("2006-01-02 15:04:05", parts[7]+" "+parts[1], time.Local); err == nil {
		quote.AsOf = asOf
	}

	return quote, nil
}
