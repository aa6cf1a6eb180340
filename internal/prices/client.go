package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/errgroup"

	"albion-flipper/internal/market"
)

// DefaultBaseURL is the public price-feed endpoint.
const DefaultBaseURL = "https://www.albion-online-data.com/api/v2/stats/prices"

// DefaultBatchSize keeps request URLs under the feed's length limit.
const DefaultBatchSize = 120

// Options configures a feed client.
type Options struct {
	BaseURL       string
	Locations     []string
	Qualities     []int
	BatchSize     int
	Timeout       time.Duration
	MaxConcurrent int
	CacheTTL      time.Duration // 0 disables caching
}

// Client fetches price records from the feed in batches.
type Client struct {
	http  *resty.Client
	opts  Options
	cache *Cache
}

// NewClient creates a feed client. Zero-valued options fall back to defaults.
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	if len(opts.Qualities) == 0 {
		opts.Qualities = append([]int(nil), market.AllQualities...)
	}

	client := resty.New()
	client.SetTimeout(opts.Timeout)
	client.SetHeader("Accept", "application/json")
	client.SetHeader("User-Agent", "albion-flipper/1.0")

	return &Client{http: client, opts: opts, cache: NewCache(opts.CacheTTL)}
}

// Cache exposes the batch cache (for status reporting and manual clears).
func (c *Client) Cache() *Cache { return c.cache }

// Batches splits ids into consecutive chunks of at most size.
func Batches(ids []string, size int) [][]string {
	if size <= 0 {
		size = DefaultBatchSize
	}
	var out [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[start:end])
	}
	return out
}

// BatchURL builds the request URL for one batch. Spaces in location names become %20.
func (c *Client) BatchURL(ids []string) string {
	locs := make([]string, len(c.opts.Locations))
	for i, l := range c.opts.Locations {
		locs[i] = encodeLocation(l)
	}
	quals := make([]string, len(c.opts.Qualities))
	for i, q := range c.opts.Qualities {
		quals[i] = strconv.Itoa(q)
	}
	return fmt.Sprintf("%s/%s.json?locations=%s&qualities=%s",
		c.opts.BaseURL, strings.Join(ids, ","), strings.Join(locs, ","), strings.Join(quals, ","))
}

func encodeLocation(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), " ", "%20")
}

// FetchRecords downloads raw records for ids. Batches run concurrently up to
// MaxConcurrent; the first failing batch cancels the rest.
func (c *Client) FetchRecords(ctx context.Context, ids []string) ([]market.FeedRecord, error) {
	batches := Batches(ids, c.opts.BatchSize)
	if len(batches) == 0 {
		return nil, nil
	}

	results := make([][]market.FeedRecord, len(batches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.MaxConcurrent)
	for i, batch := range batches {
		i, batch := i, batch
		g.Go(func() error {
			recs, err := c.fetchBatchCached(gctx, batch)
			if err != nil {
				return err
			}
			results[i] = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []market.FeedRecord
	for _, recs := range results {
		all = append(all, recs...)
	}
	return all, nil
}

// FetchIndex downloads ids and builds a market index.
func (c *Client) FetchIndex(ctx context.Context, ids []string) (market.Index, error) {
	start := time.Now()
	records, err := c.FetchRecords(ctx, ids)
	if err != nil {
		return nil, err
	}
	idx := market.BuildIndex(records)
	log.Printf("[PRICES] %d ids -> %d records, %d quotes in %s",
		len(ids), len(records), idx.Len(), time.Since(start).Round(time.Millisecond))
	return idx, nil
}

func (c *Client) fetchBatchCached(ctx context.Context, batch []string) ([]market.FeedRecord, error) {
	url := c.BatchURL(batch)
	return c.cache.Do(ctx, url, func(shared context.Context) ([]market.FeedRecord, error) {
		fctx, cancel := context.WithTimeout(shared, c.opts.Timeout)
		defer cancel()
		return c.fetchBatch(fctx, url)
	})
}

func (c *Client) fetchBatch(ctx context.Context, url string) ([]market.FeedRecord, error) {
	resp, err := c.http.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	if resp.StatusCode() != 200 {
		body := resp.String()
		if len(body) > 200 {
			body = body[:200]
		}
		return nil, &FetchError{URL: url, Status: resp.StatusCode(), Err: fmt.Errorf("%s", body)}
	}

	var records []market.FeedRecord
	if err := json.Unmarshal(resp.Body(), &records); err != nil {
		return nil, &FetchError{URL: url, Status: resp.StatusCode(), Err: fmt.Errorf("decode: %w", err)}
	}
	return records, nil
}

// FetchError reports a failed feed request.
type FetchError struct {
	URL    string
	Status int // 0 on transport errors
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("price feed %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("price feed: %v", e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
