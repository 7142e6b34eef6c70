package marktguru

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/bonalyze/offer-sync/internal/retry"
)

// ErrUnknownRetailer is returned for retailer keys without a configured id.
var ErrUnknownRetailer = errors.New("unknown retailer")

// DefaultRetailerIDs maps retailer keys to marktguru retailer ids.
var DefaultRetailerIDs = map[string]string{
	"kaufland":  "126654",
	"aldi-sued": "127153",
	"edeka":     "126699",
	"lidl":      "126679",
}

// StatusError is a non-2xx response.
type StatusError struct {
	Code       int
	URL        string
	Body       string
	retryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("marktguru: %s returned %d: %s", e.URL, e.Code, e.Body)
}

// RetryAfter returns the wait requested by the server, if any.
func (e *StatusError) RetryAfter() time.Duration { return e.retryAfter }

var transientStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// IsTransient reports network failures and 429/5xx responses worth retrying.
func IsTransient(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return transientStatus[se.Code]
	}
	return retry.IsNetwork(err)
}

// Options configures a Client.
type Options struct {
	BaseURL     string
	ZipCode     string
	RetailerIDs map[string]string
	PageSize    int
	// MinDelay and MaxDelay bound the random pause between page requests.
	MinDelay time.Duration
	MaxDelay time.Duration
	Timeout  time.Duration
	Headers  map[string]string
	Retry    retry.Policy
	Log      zerolog.Logger
}

// Client is a marktguru offers API client.
type Client struct {
	opts       Options
	httpClient *http.Client
}

// NewClient creates a client. Headers can be replaced later with SetHeaders.
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.marktguru.de"
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RetailerIDs == nil {
		opts.RetailerIDs = DefaultRetailerIDs
	}
	if opts.Retry.Retryable == nil {
		opts.Retry.Retryable = IsTransient
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Client{
		opts:       opts,
		httpClient: &http.Client{Timeout: opts.Timeout},
	}
}

// SetHeaders replaces the request headers.
func (c *Client) SetHeaders(h map[string]string) {
	c.opts.Headers = h
}

// RetailerID resolves a retailer key; "aldi_sued" and "aldi-sued" are the same key.
func (c *Client) RetailerID(key string) (string, error) {
	k := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(key)), "_", "-")
	if id, ok := c.opts.RetailerIDs[k]; ok && id != "" {
		return id, nil
	}
	return "", errors.Wrapf(ErrUnknownRetailer, "%q", key)
}

// FetchOffers pages through all offers of one retailer. maxItems <= 0 means no
// limit. Each page is retried by the client's policy; a page that still fails
// fails the whole fetch.
func (c *Client) FetchOffers(ctx context.Context, retailerKey string, maxItems int) ([]RawOffer, error) {
	retailerID, err := c.RetailerID(retailerKey)
	if err != nil {
		return nil, err
	}
	log := c.opts.Log.With().Str("retailer", retailerKey).Str("retailer_id", retailerID).Logger()

	var all []RawOffer
	offset := 0
	for {
		q := url.Values{}
		q.Set("retailerIds", retailerID)
		q.Set("zipCode", c.opts.ZipCode)
		q.Set("limit", strconv.Itoa(c.opts.PageSize))
		q.Set("offset", strconv.Itoa(offset))

		page, err := c.getPage(ctx, q)
		if err != nil {
			return nil, errors.Wrapf(err, "fetch %s offset %d", retailerKey, offset)
		}
		all = append(all, page.Results...)
		log.Debug().Int("offset", offset).Int("total", page.TotalResults).Int("fetched", len(all)).Msg("page fetched")

		if maxItems > 0 && len(all) >= maxItems {
			all = all[:maxItems]
			break
		}
		offset += c.opts.PageSize
		if len(page.Results) == 0 || offset >= page.TotalResults {
			break
		}
		if err := c.politeDelay(ctx); err != nil {
			return nil, err
		}
	}

	log.Info().Int("fetched", len(all)).Msg("offers fetched")
	return all, nil
}

// FetchListing fetches the first limit offers around the zip code without a
// retailer filter.
func (c *Client) FetchListing(ctx context.Context, limit int) ([]RawOffer, error) {
	if limit <= 0 {
		limit = 500
	}
	q := url.Values{}
	q.Set("zipCode", c.opts.ZipCode)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", "0")

	page, err := c.getPage(ctx, q)
	if err != nil {
		return nil, errors.Wrap(err, "fetch listing")
	}
	return page.Results, nil
}

func (c *Client) getPage(ctx context.Context, q url.Values) (*Page, error) {
	endpoint := c.opts.BaseURL + "/api/v1/offers?" + q.Encode()

	var page *Page
	err := c.opts.Retry.Do(ctx, "marktguru.offers", func() error {
		p, err := c.doGet(ctx, endpoint)
		if err != nil {
			return err
		}
		page = p
		return nil
	})
	return page, err
}

func (c *Client) doGet(ctx context.Context, endpoint string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range c.opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{
			Code:       resp.StatusCode,
			URL:        req.URL.Path,
			Body:       strings.TrimSpace(string(body)),
			retryAfter: retryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return DecodePage(resp.Body)
}

func retryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func (c *Client) politeDelay(ctx context.Context) error {
	d := c.opts.MinDelay
	if span := c.opts.MaxDelay - c.opts.MinDelay; span > 0 {
		d += time.Duration(rand.Int63n(int64(span)))
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
