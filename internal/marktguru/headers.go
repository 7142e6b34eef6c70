package marktguru

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/net/html"
)

const (
	defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.114 Safari/537.36"
	siteOrigin       = "https://www.marktguru.de"
)

// HeaderProvider returns the request headers for the offers API.
type HeaderProvider interface {
	Headers(ctx context.Context) (map[string]string, error)
}

// StaticHeaders is the fallback header set built from configured keys.
type StaticHeaders struct {
	APIKey    string
	ClientKey string
	UserAgent string
}

// Headers implements HeaderProvider.
func (s StaticHeaders) Headers(context.Context) (map[string]string, error) {
	ua := s.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	return map[string]string{
		"x-apikey":    s.APIKey,
		"x-clientkey": s.ClientKey,
		"User-Agent":  ua,
		"Origin":      siteOrigin,
		"Referer":     siteOrigin + "/",
	}, nil
}

// HomepageDiscoverer reads the current API keys from the JSON config blob the
// aggregator homepage embeds in a <script type="application/json"> tag.
type HomepageDiscoverer struct {
	URL       string
	UserAgent string
	HTTP      *http.Client
}

// Headers implements HeaderProvider.
func (d *HomepageDiscoverer) Headers(ctx context.Context) (map[string]string, error) {
	u := d.URL
	if u == "" {
		u = siteOrigin + "/"
	}
	hc := d.HTTP
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	ua := d.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	req.Header.Set("User-Agent", ua)

	resp, err := hc.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetch homepage")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode, URL: req.URL.Path}
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "parse homepage")
	}
	apiKey, clientKey := findKeys(doc)
	if apiKey == "" || clientKey == "" {
		return nil, errors.New("homepage carries no api keys")
	}
	return StaticHeaders{APIKey: apiKey, ClientKey: clientKey, UserAgent: ua}.Headers(ctx)
}

func findKeys(n *html.Node) (apiKey, clientKey string) {
	if n.Type == html.ElementNode && n.Data == "script" && attr(n, "type") == "application/json" {
		if n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
			var blob struct {
				Config struct {
					APIKey    string `json:"apiKey"`
					ClientKey string `json:"clientKey"`
				} `json:"config"`
			}
			if json.Unmarshal([]byte(n.FirstChild.Data), &blob) == nil && blob.Config.APIKey != "" {
				return blob.Config.APIKey, blob.Config.ClientKey
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if a, k := findKeys(c); a != "" {
			return a, k
		}
	}
	return "", ""
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

// ResolveHeaders asks p for headers within timeout and falls back to the
// static set when discovery fails or returns nothing.
func ResolveHeaders(ctx context.Context, p HeaderProvider, fallback StaticHeaders, timeout time.Duration, log zerolog.Logger) map[string]string {
	static, _ := fallback.Headers(ctx)
	if p == nil {
		return static
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	h, err := p.Headers(ctx)
	if err != nil || len(h) == 0 {
		log.Warn().Err(err).Msg("header discovery failed, using static credentials")
		return static
	}
	for k, v := range static {
		if _, ok := h[k]; !ok {
			h[k] = v
		}
	}
	log.Info().Msg("headers discovered")
	return h
}

// MissingKeys lists the credential headers of h that are empty. The offers
// API rejects every request while any of them is missing.
func MissingKeys(h map[string]string) []string {
	var missing []string
	for _, k := range []string{"x-apikey", "x-clientkey"} {
		if strings.TrimSpace(h[k]) == "" {
			missing = append(missing, k)
		}
	}
	return missing
}
