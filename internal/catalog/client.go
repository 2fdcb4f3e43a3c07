package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/time/rate"

	"storesearch/searchclient/internal/domain"
)

const (
	defaultEndpoint      = "https://itunes.apple.com/search"
	defaultLanguage      = "en_us"
	defaultUserAgent     = "storesearch/1.0"
	defaultRatePerMinute = 20
	maxResponseBytes     = int64(4 * 1024 * 1024)
)

var (
	ErrNotFound     = errors.New("catalog: items not found")
	ErrCancelled    = errors.New("catalog: request cancelled")
	ErrAssetMissing = errors.New("catalog: image data missing")
	ErrDecode       = errors.New("catalog: malformed response")
	ErrInvalidQuery = errors.New("catalog: search term is required")
)

// IsCancelled reports whether err comes from the caller aborting the request.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

type Config struct {
	Endpoint      string
	Lang          string
	UserAgent     string
	Client        *http.Client
	RatePerMinute int
	Burst         int
}

type Client struct {
	endpoint  string
	lang      string
	userAgent string
	http      *http.Client
	limiter   *rate.Limiter
}

func NewClient(cfg Config) *Client {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	lang, err := APILanguage(cfg.Lang)
	if err != nil {
		lang = defaultLanguage
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	httpClient := cfg.Client
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	perMinute := cfg.RatePerMinute
	if perMinute <= 0 {
		perMinute = defaultRatePerMinute
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 4
	}
	return &Client{
		endpoint:  endpoint,
		lang:      lang,
		userAgent: userAgent,
		http:      httpClient,
		limiter:   rate.NewLimiter(rate.Limit(float64(perMinute)/60), burst),
	}
}

// Lang returns the API language parameter the client sends by default.
func (c *Client) Lang() string {
	return c.lang
}

// APILanguage converts a BCP 47 tag such as "en-US" into the lowercase
// underscore form the search API expects ("en_us"). Empty input yields the
// default language.
func APILanguage(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return defaultLanguage, nil
	}
	tag, err := language.Parse(strings.ReplaceAll(value, "_", "-"))
	if err != nil {
		return "", fmt.Errorf("invalid language %q: %w", raw, err)
	}
	base, _ := tag.Base()
	region, confidence := tag.Region()
	if confidence != language.Exact {
		return strings.ToLower(base.String()), nil
	}
	return strings.ToLower(base.String() + "_" + region.String()), nil
}

// NormalizeTerm trims the term and puts it in Unicode NFC form so that
// visually identical input produces identical queries.
func NormalizeTerm(term string) string {
	return norm.NFC.String(strings.TrimSpace(term))
}

func (c *Client) Search(ctx context.Context, query domain.Query) ([]domain.StoreItem, error) {
	term := NormalizeTerm(query.Term)
	if term == "" {
		return nil, ErrInvalidQuery
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	for key, value := range query.Params() {
		params.Set(key, value)
	}
	params.Set("term", term)
	if strings.TrimSpace(query.Lang) == "" {
		params.Set("lang", c.lang)
	}

	reqURL := c.endpoint + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d", ErrNotFound, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, transportError(ctx, err)
	}

	var response searchResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if response.Results == nil {
		return nil, fmt.Errorf("%w: missing results", ErrDecode)
	}

	items := make([]domain.StoreItem, 0, len(*response.Results))
	for _, result := range *response.Results {
		item, ok := result.toStoreItem()
		if !ok {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return transportError(ctx, err)
	}
	return nil
}

func transportError(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	return err
}
