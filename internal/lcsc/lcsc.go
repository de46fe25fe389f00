// Package lcsc fetches part metadata from the LCSC catalog API.
package lcsc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/fabworks/kicad-lcsc/core/catalog"
	"github.com/fabworks/kicad-lcsc/core/errors"
	"github.com/fabworks/kicad-lcsc/internal/logging"
	"github.com/fabworks/kicad-lcsc/internal/version"
)

const (
	// DefaultBaseURL is the production catalog endpoint.
	DefaultBaseURL = "https://wmsc.lcsc.com/ftps/wm"

	// DefaultTimeout bounds a single catalog request.
	DefaultTimeout = 10 * time.Second

	// DefaultDelay spaces successive catalog requests.
	DefaultDelay = 300 * time.Millisecond
)

// DefaultRetries is the number of extra passes made on rate-limit and
// server-side failures.
const DefaultRetries = 1

// Options configures a Client. Zero values fall back to the defaults above,
// except Delay: a zero Delay disables request pacing. A negative Retries
// disables retrying.
type Options struct {
	BaseURL   string
	Timeout   time.Duration
	Delay     time.Duration
	UserAgent string
	Retries   int

	// Client overrides the HTTP client, mainly for tests.
	Client *http.Client
}

// Client looks up part codes against the LCSC catalog.
type Client struct {
	baseURL   string
	delay     time.Duration
	userAgent string
	retries   int
	http      *http.Client

	mu   sync.Mutex
	last time.Time
}

// NewClient creates a catalog client.
func NewClient(opts Options) *Client {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = version.UserAgent()
	}
	retries := opts.Retries
	if retries == 0 {
		retries = DefaultRetries
	} else if retries < 0 {
		retries = 0
	}
	httpClient := opts.Client
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:   baseURL,
		delay:     opts.Delay,
		userAgent: userAgent,
		retries:   retries,
		http:      httpClient,
	}
}

// envelope is the JSON wrapper the catalog puts around every response.
type envelope struct {
	Code   int     `json:"code"`
	Result *detail `json:"result"`
}

type detail struct {
	BrandNameEn    string `json:"brandNameEn"`
	ProductModel   string `json:"productModel"`
	EncapStandard  string `json:"encapStandard"`
	ProductIntroEn string `json:"productIntroEn"`
	StockNumber    int    `json:"stockNumber"`
}

// Fetch looks up a single part code. A code the catalog does not know yields
// errors.ErrNotFound; transport and server failures yield a LookupError.
// Rate-limited and server-side failures are retried after a doubled
// politeness delay.
func (c *Client) Fetch(ctx context.Context, code string) (catalog.Part, error) {
	if !catalog.ValidCode(code) {
		return catalog.Part{}, errors.NewValidation("product code", fmt.Sprintf("%q is not an LCSC code", code))
	}

	part, err := c.fetchOnce(ctx, code)
	for attempt := 0; attempt < c.retries && err != nil && retryable(err); attempt++ {
		if werr := c.sleep(ctx, 2*c.delay); werr != nil {
			return catalog.Part{}, werr
		}
		part, err = c.fetchOnce(ctx, code)
	}
	return part, err
}

func (c *Client) fetchOnce(ctx context.Context, code string) (catalog.Part, error) {
	if err := c.wait(ctx); err != nil {
		return catalog.Part{}, err
	}

	u := fmt.Sprintf("%s/product/detail?productCode=%s", c.baseURL, url.QueryEscape(code))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return catalog.Part{}, errors.NewLookup(code, 0, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return catalog.Part{}, errors.NewLookup(code, 0, err)
	}
	defer resp.Body.Close()

	logging.FetchEvent(code, resp.StatusCode, time.Since(start))

	if resp.StatusCode != http.StatusOK {
		return catalog.Part{}, errors.NewLookup(code, resp.StatusCode, nil)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return catalog.Part{}, errors.NewLookup(code, 0, fmt.Errorf("decoding response: %w", err))
	}

	// The catalog reports unknown codes inside a 200 response, either with a
	// non-200 envelope code or a null result. That is absence, not failure.
	if env.Code != 200 || env.Result == nil {
		return catalog.Part{}, errors.NewNotFound("part", code)
	}

	return catalog.Part{
		Code:         code,
		Manufacturer: env.Result.BrandNameEn,
		MPN:          env.Result.ProductModel,
		Package:      env.Result.EncapStandard,
		Description:  env.Result.ProductIntroEn,
		Stock:        env.Result.StockNumber,
	}, nil
}

// wait enforces the politeness delay between successive requests.
func (c *Client) wait(ctx context.Context) error {
	if c.delay <= 0 {
		return nil
	}

	c.mu.Lock()
	pause := time.Until(c.last.Add(c.delay))
	c.mu.Unlock()

	if err := c.sleep(ctx, pause); err != nil {
		return err
	}

	c.mu.Lock()
	c.last = time.Now()
	c.mu.Unlock()
	return nil
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// retryable reports whether err is a rate-limit or server-side failure worth
// one more attempt.
func retryable(err error) bool {
	var le *errors.LookupError
	if !errors.As(err, &le) {
		return false
	}
	return le.Status == http.StatusTooManyRequests || le.Status >= 500
}
