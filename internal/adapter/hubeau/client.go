package hubeau

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/couchcryptid/water-quality-etl/internal/domain"
	"github.com/couchcryptid/water-quality-etl/internal/observability"
)

// DefaultBaseURL is the root of the Hub'Eau API.
const DefaultBaseURL = "https://hubeau.eaufrance.fr/api"

// maxQueryCodes is the largest parameter list sent upstream. Longer lists are
// filtered locally only.
const maxQueryCodes = 200

// ErrUnknownSource is returned when a request names a source without a schema.
var ErrUnknownSource = errors.New("unknown source")

// StatusError is a non-successful HTTP response that survived the retry policy.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("hubeau API error: status %d: %s", e.StatusCode, e.Body)
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	PageSize   int
	Timeout    time.Duration
	MaxRetries int
	RetryWait  time.Duration
}

// Request describes one paginated retrieval.
type Request struct {
	Source     domain.Source
	Kind       domain.ResourceKind
	Department string
	// MaxPages caps the number of pages fetched; zero or less means no cap.
	MaxPages int
	// Hint narrows analyses upstream. It is advisory: records are filtered again locally.
	Hint domain.FilterSpec
	// StartURL resumes a fetch at a continuation link returned by an earlier
	// fetch. The first-page parameters are not sent.
	StartURL string
}

// Page is one page of records as delivered by the service.
type Page struct {
	Number  int
	Records []domain.RawRecord
	Next    string
	Count   int
}

// Result is the outcome of a Fetch. On error it holds what was retrieved
// before the failure.
type Result struct {
	Records []domain.RawRecord
	Pages   int
	// Next is the continuation link of the last page, empty when exhausted.
	Next      string
	Exhausted bool
	// Count is the total number of matching records announced by the service.
	Count int
}

// PageFunc is invoked after each page, in order. Returning an error stops the fetch.
type PageFunc func(Page) error

// Client retrieves paginated record sets from the Hub'Eau services.
type Client struct {
	http     *resty.Client
	baseURL  string
	pageSize int
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewClient creates a Hub'Eau client with a bounded retry policy on transport
// errors, 429 and 5xx responses.
func NewClient(opts Options, logger *slog.Logger, metrics *observability.Metrics) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 1000
	}

	rc := resty.New().
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.MaxRetries).
		SetRetryWaitTime(opts.RetryWait).
		SetRetryMaxWaitTime(opts.RetryWait*8).
		SetHeader("Accept", "application/json").
		AddRetryCondition(shouldRetry)

	return &Client{
		http:     rc,
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		pageSize: opts.PageSize,
		logger:   logger,
		metrics:  metrics,
	}
}

func shouldRetry(resp *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if resp == nil {
		return false
	}
	code := resp.StatusCode()
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// Fetch retrieves pages for a request until the service runs out of data (empty
// page or no next link) or MaxPages is reached. The first page is built from the
// request; later pages follow the service's next link.
func (c *Client) Fetch(ctx context.Context, req Request, onPage PageFunc) (Result, error) {
	schema, ok := domain.LookupSchema(req.Source)
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownSource, req.Source)
	}
	endpoint, ok := schema.Endpoint(req.Kind)
	if !ok {
		return Result{}, fmt.Errorf("no %s endpoint for source %s", req.Kind, req.Source)
	}

	log := c.logger.With("source", req.Source, "kind", req.Kind, "department", req.Department)
	pageURL := c.baseURL + "/" + endpoint
	params := c.firstPageParams(schema, req)
	if req.StartURL != "" {
		pageURL, params = req.StartURL, nil
	}

	var res Result
	for req.MaxPages <= 0 || res.Pages < req.MaxPages {
		env, err := c.getPage(ctx, req, pageURL, params)
		if err != nil {
			c.metrics.FetchFailures.WithLabelValues(string(req.Source), string(req.Kind)).Inc()
			return res, fmt.Errorf("fetch %s %s page %d: %w", req.Source, req.Kind, res.Pages+1, err)
		}
		c.metrics.PagesFetched.WithLabelValues(string(req.Source), string(req.Kind)).Inc()
		res.Count = env.Count

		if len(env.Data) == 0 {
			res.Exhausted = true
			res.Next = ""
			break
		}

		res.Pages++
		res.Records = append(res.Records, env.Data...)
		res.Next = ""
		if env.Next != nil {
			next, err := resolveNext(pageURL, *env.Next)
			if err != nil {
				return res, fmt.Errorf("fetch %s %s page %d: %w", req.Source, req.Kind, res.Pages, err)
			}
			res.Next = next
		}

		log.Debug("page fetched",
			"page", res.Pages,
			"records", len(env.Data),
			"total", env.Count,
		)

		if onPage != nil {
			page := Page{Number: res.Pages, Records: env.Data, Next: res.Next, Count: env.Count}
			if err := onPage(page); err != nil {
				return res, fmt.Errorf("page %d callback: %w", res.Pages, err)
			}
		}

		if res.Next == "" {
			res.Exhausted = true
			break
		}
		pageURL, params = res.Next, nil
	}

	if !res.Exhausted {
		log.Info("page cap reached", "pages", res.Pages, "records", len(res.Records), "total", res.Count)
	}
	return res, nil
}

func (c *Client) firstPageParams(schema domain.Schema, req Request) map[string]string {
	params := map[string]string{
		"code_departement": req.Department,
		"size":             strconv.Itoa(c.pageSize),
	}
	if req.Kind != domain.KindAnalyses {
		return params
	}
	if schema.Sort != "" {
		params["sort"] = schema.Sort
	}
	if !req.Hint.DateStart.IsZero() {
		params["date_debut_prelevement"] = domain.FormatDate(req.Hint.DateStart)
	}
	if !req.Hint.DateEnd.IsZero() {
		params["date_fin_prelevement"] = domain.FormatDate(req.Hint.DateEnd)
	}
	if codes := req.Hint.Codes(); len(codes) > 0 && len(codes) <= maxQueryCodes {
		params[schema.NativeParameterField()] = strings.Join(codes, ",")
	}
	return params
}

func (c *Client) getPage(ctx context.Context, req Request, pageURL string, params map[string]string) (envelope, error) {
	r := c.http.R().SetContext(ctx)
	if params != nil {
		r.SetQueryParams(params)
	}

	resp, err := r.Get(pageURL)
	if resp != nil {
		c.metrics.RequestDuration.WithLabelValues(string(req.Source)).Observe(resp.Time().Seconds())
		if resp.Request != nil && resp.Request.Attempt > 1 {
			c.metrics.FetchRetries.WithLabelValues(string(req.Source)).Add(float64(resp.Request.Attempt - 1))
		}
	}
	if err != nil {
		return envelope{}, fmt.Errorf("request: %w", err)
	}

	// Hub'Eau answers 206 Partial Content while more pages remain.
	if code := resp.StatusCode(); code != http.StatusOK && code != http.StatusPartialContent {
		return envelope{}, &StatusError{StatusCode: code, Body: truncate(resp.String(), 512)}
	}

	return decodeEnvelope(resp.Body())
}

// envelope is the paginated response shared by all Hub'Eau endpoints.
type envelope struct {
	Count int                `json:"count"`
	Next  *string            `json:"next"`
	Data  []domain.RawRecord `json:"data"`
}

func decodeEnvelope(body []byte) (envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var env envelope
	if err := dec.Decode(&env); err != nil {
		return envelope{}, fmt.Errorf("decode response: %w", err)
	}
	return env, nil
}

func resolveNext(current, next string) (string, error) {
	next = strings.TrimSpace(next)
	if next == "" {
		return "", nil
	}
	base, err := url.Parse(current)
	if err != nil {
		return "", fmt.Errorf("parse page url: %w", err)
	}
	ref, err := url.Parse(next)
	if err != nil {
		return "", fmt.Errorf("parse next link: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
