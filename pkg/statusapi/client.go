package statusapi

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"vehiclestatus/internal/domain"
	"vehiclestatus/internal/telemetry"
)

const (
	EndpointRows       = "rows"
	EndpointStatistics = "statistics"
	EndpointFilters    = "filters"
	EndpointDetails    = "details"
	EndpointStream     = "stream"
)

// Row-data query parameters
const (
	ParamVehicleID       = "vehicleId"
	ParamRoute           = "route"
	ParamDepot           = "depot"
	ParamDSC             = "dsc"
	ParamInferredState   = "inferredState"
	ParamPulloutStatus   = "pulloutStatus"
	ParamEmergency       = "emergencyStatus"
	ParamFormalInference = "formalInferrence"

	ParamPage     = "page"
	ParamPageSize = "rows"
	ParamSort     = "sort"
)

// Paths locates each resource relative to the base URL
type Paths struct {
	Rows       string
	Statistics string
	Filters    string
	Details    string
	Stream     string
}

type Client struct {
	baseURL    string
	paths      Paths
	httpClient *http.Client
	timeout    time.Duration
	clock      clockwork.Clock
	metrics    *telemetry.Metrics

	lastToken atomic.Int64
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func New(baseURL string, paths Paths, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		paths:   paths,
		timeout: timeout,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		clock: clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SortSpec orders the row set by one column
type SortSpec struct {
	Field string
	Desc  bool
}

func (s SortSpec) String() string {
	if s.Field == "" {
		return ""
	}
	dir := "asc"
	if s.Desc {
		dir = "desc"
	}
	return s.Field + "," + dir
}

// ParseSort accepts "field" or "field,dir".
func ParseSort(v string) SortSpec {
	field, dir, _ := strings.Cut(strings.TrimSpace(v), ",")
	return SortSpec{
		Field: strings.TrimSpace(field),
		Desc:  strings.EqualFold(strings.TrimSpace(dir), "desc"),
	}
}

// RowQuery is an immutable snapshot of one row-data request
type RowQuery struct {
	Filters  map[string]string
	Page     int
	PageSize int
	Sort     SortSpec
}

func (q RowQuery) Values() url.Values {
	params := url.Values{}
	for k, v := range q.Filters {
		params.Set(k, v)
	}
	if q.Page > 0 {
		params.Set(ParamPage, strconv.Itoa(q.Page))
	}
	if q.PageSize > 0 {
		params.Set(ParamPageSize, strconv.Itoa(q.PageSize))
	}
	if s := q.Sort.String(); s != "" {
		params.Set(ParamSort, s)
	}
	return params
}

// FetchRows loads one page of the vehicle grid.
func (c *Client) FetchRows(ctx context.Context, q RowQuery) (domain.PageEnvelope, error) {
	var env domain.PageEnvelope
	err := c.get(ctx, EndpointRows, c.paths.Rows, q.Values(), "application/json", func(r io.Reader) error {
		return json.NewDecoder(r).Decode(&env)
	})
	if err != nil {
		return domain.PageEnvelope{}, err
	}
	if env.Rows == nil {
		env.Rows = []domain.RowRecord{}
	}
	return env, nil
}

// FetchStatistics loads the summary counters.
func (c *Client) FetchStatistics(ctx context.Context) (domain.Statistics, error) {
	var stats domain.Statistics
	err := c.get(ctx, EndpointStatistics, c.paths.Statistics, url.Values{}, "application/json", func(r io.Reader) error {
		return json.NewDecoder(r).Decode(&stats)
	})
	if err != nil {
		return domain.Statistics{}, err
	}
	return stats, nil
}

// FetchFilterOptions loads the selectable depot, inferred state and pull-out
// status values.
func (c *Client) FetchFilterOptions(ctx context.Context) (domain.FilterOptions, error) {
	var opts domain.FilterOptions
	err := c.get(ctx, EndpointFilters, c.paths.Filters, url.Values{}, "application/xml", func(r io.Reader) error {
		var err error
		opts, err = ParseFilterOptions(r)
		return err
	})
	return opts, err
}

// FetchVehicle loads the full status of one vehicle for the details view.
func (c *Client) FetchVehicle(ctx context.Context, detailsRef string) (domain.VehicleStatus, error) {
	if strings.TrimSpace(detailsRef) == "" {
		return domain.VehicleStatus{}, errors.New("empty details reference")
	}

	var v domain.VehicleStatus
	path := strings.TrimRight(c.paths.Details, "/") + "/" + url.PathEscape(detailsRef)
	err := c.get(ctx, EndpointDetails, path, url.Values{}, "application/json", func(r io.Reader) error {
		return json.NewDecoder(r).Decode(&v)
	})
	return v, err
}

func (c *Client) get(ctx context.Context, endpoint, path string, params url.Values, accept string, decode func(io.Reader) error) (err error) {
	start := c.clock.Now()
	defer func() {
		c.observe(endpoint, start, err)
	}()

	params.Set("ts", c.nextToken())
	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Accept", accept)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &ServerError{Endpoint: endpoint, StatusCode: resp.StatusCode}
	}

	if err := decode(resp.Body); err != nil {
		var netErr *NetworkError
		if errors.As(err, &netErr) {
			return err
		}
		if isTransportError(err) {
			return &NetworkError{Endpoint: endpoint, Err: fmt.Errorf("reading response: %w", err)}
		}
		return &ServerError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("decoding response: %w", err),
		}
	}
	return nil
}

// isTransportError reports whether a body read failed because the connection
// or its deadline did, rather than because the payload was bad.
func isTransportError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) || errors.Is(err, syscall.ECONNRESET)
}

func (c *Client) observe(endpoint string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	c.metrics.FetchSeconds.WithLabelValues(endpoint).Observe(c.clock.Since(start).Seconds())
	if err != nil {
		c.metrics.FetchErrorsTotal.WithLabelValues(endpoint, ErrorKind(err)).Inc()
	}
}

// nextToken returns a cache-busting token that is strictly greater than any
// token this client handed out before, even if the clock stalls.
func (c *Client) nextToken() string {
	for {
		last := c.lastToken.Load()
		next := c.clock.Now().UnixMilli()
		if next <= last {
			next = last + 1
		}
		if c.lastToken.CompareAndSwap(last, next) {
			return strconv.FormatInt(next, 10)
		}
	}
}

// ParseFilterOptions reads Depot, InferredState and PulloutStatus elements
// wherever they appear in the document.
func ParseFilterOptions(r io.Reader) (domain.FilterOptions, error) {
	var opts domain.FilterOptions
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return opts, nil
		}
		if err != nil {
			return domain.FilterOptions{}, fmt.Errorf("reading filter options: %w", err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		var target *[]string
		switch start.Name.Local {
		case "Depot":
			target = &opts.Depots
		case "InferredState":
			target = &opts.InferredStates
		case "PulloutStatus":
			target = &opts.PulloutStatuses
		default:
			continue
		}

		var text string
		if err := dec.DecodeElement(&text, &start); err != nil {
			return domain.FilterOptions{}, fmt.Errorf("reading %s option: %w", start.Name.Local, err)
		}
		if text = strings.TrimSpace(text); text != "" {
			*target = append(*target, text)
		}
	}
}
