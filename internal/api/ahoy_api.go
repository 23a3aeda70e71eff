package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/tejusbharadwaj/ahoycrawler/internal/models"
)

const (
	inverterListPath   = "/api/inverter/list"
	inverterStatusPath = "/api/inverter/id/%d"
	livePath           = "/api/live"
	indexPath          = "/api/index"
)

var (
	ErrTransport = errors.New("device unreachable")
	ErrParse     = errors.New("malformed device response")
)

// Client talks to the HTTP API of an AhoyDTU.
//
// Metadata that rarely changes (the inverter roster and the live field
// catalog) is kept in an LRU cache for a configurable time; status and index
// reads always hit the device. All requests share a rate limiter so the
// device, usually an ESP8266, is not flooded.
type Client struct {
	endpoint   string
	httpClient *http.Client
	limiter    *rate.Limiter
	metadata   *lru.Cache
	metaTTL    time.Duration
	logger     *logrus.Logger
}

type cachedBody struct {
	body      []byte
	fetchedAt time.Time
}

// Option configures a Client
type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithRateLimit allows rps requests per second with the given burst.
// A non-positive rps disables throttling.
func WithRateLimit(rps float64, burst int) Option {
	return func(cl *Client) {
		if rps <= 0 {
			cl.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst < 1 {
			burst = 1
		}
		cl.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithMetadataTTL sets how long roster and catalog responses are reused.
// Zero disables the cache.
func WithMetadataTTL(ttl time.Duration) Option {
	return func(cl *Client) { cl.metaTTL = ttl }
}

func WithLogger(logger *logrus.Logger) Option {
	return func(cl *Client) { cl.logger = logger }
}

// NewClient creates a client for the device at endpoint, e.g. "http://192.168.1.20".
func NewClient(endpoint string, opts ...Option) (*Client, error) {
	if endpoint == "" {
		return nil, errors.New("device endpoint must not be empty")
	}

	metadata, err := lru.New(16)
	if err != nil {
		return nil, err
	}

	c := &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(2, 1),
		metadata:   metadata,
		metaTTL:    5 * time.Minute,
		logger:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// InverterList returns the roster of configured inverters.
func (c *Client) InverterList(ctx context.Context) (*models.InverterList, error) {
	var list models.InverterList
	if err := c.getJSON(ctx, inverterListPath, true, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// InverterStatus returns the current values of one inverter.
func (c *Client) InverterStatus(ctx context.Context, id uint8) (*models.InverterStatus, error) {
	var status models.InverterStatus
	if err := c.getJSON(ctx, fmt.Sprintf(inverterStatusPath, id), false, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Live returns the field catalogs of the device.
func (c *Client) Live(ctx context.Context) (*models.Live, error) {
	var live models.Live
	if err := c.getJSON(ctx, livePath, true, &live); err != nil {
		return nil, err
	}
	return &live, nil
}

// Index returns the device overview including the per-inverter flags.
func (c *Client) Index(ctx context.Context) (*models.Index, error) {
	var index models.Index
	if err := c.getJSON(ctx, indexPath, false, &index); err != nil {
		return nil, err
	}
	return &index, nil
}

// InverterFields reads the current values of inverter and maps them onto the
// live field catalogs. Element 0 is the summary channel (named by
// ch0_fld_names), elements 1..inverter.Channels the physical channels (named
// by fld_names). Values the device did not report are left out of the
// mapping.
func (c *Client) InverterFields(ctx context.Context, inverter models.Inverter) ([]models.Reading, error) {
	status, err := c.InverterStatus(ctx, inverter.ID)
	if err != nil {
		return nil, err
	}
	live, err := c.Live(ctx)
	if err != nil {
		return nil, err
	}

	readings := make([]models.Reading, 0, int(inverter.Channels)+1)
	readings = append(readings, channelReading(status.Ch, 0, live.Ch0FldNames))
	for ch := 1; ch <= int(inverter.Channels); ch++ {
		readings = append(readings, channelReading(status.Ch, ch, live.FldNames))
	}
	return readings, nil
}

func channelReading(matrix [][]float64, ch int, names []string) models.Reading {
	reading := make(models.Reading, len(names))
	if ch >= len(matrix) {
		return reading
	}
	values := matrix[ch]
	for i, name := range names {
		if i < len(values) {
			reading[name] = values[i]
		}
	}
	return reading
}

func (c *Client) getJSON(ctx context.Context, path string, cacheable bool, out interface{}) error {
	useCache := cacheable && c.metaTTL > 0
	if useCache {
		if body, ok := c.cached(path); ok {
			if err := json.Unmarshal(body, out); err == nil {
				return nil
			}
			c.metadata.Remove(path)
		}
	}

	body, err := c.fetch(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrParse, path, err)
	}

	if useCache {
		c.metadata.Add(path, cachedBody{body: body, fetchedAt: time.Now()})
	}
	return nil
}

func (c *Client) cached(path string) ([]byte, bool) {
	v, ok := c.metadata.Get(path)
	if !ok {
		return nil, false
	}
	entry := v.(cachedBody)
	if time.Since(entry.fetchedAt) >= c.metaTTL {
		c.metadata.Remove(path)
		return nil, false
	}
	return entry.body, true
}

func (c *Client) fetch(ctx context.Context, path string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	url := c.endpoint + path
	c.logger.WithField("url", url).Debug("requesting device")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s: got %d", ErrTransport, path, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return body, nil
}
