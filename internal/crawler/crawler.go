package crawler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tejusbharadwaj/ahoycrawler/internal/metrics"
)

// Crawler keeps one Inverter per device id, discovering inverters lazily on
// first use.
type Crawler struct {
	api       DeviceAPI
	inverters map[uint8]*Inverter

	// defaultInterval may be changed by the config watcher while a pass runs.
	defaultInterval atomic.Int64

	logger  *logrus.Logger
	metrics *metrics.Collector
}

// Option configures a Crawler
type Option func(*Crawler)

func WithLogger(logger *logrus.Logger) Option {
	return func(c *Crawler) { c.logger = logger }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(c *Crawler) { c.metrics = m }
}

func WithDefaultInterval(d time.Duration) Option {
	return func(c *Crawler) { c.SetDefaultInterval(d) }
}

// New creates a crawler reading from device.
func New(device DeviceAPI, opts ...Option) *Crawler {
	c := &Crawler{
		api:       device,
		inverters: make(map[uint8]*Inverter),
		logger:    logrus.StandardLogger(),
	}
	c.defaultInterval.Store(int64(DefaultInterval))
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DefaultInterval returns the interval given to inverters on their first crawl.
func (c *Crawler) DefaultInterval() time.Duration {
	return time.Duration(c.defaultInterval.Load())
}

// SetDefaultInterval changes the interval for inverters that were not crawled
// yet. Non-positive values fall back to DefaultInterval.
func (c *Crawler) SetDefaultInterval(d time.Duration) {
	if d <= 0 {
		d = DefaultInterval
	}
	c.defaultInterval.Store(int64(d))
}

// Init discovers every inverter on the device roster.
func (c *Crawler) Init(ctx context.Context) error {
	list, err := c.api.InverterList(ctx)
	if err != nil {
		return err
	}
	for _, inv := range list.Inverter {
		if _, err := c.GetOrDiscover(ctx, inv.ID); err != nil {
			return err
		}
	}
	return nil
}

// GetOrDiscover returns the known inverter id or discovers and registers it.
// Nothing is registered when discovery fails.
func (c *Crawler) GetOrDiscover(ctx context.Context, id uint8) (*Inverter, error) {
	if inv, ok := c.inverters[id]; ok {
		return inv, nil
	}

	c.logger.WithField("inverter_id", id).Info("discovering inverter")
	inv, err := Discover(ctx, c.api, id)
	if err != nil {
		return nil, fmt.Errorf("discover inverter %d: %w", id, err)
	}
	inv.logger = c.logger.WithFields(logrus.Fields{
		"inverter_id": inv.ID,
		"inverter":    inv.Name,
	})
	c.inverters[id] = inv

	inv.logger.WithFields(logrus.Fields{
		"channels":  inv.ChannelCount,
		"enabled":   inv.Enabled,
		"producing": inv.Producing,
		"available": inv.Available,
	}).Info("inverter discovered")
	return inv, nil
}

// CrawlOne crawls inverter id once, discovering it if needed. Rows stay
// buffered.
func (c *Crawler) CrawlOne(ctx context.Context, id uint8) error {
	inv, err := c.GetOrDiscover(ctx, id)
	if err != nil {
		return err
	}
	return c.crawl(ctx, inv, time.Now())
}

// CrawlAllDue crawls every inverter that is due at now and, when shouldFlush
// is set, flushes each successfully crawled inverter into sink.
//
// A failing inverter does not stop the pass; all failures are returned
// joined. The returned time is the earliest NextCrawlAt over all known
// inverters, ok is false when no inverter has one.
func (c *Crawler) CrawlAllDue(ctx context.Context, now time.Time, shouldFlush bool, sink Sink) (time.Time, bool, error) {
	var due []*Inverter
	for _, inv := range c.Inverters() {
		if inv.IsDue(now) {
			due = append(due, inv)
		}
	}

	var errs []error
	for _, inv := range due {
		if err := c.crawl(ctx, inv, now); err != nil {
			errs = append(errs, fmt.Errorf("crawl inverter %d: %w", inv.ID, err))
			continue
		}
		if shouldFlush && sink != nil {
			if err := c.flush(ctx, inv, sink); err != nil {
				errs = append(errs, err)
			}
		}
	}

	next, ok := c.NextDue()
	return next, ok, errors.Join(errs...)
}

// NextDue returns the earliest NextCrawlAt over all known inverters.
func (c *Crawler) NextDue() (time.Time, bool) {
	var next time.Time
	found := false
	for _, inv := range c.inverters {
		if inv.NextCrawlAt == nil {
			continue
		}
		if !found || inv.NextCrawlAt.Before(next) {
			next = *inv.NextCrawlAt
			found = true
		}
	}
	return next, found
}

// NextDueAfter returns the earliest NextCrawlAt strictly after now. Inverters
// that are already due, such as ones whose last crawl failed, are skipped.
func (c *Crawler) NextDueAfter(now time.Time) (time.Time, bool) {
	var next time.Time
	found := false
	for _, inv := range c.inverters {
		if inv.NextCrawlAt == nil || !inv.NextCrawlAt.After(now) {
			continue
		}
		if !found || inv.NextCrawlAt.Before(next) {
			next = *inv.NextCrawlAt
			found = true
		}
	}
	return next, found
}

// Flush flushes every known inverter into sink, regardless of schedule.
func (c *Crawler) Flush(ctx context.Context, sink Sink) error {
	var errs []error
	for _, inv := range c.Inverters() {
		if err := c.flush(ctx, inv, sink); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Inverters returns the known inverters ordered by id.
func (c *Crawler) Inverters() []*Inverter {
	out := make([]*Inverter, 0, len(c.inverters))
	for _, inv := range c.inverters {
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// BufferedRows returns the number of rows buffered over all inverters.
func (c *Crawler) BufferedRows() int {
	n := 0
	for _, inv := range c.inverters {
		n += inv.BufferedRows()
	}
	return n
}

func (c *Crawler) crawl(ctx context.Context, inv *Inverter, now time.Time) error {
	start := time.Now()
	err := inv.Crawl(ctx, now, c.DefaultInterval())
	c.metrics.ObserveCrawl(inv.ID, time.Since(start), err)

	if err != nil {
		entry := inv.logger.WithError(err)
		if isTransient(err) {
			entry.Warn("crawl failed, inverter stays due")
		} else {
			entry.Error("crawl failed, inverter stays due")
		}
		return err
	}

	c.metrics.SetBuffered(inv.ID, inv.BufferedRows())
	inv.logger.WithFields(logrus.Fields{
		"next_crawl_at": inv.NextCrawlAt.Format(time.RFC3339),
		"buffered_rows": inv.BufferedRows(),
	}).Debug("inverter crawled")
	return nil
}

func (c *Crawler) flush(ctx context.Context, inv *Inverter, sink Sink) error {
	before := inv.BufferedRows()
	err := inv.Flush(ctx, sink)
	after := inv.BufferedRows()

	c.metrics.ObserveFlush(inv.ID, sink.Name(), before-after, err)
	c.metrics.SetBuffered(inv.ID, after)

	entry := inv.logger.WithFields(logrus.Fields{
		"sink":    sink.Name(),
		"flushed": before - after,
		"pending": after,
	})
	if err != nil {
		entry.WithError(err).Error("flush incomplete")
		return err
	}
	entry.Info("inverter flushed")
	return nil
}
