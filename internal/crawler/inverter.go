//go:generate go run github.com/golang/mock/mockgen -destination=./mocks/device_api.go -package=mocks . DeviceAPI

// Package crawler polls the inverters of an AhoyDTU and buffers their
// readings until they are flushed to a Sink.
//
// The Crawler owns one Inverter per device id. Each Inverter tracks when it
// is due, reads one set of values per crawl and appends them to its summary
// and channel datasets. State is mutated by a single goroutine; no locking is
// done on inverters or datasets.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tejusbharadwaj/ahoycrawler/internal/api"
	"github.com/tejusbharadwaj/ahoycrawler/internal/models"
	"github.com/tejusbharadwaj/ahoycrawler/internal/series"
)

// DefaultInterval is the crawl interval used when none is configured.
const DefaultInterval = 60 * time.Second

// SummarySeries names the series of channel 0.
const SummarySeries = "summary"

// ErrUnknownInverter is returned when the device does not list the requested
// inverter.
var ErrUnknownInverter = fmt.Errorf("%w: unknown inverter", api.ErrParse)

// DeviceAPI is the read-only view of the device the crawler depends on.
type DeviceAPI interface {
	// InverterList returns the roster of inverters.
	InverterList(ctx context.Context) (*models.InverterList, error)
	// Index returns the overview including availability flags.
	Index(ctx context.Context) (*models.Index, error)
	// Live returns the field catalogs.
	Live(ctx context.Context) (*models.Live, error)
	// InverterFields returns one reading per channel, channel 0 first.
	InverterFields(ctx context.Context, inverter models.Inverter) ([]models.Reading, error)
}

// Sink persists the rows of one series. Implementations drain ds and decide
// which rows leave the buffer on failure.
type Sink interface {
	Flush(ctx context.Context, inverterName, seriesID string, ds *series.Dataset) error
	Name() string
}

// ChannelSeries names the series of the channel at the zero-based index.
func ChannelSeries(index int) string {
	return strconv.Itoa(index)
}

// Inverter is the crawl state of one inverter: its identity, the flags
// captured at discovery, the scheduling state and the buffered datasets.
type Inverter struct {
	api    DeviceAPI
	roster models.Inverter
	logger *logrus.Entry

	ID           uint8
	Name         string
	ChannelCount uint8

	Enabled   bool
	Producing bool
	Available bool

	// CrawledAt is the time of the last successful crawl.
	CrawledAt *time.Time
	// NextCrawlAt is nil until the first successful crawl; nil means due.
	NextCrawlAt *time.Time
	// Interval is zero until the first successful crawl fixes it.
	Interval time.Duration

	Summary  *series.Dataset
	Channels []*series.Dataset
}

// Discover reads the identity, flags and field catalogs of inverter id and
// returns an Inverter that is due immediately.
func Discover(ctx context.Context, device DeviceAPI, id uint8) (*Inverter, error) {
	list, err := device.InverterList(ctx)
	if err != nil {
		return nil, err
	}
	roster, ok := findRosterEntry(list, id)
	if !ok {
		return nil, fmt.Errorf("%w: %d not in inverter list", ErrUnknownInverter, id)
	}

	index, err := device.Index(ctx)
	if err != nil {
		return nil, err
	}
	flags, ok := findIndexEntry(index, id)
	if !ok {
		return nil, fmt.Errorf("%w: %d not in index", ErrUnknownInverter, id)
	}

	live, err := device.Live(ctx)
	if err != nil {
		return nil, err
	}
	summaryCatalog, err := series.NewFieldCatalog(live.Ch0FldNames, live.Ch0FldUnits)
	if err != nil {
		return nil, fmt.Errorf("%w: channel 0 catalog: %v", api.ErrParse, err)
	}
	channelCatalog, err := series.NewFieldCatalog(live.FldNames, live.FldUnits)
	if err != nil {
		return nil, fmt.Errorf("%w: channel catalog: %v", api.ErrParse, err)
	}

	channels := make([]*series.Dataset, roster.Channels)
	for i := range channels {
		channels[i] = series.NewDataset(channelCatalog)
	}

	return &Inverter{
		api:    device,
		roster: roster,
		logger: logrus.NewEntry(logrus.StandardLogger()).WithField("inverter", roster.Name),

		ID:           roster.ID,
		Name:         roster.Name,
		ChannelCount: roster.Channels,

		Enabled:   flags.Enabled,
		Producing: flags.IsProducing,
		Available: flags.IsAvail,

		Summary:  series.NewDataset(summaryCatalog),
		Channels: channels,
	}, nil
}

func findRosterEntry(list *models.InverterList, id uint8) (models.Inverter, bool) {
	for _, inv := range list.Inverter {
		if inv.ID == id {
			return inv, true
		}
	}
	return models.Inverter{}, false
}

func findIndexEntry(index *models.Index, id uint8) (models.InverterIndex, bool) {
	for _, inv := range index.Inverter {
		if inv.ID == id {
			return inv, true
		}
	}
	return models.InverterIndex{}, false
}

// IsDue reports whether the inverter should be crawled at now.
func (inv *Inverter) IsDue(now time.Time) bool {
	return inv.NextCrawlAt == nil || !inv.NextCrawlAt.After(now)
}

// Crawl reads one set of values and appends it, stamped with now, to the
// summary and channel datasets.
//
// The first successful crawl fixes the interval to defaultInterval; later
// crawls keep it even if the default changes. If the read fails nothing is
// modified, so the inverter stays due.
func (inv *Inverter) Crawl(ctx context.Context, now time.Time, defaultInterval time.Duration) error {
	readings, err := inv.api.InverterFields(ctx, inv.roster)
	if err != nil {
		return err
	}

	interval := inv.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	next := now.Add(interval)

	inv.Interval = interval
	inv.CrawledAt = &now
	inv.NextCrawlAt = &next

	inv.Summary.InsertRow(readingAt(readings, 0), now)
	for i, ds := range inv.Channels {
		ds.InsertRow(readingAt(readings, i+1), now)
	}
	return nil
}

func readingAt(readings []models.Reading, i int) models.Reading {
	if i < len(readings) {
		return readings[i]
	}
	return nil
}

// Flush drains the summary and every channel dataset into sink. Every series
// is attempted; the first error is returned once all were tried.
func (inv *Inverter) Flush(ctx context.Context, sink Sink) error {
	var firstErr error

	flush := func(seriesID string, ds *series.Dataset) {
		err := sink.Flush(ctx, inv.Name, seriesID, ds)
		if err == nil {
			return
		}
		inv.logger.WithFields(logrus.Fields{
			"series": seriesID,
			"sink":   sink.Name(),
		}).WithError(err).Warn("flush failed")
		if firstErr == nil {
			firstErr = fmt.Errorf("flush %s/%s: %w", inv.Name, seriesID, err)
		}
	}

	flush(SummarySeries, inv.Summary)
	for i, ds := range inv.Channels {
		flush(ChannelSeries(i), ds)
	}
	return firstErr
}

// BufferedRows returns the number of rows waiting in all datasets.
func (inv *Inverter) BufferedRows() int {
	n := inv.Summary.Len()
	for _, ds := range inv.Channels {
		n += ds.Len()
	}
	return n
}

// isTransient reports whether err is worth retrying on the next pass.
func isTransient(err error) bool {
	return errors.Is(err, api.ErrTransport)
}
