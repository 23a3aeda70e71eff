// Package scheduler drives the crawler: it runs passes over all due
// inverters, flushes buffered rows every few passes and sleeps until the next
// inverter is due.
package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tejusbharadwaj/ahoycrawler/internal/crawler"
	"github.com/tejusbharadwaj/ahoycrawler/internal/metrics"
)

// DefaultFlushEvery is the number of passes between two flushes.
const DefaultFlushEvery = 5

const finalFlushTimeout = 30 * time.Second

// Poller is the part of *crawler.Crawler the scheduler drives.
type Poller interface {
	Init(ctx context.Context) error
	CrawlAllDue(ctx context.Context, now time.Time, shouldFlush bool, sink crawler.Sink) (time.Time, bool, error)
	NextDueAfter(now time.Time) (time.Time, bool)
	Flush(ctx context.Context, sink crawler.Sink) error
	DefaultInterval() time.Duration
}

// StatusReporter receives the outcome of every pass.
type StatusReporter interface {
	ReportPass(err error)
}

var _ Poller = (*crawler.Crawler)(nil)

type Scheduler struct {
	poller     Poller
	sink       crawler.Sink
	logger     *logrus.Logger
	metrics    *metrics.Collector
	reporter   StatusReporter
	flushEvery int

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Scheduler
type Option func(*Scheduler)

func WithMetrics(m *metrics.Collector) Option {
	return func(s *Scheduler) { s.metrics = m }
}

func WithStatusReporter(r StatusReporter) Option {
	return func(s *Scheduler) { s.reporter = r }
}

// WithFlushEvery sets how many passes run between flushes. Values below 1
// are ignored.
func WithFlushEvery(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.flushEvery = n
		}
	}
}

// WithClock replaces the time source and the sleep function.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Scheduler) {
		s.now = now
		s.sleep = sleep
	}
}

func NewScheduler(poller Poller, sink crawler.Sink, logger *logrus.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		poller:     poller,
		sink:       sink,
		logger:     logger,
		flushEvery: DefaultFlushEvery,
		now:        time.Now,
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run discovers the inverters, retrying until the device answers, then runs
// passes until ctx is done. Buffered rows are flushed one last time before
// Run returns ctx's error.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.init(ctx); err != nil {
		return err
	}

	for pass := 1; ; pass++ {
		s.runPass(ctx, pass)

		// Inverters left due by a failed crawl are retried on the next wake-up.
		wait := s.poller.DefaultInterval()
		now := s.now()
		if next, ok := s.poller.NextDueAfter(now); ok {
			wait = next.Sub(now)
		}

		s.logger.WithField("sleep", wait.String()).Debug("waiting for next pass")
		if err := s.sleep(ctx, wait); err != nil {
			s.finalFlush(ctx)
			return err
		}
	}
}

func (s *Scheduler) init(ctx context.Context) error {
	for {
		err := s.poller.Init(ctx)
		if err == nil {
			return nil
		}
		s.report(err)
		s.logger.WithError(err).Warn("Failed to discover inverters, retrying")
		if err := s.sleep(ctx, s.poller.DefaultInterval()); err != nil {
			return err
		}
	}
}

func (s *Scheduler) runPass(ctx context.Context, pass int) {
	shouldFlush := pass%s.flushEvery == 0
	logger := s.logger.WithFields(logrus.Fields{
		"pass":    pass,
		"pass_id": uuid.New().String(),
		"flush":   shouldFlush,
	})

	start := s.now()
	next, ok, err := s.poller.CrawlAllDue(ctx, start, shouldFlush, s.sink)
	if ok {
		logger = logger.WithField("earliest_due", next.Format(time.RFC3339))
	}
	s.metrics.PassCompleted()
	s.report(err)

	if err != nil {
		logger.WithError(err).Warn("pass finished with errors")
	} else {
		logger.WithField("took", s.now().Sub(start).String()).Debug("pass finished")
	}
}

func (s *Scheduler) finalFlush(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalFlushTimeout)
	defer cancel()

	if err := s.poller.Flush(ctx, s.sink); err != nil {
		s.logger.WithError(err).Error("Final flush incomplete, rows lost")
		return
	}
	s.logger.Info("Final flush done")
}

func (s *Scheduler) report(err error) {
	if s.reporter != nil {
		s.reporter.ReportPass(err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
