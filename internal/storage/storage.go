// Package storage implements the sinks buffered inverter series are flushed
// into.
//
// Sinks follow one of two failure contracts:
//   - row-incremental (CSVSink, MQTTSink): each row leaves the buffer once it
//     was written, so after a failure only the unwritten suffix is retried;
//   - all-or-nothing (SQLSink, InfluxSink): the whole buffer is written in
//     one batch and cleared only if the batch succeeded.
//
// A process uses exactly one sink, selected by storage.type.
package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/tejusbharadwaj/ahoycrawler/internal/config"
	"github.com/tejusbharadwaj/ahoycrawler/internal/crawler"
	"github.com/tejusbharadwaj/ahoycrawler/internal/series"
)

// Sink is a crawler.Sink holding resources that must be released on
// shutdown.
type Sink interface {
	crawler.Sink
	io.Closer
}

// New opens the sink selected by cfg.Type.
func New(ctx context.Context, cfg config.StorageConfig, logger *logrus.Logger) (Sink, error) {
	logger.WithField("type", cfg.Type).Info("Opening storage")

	switch cfg.Type {
	case "csv":
		return NewCSVSink(cfg.CSV.Dir), nil
	case "database":
		repo, err := NewSQLRepo(ctx, cfg.Database.Driver, cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		if cfg.Database.MaxConnections > 0 {
			repo.db.SetMaxOpenConns(cfg.Database.MaxConnections)
		}
		return NewSQLSink(repo), nil
	case "influxdb":
		sink, err := ConnectInflux(ctx, cfg.InfluxDB)
		if err != nil {
			return nil, err
		}
		return sink, nil
	case "mqtt":
		sink, err := ConnectMQTT(cfg.MQTT, logger)
		if err != nil {
			return nil, err
		}
		return sink, nil
	default:
		return nil, fmt.Errorf("%w: unknown storage type %q", series.ErrStorage, cfg.Type)
	}
}
