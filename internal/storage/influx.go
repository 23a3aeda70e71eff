package storage

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/tejusbharadwaj/ahoycrawler/internal/config"
	"github.com/tejusbharadwaj/ahoycrawler/internal/series"
)

const influxConnectTimeout = 10 * time.Second

// pointWriter is satisfied by influxdb2's api.WriteAPIBlocking.
type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// InfluxSink writes each series as measurement {series} tagged with the
// inverter name. All rows of a flush go out in one blocking write; the buffer
// is kept if it fails.
type InfluxSink struct {
	writer pointWriter
	client influxdb2.Client
}

// ConnectInflux creates a client and verifies the server answers.
func ConnectInflux(ctx context.Context, cfg config.InfluxDBConfig) (*InfluxSink, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: influxdb url is required", series.ErrStorage)
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	ctx, cancel := context.WithTimeout(ctx, influxConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: influxdb ping failed: %v", series.ErrStorage, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: influxdb not healthy", series.ErrStorage)
	}

	return &InfluxSink{
		writer: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		client: client,
	}, nil
}

func (s *InfluxSink) Name() string { return "influxdb" }

func (s *InfluxSink) Flush(ctx context.Context, inverterName, seriesID string, ds *series.Dataset) error {
	names := ds.Catalog().Names()
	return ds.DrainBatch(func(rows []series.Row) error {
		points := make([]*write.Point, 0, len(rows))
		for _, row := range rows {
			if p := rowPoint(seriesID, inverterName, names, row); p != nil {
				points = append(points, p)
			}
		}
		if len(points) == 0 {
			return nil
		}
		if err := s.writer.WritePoint(ctx, points...); err != nil {
			return fmt.Errorf("%w: influxdb write %s/%s: %v", series.ErrStorage, inverterName, seriesID, err)
		}
		return nil
	})
}

// rowPoint converts row into a point, leaving out absent values. Rows without
// any value yield nil.
func rowPoint(measurement, inverterName string, names []string, row series.Row) *write.Point {
	fields := make(map[string]interface{}, len(names))
	for i, v := range row.Values {
		if v != nil {
			fields[names[i]] = *v
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return influxdb2.NewPoint(measurement, map[string]string{"inverter": inverterName}, fields, row.Timestamp)
}

func (s *InfluxSink) Close() error {
	if s.client != nil {
		s.client.Close()
	}
	return nil
}

var _ Sink = (*InfluxSink)(nil)
