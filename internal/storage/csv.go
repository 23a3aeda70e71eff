package storage

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/tejusbharadwaj/ahoycrawler/internal/series"
)

// CSVSink appends every series to {dir}/{inverter}/{series}.csv.
// Rows are written and removed from the buffer one at a time.
type CSVSink struct {
	dir string
}

func NewCSVSink(dir string) *CSVSink {
	return &CSVSink{dir: dir}
}

func (s *CSVSink) Name() string { return "csv" }

// Path returns the file a series is written to. Names reported by the device
// are reduced to a single path element below dir.
func (s *CSVSink) Path(inverterName, seriesID string) string {
	return filepath.Join(s.dir, pathElement(inverterName), pathElement(seriesID)+".csv")
}

// pathElement replaces separators and NUL in name with '_' and maps the
// names "", "." and ".." to underscores.
func pathElement(name string) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		}
		return r
	}, name)
	switch name {
	case "", ".", "..":
		return strings.Repeat("_", max(len(name), 1))
	}
	return name
}

func (s *CSVSink) Flush(_ context.Context, inverterName, seriesID string, ds *series.Dataset) error {
	return ds.DrainToCSV(s.Path(inverterName, seriesID))
}

func (s *CSVSink) Close() error { return nil }

var _ Sink = (*CSVSink)(nil)
