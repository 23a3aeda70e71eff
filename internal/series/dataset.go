package series

import (
	"errors"
	"strconv"
	"time"
)

// TimestampLayout is the second-precision layout used for every textual
// rendering of a row timestamp.
const TimestampLayout = "2006-01-02 15:04:05"

// ErrStorage marks failures to create, open or write durable output.
var ErrStorage = errors.New("storage error")

// Row is one buffered reading of a series. Values are aligned with the
// catalog of the owning Dataset; a nil entry is an absent value.
type Row struct {
	Timestamp time.Time
	Values    []*float64
}

// Record renders the row as text cells: the timestamp followed by one cell
// per value, absent values as the empty string.
func (r Row) Record() []string {
	record := make([]string, 0, len(r.Values)+1)
	record = append(record, r.Timestamp.Format(TimestampLayout))
	for _, v := range r.Values {
		record = append(record, FormatValue(v))
	}
	return record
}

// FormatValue renders a value with the shortest exact representation.
func FormatValue(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// Dataset buffers the rows of one series until they are drained.
//
// Rows keep their insertion order; callers are responsible for inserting in
// chronological order. A Dataset is not safe for concurrent use.
type Dataset struct {
	catalog FieldCatalog
	rows    []Row
}

// NewDataset creates an empty buffer bound to catalog.
func NewDataset(catalog FieldCatalog) *Dataset {
	return &Dataset{catalog: catalog}
}

// Catalog returns the schema of the dataset.
func (d *Dataset) Catalog() FieldCatalog {
	return d.catalog
}

// Len returns the number of buffered rows.
func (d *Dataset) Len() int {
	return len(d.rows)
}

// Rows returns a copy of the buffered rows in insertion order.
func (d *Dataset) Rows() []Row {
	out := make([]Row, len(d.rows))
	copy(out, d.rows)
	return out
}

// InsertRow appends one row stamped with ts. Every catalog field is looked up
// by name in values; fields missing from values are stored as absent.
func (d *Dataset) InsertRow(values map[string]float64, ts time.Time) {
	row := Row{
		Timestamp: ts,
		Values:    make([]*float64, d.catalog.Len()),
	}
	for i, field := range d.catalog.fields {
		if v, ok := values[field.Name]; ok {
			v := v
			row.Values[i] = &v
		}
	}
	d.rows = append(d.rows, row)
}

// DrainEach hands the buffered rows to write one at a time, in order. A row
// is removed once write returned nil for it. The first error stops the drain
// and is returned; the rows not yet written stay buffered.
func (d *Dataset) DrainEach(write func(Row) error) error {
	written := 0
	defer func() { d.discard(written) }()

	for _, row := range d.rows {
		if err := write(row); err != nil {
			return err
		}
		written++
	}
	return nil
}

// DrainBatch hands every buffered row to write in a single call. The buffer
// is cleared only if write returns nil. Nothing is called for an empty
// buffer.
func (d *Dataset) DrainBatch(write func([]Row) error) error {
	if len(d.rows) == 0 {
		return nil
	}
	if err := write(d.Rows()); err != nil {
		return err
	}
	d.rows = nil
	return nil
}

// discard drops the first n rows. The remaining suffix is copied so the
// backing array of the written rows can be released.
func (d *Dataset) discard(n int) {
	switch {
	case n == 0:
	case n >= len(d.rows):
		d.rows = nil
	default:
		rest := make([]Row, len(d.rows)-n)
		copy(rest, d.rows[n:])
		d.rows = rest
	}
}
