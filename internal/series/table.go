package series

import "context"

// TableWriter is a relational destination for series rows.
type TableWriter interface {
	// EnsureTable creates table with a timestamp primary key and one float
	// column per field unless it already exists.
	EnsureTable(ctx context.Context, table string, fields []Field) error

	// InsertRows writes rows in a single statement. Either every row is
	// stored or none is.
	InsertRows(ctx context.Context, table string, fields []Field, rows []Row) error
}

// DrainToTable makes sure table exists and inserts every buffered row with a
// single multi-row insert. Unlike DrainToCSV this is all-or-nothing: the
// buffer is cleared only when the whole insert succeeded and is left intact
// otherwise.
func (d *Dataset) DrainToTable(ctx context.Context, w TableWriter, table string) error {
	fields := d.catalog.Fields()
	if err := w.EnsureTable(ctx, table, fields); err != nil {
		return err
	}
	return d.DrainBatch(func(rows []Row) error {
		return w.InsertRows(ctx, table, fields, rows)
	})
}
