package series

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// DrainToCSV appends the buffered rows to the CSV file at path, creating the
// file and its parent directories when needed.
//
// The header row (timestamp followed by the field names) is written only when
// the file is empty, so restarts never duplicate it. Each row is flushed to
// the file before it leaves the buffer: after a failure the buffer holds
// exactly the rows that were not persisted. An empty buffer still creates the
// file and its header.
func (d *Dataset) DrainToCSV(path string) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("%w: create dir for %s: %v", ErrStorage, path, err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrStorage, path, err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: close %s: %v", ErrStorage, path, cerr)
		}
	}()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("%w: stat %s: %v", ErrStorage, path, err)
	}

	if err := d.drainCSV(file, info.Size()); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrStorage, path, err)
	}
	return nil
}

type truncater interface {
	Truncate(size int64) error
}

var _ truncater = (*os.File)(nil)

// countingWriter tracks the size of the underlying file.
type countingWriter struct {
	w    io.Writer
	size int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.size += int64(n)
	return n, err
}

// drainCSV writes to w, which already holds size bytes; the header is
// written only when size is 0. A record that fails halfway is cut off again
// when w can be truncated, so the file always ends on a complete line.
func (d *Dataset) drainCSV(w io.Writer, size int64) error {
	cw := &countingWriter{w: w, size: size}
	writer := csv.NewWriter(cw)
	committed := size

	write := func(record []string) error {
		err := writer.Write(record)
		if err == nil {
			writer.Flush()
			err = writer.Error()
		}
		if err != nil {
			if t, ok := w.(truncater); ok && cw.size > committed {
				if terr := t.Truncate(committed); terr != nil {
					return fmt.Errorf("%v (truncate: %v)", err, terr)
				}
			}
			return err
		}
		committed = cw.size
		return nil
	}

	if size == 0 {
		if err := write(append([]string{"timestamp"}, d.catalog.Names()...)); err != nil {
			return err
		}
	}

	return d.DrainEach(func(row Row) error {
		return write(row.Record())
	})
}
