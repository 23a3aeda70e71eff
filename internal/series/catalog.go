// Package series implements the in-memory time series buffers of the crawler.
//
// A Dataset holds the rows of one series (the summary channel of an inverter
// or one of its physical channels) until they are drained into a sink. Two
// drain disciplines are offered and each sink picks one:
//   - DrainEach: row-incremental. A row leaves the buffer only after it was
//     written. A failure keeps exactly the unwritten suffix buffered.
//   - DrainBatch: all-or-nothing. The buffer is cleared only when the whole
//     batch was accepted.
package series

import (
	"errors"
	"fmt"
)

// ErrInvalidCatalog is returned when field names and units do not describe a
// valid catalog.
var ErrInvalidCatalog = errors.New("invalid field catalog")

// Field is one named, unit-tagged column of a series.
type Field struct {
	Name string `json:"name"`
	Unit string `json:"unit"`
}

// FieldCatalog is the ordered, immutable schema of a series. The order of the
// fields defines the column order on output.
type FieldCatalog struct {
	fields []Field
	index  map[string]int
}

// NewFieldCatalog pairs names with units positionally.
func NewFieldCatalog(names, units []string) (FieldCatalog, error) {
	if len(names) != len(units) {
		return FieldCatalog{}, fmt.Errorf("%w: %d names but %d units", ErrInvalidCatalog, len(names), len(units))
	}

	c := FieldCatalog{
		fields: make([]Field, 0, len(names)),
		index:  make(map[string]int, len(names)),
	}
	for i, name := range names {
		if _, dup := c.index[name]; dup {
			return FieldCatalog{}, fmt.Errorf("%w: duplicate field %q", ErrInvalidCatalog, name)
		}
		c.index[name] = i
		c.fields = append(c.fields, Field{Name: name, Unit: units[i]})
	}
	return c, nil
}

// Len returns the number of fields.
func (c FieldCatalog) Len() int {
	return len(c.fields)
}

// Fields returns a copy of the fields in catalog order.
func (c FieldCatalog) Fields() []Field {
	out := make([]Field, len(c.fields))
	copy(out, c.fields)
	return out
}

// Names returns the field names in catalog order.
func (c FieldCatalog) Names() []string {
	out := make([]string, len(c.fields))
	for i, f := range c.fields {
		out[i] = f.Name
	}
	return out
}

// Position returns the column of the named field.
func (c FieldCatalog) Position(name string) (int, bool) {
	i, ok := c.index[name]
	return i, ok
}
