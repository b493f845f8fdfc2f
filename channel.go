package mdf

import (
	"github.com/scigolib/mdf/internal/convert"
)

// Channel is one decoded signal. Exactly one of the typed accessors
// returns data, selected by Kind. Until a conversion is applied the values
// are the raw record values.
type Channel struct {
	Name        string
	Unit        string
	Description string

	// Master marks the group's independent axis (time, angle, distance).
	Master bool
	// MasterType is the v4 sync type: 1 time, 2 angle, 3 distance, 4 index.
	MasterType uint8

	data      convert.Values
	raw       *convert.Values
	conv      *convert.Conversion
	converted bool
}

// ColumnKind tags a channel's element type.
type ColumnKind uint8

// Channel element kinds.
const (
	FloatColumn ColumnKind = iota
	IntColumn
	UintColumn
	StringColumn
	BytesColumn
)

// Kind returns the channel's current element type.
func (c *Channel) Kind() ColumnKind {
	switch c.data.Kind {
	case convert.IntValues:
		return IntColumn
	case convert.UintValues:
		return UintColumn
	case convert.StringValues:
		return StringColumn
	case convert.BytesValues:
		return BytesColumn
	default:
		return FloatColumn
	}
}

// Len returns the sample count.
func (c *Channel) Len() int { return c.data.Len() }

// Floats returns the float column, nil for other kinds.
func (c *Channel) Floats() []float64 { return c.data.Floats }

// Ints returns the signed integer column, nil for other kinds.
func (c *Channel) Ints() []int64 { return c.data.Ints }

// Uints returns the unsigned integer column, nil for other kinds.
func (c *Channel) Uints() []uint64 { return c.data.Uints }

// Strings returns the string column, nil for other kinds.
func (c *Channel) Strings() []string { return c.data.Strings }

// Bytes returns the byte-array column, nil for other kinds.
func (c *Channel) Bytes() [][]byte { return c.data.Raw }

// Sample renders sample i for display.
func (c *Channel) Sample(i int) string { return c.data.FormatSample(i) }

// Converted reports whether the conversion has been applied.
func (c *Channel) Converted() bool { return c.converted }

// HasConversion reports whether the channel carries a non-identity
// conversion rule.
func (c *Channel) HasConversion() bool {
	return c.conv != nil && !c.conv.IsIdentity()
}

// ConversionKind names the channel's conversion rule, "identity" when
// none applies.
func (c *Channel) ConversionKind() string {
	if c.conv == nil {
		return convert.Identity.String()
	}
	return c.conv.Kind.String()
}

// RawFloats returns the pre-conversion values of a converted numeric
// channel, nil when the channel is unconverted.
func (c *Channel) RawFloats() []float64 {
	if c.raw == nil {
		return nil
	}
	return c.raw.AsFloats()
}

// convert applies the channel's conversion in place, keeping the raw
// column for RawFloats. Idempotent; failures leave the raw values intact.
func (c *Channel) convert() error {
	if c.converted || !c.HasConversion() {
		c.converted = true
		return nil
	}
	out, err := convert.Apply(c.conv, c.data)
	if err != nil {
		return err
	}
	raw := c.data
	c.raw = &raw
	c.data = out
	c.converted = true
	return nil
}
