// Package convert implements the physical conversion engine: the mapping
// from raw decoded channel values to physical-unit values.
package convert

// Kind enumerates the conversion formula variants of both dialects.
// v3 type codes and v4 type codes are normalized onto this one set
// by the block parser.
type Kind uint8

// Conversion kinds.
const (
	Identity Kind = iota
	Linear
	Rational
	Polynomial
	Exponential
	Logarithmic
	TableInterp  // value-to-value with interpolation
	Table        // value-to-value without interpolation
	RangeToValue // (min,max,value) triples
	ValueToText
	RangeToText
	TextToValue
	TextToText
	Algebraic
)

func (k Kind) String() string {
	switch k {
	case Identity:
		return "identity"
	case Linear:
		return "linear"
	case Rational:
		return "rational"
	case Polynomial:
		return "polynomial"
	case Exponential:
		return "exponential"
	case Logarithmic:
		return "logarithmic"
	case TableInterp:
		return "table-interp"
	case Table:
		return "table"
	case RangeToValue:
		return "range-to-value"
	case ValueToText:
		return "value-to-text"
	case RangeToText:
		return "range-to-text"
	case TextToValue:
		return "text-to-value"
	case TextToText:
		return "text-to-text"
	case Algebraic:
		return "algebraic"
	}
	return "unknown"
}

// Conversion is a tagged variant: Kind selects the formula and only the
// fields that formula needs are populated.
type Conversion struct {
	Kind Kind
	Unit string

	// Closed-form parameters P1..Pn for Linear, Rational, Polynomial,
	// Exponential and Logarithmic.
	Params []float64

	// Breakpoint tables for TableInterp, Table, ValueToText and
	// TextToValue (Values holds the numeric side).
	Keys   []float64
	Values []float64

	// Range tables for RangeToValue and RangeToText.
	KeyMin []float64
	KeyMax []float64
	// InclusiveRanges selects closed-interval matching (range-to-text);
	// range-to-value uses open intervals.
	InclusiveRanges bool

	// Text sides of the text conversions. For ValueToText and RangeToText
	// these are outputs; for TextToValue and TextToText, TextKeys are the
	// inputs and Texts the TextToText outputs.
	Texts    []string
	TextKeys []string

	// Declared fallbacks for table misses.
	DefaultFloat    float64
	HasDefaultFloat bool
	DefaultText     string

	// NestedDefault, when set, scales unmatched samples of a text
	// conversion instead of DefaultText (the default reference may be a
	// nested numeric conversion rather than plain text).
	NestedDefault *Conversion

	// Algebraic formula with free variable X.
	Formula string
}

// IsIdentity reports whether applying c is a no-op. A linear conversion
// with factor 1 and offset 0 keeps the raw values (and their integer type).
func (c *Conversion) IsIdentity() bool {
	if c == nil || c.Kind == Identity {
		return true
	}
	if c.Kind == Linear && len(c.Params) >= 2 && c.Params[0] == 0 && c.Params[1] == 1 {
		return true
	}
	return false
}
