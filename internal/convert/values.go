package convert

import "strconv"

// ValueKind tags the element type of a decoded column.
type ValueKind uint8

// Column element kinds.
const (
	FloatValues ValueKind = iota
	IntValues
	UintValues
	StringValues
	BytesValues
)

// Values is one decoded channel column. Exactly one slice is populated,
// selected by Kind.
type Values struct {
	Kind    ValueKind
	Floats  []float64
	Ints    []int64
	Uints   []uint64
	Strings []string
	Raw     [][]byte
}

// Len returns the number of samples.
func (v Values) Len() int {
	switch v.Kind {
	case FloatValues:
		return len(v.Floats)
	case IntValues:
		return len(v.Ints)
	case UintValues:
		return len(v.Uints)
	case StringValues:
		return len(v.Strings)
	case BytesValues:
		return len(v.Raw)
	}
	return 0
}

// IsNumeric reports whether the column can feed a numeric conversion.
func (v Values) IsNumeric() bool {
	switch v.Kind {
	case FloatValues, IntValues, UintValues:
		return true
	}
	return false
}

// AsFloats returns a fresh float64 copy of a numeric column. Conversions
// never mutate their input, so every numeric formula starts from this copy.
func (v Values) AsFloats() []float64 {
	switch v.Kind {
	case FloatValues:
		out := make([]float64, len(v.Floats))
		copy(out, v.Floats)
		return out
	case IntValues:
		out := make([]float64, len(v.Ints))
		for i, x := range v.Ints {
			out[i] = float64(x)
		}
		return out
	case UintValues:
		out := make([]float64, len(v.Uints))
		for i, x := range v.Uints {
			out[i] = float64(x)
		}
		return out
	}
	return nil
}

// FormatSample renders sample i for display.
func (v Values) FormatSample(i int) string {
	switch v.Kind {
	case FloatValues:
		return strconv.FormatFloat(v.Floats[i], 'g', -1, 64)
	case IntValues:
		return strconv.FormatInt(v.Ints[i], 10)
	case UintValues:
		return strconv.FormatUint(v.Uints[i], 10)
	case StringValues:
		return v.Strings[i]
	case BytesValues:
		return strconv.Quote(string(v.Raw[i]))
	}
	return ""
}
