package convert

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/interp"

	"github.com/scigolib/mdf/internal/utils"
)

// Apply maps a raw column to physical values per the conversion variant.
// It is a pure function: the input column is never mutated. On error the
// caller keeps the raw column; a conversion failure is scoped to one
// channel and never aborts the file.
func Apply(c *Conversion, in Values) (Values, error) {
	if c.IsIdentity() {
		return in, nil
	}

	switch c.Kind {
	case Linear:
		return applyClosedForm(c, in, 2, func(x float64, p []float64) float64 {
			return x*p[1] + p[0]
		})
	case Rational:
		return applyClosedForm(c, in, 6, func(x float64, p []float64) float64 {
			return (p[0]*x*x + p[1]*x + p[2]) / (p[3]*x*x + p[4]*x + p[5])
		})
	case Polynomial:
		return applyClosedForm(c, in, 6, func(x float64, p []float64) float64 {
			xc := x - p[4] - p[5]
			return (p[1] - p[3]*xc) / (p[2]*xc - p[0])
		})
	case Exponential:
		return applyExpLog(c, in, math.Exp)
	case Logarithmic:
		return applyExpLog(c, in, math.Log)
	case TableInterp:
		return applyTableInterp(c, in)
	case Table:
		return applyTableNearest(c, in)
	case RangeToValue:
		return applyRangeToValue(c, in)
	case ValueToText:
		return applyValueToText(c, in)
	case RangeToText:
		return applyRangeToText(c, in)
	case TextToValue:
		return applyTextToValue(c, in)
	case TextToText:
		return applyTextToText(c, in)
	case Algebraic:
		return applyFormula(c, in)
	}
	return in, utils.WrapError(
		fmt.Sprintf("conversion kind %d", c.Kind), utils.ErrInvalidConversionParameters)
}

func numericInput(c *Conversion, in Values) ([]float64, error) {
	if !in.IsNumeric() {
		return nil, utils.WrapError(
			fmt.Sprintf("%s conversion on non-numeric column", c.Kind),
			utils.ErrInvalidConversionParameters)
	}
	return in.AsFloats(), nil
}

func applyClosedForm(c *Conversion, in Values, nParams int, f func(float64, []float64) float64) (Values, error) {
	if len(c.Params) < nParams {
		return in, utils.WrapError(
			fmt.Sprintf("%s conversion needs %d parameters, has %d", c.Kind, nParams, len(c.Params)),
			utils.ErrInvalidConversionParameters)
	}
	out, err := numericInput(c, in)
	if err != nil {
		return in, err
	}
	for i, x := range out {
		out[i] = f(x, c.Params)
	}
	return Values{Kind: FloatValues, Floats: out}, nil
}

// applyExpLog handles the 7-parameter exponential and logarithmic forms.
// Two mutually exclusive parameter regimes exist; parameters matching
// neither leave the channel raw.
func applyExpLog(c *Conversion, in Values, f func(float64) float64) (Values, error) {
	if len(c.Params) < 7 {
		return in, utils.WrapError(
			fmt.Sprintf("%s conversion needs 7 parameters, has %d", c.Kind, len(c.Params)),
			utils.ErrInvalidConversionParameters)
	}
	p := c.Params
	out, err := numericInput(c, in)
	if err != nil {
		return in, err
	}
	switch {
	case p[3] == 0 && p[0] != 0 && p[1] != 0:
		for i, x := range out {
			out[i] = f(((x-p[6])*p[5]-p[2])/p[0]) / p[1]
		}
	case p[0] == 0 && p[3] != 0 && p[4] != 0:
		for i, x := range out {
			out[i] = f((p[2]/(x-p[6])-p[5])/p[3]) / p[4]
		}
	default:
		return in, utils.WrapError(
			fmt.Sprintf("%s conversion parameters match no regime", c.Kind),
			utils.ErrInvalidConversionParameters)
	}
	return Values{Kind: FloatValues, Floats: out}, nil
}

func applyTableInterp(c *Conversion, in Values) (Values, error) {
	if len(c.Keys) != len(c.Values) || len(c.Keys) < 2 {
		return in, utils.WrapError("interpolation table malformed", utils.ErrNonMonotonicTable)
	}
	var pl interp.PiecewiseLinear
	if err := pl.Fit(c.Keys, c.Values); err != nil {
		// Fit rejects tables that are not strictly increasing.
		return in, utils.WrapError("interpolation table", utils.ErrNonMonotonicTable)
	}
	out, err := numericInput(c, in)
	if err != nil {
		return in, err
	}
	lo, hi := c.Keys[0], c.Keys[len(c.Keys)-1]
	for i, x := range out {
		// Outside the table the physical value clamps to the endpoints.
		if x < lo {
			x = lo
		} else if x > hi {
			x = hi
		}
		out[i] = pl.Predict(x)
	}
	return Values{Kind: FloatValues, Floats: out}, nil
}

func applyTableNearest(c *Conversion, in Values) (Values, error) {
	if len(c.Keys) != len(c.Values) || len(c.Keys) == 0 {
		return in, utils.WrapError("lookup table malformed", utils.ErrNonMonotonicTable)
	}
	if !strictlyIncreasing(c.Keys) {
		return in, utils.WrapError("lookup table", utils.ErrNonMonotonicTable)
	}
	out, err := numericInput(c, in)
	if err != nil {
		return in, err
	}
	for i, x := range out {
		out[i] = c.Values[nearestIndex(c.Keys, x)]
	}
	return Values{Kind: FloatValues, Floats: out}, nil
}

func strictlyIncreasing(keys []float64) bool {
	for i := 1; i < len(keys); i++ {
		if keys[i] <= keys[i-1] {
			return false
		}
	}
	return true
}

// nearestIndex snaps x to the closest breakpoint; ties go to the lower key.
func nearestIndex(keys []float64, x float64) int {
	i := sort.SearchFloat64s(keys, x)
	if i == 0 {
		return 0
	}
	if i == len(keys) {
		return len(keys) - 1
	}
	if x-keys[i-1] <= keys[i]-x {
		return i - 1
	}
	return i
}

// applyRangeToValue scans the (min,max,value) triples in declared order and
// takes the first open-interval match; non-matching samples fall back to the
// declared default. The linear scan order is part of the contract for
// overlapping ranges.
func applyRangeToValue(c *Conversion, in Values) (Values, error) {
	if len(c.KeyMin) != len(c.KeyMax) || len(c.KeyMin) != len(c.Values) {
		return in, utils.WrapError("range table malformed", utils.ErrInvalidConversionParameters)
	}
	out, err := numericInput(c, in)
	if err != nil {
		return in, err
	}
	for i, x := range out {
		out[i] = c.DefaultFloat
		for j := range c.KeyMin {
			if rangeContains(c, j, x) {
				out[i] = c.Values[j]
				break
			}
		}
	}
	return Values{Kind: FloatValues, Floats: out}, nil
}

func rangeContains(c *Conversion, j int, x float64) bool {
	if c.InclusiveRanges {
		return c.KeyMin[j] <= x && x <= c.KeyMax[j]
	}
	return c.KeyMin[j] < x && x < c.KeyMax[j]
}

func applyValueToText(c *Conversion, in Values) (Values, error) {
	if len(c.Keys) != len(c.Texts) {
		return in, utils.WrapError("value-to-text table malformed", utils.ErrInvalidConversionParameters)
	}
	xs, err := numericInput(c, in)
	if err != nil {
		return in, err
	}
	out := make([]string, len(xs))
	for i, x := range xs {
		// Raw values usually arrive in runs; reuse the previous lookup.
		if i > 0 && x == xs[i-1] {
			out[i] = out[i-1]
			continue
		}
		out[i] = defaultText(c, x)
		for j, key := range c.Keys {
			if x == key {
				out[i] = c.Texts[j]
				break
			}
		}
	}
	return Values{Kind: StringValues, Strings: out}, nil
}

// defaultText resolves the fallback for one unmatched sample. A nested
// numeric conversion as default scales the raw value and renders it.
func defaultText(c *Conversion, x float64) string {
	if c.NestedDefault == nil {
		return c.DefaultText
	}
	scaled, err := Apply(c.NestedDefault, Values{Kind: FloatValues, Floats: []float64{x}})
	if err != nil || scaled.Len() != 1 {
		return c.DefaultText
	}
	return scaled.FormatSample(0)
}

func applyRangeToText(c *Conversion, in Values) (Values, error) {
	if len(c.KeyMin) != len(c.KeyMax) || len(c.KeyMin) != len(c.Texts) {
		return in, utils.WrapError("range-to-text table malformed", utils.ErrInvalidConversionParameters)
	}
	xs, err := numericInput(c, in)
	if err != nil {
		return in, err
	}
	out := make([]string, len(xs))
	for i, x := range xs {
		out[i] = defaultText(c, x)
		for j := range c.KeyMin {
			if rangeContains(c, j, x) {
				out[i] = c.Texts[j]
				break
			}
		}
	}
	return Values{Kind: StringValues, Strings: out}, nil
}

func applyTextToValue(c *Conversion, in Values) (Values, error) {
	if in.Kind != StringValues {
		return in, utils.WrapError("text-to-value on non-string column", utils.ErrInvalidConversionParameters)
	}
	if len(c.TextKeys) != len(c.Values) {
		return in, utils.WrapError("text-to-value table malformed", utils.ErrInvalidConversionParameters)
	}
	out := make([]float64, len(in.Strings))
	for i, s := range in.Strings {
		out[i] = c.DefaultFloat
		for j, key := range c.TextKeys {
			if s == key {
				out[i] = c.Values[j]
				break
			}
		}
	}
	return Values{Kind: FloatValues, Floats: out}, nil
}

func applyTextToText(c *Conversion, in Values) (Values, error) {
	if in.Kind != StringValues {
		return in, utils.WrapError("text-to-text on non-string column", utils.ErrInvalidConversionParameters)
	}
	if len(c.TextKeys) != len(c.Texts) {
		return in, utils.WrapError("text-to-text table malformed", utils.ErrInvalidConversionParameters)
	}
	out := make([]string, len(in.Strings))
	for i, s := range in.Strings {
		out[i] = c.DefaultText
		for j, key := range c.TextKeys {
			if s == key {
				out[i] = c.Texts[j]
				break
			}
		}
	}
	return Values{Kind: StringValues, Strings: out}, nil
}
