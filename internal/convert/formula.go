package convert

import (
	"math"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/scigolib/mdf/internal/utils"
)

// formulaEnv is the evaluation environment for algebraic conversions.
// The free variable is conventionally named X; the function set covers
// what measurement tools emit in COMPU_METHOD formulas.
func formulaEnv(x float64) map[string]interface{} {
	return map[string]interface{}{
		"X":     x,
		"pow":   math.Pow,
		"power": math.Pow,
		"sqrt":  math.Sqrt,
		"exp":   math.Exp,
		"log":   math.Log,
		"log10": math.Log10,
		"ln":    math.Log,
		"abs":   math.Abs,
		"sin":   math.Sin,
		"cos":   math.Cos,
		"tan":   math.Tan,
		"asin":  math.Asin,
		"acos":  math.Acos,
		"atan":  math.Atan,
		"floor": math.Floor,
		"ceil":  math.Ceil,
		"PI":    math.Pi,
	}
}

// CompileFormula parses an algebraic formula once; the returned program is
// evaluated per sample. Formula text from the file may carry trailing NUL
// garbage past the expression.
func CompileFormula(formula string) (*vm.Program, error) {
	if i := strings.IndexByte(formula, 0); i >= 0 {
		formula = formula[:i]
	}
	formula = strings.TrimSpace(formula)
	if formula == "" {
		return nil, utils.WrapError("empty formula", utils.ErrMissingFormulaEngine)
	}
	program, err := expr.Compile(formula, expr.Env(formulaEnv(0)))
	if err != nil {
		return nil, utils.WrapError("formula compile failed", utils.ErrMissingFormulaEngine)
	}
	return program, nil
}

func applyFormula(c *Conversion, in Values) (Values, error) {
	program, err := CompileFormula(c.Formula)
	if err != nil {
		return in, err
	}
	out, err := numericInput(c, in)
	if err != nil {
		return in, err
	}
	for i, x := range out {
		res, err := expr.Run(program, formulaEnv(x))
		if err != nil {
			return in, utils.WrapError("formula evaluation failed", utils.ErrMissingFormulaEngine)
		}
		f, ok := toFloat(res)
		if !ok {
			return in, utils.WrapError("formula result is not numeric", utils.ErrMissingFormulaEngine)
		}
		out[i] = f
	}
	return Values{Kind: FloatValues, Floats: out}, nil
}

func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	}
	return 0, false
}
