package utils

import (
	"fmt"
	"strings"

	goeval "github.com/edisonguo/govaluate"
)

// Variables a spectral index expression may reference.
var BandExpressionVars = map[string]struct{}{"b0": struct{}{}, "b1": struct{}{}}

// ParseBandExpression compiles a custom spectral index expression such
// as "(b0 - b1) / (b0 + b1 + 0.5) * 1.5". An empty expression means the
// plain normalised difference and returns nil.
func ParseBandExpression(expression string) (*goeval.EvaluableExpression, error) {
	if len(strings.TrimSpace(expression)) == 0 {
		return nil, nil
	}

	expr, err := goeval.NewEvaluableExpression(expression)
	if err != nil {
		return nil, err
	}

	for _, token := range expr.Tokens() {
		if token.Kind == goeval.VARIABLE {
			varName, ok := token.Value.(string)
			if !ok {
				return nil, fmt.Errorf("variable token '%v' failed to cast string", token.Value)
			}
			if _, found := BandExpressionVars[varName]; !found {
				return nil, fmt.Errorf("variable %v is not supported. Valid variables are b0, b1", varName)
			}
		}
	}
	return expr, nil
}

// EvalBandExpression evaluates a compiled expression for one pixel.
func EvalBandExpression(expr *goeval.EvaluableExpression, b0, b1 float64) (float64, error) {
	res, err := expr.Evaluate(map[string]interface{}{"b0": b0, "b1": b1})
	if err != nil {
		return 0, err
	}
	switch v := res.(type) {
	case float64:
		return v, nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("expression returned non numeric value %v", res)
	}
}
