package controller

import (
	"fmt"
	"math"
	"strings"

	e "github.com/gartstein/priority/internal/priority/errors"
	"github.com/gartstein/priority/internal/priority/features"
	"github.com/google/cel-go/cel"
)

// DefaultHeuristicFormula rewards old equipment, owner-supplied equipment and
// good relationships. Age contributes at most 90 points.
const DefaultHeuristicFormula = "(equipment_age > 30.0 ? 30.0 : equipment_age) * 3.0" +
	" + is_owner_oem * 15.0 + relationship_rating_numeric * 2.0"

// Heuristic is a compiled CEL scoring formula over the feature columns.
type Heuristic struct {
	expr    string
	columns []string
	prg     cel.Program
}

// NewHeuristic compiles expr, which may reference every feature column as a
// double and must evaluate to a double. A blank expr uses the default.
func NewHeuristic(expr string) (*Heuristic, error) {
	if strings.TrimSpace(expr) == "" {
		expr = DefaultHeuristicFormula
	}
	columns := features.Columns()
	opts := make([]cel.EnvOption, 0, len(columns))
	for _, c := range columns {
		opts = append(opts, cel.Variable(c, cel.DoubleType))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build heuristic environment: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: heuristic formula: %v", e.ErrInvalidInput, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.DoubleType) {
		return nil, fmt.Errorf("%w: heuristic formula yields %s, want double", e.ErrInvalidInput, ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: heuristic program: %v", e.ErrInvalidInput, err)
	}
	return &Heuristic{expr: expr, columns: columns, prg: prg}, nil
}

// Expression returns the formula source.
func (h *Heuristic) Expression() string { return h.expr }

// Score evaluates the formula for every row, clipped to [0,100] and rounded
// to one decimal.
func (h *Heuristic) Score(matrix *features.Matrix) ([]float64, error) {
	out := make([]float64, matrix.Len())
	vars := make(map[string]any, len(h.columns))
	for i := range out {
		for _, c := range h.columns {
			v, ok := matrix.Value(i, c)
			if !ok {
				return nil, fmt.Errorf("%w: missing column %q", e.ErrSchemaMismatch, c)
			}
			vars[c] = v
		}
		val, _, err := h.prg.Eval(vars)
		if err != nil {
			return nil, fmt.Errorf("heuristic evaluation failed on row %d: %w", i, err)
		}
		f, ok := val.Value().(float64)
		if !ok || math.IsNaN(f) {
			f = 0
		}
		out[i] = math.Round(math.Max(0, math.Min(100, f))*10) / 10
	}
	return out, nil
}
