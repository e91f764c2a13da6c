package evaluator

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Comparator applies a condition operator to an observed value and a
// threshold. Each operator is compiled once into a CEL program.
type Comparator struct {
	programs map[domain.Operator]cel.Program
}

// NewComparator compiles one program per supported operator.
func NewComparator() (*Comparator, error) {
	env, err := cel.NewEnv(
		cel.Variable("observed", cel.DoubleType),
		cel.Variable("threshold", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	c := &Comparator{programs: make(map[domain.Operator]cel.Program)}
	for _, op := range domain.AllOperators() {
		ast, issues := env.Compile("observed " + string(op) + " threshold")
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("failed to compile operator %s: %w", op, issues.Err())
		}
		if ast.OutputType() != cel.BoolType {
			return nil, fmt.Errorf("operator %s: expression must return bool, got %s", op, ast.OutputType())
		}

		program, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("failed to create program for operator %s: %w", op, err)
		}
		c.programs[op] = program
	}

	return c, nil
}

// Compare evaluates observed <op> threshold.
func (c *Comparator) Compare(op domain.Operator, observed, threshold float64) (bool, error) {
	program, ok := c.programs[op]
	if !ok {
		return false, fmt.Errorf("unsupported operator %q", op)
	}

	out, _, err := program.Eval(map[string]any{
		"observed":  observed,
		"threshold": threshold,
	})
	if err != nil {
		return false, fmt.Errorf("comparison %v %s %v failed: %w", observed, op, threshold, err)
	}

	b, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("comparison returned %s, want bool", out.Type())
	}
	return bool(b), nil
}
