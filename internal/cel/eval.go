// Package cel compiles the boolean expressions subscribers pass to filter
// the committed-event stream, e.g. `type == "AccessGranted" && viewer == "0x…"`.
package cel

import (
	"errors"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
)

const (
	// MaxExpressionLength bounds the source text of a filter.
	MaxExpressionLength = 1024
	// maxCost bounds the work one evaluation may do against one event.
	maxCost = 10_000
)

// ErrInvalidExpression wraps every compile failure.
var ErrInvalidExpression = errors.New("invalid CEL expression")

// Env declares the event attributes a filter may reference.
type Env struct {
	env *cel.Env
}

// NewEnv declares each key as a dynamically typed variable.
func NewEnv(keys ...string) (*Env, error) {
	opts := make([]cel.EnvOption, len(keys))
	for i, k := range keys {
		opts[i] = cel.Variable(k, cel.DynType)
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}
	return &Env{env: env}, nil
}

// Filter is a compiled, cost-limited boolean expression.
type Filter struct {
	expr    string
	program cel.Program
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidExpression, fmt.Sprintf(format, args...))
}

// Compile parses and type-checks expr. Its static type must be bool or dyn.
func (e *Env) Compile(expr string) (*Filter, error) {
	if len(expr) > MaxExpressionLength {
		return nil, invalid("longer than %d bytes", MaxExpressionLength)
	}
	ast, iss := e.env.Compile(expr)
	if err := iss.Err(); err != nil {
		return nil, invalid("%v", err)
	}
	switch out := ast.OutputType(); {
	case out.IsExactType(types.BoolType), out.IsExactType(types.DynType):
	default:
		return nil, invalid("expression yields %s, want bool", out)
	}
	prog, err := e.env.Program(ast, cel.CostLimit(maxCost))
	if err != nil {
		return nil, invalid("%v", err)
	}
	return &Filter{expr: expr, program: prog}, nil
}

func (f *Filter) String() string { return f.expr }

// Match reports whether attrs satisfy the filter. Evaluation errors, such
// as a missing attribute or an exceeded cost limit, count as no match.
func (f *Filter) Match(attrs map[string]any) bool {
	out, _, err := f.program.Eval(attrs)
	if err != nil {
		return false
	}
	b, ok := out.(types.Bool)
	return ok && bool(b)
}
