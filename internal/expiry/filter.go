package expiry

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
)

// keyFilter is a compiled CEL expression deciding which expired keys the
// live path handles. Variables: key, channel, now_ms. When disabled every key
// passes.
type keyFilter struct {
	prog    cel.Program
	enabled bool
}

func newKeyFilter(expr string) (keyFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return keyFilter{}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("key", cel.StringType),
		cel.Variable("channel", cel.StringType),
		cel.Variable("now_ms", cel.IntType),
	)
	if err != nil {
		return keyFilter{}, err
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return keyFilter{}, fmt.Errorf("key filter: %w", iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return keyFilter{}, fmt.Errorf("key filter: expression must be bool, got %v", ast.OutputType())
	}
	prog, err := env.Program(ast)
	if err != nil {
		return keyFilter{}, fmt.Errorf("key filter: %w", err)
	}
	return keyFilter{prog: prog, enabled: true}, nil
}

// Match evaluates the filter. Evaluation errors reject the key.
func (f keyFilter) Match(key, channel string, nowMs int64) bool {
	if !f.enabled {
		return true
	}
	out, _, err := f.prog.Eval(map[string]any{
		"key":     key,
		"channel": channel,
		"now_ms":  nowMs,
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}

// ValidateKeyFilter reports whether expr compiles to a boolean filter.
func ValidateKeyFilter(expr string) error {
	_, err := newKeyFilter(expr)
	return err
}
