package rules

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// conditionEvaluator compiles and caches rule condition programs.
// Thread-safe for concurrent reads and compilation.
type conditionEvaluator struct {
	env      *cel.Env
	programs map[string]conditionProgram // expression -> compiled program
	mu       sync.RWMutex
}

type conditionProgram struct {
	prog cel.Program
	err  error
}

// NewConditionEnv creates the CEL environment rule conditions are checked against:
// `text` is the text the rule is about to see, `captures` the current capture store.
func NewConditionEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("text", cel.StringType),
		cel.Variable("captures", cel.MapType(cel.StringType, cel.ListType(cel.StringType))),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

func newConditionEvaluator() (*conditionEvaluator, error) {
	env, err := NewConditionEnv()
	if err != nil {
		return nil, err
	}
	return &conditionEvaluator{
		env:      env,
		programs: make(map[string]conditionProgram),
	}, nil
}

// compile returns the cached program for expression, compiling it on first use.
// Compilation failures are cached too.
func (c *conditionEvaluator) compile(expression string) (cel.Program, error) {
	c.mu.RLock()
	cached, ok := c.programs[expression]
	c.mu.RUnlock()
	if ok {
		return cached.prog, cached.err
	}

	prog, err := c.build(expression)

	c.mu.Lock()
	c.programs[expression] = conditionProgram{prog: prog, err: err}
	c.mu.Unlock()

	return prog, err
}

func (c *conditionEvaluator) build(expression string) (cel.Program, error) {
	ast, issues := c.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}

	// Cost limit keeps a condition from dominating a keystroke-driven run
	prog, err := c.env.Program(ast, cel.CostLimit(100000))
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}
	return prog, nil
}

// Evaluate reports whether the condition holds. Non-boolean results count as false.
func (c *conditionEvaluator) Evaluate(expression, text string, captures CaptureStore) (bool, error) {
	prog, err := c.compile(expression)
	if err != nil {
		return false, err
	}

	vars := map[string]any{
		"text":     text,
		"captures": map[string][]string(captures),
	}
	out, _, err := prog.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("evaluation error: %w", err)
	}

	matched, _ := out.Value().(bool)
	return matched, nil
}

// ValidateCondition compiles a condition expression without caching it.
func ValidateCondition(expression string) error {
	if expression == "" {
		return nil
	}
	c, err := newConditionEvaluator()
	if err != nil {
		return err
	}
	_, err = c.build(expression)
	return err
}
