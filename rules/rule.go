package rules

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/emanuelegissi/flowbuttons/types"
)

// Evaluator defines the interface for evaluating rule expressions.
type Evaluator interface {
	// Compile checks an expression without running it.
	Compile(expression string) error
	// Evaluate runs the expression against env. It must yield a boolean.
	Evaluate(expression string, env map[string]interface{}) (bool, error)
}

// ExprEvaluator is an implementation of Evaluator using expr-lang/expr.
type ExprEvaluator struct {
	cache       map[string]*vm.Program
	mu          sync.RWMutex
	optionsFunc map[string]func(map[string]interface{}) interface{}
	functions   []expr.Option
}

// NewExprEvaluator creates a new ExprEvaluator with an initialized cache and the
// builtin helper functions.
func NewExprEvaluator() *ExprEvaluator {
	return &ExprEvaluator{
		cache:       make(map[string]*vm.Program),
		optionsFunc: make(map[string]func(map[string]interface{}) interface{}),
		functions: []expr.Option{
			expr.Function("empty", func(params ...interface{}) (interface{}, error) {
				return !types.Truthy(params[0]), nil
			}, new(func(interface{}) bool)),
			expr.Function("truthy", func(params ...interface{}) (interface{}, error) {
				return types.Truthy(params[0]), nil
			}, new(func(interface{}) bool)),
			expr.Function("choices", func(params ...interface{}) (interface{}, error) {
				values, err := types.DecodeChoiceList(params[0])
				if err != nil {
					return []string{}, nil
				}
				return values, nil
			}, new(func(interface{}) []string)),
		},
	}
}

// AddOptionFunc registers a value computed from the environment before every evaluation.
func (e *ExprEvaluator) AddOptionFunc(name string, f func(map[string]interface{}) interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.optionsFunc[name] = f
}

func (e *ExprEvaluator) program(expression string) (*vm.Program, error) {
	// Check cache with read lock
	e.mu.RLock()
	program, ok := e.cache[expression]
	e.mu.RUnlock()
	if ok {
		return program, nil
	}

	// Compile with write lock
	e.mu.Lock()
	defer e.mu.Unlock()
	if program, ok = e.cache[expression]; ok {
		return program, nil
	}
	program, err := expr.Compile(expression, e.functions...)
	if err != nil {
		return nil, err
	}
	e.cache[expression] = program
	return program, nil
}

// Compile compiles and caches the expression.
func (e *ExprEvaluator) Compile(expression string) error {
	_, err := e.program(expression)
	return err
}

// Evaluate evaluates the given expression against the provided environment.
// The expression must evaluate to a boolean; otherwise, an error is returned.
// Returns false and an error if compilation, execution, or type assertion fails.
// env is never modified.
func (e *ExprEvaluator) Evaluate(expression string, env map[string]interface{}) (bool, error) {
	program, err := e.program(expression)
	if err != nil {
		return false, err
	}

	e.mu.RLock()
	runEnv := make(map[string]interface{}, len(env)+len(e.optionsFunc))
	for k, v := range env {
		runEnv[k] = v
	}
	for k, f := range e.optionsFunc {
		runEnv[k] = f(env)
	}
	e.mu.RUnlock()

	result, err := expr.Run(program, runEnv)
	if err != nil {
		return false, err
	}

	if boolResult, ok := result.(bool); ok {
		return boolResult, nil
	}
	return false, fmt.Errorf("expression '%s' did not evaluate to a boolean, got %T", expression, result)
}
