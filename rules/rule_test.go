package rules

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emanuelegissi/flowbuttons/types"
)

// TestExprEvaluator tests the ExprEvaluator implementation.
func TestExprEvaluator(t *testing.T) {
	// Initialize the evaluator
	evaluator := NewExprEvaluator()

	record := map[string]interface{}{
		"id":    int64(3),
		"Total": int64(25),
		"Error": nil,
		"Tags":  []interface{}{"L", "urgent"},
	}

	// Test cases
	tests := []struct {
		name       string
		expression string
		env        map[string]interface{}
		wantResult bool
		wantErr    bool
		errMsg     string
	}{
		{
			name:       "Valid true expression",
			expression: "record.Total > 18",
			env:        map[string]interface{}{"record": record},
			wantResult: true,
		},
		{
			name:       "Valid false expression",
			expression: "record.Total < 18",
			env:        map[string]interface{}{"record": record},
			wantResult: false,
		},
		{
			name:       "Missing column is nil",
			expression: "record.Missing == nil",
			env:        map[string]interface{}{"record": record},
			wantResult: true,
		},
		{
			name:       "empty helper",
			expression: "empty(record.Error) && !empty(record.Total)",
			env:        map[string]interface{}{"record": record},
			wantResult: true,
		},
		{
			name:       "choices helper",
			expression: "'urgent' in choices(record.Tags)",
			env:        map[string]interface{}{"record": record},
			wantResult: true,
		},
		{
			name:       "Non-boolean result",
			expression: "record.Total + 5",
			env:        map[string]interface{}{"record": record},
			wantResult: false,
			wantErr:    true,
			errMsg:     "expression 'record.Total + 5' did not evaluate to a boolean",
		},
		{
			name:       "Invalid expression",
			expression: "age >>> 18", // Invalid syntax
			env:        map[string]interface{}{"age": 25},
			wantResult: false,
			wantErr:    true,
			errMsg:     "unexpected token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := evaluator.Evaluate(tt.expression, tt.env)
			if tt.wantErr {
				assert.Error(t, err, "Evaluate() should return an error")
				if tt.errMsg != "" {
					assert.Contains(t, err.Error(), tt.errMsg, "Error message should match")
				}
				assert.Equal(t, tt.wantResult, result, "Evaluate() result should match even with error")
			} else {
				assert.NoError(t, err, "Evaluate() should not return an error")
				assert.Equal(t, tt.wantResult, result, "Evaluate() result should match")
			}
		})
	}

	t.Run("Compile reports syntax errors", func(t *testing.T) {
		assert.NoError(t, evaluator.Compile("record.Total > 1"))
		assert.Error(t, evaluator.Compile("record.Total >"))
	})

	// Test caching: Evaluate the same expression against different records
	t.Run("Caching works", func(t *testing.T) {
		expression := "record.Total > 10"

		result1, err1 := evaluator.Evaluate(expression, map[string]interface{}{"record": map[string]interface{}{"Total": 15}})
		assert.NoError(t, err1)
		assert.True(t, result1)

		result2, err2 := evaluator.Evaluate(expression, map[string]interface{}{"record": map[string]interface{}{"Total": 5.5}})
		assert.NoError(t, err2)
		assert.False(t, result2)

		evaluator.mu.RLock()
		_, cached := evaluator.cache[expression]
		evaluator.mu.RUnlock()
		assert.True(t, cached)
	})

	// Test concurrency: Multiple goroutines evaluating expressions
	t.Run("Concurrent evaluation", func(t *testing.T) {
		var wg sync.WaitGroup
		numGoroutines := 100
		expression := "record.Total > 0"
		env := map[string]interface{}{"record": record}

		wg.Add(numGoroutines)
		for i := 0; i < numGoroutines; i++ {
			go func() {
				defer wg.Done()
				result, err := evaluator.Evaluate(expression, env)
				assert.NoError(t, err)
				assert.True(t, result)
			}()
		}
		wg.Wait()
	})

	t.Run("Option funcs see the env without changing it", func(t *testing.T) {
		ev := NewExprEvaluator()
		ev.AddOptionFunc("unselected", func(env map[string]interface{}) interface{} {
			rec, _ := env["record"].(map[string]interface{})
			ids, _ := types.DecodeRowIDs(rec["Unsel"])
			return len(ids)
		})
		env := map[string]interface{}{"record": map[string]interface{}{"Unsel": []interface{}{int64(7), int64(9)}}}

		result, err := ev.Evaluate("unselected == 2", env)
		require.NoError(t, err)
		assert.True(t, result)
		assert.NotContains(t, env, "unselected")
	})
}

func TestNewEnv(t *testing.T) {
	action := types.ActionDef{
		ID:          4,
		Label:       "Approve",
		Processes:   []string{"P1"},
		StartStatus: "Draft",
		EndStatus:   "Approved",
		Extra:       map[string]interface{}{"threshold": int64(10)},
	}
	record := types.Record{"id": int64(1), "Process": "P1", "Status": "Draft", "Error": "bad"}
	mapping := types.ColumnMapping{Process: "Process", Status: "Status", Error: "Error"}

	env := NewEnv(action, record, mapping)
	assert.Equal(t, "P1", env["process"])
	assert.Equal(t, "Draft", env["status"])
	assert.Equal(t, "bad", env["error"])

	act := env["action"].(map[string]interface{})
	assert.Equal(t, "Approve", act["label"])
	assert.Equal(t, int64(10), act["threshold"])

	evaluator := NewExprEvaluator()
	ok, err := evaluator.Evaluate("status == action.start_status && empty(error) == false", env)
	require.NoError(t, err)
	assert.True(t, ok)
}

// BenchmarkEvaluate benchmarks the performance of Evaluate with caching.
func BenchmarkEvaluate(b *testing.B) {
	evaluator := NewExprEvaluator()
	expression := "record.x > 5"
	env := map[string]interface{}{"record": map[string]interface{}{"x": 10}}

	// Reset timer to exclude setup time
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_, _ = evaluator.Evaluate(expression, env)
	}
}
