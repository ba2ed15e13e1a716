// Package policy evaluates payout attribution rules. The default rule
// reproduces the fixed protocol behavior (only a delay attributable to the
// airline pays out); operators can supply their own CEL expression over the
// resolved status without recompiling the core.
package policy

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/volant-labs/surety/pkg/contracts"
)

// DefaultRule pays out only for delays attributable to the airline.
const DefaultRule = "status == 20"

// Evaluator compiles and caches CEL attribution rules.
type Evaluator struct {
	env   *cel.Env
	mu    sync.RWMutex
	cache map[string]cel.Program
	rule  string
}

// NewEvaluator creates an evaluator for the given rule; an empty rule uses
// DefaultRule.
func NewEvaluator(rule string) (*Evaluator, error) {
	if rule == "" {
		rule = DefaultRule
	}

	env, err := cel.NewEnv(
		cel.Variable("status", cel.IntType),
		cel.Variable("airline", cel.StringType),
		cel.Variable("flight", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("policy: cel environment: %w", err)
	}

	e := &Evaluator{
		env:   env,
		cache: make(map[string]cel.Program),
		rule:  rule,
	}

	// Compile eagerly so a malformed rule fails at construction, not at the
	// first resolution.
	if _, err := e.program(rule); err != nil {
		return nil, err
	}
	return e, nil
}

// Payable reports whether the resolved status triggers crediting for the
// flight.
func (e *Evaluator) Payable(status contracts.StatusCode, airline contracts.Account, flight string) (bool, error) {
	prg, err := e.program(e.rule)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(map[string]interface{}{
		"status":  int64(status),
		"airline": string(airline),
		"flight":  flight,
	})
	if err != nil {
		return false, fmt.Errorf("policy: eval: %w", err)
	}
	payable, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("policy: rule %q did not evaluate to bool", e.rule)
	}
	return payable, nil
}

func (e *Evaluator) program(rule string) (cel.Program, error) {
	e.mu.RLock()
	prg, hit := e.cache[rule]
	e.mu.RUnlock()
	if hit {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, hit = e.cache[rule]; hit {
		return prg, nil
	}

	ast, issues := e.env.Compile(rule)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("policy: compile %q: %w", rule, issues.Err())
	}
	prg, err := e.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("policy: program %q: %w", rule, err)
	}
	e.cache[rule] = prg
	return prg, nil
}
