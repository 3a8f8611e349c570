package checkers

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/wardenhq/warden/pkg/action"
)

// RuleChecker evaluates operator-configured CEL deny rules over the action.
// A rule that evaluates to true denies the action. Rules see the variables
// `tool`, `domain`, `risk`, and `args`.
type RuleChecker struct {
	env   *cel.Env
	mu    sync.RWMutex
	rules []compiledRule
}

type compiledRule struct {
	name string
	expr string
	prg  cel.Program
}

// NewRuleChecker creates a rule checker with an empty rule set.
func NewRuleChecker() (*RuleChecker, error) {
	env, err := cel.NewEnv(
		cel.Variable("tool", cel.StringType),
		cel.Variable("domain", cel.StringType),
		cel.Variable("risk", cel.StringType),
		cel.Variable("args", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return &RuleChecker{env: env}, nil
}

// AddRule compiles a deny rule once and caches the program.
func (c *RuleChecker) AddRule(name, expr string) error {
	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("compile rule %s: %w", name, issues.Err())
	}
	prg, err := c.env.Program(ast)
	if err != nil {
		return fmt.Errorf("program rule %s: %w", name, err)
	}
	c.mu.Lock()
	c.rules = append(c.rules, compiledRule{name: name, expr: expr, prg: prg})
	c.mu.Unlock()
	return nil
}

func (c *RuleChecker) Name() string { return "rules" }

// Check evaluates every rule; the first rule matching the action denies it.
// Evaluation errors fail closed: a rule that cannot be evaluated denies.
func (c *RuleChecker) Check(_ context.Context, act *action.Action) Result {
	c.mu.RLock()
	rules := c.rules
	c.mu.RUnlock()

	input := map[string]interface{}{
		"tool":   act.Tool,
		"domain": act.Domain,
		"risk":   string(act.Risk),
		"args":   mapOrEmpty(act.Args),
	}
	for _, r := range rules {
		out, _, err := r.prg.Eval(input)
		if err != nil {
			return deny(fmt.Sprintf("rules: %s evaluation error: %v", r.name, err))
		}
		if matched, ok := out.Value().(bool); ok && matched {
			return deny(fmt.Sprintf("rules: denied by %s", r.name))
		}
	}
	return allow()
}

func mapOrEmpty(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}
