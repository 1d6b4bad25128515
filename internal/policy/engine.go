// Package policy decides whether the assistant may run a tool.
package policy

import (
	"context"

	"github.com/open-policy-agent/opa/rego"
	"github.com/pkg/errors"
)

// Decision is the outcome of a policy evaluation.
type Decision string

const (
	Allow Decision = "allow"
	Block Decision = "block"
)

// Input is the document the policy sees as `input`.
type Input struct {
	ToolName     string                 `json:"tool_name"`
	Args         map[string]interface{} `json:"args,omitempty"`
	SessionID    string                 `json:"session_id,omitempty"`
	BlockedTools []string               `json:"blocked_tools"`
}

// Engine evaluates the tool policy with OPA.
type Engine struct {
	query   rego.PreparedEvalQuery
	blocked []string
}

// NewEngine prepares policyContent. Tools in blocked are passed to every
// evaluation as input.blocked_tools.
func NewEngine(ctx context.Context, policyContent string, blocked []string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.tool_policy.decision"),
		rego.Module("tool_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "prepare rego")
	}
	if blocked == nil {
		blocked = []string{}
	}
	return &Engine{query: query, blocked: blocked}, nil
}

// Evaluate returns the decision for running toolName.
func (e *Engine) Evaluate(ctx context.Context, in Input) (Decision, error) {
	in.BlockedTools = e.blocked
	results, err := e.query.Eval(ctx, rego.EvalInput(in))
	if err != nil {
		return "", errors.Wrap(err, "evaluate policy")
	}
	// the policy carries its own default
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Allow, nil
	}

	s, ok := results[0].Expressions[0].Value.(string)
	if !ok {
		return "", errors.Errorf("policy returned %T, want string", results[0].Expressions[0].Value)
	}
	return Decision(s), nil
}

// DefaultPolicy allows every tool except the configured blocked ones.
const DefaultPolicy = `
package tool_policy

default decision = "allow"

decision = "block" {
	input.blocked_tools[_] == input.tool_name
}
`
