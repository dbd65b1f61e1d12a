package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
)

// Action is an operation on a profile row.
type Action string

const (
	ActionRead   Action = "read"
	ActionInsert Action = "insert"
)

// Subject is the caller: the authenticated user and the role from its own profile ("" when it has none).
type Subject struct {
	ID   string
	Role string
}

// Resource is the profile row being read or inserted. Role is empty for reads.
type Resource struct {
	ID   string
	Role string
}

// defaultRegoPolicy gives every user their own row and admins every row.
// Self-inserts may only claim the user role.
const defaultRegoPolicy = `package mtaji.profiles

default allow_read := false
default allow_insert := false

allow_read if {
	input.subject.id != ""
	input.subject.id == input.resource.id
}

allow_read if {
	input.subject.role == "admin"
}

allow_insert if {
	input.subject.id != ""
	input.subject.id == input.resource.id
	input.resource.role == "user"
}

allow_insert if {
	input.subject.role == "admin"
}
`

// OPAEvaluator decides profile access with Rego policies compiled once at construction.
type OPAEvaluator struct {
	read   rego.PreparedEvalQuery
	insert rego.PreparedEvalQuery
}

// NewOPAEvaluator compiles the default profile policy plus any extra modules, which may add
// allow_read/allow_insert rules to package mtaji.profiles.
func NewOPAEvaluator(ctx context.Context, extra ...string) (*OPAEvaluator, error) {
	modules := map[string]string{"policy_0.rego": defaultRegoPolicy}
	for i, p := range extra {
		modules[fmt.Sprintf("policy_%d.rego", i+1)] = p
	}
	compiler, err := ast.CompileModules(modules)
	if err != nil {
		return nil, fmt.Errorf("compile policies: %w", err)
	}
	read, err := rego.New(
		rego.Query("data.mtaji.profiles.allow_read"),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare read query: %w", err)
	}
	insert, err := rego.New(
		rego.Query("data.mtaji.profiles.allow_insert"),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare insert query: %w", err)
	}
	return &OPAEvaluator{read: read, insert: insert}, nil
}

// Allow reports whether subject may perform action on resource. Any evaluation
// failure denies.
func (e *OPAEvaluator) Allow(ctx context.Context, action Action, subject Subject, resource Resource) (bool, error) {
	var q rego.PreparedEvalQuery
	switch action {
	case ActionRead:
		q = e.read
	case ActionInsert:
		q = e.insert
	default:
		return false, fmt.Errorf("policy: unknown action %q", action)
	}
	input := map[string]interface{}{
		"action": string(action),
		"subject": map[string]interface{}{
			"id":   subject.ID,
			"role": subject.Role,
		},
		"resource": map[string]interface{}{
			"id":   resource.ID,
			"role": resource.Role,
		},
	}
	rs, err := q.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("eval %s policy: %w", action, err)
	}
	return rs.Allowed(), nil
}

// HealthCheck evaluates a fixed self-read decision to verify the engine is usable.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	ok, err := e.Allow(ctx, ActionRead, Subject{ID: "health"}, Resource{ID: "health"})
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("policy: self read denied")
	}
	return nil
}
