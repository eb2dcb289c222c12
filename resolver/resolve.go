package resolver

import (
	"context"
	"strconv"

	"github.com/juju/errors"
	"github.com/warriorguo/dagflow/registry"
	"github.com/warriorguo/dagflow/types"
	"github.com/warriorguo/dagflow/utils"
)

// Scope is what bindings of one node invocation may refer to.
type Scope struct {
	Registry registry.Registry
	// Namespace applies to $HOOK and $VARIABLE expressions without one.
	Namespace   string
	Environment string
	DAG         string
	RunID       string
	Trigger     any
	// Sources maps an input slot to the output of the producer bound to it.
	Sources map[string]any
}

// ResolveInputs builds the input of a node. Slots fed only by an edge
// receive the producer output unchanged.
func ResolveInputs(ctx context.Context, node *types.TaskNode, scope *Scope) (types.Data, error) {
	input := make(types.Data, len(node.Inputs)+len(scope.Sources))
	for slot, output := range scope.Sources {
		input[slot] = output
	}

	for _, slot := range utils.SortedKeys(node.Inputs) {
		binding := node.Inputs[slot]
		expr, err := Parse(binding)
		if err != nil {
			return nil, &types.ResolutionError{Expression: rawOf(binding), Node: node.Name, Slot: slot, Reason: "malformed expression", Cause: err}
		}
		value, err := Resolve(ctx, expr, slot, scope)
		if err != nil {
			var re *types.ResolutionError
			if errors.As(err, &re) {
				re.Node, re.Slot = node.Name, slot
				return nil, re
			}
			return nil, &types.ResolutionError{Expression: rawOf(binding), Node: node.Name, Slot: slot, Cause: err}
		}
		input[slot] = value
	}
	return input, nil
}

func rawOf(binding any) string {
	if s, ok := binding.(string); ok {
		return s
	}
	return "<composite>"
}

// Resolve evaluates a parsed expression bound to slot. Failures are
// *types.ResolutionError, a reference never silently resolves to nil.
func Resolve(ctx context.Context, expr *Expression, slot string, scope *Scope) (any, error) {
	switch expr.Kind {
	case ExprLiteral:
		return expr.Value, nil

	case ExprComposite:
		if expr.List != nil {
			out := make([]any, 0, len(expr.List))
			for _, item := range expr.List {
				v, err := Resolve(ctx, item, slot, scope)
				if err != nil {
					return nil, err
				}
				out = append(out, v)
			}
			return out, nil
		}
		out := make(map[string]any, len(expr.Map))
		for _, key := range utils.SortedKeys(expr.Map) {
			v, err := Resolve(ctx, expr.Map[key], slot, scope)
			if err != nil {
				return nil, err
			}
			out[key] = v
		}
		return out, nil

	case ExprConnection:
		if scope.Registry == nil {
			return nil, &types.ResolutionError{Expression: expr.Raw, Reason: "no registry configured"}
		}
		ns := namespaceOf(expr, scope)
		conn, err := scope.Registry.GetConnection(ctx, ns, expr.Key)
		if err != nil {
			return nil, registryError(expr, "connection", ns, err)
		}
		return conn, nil

	case ExprVariable:
		if scope.Registry == nil {
			return nil, &types.ResolutionError{Expression: expr.Raw, Reason: "no registry configured"}
		}
		ns := namespaceOf(expr, scope)
		v, err := scope.Registry.GetVariable(ctx, ns, expr.Key)
		if err != nil {
			return nil, registryError(expr, "variable", ns, err)
		}
		value, err := v.Value()
		if err != nil {
			return nil, &types.ResolutionError{Expression: expr.Raw, Reason: "variable " + ns + "/" + expr.Key + " cannot be decoded", Cause: err}
		}
		return value, nil

	case ExprSource:
		output, ok := scope.Sources[slot]
		if !ok {
			return nil, &types.ResolutionError{Expression: expr.Raw, Reason: "no producer is bound to slot " + slot}
		}
		// a failed non-fatal producer stays absent whatever field is asked for
		if types.IsAbsent(output) {
			return output, nil
		}
		return walkField(expr, output, expr.Field)

	case ExprTrigger:
		return walkField(expr, scope.Trigger, expr.Field)

	case ExprConfig:
		switch expr.Key {
		case "environment":
			return scope.Environment, nil
		case "dag":
			return scope.DAG, nil
		case "run_id":
			return scope.RunID, nil
		}
		return nil, &types.ResolutionError{Expression: expr.Raw, Reason: "unknown config key " + expr.Key}
	}
	return nil, &types.ResolutionError{Expression: expr.Raw, Reason: "unknown expression kind " + expr.Kind.String()}
}

func namespaceOf(expr *Expression, scope *Scope) string {
	if expr.Namespace != "" {
		return expr.Namespace
	}
	return scope.Namespace
}

func registryError(expr *Expression, what, ns string, err error) *types.ResolutionError {
	if errors.Is(err, errors.NotFound) {
		return &types.ResolutionError{Expression: expr.Raw, Reason: what + " " + ns + "/" + expr.Key + " is not defined", Cause: err}
	}
	return &types.ResolutionError{Expression: expr.Raw, Reason: what + " " + ns + "/" + expr.Key + " lookup failed", Cause: err}
}

func walkField(expr *Expression, value any, path utils.Path) (any, error) {
	cur := value
	walked := utils.NewPath()
	for p := path; len(p) > 0; p = p.Next() {
		field, _ := p.First()
		walked = append(walked, field)

		switch v := cur.(type) {
		case map[string]any:
			next, ok := v[field]
			if !ok {
				return nil, &types.ResolutionError{Expression: expr.Raw, Reason: "field " + walked.String() + " not found"}
			}
			cur = next
		case types.Data:
			next, ok := v[field]
			if !ok {
				return nil, &types.ResolutionError{Expression: expr.Raw, Reason: "field " + walked.String() + " not found"}
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(field)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, &types.ResolutionError{Expression: expr.Raw, Reason: "index " + walked.String() + " out of range"}
			}
			cur = v[idx]
		default:
			return nil, &types.ResolutionError{Expression: expr.Raw, Reason: "field " + walked.String() + " of a non-object value"}
		}
	}
	return cur, nil
}
