package definition

import (
	"math/big"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/juju/errors"
	"github.com/warriorguo/dagflow/types"
	"github.com/zclconf/go-cty/cty"
)

type hclFile struct {
	DAG hclDAG `hcl:"dag,block"`
}

type hclDAG struct {
	Name             string       `hcl:"name,label"`
	Active           bool         `hcl:"active,optional"`
	ScheduleInterval string       `hcl:"schedule_interval,optional"`
	Triggers         []hclTrigger `hcl:"trigger,block"`
	Nodes            []hclNode    `hcl:"node,block"`
	Edges            []hclEdge    `hcl:"edge,block"`
}

type hclTrigger struct {
	Name     string         `hcl:"name,label"`
	Schedule string         `hcl:"schedule,optional"`
	Source   string         `hcl:"source,optional"`
	Filter   hcl.Expression `hcl:"filter,optional"`
}

type hclNode struct {
	Name           string          `hcl:"name,label"`
	Function       string          `hcl:"function"`
	Inputs         hcl.Expression  `hcl:"inputs,optional"`
	Timeout        string          `hcl:"timeout,optional"`
	OnFailure      string          `hcl:"on_failure,optional"`
	TolerateAbsent bool            `hcl:"tolerate_absent,optional"`
	NonIdempotent  bool            `hcl:"non_idempotent,optional"`
	Invokes        []string        `hcl:"invokes,optional"`
	Retry          *hclRetry       `hcl:"retry,block"`
	Permissions    []hclPermission `hcl:"permission,block"`
}

type hclRetry struct {
	MaxAttempts int     `hcl:"max_attempts,optional"`
	Backoff     string  `hcl:"backoff,optional"`
	MaxBackoff  string  `hcl:"max_backoff,optional"`
	Multiplier  float64 `hcl:"multiplier,optional"`
}

type hclPermission struct {
	Actions   []string `hcl:"actions"`
	Resources []string `hcl:"resources"`
}

type hclEdge struct {
	Name        string         `hcl:"name,label"`
	Source      string         `hcl:"source"`
	Destination string         `hcl:"destination"`
	Slot        string         `hcl:"slot,optional"`
	Adapter     hcl.Expression `hcl:"adapter,optional"`
}

/**
 * ParseHCL reads a definition like:
 *
 *	dag "etl_daily" {
 *	  active = true
 *	  trigger "nightly" { schedule = "0 2 * * *" }
 *	  node "extract" {
 *	    function = "filesystem.read_data"
 *	    inputs   = { hook = "$HOOK.lake", path = "raw/today.csv" }
 *	  }
 *	  edge "e1" { source = "extract", destination = "load", slot = "rows" }
 *	}
 */
func ParseHCL(b []byte, filename string) (*Definition, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(b, filename)
	if diags.HasErrors() {
		return nil, errors.Annotatef(diags, "parse %s", filename)
	}

	var doc hclFile
	if diags := gohcl.DecodeBody(file.Body, nil, &doc); diags.HasErrors() {
		return nil, errors.Annotatef(diags, "decode %s", filename)
	}

	d := doc.DAG
	decl := &dagSpec{Name: d.Name, Active: d.Active, ScheduleInterval: d.ScheduleInterval}
	for _, t := range d.Triggers {
		filter, err := expressionMap(t.Filter)
		if err != nil {
			return nil, errors.Annotatef(err, "%s trigger %s filter", filename, t.Name)
		}
		decl.Triggers = append(decl.Triggers, &triggerSpec{Name: t.Name, Schedule: t.Schedule, Source: t.Source, Filter: filter})
	}
	for _, n := range d.Nodes {
		inputs, err := expressionMap(n.Inputs)
		if err != nil {
			return nil, errors.Annotatef(err, "%s node %s inputs", filename, n.Name)
		}
		ns := &nodeSpec{
			Name:           n.Name,
			Function:       n.Function,
			Inputs:         inputs,
			Timeout:        n.Timeout,
			OnFailure:      n.OnFailure,
			TolerateAbsent: n.TolerateAbsent,
			NonIdempotent:  n.NonIdempotent,
			Invokes:        n.Invokes,
		}
		if n.Retry != nil {
			retry, err := n.Retry.policy()
			if err != nil {
				return nil, errors.Annotatef(err, "%s node %s retry", filename, n.Name)
			}
			ns.Retry = retry
		}
		for _, p := range n.Permissions {
			ns.Permissions = append(ns.Permissions, types.Permission{Actions: p.Actions, Resources: p.Resources})
		}
		decl.Nodes = append(decl.Nodes, ns)
	}
	for _, e := range d.Edges {
		adapter, err := expressionMap(e.Adapter)
		if err != nil {
			return nil, errors.Annotatef(err, "%s edge %s adapter", filename, e.Name)
		}
		decl.Edges = append(decl.Edges, &edgeSpec{Name: e.Name, Source: e.Source, Destination: e.Destination, Slot: e.Slot, Adapter: adapter})
	}

	def, err := decl.build()
	if err != nil {
		return nil, errors.Annotatef(err, "%s", filename)
	}
	return def, nil
}

func (r *hclRetry) policy() (*types.RetryPolicy, error) {
	policy := &types.RetryPolicy{MaxAttempts: r.MaxAttempts, Multiplier: r.Multiplier}
	var err error
	if r.Backoff != "" {
		if policy.Backoff, err = time.ParseDuration(r.Backoff); err != nil {
			return nil, errors.NotValidf("backoff %q", r.Backoff)
		}
	}
	if r.MaxBackoff != "" {
		if policy.MaxBackoff, err = time.ParseDuration(r.MaxBackoff); err != nil {
			return nil, errors.NotValidf("max_backoff %q", r.MaxBackoff)
		}
	}
	return policy, nil
}

// expressionMap evaluates an object attribute without variables or functions.
func expressionMap(expr hcl.Expression) (map[string]any, error) {
	if expr == nil {
		return nil, nil
	}
	v, diags := expr.Value(nil)
	if diags.HasErrors() {
		return nil, diags
	}
	native, err := ctyToNative(v)
	if err != nil {
		return nil, err
	}
	if native == nil {
		return nil, nil
	}
	m, ok := native.(map[string]any)
	if !ok {
		return nil, errors.NotValidf("%s where an object is expected", v.Type().FriendlyName())
	}
	return m, nil
}

// ctyToNative converts a cty value to the plain Go values bindings use.
// Whole numbers become int.
func ctyToNative(v cty.Value) (any, error) {
	if v.IsNull() || !v.IsKnown() {
		return nil, nil
	}
	ty := v.Type()
	switch {
	case ty == cty.String:
		return v.AsString(), nil
	case ty == cty.Bool:
		return v.True(), nil
	case ty == cty.Number:
		bf := v.AsBigFloat()
		if bf.IsInt() {
			if i, acc := bf.Int64(); acc == big.Exact {
				return int(i), nil
			}
		}
		f, _ := bf.Float64()
		return f, nil
	case ty.IsListType() || ty.IsTupleType() || ty.IsSetType():
		out := make([]any, 0, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			_, item := it.Element()
			native, err := ctyToNative(item)
			if err != nil {
				return nil, err
			}
			out = append(out, native)
		}
		return out, nil
	case ty.IsObjectType() || ty.IsMapType():
		out := make(map[string]any, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			key, item := it.Element()
			native, err := ctyToNative(item)
			if err != nil {
				return nil, errors.Annotatef(err, "attribute %s", key.AsString())
			}
			out[key.AsString()] = native
		}
		return out, nil
	}
	return nil, errors.NotSupportedf("value of type %s", ty.FriendlyName())
}
