package compiler

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/juju/errors"
	"github.com/warriorguo/dagflow/functions"
	"github.com/warriorguo/dagflow/graph"
	"github.com/warriorguo/dagflow/resolver"
	"github.com/warriorguo/dagflow/types"
	"github.com/warriorguo/dagflow/utils"
	"go.uber.org/multierr"
)

// EnvVar is the only environment variable a deployed DAG receives.
const EnvVar = "DAGFLOW_ENV"

/**
 * Schema projects platform-neutral units onto one deployment target.
 * Implementations must be pure: no network calls, no clock, no randomness.
 */
type Schema interface {
	Platform() string
	ProjectTrigger(dag *types.DAG, trigger *types.Trigger) (*Event, error)
	Render(units []*Unit) ([]*Artifact, error)
}

// Event is a trigger binding in the target's own vocabulary.
type Event struct {
	Name       string
	Type       string
	Properties map[string]any
}

type PolicyKind string

const (
	// PolicyInvoke allows calling the function of another DAG.
	PolicyInvoke PolicyKind = "invoke"
	// PolicyReadTable allows reading the connections or variables table.
	PolicyReadTable PolicyKind = "read-table"
	// PolicyStatement is a node permission, kept as declared.
	PolicyStatement PolicyKind = "statement"
)

type Policy struct {
	Kind PolicyKind
	// Target is the function or table name for invoke and read-table.
	Target    string
	Actions   []string
	Resources []string
}

func (p *Policy) key() string {
	return string(p.Kind) + "|" + p.Target + "|" + strings.Join(p.Actions, ",") + "|" + strings.Join(p.Resources, ",")
}

// Unit is one deployable function bound to one DAG.
type Unit struct {
	DAG          string
	FunctionName string
	Handler      string
	Timeout      int
	Memory       int
	CodeURI      string
	Environment  map[string]string
	Triggers     []*Event
	Policies     []*Policy
	// References are the registry entries the DAG reads at run time.
	References []resolver.Reference
}

type Artifact struct {
	Path    string
	Content []byte
}

type ArtifactSet struct {
	Platform  string
	Units     []*Unit
	Artifacts []*Artifact
}

// Write stores every artifact under dir.
func (a *ArtifactSet) Write(dir string) error {
	for _, artifact := range a.Artifacts {
		path := filepath.Join(dir, artifact.Path)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return errors.Trace(err)
		}
		if err := os.WriteFile(path, artifact.Content, 0o644); err != nil {
			return errors.Annotatef(err, "write %s", path)
		}
	}
	return nil
}

type Compiler struct {
	opts *types.FlowOptions
}

func New(opts *types.FlowOptions) *Compiler {
	if opts == nil {
		opts = types.NewFlowOptions()
	}
	return &Compiler{opts: opts}
}

// FunctionName is the deployed name of the DAG in the given environment.
func FunctionName(dag, env string) string {
	return fmt.Sprintf("%s-%s", dag, env)
}

// Compile validates the DAG and projects it onto schema.
func (c *Compiler) Compile(dag *types.DAG, schema Schema) (*ArtifactSet, error) {
	return c.CompileProject([]*types.DAG{dag}, schema)
}

// CompileProject renders several DAGs into one artifact set. Every DAG is
// compiled, failures are reported together.
func (c *Compiler) CompileProject(dags []*types.DAG, schema Schema) (*ArtifactSet, error) {
	if schema == nil {
		return nil, errors.BadRequestf("nil schema")
	}

	var errs error
	units := make([]*Unit, 0, len(dags))
	seen := make(map[string]bool, len(dags))
	for _, dag := range dags {
		unit, err := c.Unit(dag, schema)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if seen[unit.DAG] {
			errs = multierr.Append(errs, &types.CompileError{DAG: unit.DAG, Platform: schema.Platform(), Msg: "dag name used twice"})
			continue
		}
		seen[unit.DAG] = true
		units = append(units, unit)
	}
	if errs != nil {
		return nil, errs
	}
	sort.Slice(units, func(i, j int) bool { return units[i].DAG < units[j].DAG })

	artifacts, err := schema.Render(units)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &ArtifactSet{Platform: schema.Platform(), Units: units, Artifacts: artifacts}, nil
}

// Unit builds the platform-neutral deployable unit of one DAG.
func (c *Compiler) Unit(dag *types.DAG, schema Schema) (*Unit, error) {
	if err := graph.Validate(dag); err != nil {
		return nil, err
	}

	refs, err := resolver.References(dag)
	if err != nil {
		return nil, &types.CompileError{DAG: dag.Name, Platform: schema.Platform(), Msg: err.Error()}
	}

	env := c.opts.Environment
	unit := &Unit{
		DAG:          dag.Name,
		FunctionName: FunctionName(dag.Name, env),
		Handler:      dag.Name,
		Timeout:      c.opts.FunctionTimeout,
		Memory:       c.opts.FunctionMemory,
		CodeURI:      c.opts.CodeURI,
		Environment:  map[string]string{EnvVar: env},
		References:   refs,
	}

	for _, t := range dag.Triggers {
		event, err := schema.ProjectTrigger(dag, t)
		if err != nil {
			var ce *types.CompileError
			if errors.As(err, &ce) {
				return nil, ce
			}
			return nil, &types.CompileError{DAG: dag.Name, Platform: schema.Platform(), Trigger: t.Name, Msg: err.Error()}
		}
		unit.Triggers = append(unit.Triggers, event)
	}
	sort.Slice(unit.Triggers, func(i, j int) bool { return unit.Triggers[i].Name < unit.Triggers[j].Name })

	policies, err := c.policies(dag, schema.Platform())
	if err != nil {
		return nil, err
	}
	unit.Policies = policies
	return unit, nil
}

// policies grants exactly what the DAG needs: invoke on the DAGs its nodes
// call, read on both registry tables and the node permissions as declared.
func (c *Compiler) policies(dag *types.DAG, platform string) ([]*Policy, error) {
	policies := []*Policy{
		{Kind: PolicyReadTable, Target: c.opts.ConnectionsTable},
		{Kind: PolicyReadTable, Target: c.opts.VariablesTable},
	}
	for _, name := range dag.NodeNames() {
		node := dag.Node(name)
		targets, err := invokeTargets(node)
		if err != nil {
			return nil, &types.CompileError{DAG: dag.Name, Platform: platform, Node: name, Msg: err.Error()}
		}
		for _, target := range targets {
			if target == "" {
				return nil, &types.CompileError{DAG: dag.Name, Platform: platform, Node: name, Msg: "invoke without a dag name"}
			}
			policies = append(policies, &Policy{Kind: PolicyInvoke, Target: FunctionName(target, c.opts.Environment)})
		}
		for _, perm := range node.Permissions {
			if len(perm.Actions) == 0 || len(perm.Resources) == 0 {
				return nil, &types.CompileError{DAG: dag.Name, Platform: platform, Node: name, Msg: "permission needs actions and resources"}
			}
			policies = append(policies, &Policy{
				Kind:      PolicyStatement,
				Actions:   sortedUnique(perm.Actions),
				Resources: sortedUnique(perm.Resources),
			})
		}
	}

	sort.SliceStable(policies, func(i, j int) bool { return policies[i].key() < policies[j].key() })
	out := make([]*Policy, 0, len(policies))
	for _, p := range policies {
		if len(out) > 0 && out[len(out)-1].key() == p.key() {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// invokeTargets merges the declared Invokes with the literal dag input of a
// dag.invoke node. A bound dag input needs Invokes to name its targets.
func invokeTargets(node *types.TaskNode) ([]string, error) {
	targets := append([]string(nil), node.Invokes...)
	if node.Function != functions.NameInvokeDAG {
		return targets, nil
	}

	raw, exists := node.Inputs[functions.InvokeDAGSlot]
	if exists {
		expr, err := resolver.Parse(raw)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if name, ok := expr.Value.(string); ok && expr.Kind == resolver.ExprLiteral {
			if name == "" {
				return nil, errors.NotValidf("empty %s input", functions.InvokeDAGSlot)
			}
			return append(targets, name), nil
		}
	}
	if len(targets) == 0 {
		return nil, errors.NotValidf("%s target is not a literal and invokes is empty", functions.NameInvokeDAG)
	}
	return targets, nil
}

func sortedUnique(in []string) []string {
	out := utils.UniqueSlice(append([]string(nil), in...))
	sort.Strings(out)
	return out
}
