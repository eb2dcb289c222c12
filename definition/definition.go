package definition

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/mcuadros/go-defaults"
	"github.com/warriorguo/dagflow/types"
	"github.com/warriorguo/dagflow/utils"
)

// Definition is one DAG read from a file. Only active definitions are
// deployed, a file without "active" is inactive.
type Definition struct {
	Path   string
	Active bool
	DAG    *types.DAG
}

type dagSpec struct {
	Name             string
	Active           bool
	ScheduleInterval string
	Triggers         []*triggerSpec
	Nodes            []*nodeSpec
	Edges            []*edgeSpec
}

type triggerSpec struct {
	Name     string
	Schedule string
	Source   string
	Filter   map[string]any
}

type nodeSpec struct {
	Name           string
	Function       string
	Inputs         map[string]any
	Retry          *types.RetryPolicy
	Timeout        string
	OnFailure      string
	TolerateAbsent bool
	NonIdempotent  bool
	Permissions    []types.Permission
	Invokes        []string
}

// edgeSpec links Source to Destination either on one Slot, or on every
// slot of Adapter with the given binding.
type edgeSpec struct {
	Name        string
	Source      string
	Destination string
	Slot        string
	Adapter     map[string]any
}

// LoadFile reads a .yml, .yaml or .hcl definition.
func LoadFile(path string) (*Definition, error) {
	var parse func([]byte, string) (*Definition, error)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		parse = ParseYAML
	case ".hcl":
		parse = ParseHCL
	default:
		return nil, errors.NotSupportedf("definition file %s", path)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	def, err := parse(b, path)
	if err != nil {
		return nil, err
	}
	def.Path = path
	return def, nil
}

// LoadDir reads every definition file in dir, sorted by file name. DAG
// names must be unique across files.
func LoadDir(dir string) ([]*Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Trace(err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yml", ".yaml", ".hcl":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	defs := make([]*Definition, 0, len(names))
	seen := make(map[string]string, len(names))
	for _, name := range names {
		def, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, errors.Annotatef(err, "load %s", name)
		}
		if prev, exists := seen[def.DAG.Name]; exists {
			return nil, errors.AlreadyExistsf("dag %s in %s and %s", def.DAG.Name, prev, name)
		}
		seen[def.DAG.Name] = name
		defs = append(defs, def)
	}
	return defs, nil
}

// ActiveDAGs returns the DAGs of the active definitions.
func ActiveDAGs(defs []*Definition) []*types.DAG {
	dags := make([]*types.DAG, 0, len(defs))
	for _, def := range defs {
		if def.Active {
			dags = append(dags, def.DAG)
		}
	}
	return dags
}

func (s *dagSpec) build() (*Definition, error) {
	if s.Name == "" {
		return nil, errors.NotValidf("definition without name")
	}
	dag := types.NewDAG(s.Name)

	if s.ScheduleInterval != "" {
		if err := dag.AddTrigger(&types.Trigger{Name: "schedule", Kind: types.TriggerSchedule, Schedule: s.ScheduleInterval}); err != nil {
			return nil, errors.Trace(err)
		}
	}
	for _, t := range s.Triggers {
		trigger := &types.Trigger{Name: t.Name, Schedule: t.Schedule, Source: t.Source, Filter: t.Filter}
		switch {
		case t.Schedule != "" && t.Source != "":
			return nil, errors.NotValidf("dag %s trigger %s with both schedule and source", s.Name, t.Name)
		case t.Schedule != "":
			trigger.Kind = types.TriggerSchedule
		default:
			trigger.Kind = types.TriggerEvent
		}
		if err := dag.AddTrigger(trigger); err != nil {
			return nil, errors.Trace(err)
		}
	}

	sort.Slice(s.Nodes, func(i, j int) bool { return s.Nodes[i].Name < s.Nodes[j].Name })
	for _, n := range s.Nodes {
		node, err := n.build(s.Name)
		if err != nil {
			return nil, err
		}
		if err := dag.AddNode(node); err != nil {
			return nil, errors.Trace(err)
		}
	}

	sort.Slice(s.Edges, func(i, j int) bool { return s.Edges[i].Name < s.Edges[j].Name })
	for _, e := range s.Edges {
		if err := addEdge(dag, e); err != nil {
			return nil, err
		}
	}
	return &Definition{Active: s.Active, DAG: dag}, nil
}

func addEdge(dag *types.DAG, e *edgeSpec) error {
	if e.Slot == "" && len(e.Adapter) == 0 {
		return errors.NotValidf("dag %s edge %s without slot or adapter", dag.Name, e.Name)
	}
	slots := make(map[string]any, len(e.Adapter)+1)
	if e.Slot != "" {
		slots[e.Slot] = nil
	}
	for slot, binding := range e.Adapter {
		slots[slot] = binding
	}

	for _, slot := range utils.SortedKeys(slots) {
		if err := dag.AddEdge(e.Source, e.Destination, slot); err != nil {
			return errors.Trace(err)
		}
		binding := slots[slot]
		if binding == nil {
			continue
		}
		// the binding lives on the consumer, a missing one is reported by the validator
		if dest := dag.Node(e.Destination); dest != nil {
			if dest.Inputs == nil {
				dest.Inputs = make(map[string]any)
			}
			if _, exists := dest.Inputs[slot]; exists {
				return errors.NotValidf("dag %s edge %s: slot %s of %s already has a binding", dag.Name, e.Name, slot, e.Destination)
			}
			dest.Inputs[slot] = binding
		}
	}
	return nil
}

func (n *nodeSpec) build(dagName string) (*types.TaskNode, error) {
	node := &types.TaskNode{
		Name:           n.Name,
		Function:       n.Function,
		Inputs:         n.Inputs,
		TolerateAbsent: n.TolerateAbsent,
		NonIdempotent:  n.NonIdempotent,
		Permissions:    n.Permissions,
		Invokes:        n.Invokes,
	}
	if n.Function == "" {
		return nil, errors.NotValidf("dag %s node %s without function", dagName, n.Name)
	}

	if n.Retry != nil {
		retry := *n.Retry
		defaults.SetDefaults(&retry)
		node.Retry = &retry
	}

	if n.Timeout != "" {
		d, err := time.ParseDuration(n.Timeout)
		if err != nil || d < 0 {
			return nil, errors.NotValidf("dag %s node %s timeout %q", dagName, n.Name, n.Timeout)
		}
		node.Timeout = d
	}

	switch strings.ToLower(n.OnFailure) {
	case "", types.FailurePolicyFatal.String():
		node.OnFailure = types.FailurePolicyFatal
	case types.FailurePolicyContinue.String():
		node.OnFailure = types.FailurePolicyContinue
	default:
		return nil, errors.NotValidf("dag %s node %s on_failure %q", dagName, n.Name, n.OnFailure)
	}
	return node, nil
}
