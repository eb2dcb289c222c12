package definition

import (
	"github.com/juju/errors"
	"github.com/warriorguo/dagflow/types"
	"github.com/warriorguo/dagflow/utils"
	"gopkg.in/yaml.v3"
)

type yamlDAG struct {
	Name             string              `yaml:"name"`
	Active           bool                `yaml:"active"`
	ScheduleInterval string              `yaml:"schedule_interval"`
	Triggers         []yamlTrigger       `yaml:"triggers"`
	Nodes            map[string]yamlNode `yaml:"nodes"`
	Edges            map[string]yamlEdge `yaml:"edges"`
}

type yamlTrigger struct {
	Name     string `yaml:"name"`
	Schedule string `yaml:"schedule"`
	Event    *struct {
		Source string         `yaml:"source"`
		Filter map[string]any `yaml:"filter"`
	} `yaml:"event"`
}

type yamlNode struct {
	Function       string             `yaml:"function"`
	Config         map[string]any     `yaml:"config"`
	Retry          *types.RetryPolicy `yaml:"retry"`
	Timeout        string             `yaml:"timeout"`
	OnFailure      string             `yaml:"on_failure"`
	TolerateAbsent bool               `yaml:"tolerate_absent"`
	NonIdempotent  bool               `yaml:"non_idempotent"`
	Permissions    []yamlPermission   `yaml:"permissions"`
	Invokes        []string           `yaml:"invokes"`
}

type yamlPermission struct {
	Actions   []string `yaml:"actions"`
	Resources []string `yaml:"resources"`
}

type yamlEdge struct {
	Source      string         `yaml:"source"`
	Destination string         `yaml:"destination"`
	Slot        string         `yaml:"slot"`
	Adapter     map[string]any `yaml:"adapter"`
}

/**
 * ParseYAML reads a definition like:
 *
 *	name: etl_daily
 *	active: true
 *	schedule_interval: rate(1 day)
 *	nodes:
 *	  extract:
 *	    function: filesystem.read_data
 *	    config: {hook: $HOOK.lake, path: raw/today.csv}
 *	edges:
 *	  e1: {source: extract, destination: load, slot: rows}
 */
func ParseYAML(b []byte, filename string) (*Definition, error) {
	var doc yamlDAG
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, errors.Annotatef(err, "parse %s", filename)
	}

	decl := &dagSpec{
		Name:             doc.Name,
		Active:           doc.Active,
		ScheduleInterval: doc.ScheduleInterval,
	}
	for _, t := range doc.Triggers {
		ts := &triggerSpec{Name: t.Name, Schedule: t.Schedule}
		if t.Event != nil {
			ts.Source, ts.Filter = t.Event.Source, t.Event.Filter
		}
		decl.Triggers = append(decl.Triggers, ts)
	}
	for _, name := range utils.SortedKeys(doc.Nodes) {
		n := doc.Nodes[name]
		ns := &nodeSpec{
			Name:           name,
			Function:       n.Function,
			Inputs:         n.Config,
			Retry:          n.Retry,
			Timeout:        n.Timeout,
			OnFailure:      n.OnFailure,
			TolerateAbsent: n.TolerateAbsent,
			NonIdempotent:  n.NonIdempotent,
			Invokes:        n.Invokes,
		}
		for _, p := range n.Permissions {
			ns.Permissions = append(ns.Permissions, types.Permission{Actions: p.Actions, Resources: p.Resources})
		}
		decl.Nodes = append(decl.Nodes, ns)
	}
	for _, name := range utils.SortedKeys(doc.Edges) {
		e := doc.Edges[name]
		decl.Edges = append(decl.Edges, &edgeSpec{Name: name, Source: e.Source, Destination: e.Destination, Slot: e.Slot, Adapter: e.Adapter})
	}

	def, err := decl.build()
	if err != nil {
		return nil, errors.Annotatef(err, "%s", filename)
	}
	return def, nil
}
