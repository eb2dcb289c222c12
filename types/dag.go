package types

import (
	"sort"
	"strconv"

	"github.com/juju/errors"
)

type TriggerKind int

const (
	TriggerSchedule TriggerKind = 1
	TriggerEvent    TriggerKind = 2
)

func (k TriggerKind) String() string {
	switch k {
	case TriggerSchedule:
		return "schedule"
	case TriggerEvent:
		return "event"
	}
	return "unknown"
}

type Trigger struct {
	Name string
	Kind TriggerKind

	// Schedule accepts rate(N unit), cron(...), 5-field cron and @descriptors.
	Schedule string

	Source string
	Filter map[string]any
}

// Edge feeds the whole output of Source into Destination's Slot.
type Edge struct {
	Name        string
	Source      string
	Destination string
	Slot        string
}

type DAG struct {
	Name     string
	Nodes    []*TaskNode
	Edges    []*Edge
	Triggers []*Trigger
}

func NewDAG(name string) *DAG {
	return &DAG{Name: name}
}

func (d *DAG) Node(name string) *TaskNode {
	for _, n := range d.Nodes {
		if n.Name == name {
			return n
		}
	}
	return nil
}

func (d *DAG) AddNode(node *TaskNode) error {
	if node == nil || node.Name == "" {
		return errors.BadRequestf("dag %s: node without name", d.Name)
	}
	if d.Node(node.Name) != nil {
		return errors.AlreadyExistsf("dag %s node %s", d.Name, node.Name)
	}
	d.Nodes = append(d.Nodes, node)
	return nil
}

// AddEdge links source to destination's slot. Endpoint existence is
// checked by the validator so that definitions can be built in any order.
func (d *DAG) AddEdge(source, destination, slot string) error {
	if source == "" || destination == "" || slot == "" {
		return errors.BadRequestf("dag %s: edge %s -> %s.%s is incomplete", d.Name, source, destination, slot)
	}
	d.Edges = append(d.Edges, &Edge{
		Name:        source + "->" + destination + "." + slot,
		Source:      source,
		Destination: destination,
		Slot:        slot,
	})
	return nil
}

func (d *DAG) AddTrigger(trigger *Trigger) error {
	if trigger == nil {
		return errors.BadRequestf("dag %s: nil trigger", d.Name)
	}
	if trigger.Name == "" {
		trigger.Name = trigger.Kind.String() + "_" + strconv.Itoa(len(d.Triggers))
	}
	d.Triggers = append(d.Triggers, trigger)
	return nil
}

// Producers returns the inbound edges of the node, sorted by slot.
func (d *DAG) Producers(name string) []*Edge {
	edges := make([]*Edge, 0)
	for _, e := range d.Edges {
		if e.Destination == name {
			edges = append(edges, e)
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Slot != edges[j].Slot {
			return edges[i].Slot < edges[j].Slot
		}
		return edges[i].Source < edges[j].Source
	})
	return edges
}

// Consumers returns the outbound edges of the node, sorted by destination.
func (d *DAG) Consumers(name string) []*Edge {
	edges := make([]*Edge, 0)
	for _, e := range d.Edges {
		if e.Source == name {
			edges = append(edges, e)
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Destination != edges[j].Destination {
			return edges[i].Destination < edges[j].Destination
		}
		return edges[i].Slot < edges[j].Slot
	})
	return edges
}

func (d *DAG) NodeNames() []string {
	names := make([]string, 0, len(d.Nodes))
	for _, n := range d.Nodes {
		names = append(names, n.Name)
	}
	sort.Strings(names)
	return names
}
