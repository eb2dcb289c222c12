package graph

import (
	"fmt"
	"strings"

	"github.com/warriorguo/dagflow/resolver"
	"github.com/warriorguo/dagflow/types"
	"github.com/warriorguo/dagflow/utils"
)

// Validate runs the structural checks in a fixed order and reports the first
// failure as a *types.ValidationError. It never touches the registry.
func Validate(dag *types.DAG) error {
	if dag == nil {
		return &types.ValidationError{Kind: types.KindUnknownNode, Msg: "nil dag"}
	}
	checks := []func(*types.DAG) error{
		checkNodes,
		checkEdges,
		checkSlots,
		checkAcyclic,
		checkReachable,
		checkTriggers,
	}
	for _, check := range checks {
		if err := check(dag); err != nil {
			return err
		}
	}
	return nil
}

func checkNodes(dag *types.DAG) error {
	seen := make(map[string]bool, len(dag.Nodes))
	for _, n := range dag.Nodes {
		if n == nil || n.Name == "" {
			return &types.ValidationError{Kind: types.KindDuplicateNode, DAG: dag.Name, Msg: "node without name"}
		}
		if seen[n.Name] {
			return &types.ValidationError{Kind: types.KindDuplicateNode, DAG: dag.Name, Node: n.Name, Msg: "node name used twice"}
		}
		seen[n.Name] = true
		if n.Function == "" && n.Transform == nil {
			return &types.ValidationError{Kind: types.KindBinding, DAG: dag.Name, Node: n.Name, Msg: "node has neither function nor transform"}
		}
	}
	return nil
}

func checkEdges(dag *types.DAG) error {
	for _, e := range dag.Edges {
		if dag.Node(e.Source) == nil {
			return &types.ValidationError{Kind: types.KindUnknownNode, DAG: dag.Name, Edge: e.Name, Node: e.Source, Msg: "edge source does not exist"}
		}
		if dag.Node(e.Destination) == nil {
			return &types.ValidationError{Kind: types.KindUnknownNode, DAG: dag.Name, Edge: e.Name, Node: e.Destination, Msg: "edge destination does not exist"}
		}
	}
	return nil
}

func checkSlots(dag *types.DAG) error {
	bound := make(map[string]*types.Edge)
	for _, e := range dag.Edges {
		key := e.Destination + "." + e.Slot
		if prev, ok := bound[key]; ok {
			return &types.ValidationError{
				Kind: types.KindSlotConflict, DAG: dag.Name, Node: e.Destination, Edge: e.Name,
				Msg: fmt.Sprintf("slot %s already bound by %s", e.Slot, prev.Name),
			}
		}
		bound[key] = e
	}
	return nil
}

func checkAcyclic(dag *types.DAG) error {
	if path := FindCycle(dag); path != nil {
		return &types.ValidationError{Kind: types.KindCycle, DAG: dag.Name, Node: path[0], Path: path, Msg: "dag contains a cycle"}
	}
	return nil
}

func checkReachable(dag *types.DAG) error {
	for _, name := range dag.NodeNames() {
		node := dag.Node(name)

		edged := make(map[string]bool)
		for _, e := range dag.Producers(name) {
			edged[e.Slot] = true
		}

		fed := len(edged) > 0 || len(dag.Triggers) > 0
		for _, slot := range utils.SortedKeys(node.Inputs) {
			expr, err := resolver.Parse(node.Inputs[slot])
			if err != nil {
				return &types.ValidationError{Kind: types.KindBinding, DAG: dag.Name, Node: name, Msg: fmt.Sprintf("slot %s: %v", slot, err)}
			}

			var verr error
			usesSource := false
			expr.Walk(func(leaf *resolver.Expression) {
				switch leaf.Kind {
				case resolver.ExprSource:
					usesSource = true
					if !edged[slot] && verr == nil {
						verr = &types.ValidationError{
							Kind: types.KindUnreachable, DAG: dag.Name, Node: name,
							Msg: fmt.Sprintf("slot %s references %s without an inbound edge", slot, leaf.Raw),
						}
					}
				case resolver.ExprTrigger:
					if len(dag.Triggers) == 0 && len(edged) == 0 && verr == nil {
						verr = &types.ValidationError{
							Kind: types.KindUnreachable, DAG: dag.Name, Node: name,
							Msg: fmt.Sprintf("slot %s references %s but the dag declares no trigger", slot, leaf.Raw),
						}
					}
				default:
					fed = true
				}
			})
			if verr != nil {
				return verr
			}
			if edged[slot] && !usesSource {
				return &types.ValidationError{
					Kind: types.KindSlotConflict, DAG: dag.Name, Node: name,
					Msg: fmt.Sprintf("slot %s is bound by an edge and by a binding that ignores $SOURCE", slot),
				}
			}
			if expr.Kind == resolver.ExprComposite && len(expr.Map) == 0 && len(expr.List) == 0 {
				fed = true
			}
		}
		if !fed {
			return &types.ValidationError{Kind: types.KindUnreachable, DAG: dag.Name, Node: name, Msg: "node has no producer, no input and the dag declares no trigger"}
		}
	}
	return nil
}

func checkTriggers(dag *types.DAG) error {
	names := make(map[string]bool, len(dag.Triggers))
	for _, t := range dag.Triggers {
		if t.Name != "" && names[t.Name] {
			return &types.ValidationError{Kind: types.KindTrigger, DAG: dag.Name, Trigger: t.Name, Msg: "trigger name used twice"}
		}
		names[t.Name] = true

		switch t.Kind {
		case types.TriggerSchedule:
			if _, err := ParseSchedule(t.Schedule); err != nil {
				return &types.ValidationError{Kind: types.KindTrigger, DAG: dag.Name, Trigger: t.Name, Msg: err.Error()}
			}
		case types.TriggerEvent:
			if strings.TrimSpace(t.Source) == "" {
				return &types.ValidationError{Kind: types.KindTrigger, DAG: dag.Name, Trigger: t.Name, Msg: "event trigger without source"}
			}
		default:
			return &types.ValidationError{Kind: types.KindTrigger, DAG: dag.Name, Trigger: t.Name, Msg: fmt.Sprintf("unknown trigger kind %d", t.Kind)}
		}
	}
	return nil
}
