package resolver

import (
	"context"
	"sort"

	"github.com/juju/errors"
	"github.com/warriorguo/dagflow/registry"
	"github.com/warriorguo/dagflow/types"
	"github.com/warriorguo/dagflow/utils"
	"go.uber.org/multierr"
)

// Reference is a registry entry a DAG binding needs.
type Reference struct {
	Kind ExprKind
	// Namespace is empty when the binding relies on the default namespace.
	Namespace string
	Key       string
	Node      string
	Slot      string
	Raw       string
}

// References collects the connection and variable references of the DAGs,
// sorted by kind, namespace, key, node and slot.
func References(dags ...*types.DAG) ([]Reference, error) {
	refs := make([]Reference, 0)
	for _, dag := range dags {
		for _, name := range dag.NodeNames() {
			node := dag.Node(name)
			for _, slot := range utils.SortedKeys(node.Inputs) {
				expr, err := Parse(node.Inputs[slot])
				if err != nil {
					return nil, errors.Annotatef(err, "dag %s node %s slot %s", dag.Name, name, slot)
				}
				expr.Walk(func(leaf *Expression) {
					if leaf.Kind != ExprConnection && leaf.Kind != ExprVariable {
						return
					}
					refs = append(refs, Reference{
						Kind:      leaf.Kind,
						Namespace: leaf.Namespace,
						Key:       leaf.Key,
						Node:      name,
						Slot:      slot,
						Raw:       leaf.Raw,
					})
				})
			}
		}
	}

	sort.SliceStable(refs, func(i, j int) bool {
		a, b := refs[i], refs[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Namespace != b.Namespace {
			return a.Namespace < b.Namespace
		}
		if a.Key != b.Key {
			return a.Key < b.Key
		}
		if a.Node != b.Node {
			return a.Node < b.Node
		}
		return a.Slot < b.Slot
	})
	return refs, nil
}

/**
 * CheckReferences looks up every distinct reference once and reports each
 * undefined one as a *types.ResolutionError. Namespace-less references are
 * checked in namespace. All failures are returned together.
 */
func CheckReferences(ctx context.Context, reg registry.Registry, namespace string, dags ...*types.DAG) error {
	refs, err := References(dags...)
	if err != nil {
		return errors.Trace(err)
	}

	var result error
	checked := make(map[string]bool)
	for _, ref := range refs {
		ns := ref.Namespace
		if ns == "" {
			ns = namespace
		}
		id := ref.Kind.String() + ":" + ns + "/" + ref.Key
		if checked[id] {
			continue
		}
		checked[id] = true

		expr := &Expression{Kind: ref.Kind, Raw: ref.Raw, Namespace: ns, Key: ref.Key}
		what := "connection"
		if ref.Kind == ExprConnection {
			_, err = reg.GetConnection(ctx, ns, ref.Key)
		} else {
			what = "variable"
			_, err = reg.GetVariable(ctx, ns, ref.Key)
		}
		if err != nil {
			rerr := registryError(expr, what, ns, err)
			rerr.Node, rerr.Slot = ref.Node, ref.Slot
			result = multierr.Append(result, rerr)
		}
	}
	return result
}
