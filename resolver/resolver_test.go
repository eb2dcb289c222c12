package resolver

import (
	"context"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warriorguo/dagflow/registry"
	"github.com/warriorguo/dagflow/store/mem"
	"github.com/warriorguo/dagflow/types"
	"go.uber.org/multierr"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in        any
		kind      ExprKind
		namespace string
		key       string
		field     string
	}{
		{"plain", ExprLiteral, "", "", ""},
		{42, ExprLiteral, "", "", ""},
		{"$HOOK.warehouse", ExprConnection, "", "warehouse", ""},
		{"$HOOK.prod.warehouse", ExprConnection, "prod", "warehouse", ""},
		{"$VARIABLE.limit", ExprVariable, "", "limit", ""},
		{"$VARIABLE.dev.limit", ExprVariable, "dev", "limit", ""},
		{"$SOURCE", ExprSource, "", "", ""},
		{"$SOURCE.rows.0", ExprSource, "", "", "rows.0"},
		{"$TRIGGER.date", ExprTrigger, "", "", "date"},
		{"$DAG_CONFIG.run_id", ExprConfig, "", "run_id", ""},
	}
	for _, c := range cases {
		expr, err := Parse(c.in)
		require.Nil(t, err, c.in)
		assert.Equal(t, c.kind, expr.Kind, c.in)
		assert.Equal(t, c.namespace, expr.Namespace, c.in)
		assert.Equal(t, c.key, expr.Key, c.in)
		assert.Equal(t, c.field, expr.Field.String(), c.in)
	}

	expr, err := Parse("$$HOOK.x")
	assert.Nil(t, err)
	assert.Equal(t, ExprLiteral, expr.Kind)
	assert.Equal(t, "$HOOK.x", expr.Value)

	for _, bad := range []string{"$HOOK", "$HOOK.a.b.c", "$VARIABLE.", "$SOURCE..x", "$DAG_CONFIG.secret", "$UNKNOWN.x", "$"} {
		_, err := Parse(bad)
		assert.NotNil(t, err, bad)
	}

	_, err = Parse(map[string]any{"a": []any{"ok", "$BAD"}})
	assert.NotNil(t, err)
}

func newScope(t *testing.T) *Scope {
	ctx := context.Background()
	reg := registry.NewStoreRegistry(mem.NewMemStore())
	require.Nil(t, reg.SetConnection(ctx, "dev", "warehouse", &registry.Connection{ConnType: "postgres", Host: "db"}))
	require.Nil(t, reg.SetConnection(ctx, "prod", "warehouse", &registry.Connection{ConnType: "postgres", Host: "prod-db"}))
	require.Nil(t, reg.SetVariable(ctx, "dev", &registry.Variable{ID: "limit", Type: registry.VariableNumber, Contents: "10"}))
	require.Nil(t, reg.SetVariable(ctx, "dev", &registry.Variable{ID: "broken", Type: registry.VariableJSON, Contents: "{"}))

	return &Scope{
		Registry:    reg,
		Namespace:   "dev",
		Environment: "dev",
		DAG:         "etl",
		RunID:       "run-1",
		Trigger:     map[string]any{"date": "2024-01-01", "tags": []any{"a", "b"}},
		Sources:     map[string]any{"rows": map[string]any{"count": 3}},
	}
}

func TestResolveInputs(t *testing.T) {
	ctx := context.Background()
	scope := newScope(t)

	node := &types.TaskNode{
		Name: "load",
		Inputs: map[string]any{
			"conn":   "$HOOK.warehouse",
			"prod":   "$HOOK.prod.warehouse",
			"limit":  "$VARIABLE.limit",
			"date":   "$TRIGGER.date",
			"tag":    "$TRIGGER.tags.1",
			"env":    "$DAG_CONFIG.environment",
			"run":    "$DAG_CONFIG.run_id",
			"price":  "$$5",
			"static": 7,
			"nested": map[string]any{"count": "$SOURCE.count", "list": []any{"$DAG_CONFIG.dag"}},
		},
	}
	// an edge feeds the nested slot as well
	scope.Sources["nested"] = scope.Sources["rows"]

	input, err := ResolveInputs(ctx, node, scope)
	require.Nil(t, err)
	assert.Equal(t, "db", input["conn"].(*registry.Connection).Host)
	assert.Equal(t, "prod-db", input["prod"].(*registry.Connection).Host)
	assert.Equal(t, int64(10), input["limit"])
	assert.Equal(t, "2024-01-01", input["date"])
	assert.Equal(t, "b", input["tag"])
	assert.Equal(t, "dev", input["env"])
	assert.Equal(t, "run-1", input["run"])
	assert.Equal(t, "$5", input["price"])
	assert.Equal(t, 7, input["static"])
	assert.Equal(t, map[string]any{"count": 3, "list": []any{"etl"}}, input["nested"])
	// edge-only slot passes the producer output through
	assert.Equal(t, map[string]any{"count": 3}, input["rows"])
}

func TestResolveFailures(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		binding any
		reason  string
	}{
		{"$HOOK.missing", "connection dev/missing is not defined"},
		{"$VARIABLE.other.limit", "variable other/limit is not defined"},
		{"$VARIABLE.broken", "cannot be decoded"},
		{"$TRIGGER.nope", "field nope not found"},
		{"$TRIGGER.tags.9", "index tags.9 out of range"},
		{"$TRIGGER.date.day", "non-object"},
		{"$SOURCE", "no producer is bound to slot in"},
	}
	for _, c := range cases {
		scope := newScope(t)
		node := &types.TaskNode{Name: "n", Inputs: map[string]any{"in": c.binding}}
		_, err := ResolveInputs(ctx, node, scope)
		require.NotNil(t, err, c.binding)

		var re *types.ResolutionError
		require.True(t, errors.As(err, &re), c.binding)
		assert.Equal(t, c.binding, re.Expression)
		assert.Equal(t, "n", re.Node)
		assert.Equal(t, "in", re.Slot)
		assert.Contains(t, re.Reason, c.reason, c.binding)
	}

	// missing registry entries keep the not-found cause
	node := &types.TaskNode{Name: "n", Inputs: map[string]any{"in": "$HOOK.missing"}}
	_, err := ResolveInputs(ctx, node, newScope(t))
	assert.True(t, errors.Is(err, errors.NotFound))
	assert.Contains(t, err.Error(), "$HOOK.missing")
}

func TestResolveAbsentSource(t *testing.T) {
	scope := newScope(t)
	scope.Sources = map[string]any{"in": types.Absent("extract")}
	node := &types.TaskNode{Name: "n", Inputs: map[string]any{"in": "$SOURCE.rows"}}

	input, err := ResolveInputs(context.Background(), node, scope)
	assert.Nil(t, err)
	assert.True(t, types.IsAbsent(input["in"]))
}

func TestReferences(t *testing.T) {
	dag := types.NewDAG("etl")
	require.Nil(t, dag.AddNode(&types.TaskNode{Name: "b", Function: "f", Inputs: map[string]any{
		"conn": "$HOOK.warehouse",
		"cfg":  map[string]any{"v": "$VARIABLE.prod.limit", "l": "literal"},
	}}))
	require.Nil(t, dag.AddNode(&types.TaskNode{Name: "a", Function: "f", Inputs: map[string]any{
		"conn": "$HOOK.warehouse",
		"x":    "$VARIABLE.limit",
	}}))

	refs, err := References(dag)
	assert.Nil(t, err)
	require.Len(t, refs, 4)
	assert.Equal(t, Reference{Kind: ExprConnection, Key: "warehouse", Node: "a", Slot: "conn", Raw: "$HOOK.warehouse"}, refs[0])
	assert.Equal(t, "b", refs[1].Node)
	assert.Equal(t, Reference{Kind: ExprVariable, Key: "limit", Node: "a", Slot: "x", Raw: "$VARIABLE.limit"}, refs[2])
	assert.Equal(t, "prod", refs[3].Namespace)

	ctx := context.Background()
	reg := registry.NewStoreRegistry(mem.NewMemStore())
	require.Nil(t, reg.SetConnection(ctx, "dev", "warehouse", &registry.Connection{ConnType: "postgres"}))

	err = CheckReferences(ctx, reg, "dev", dag)
	require.NotNil(t, err)
	errs := multierr.Errors(err)
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0].Error(), "variable dev/limit is not defined")
	assert.Contains(t, errs[1].Error(), "variable prod/limit is not defined")

	require.Nil(t, reg.SetVariable(ctx, "dev", &registry.Variable{ID: "limit", Contents: "1"}))
	require.Nil(t, reg.SetVariable(ctx, "prod", &registry.Variable{ID: "limit", Contents: "1"}))
	assert.Nil(t, CheckReferences(ctx, reg, "dev", dag))
}
