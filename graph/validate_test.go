package graph

import (
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warriorguo/dagflow/types"
)

func node(name string, inputs map[string]any) *types.TaskNode {
	return &types.TaskNode{Name: name, Function: "identity", Inputs: inputs}
}

func mustDAG(t *testing.T, name string, nodes []*types.TaskNode, edges [][3]string, triggers ...*types.Trigger) *types.DAG {
	dag := types.NewDAG(name)
	for _, n := range nodes {
		require.Nil(t, dag.AddNode(n))
	}
	for _, e := range edges {
		require.Nil(t, dag.AddEdge(e[0], e[1], e[2]))
	}
	for _, tr := range triggers {
		require.Nil(t, dag.AddTrigger(tr))
	}
	return dag
}

func kindOf(t *testing.T, err error) types.ValidationKind {
	var ve *types.ValidationError
	require.True(t, errors.As(err, &ve), "%v", err)
	return ve.Kind
}

func TestValidateOK(t *testing.T) {
	dag := mustDAG(t, "etl",
		[]*types.TaskNode{
			node("extract", map[string]any{"conn": "$HOOK.source", "date": "$TRIGGER.date"}),
			node("transform", map[string]any{"rows": "$SOURCE.rows"}),
			node("load", nil),
			node("audit", nil),
		},
		[][3]string{
			{"extract", "transform", "rows"},
			{"transform", "load", "data"},
			{"extract", "audit", "a"},
			{"transform", "audit", "b"},
		},
		&types.Trigger{Kind: types.TriggerSchedule, Schedule: "rate(1 hour)"},
	)
	assert.Nil(t, Validate(dag))

	order, err := TopologicalOrder(dag)
	assert.Nil(t, err)
	assert.Equal(t, []string{"extract", "transform", "audit", "load"}, order)
	assert.Nil(t, FindCycle(dag))
}

func TestValidateCycle(t *testing.T) {
	dag := mustDAG(t, "loop",
		[]*types.TaskNode{node("a", map[string]any{"x": 1}), node("b", nil)},
		[][3]string{{"a", "b", "in"}, {"b", "a", "in"}},
	)
	err := Validate(dag)
	require.NotNil(t, err)
	assert.Equal(t, types.KindCycle, kindOf(t, err))

	var ve *types.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, []string{"a", "b", "a"}, ve.Path)
	assert.Contains(t, err.Error(), "a -> b -> a")

	_, err = TopologicalOrder(dag)
	assert.Equal(t, types.KindCycle, kindOf(t, err))

	// a longer cycle hanging off an acyclic prefix
	dag = mustDAG(t, "loop2",
		[]*types.TaskNode{node("root", map[string]any{"x": 1}), node("p", nil), node("q", nil), node("r", nil)},
		[][3]string{{"root", "p", "in"}, {"p", "q", "in"}, {"q", "r", "in"}, {"r", "p", "back"}},
	)
	assert.Equal(t, []string{"p", "q", "r", "p"}, FindCycle(dag))

	// self loop
	dag = mustDAG(t, "self", []*types.TaskNode{node("s", nil)}, [][3]string{{"s", "s", "in"}})
	assert.Equal(t, []string{"s", "s"}, FindCycle(dag))
}

func TestValidateCheckOrder(t *testing.T) {
	cases := []struct {
		name string
		dag  func() *types.DAG
		kind types.ValidationKind
	}{
		{"duplicate", func() *types.DAG {
			dag := types.NewDAG("d")
			dag.Nodes = []*types.TaskNode{node("a", map[string]any{"x": 1}), node("a", nil)}
			return dag
		}, types.KindDuplicateNode},
		{"no function", func() *types.DAG {
			dag := types.NewDAG("d")
			dag.Nodes = []*types.TaskNode{{Name: "a"}}
			return dag
		}, types.KindBinding},
		{"unknown endpoint", func() *types.DAG {
			return mustDAG(t, "d", []*types.TaskNode{node("a", map[string]any{"x": 1})}, [][3]string{{"a", "ghost", "in"}})
		}, types.KindUnknownNode},
		{"slot conflict", func() *types.DAG {
			return mustDAG(t, "d",
				[]*types.TaskNode{node("a", map[string]any{"x": 1}), node("b", map[string]any{"x": 1}), node("c", nil)},
				[][3]string{{"a", "c", "in"}, {"b", "c", "in"}})
		}, types.KindSlotConflict},
		{"edge and literal on one slot", func() *types.DAG {
			return mustDAG(t, "d",
				[]*types.TaskNode{node("a", map[string]any{"x": 1}), node("b", map[string]any{"in": "literal"})},
				[][3]string{{"a", "b", "in"}})
		}, types.KindSlotConflict},
		{"cycle before reachability", func() *types.DAG {
			return mustDAG(t, "d", []*types.TaskNode{node("a", nil), node("b", nil)},
				[][3]string{{"a", "b", "in"}, {"b", "a", "in"}})
		}, types.KindCycle},
		{"unfed root", func() *types.DAG {
			return mustDAG(t, "d", []*types.TaskNode{node("a", nil)}, nil)
		}, types.KindUnreachable},
		{"dangling source", func() *types.DAG {
			return mustDAG(t, "d", []*types.TaskNode{node("a", map[string]any{"in": "$SOURCE"})}, nil,
				&types.Trigger{Kind: types.TriggerEvent, Source: "s3"})
		}, types.KindUnreachable},
		{"trigger without trigger", func() *types.DAG {
			return mustDAG(t, "d", []*types.TaskNode{node("a", map[string]any{"in": "$TRIGGER.x"})}, nil)
		}, types.KindUnreachable},
		{"bad binding", func() *types.DAG {
			return mustDAG(t, "d", []*types.TaskNode{node("a", map[string]any{"in": "$HOOK"})}, nil)
		}, types.KindBinding},
		{"bad schedule", func() *types.DAG {
			return mustDAG(t, "d", []*types.TaskNode{node("a", nil)}, nil,
				&types.Trigger{Kind: types.TriggerSchedule, Schedule: "every tuesday"})
		}, types.KindTrigger},
		{"event without source", func() *types.DAG {
			return mustDAG(t, "d", []*types.TaskNode{node("a", nil)}, nil,
				&types.Trigger{Kind: types.TriggerEvent})
		}, types.KindTrigger},
		{"duplicate trigger", func() *types.DAG {
			return mustDAG(t, "d", []*types.TaskNode{node("a", nil)}, nil,
				&types.Trigger{Name: "t", Kind: types.TriggerSchedule, Schedule: "@daily"},
				&types.Trigger{Name: "t", Kind: types.TriggerSchedule, Schedule: "@hourly"})
		}, types.KindTrigger},
	}
	for _, c := range cases {
		err := Validate(c.dag())
		require.NotNil(t, err, c.name)
		assert.Equal(t, c.kind, kindOf(t, err), c.name)
	}
}

func TestParseSchedule(t *testing.T) {
	s, err := ParseSchedule("rate(5 minutes)")
	assert.Nil(t, err)
	assert.Equal(t, FormRate, s.Form)
	assert.Equal(t, 5, s.RateValue)
	assert.Equal(t, "minute", s.RateUnit)

	s, err = ParseSchedule("rate(1 day)")
	assert.Nil(t, err)
	assert.Equal(t, "day", s.RateUnit)

	s, err = ParseSchedule("cron(0 12 * * ? *)")
	assert.Nil(t, err)
	assert.Equal(t, FormPlatformCron, s.Form)
	assert.Len(t, s.Fields, 6)

	s, err = ParseSchedule("*/15 2 * * 1-5")
	assert.Nil(t, err)
	assert.Equal(t, FormCron, s.Form)
	assert.Equal(t, []string{"*/15", "2", "*", "*", "1-5"}, s.Fields)

	s, err = ParseSchedule("@every 90s")
	assert.Nil(t, err)
	assert.Equal(t, FormEvery, s.Form)
	assert.Equal(t, "1m30s", s.Every.String())

	s, err = ParseSchedule("@daily")
	assert.Nil(t, err)
	assert.Equal(t, FormDescriptor, s.Form)

	for _, bad := range []string{"", "rate(0 minutes)", "rate(1 minutes)", "rate(5 minute)", "rate(5 weeks)",
		"cron(0 12 * * ?)", "@fortnightly", "@every soon", "61 * * * *", "* * *"} {
		_, err := ParseSchedule(bad)
		assert.NotNil(t, err, bad)
	}
}

func TestParsePlatformCron(t *testing.T) {
	for _, good := range []string{
		"cron(0 12 * * ? *)",
		"cron(0/5 8-17 ? * MON-FRI *)",
		"cron(15 10 ? * 6L 2026-2030)",
		"cron(0 18 L * ? *)",
		"cron(0 9 15W jan,jul ? *)",
		"cron(30 6 ? * TUE#2 *)",
		"cron(0 0 1,15 * ? *)",
	} {
		_, err := ParseSchedule(good)
		assert.Nil(t, err, good)
	}

	for _, bad := range []string{
		"cron(foo bar baz qux quux corge)",
		"cron(60 12 * * ? *)",
		"cron(0 24 * * ? *)",
		"cron(0 12 32 * ? *)",
		"cron(0 12 * 13 ? *)",
		"cron(0 12 ? * 8 *)",
		"cron(0 12 * * ? 1969)",
		"cron(0 12 * * * *)",
		"cron(0 12 ? * ? *)",
		"cron(? 12 * * ? *)",
		"cron(0/0 12 * * ? *)",
		"cron(0 12 * * ? 2030-2026)",
		"cron(0,,5 12 * * ? *)",
	} {
		_, err := ParseSchedule(bad)
		assert.True(t, errors.Is(err, errors.NotValid), bad)
	}

	dag := mustDAG(t, "nightly", []*types.TaskNode{node("a", map[string]any{"x": 1})}, nil,
		&types.Trigger{Name: "t", Kind: types.TriggerSchedule, Schedule: "cron(foo bar baz qux quux corge)"})
	assert.Equal(t, types.KindTrigger, kindOf(t, Validate(dag)))
}
