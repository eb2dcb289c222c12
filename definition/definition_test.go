package definition

import (
	"os"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warriorguo/dagflow/functions"
	"github.com/warriorguo/dagflow/graph"
	"github.com/warriorguo/dagflow/types"
)

func TestLoadYAML(t *testing.T) {
	def, err := LoadFile("testdata/etl_daily.yml")
	require.Nil(t, err)
	assert.True(t, def.Active)
	assert.Equal(t, "testdata/etl_daily.yml", def.Path)

	dag := def.DAG
	assert.Equal(t, "etl_daily", dag.Name)
	require.Len(t, dag.Triggers, 2)
	assert.Equal(t, "schedule", dag.Triggers[0].Name)
	assert.Equal(t, types.TriggerSchedule, dag.Triggers[0].Kind)
	assert.Equal(t, "rate(1 day)", dag.Triggers[0].Schedule)
	assert.Equal(t, types.TriggerEvent, dag.Triggers[1].Kind)
	assert.Equal(t, "aws.s3", dag.Triggers[1].Source)
	assert.Equal(t, "Object Created", dag.Triggers[1].Filter["detail-type"])

	extract := dag.Node("extract")
	require.NotNil(t, extract)
	assert.Equal(t, functions.NameReadData, extract.Function)
	assert.Equal(t, "$HOOK.lake", extract.Inputs["hook"])
	assert.Equal(t, 30*time.Second, extract.Timeout)
	require.NotNil(t, extract.Retry)
	assert.Equal(t, 3, extract.Retry.MaxAttempts)
	assert.Equal(t, 2*time.Second, extract.Retry.Backoff)
	// unset fields take the policy defaults
	assert.Equal(t, time.Minute, extract.Retry.MaxBackoff)
	assert.Equal(t, types.FailurePolicyFatal, extract.OnFailure)

	load := dag.Node("load")
	require.NotNil(t, load)
	assert.Equal(t, types.FailurePolicyContinue, load.OnFailure)
	assert.True(t, load.NonIdempotent)
	require.Len(t, load.Permissions, 1)
	assert.Equal(t, []string{"s3:PutObject"}, load.Permissions[0].Actions)

	require.Len(t, dag.Edges, 1)
	assert.Equal(t, "extract", dag.Edges[0].Source)
	assert.Equal(t, "data", dag.Edges[0].Slot)
	assert.Nil(t, graph.Validate(dag))
}

func TestLoadHCL(t *testing.T) {
	def, err := LoadFile("testdata/report.hcl")
	require.Nil(t, err)
	assert.True(t, def.Active)

	dag := def.DAG
	assert.Equal(t, "report", dag.Name)
	require.Len(t, dag.Triggers, 1)
	assert.Equal(t, "0 2 * * *", dag.Triggers[0].Schedule)

	collect := dag.Node("collect")
	require.NotNil(t, collect)
	assert.Equal(t, "$TRIGGER.since", collect.Inputs["since"])
	assert.Equal(t, 100, collect.Inputs["limit"])
	assert.Equal(t, 0.5, collect.Inputs["ratio"])
	assert.Equal(t, []any{"daily", "finance"}, collect.Inputs["tags"])
	require.NotNil(t, collect.Retry)
	assert.Equal(t, 4, collect.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, collect.Retry.Backoff)

	publish := dag.Node("publish")
	require.NotNil(t, publish)
	assert.True(t, publish.TolerateAbsent)
	assert.Equal(t, []string{"notify"}, publish.Invokes)
	// the adapter binding moves onto the consumer
	assert.Equal(t, "$SOURCE.tags", publish.Inputs["payload"])
	assert.Equal(t, "notify", publish.Inputs["dag"])

	require.Len(t, dag.Edges, 1)
	assert.Equal(t, "payload", dag.Edges[0].Slot)
	assert.Nil(t, graph.Validate(dag))
}

func TestLoadDir(t *testing.T) {
	defs, err := LoadDir("testdata")
	require.Nil(t, err)
	require.Len(t, defs, 3)

	names := make([]string, 0, len(defs))
	for _, def := range defs {
		names = append(names, def.DAG.Name)
	}
	assert.Equal(t, []string{"draft", "etl_daily", "report"}, names)

	// draft has no "active" key
	assert.False(t, defs[0].Active)
	active := ActiveDAGs(defs)
	require.Len(t, active, 2)
	assert.Equal(t, "etl_daily", active[0].Name)
}

func TestParseErrors(t *testing.T) {
	_, err := ParseYAML([]byte("nodes: {a: {function: identity}}"), "noname.yml")
	assert.True(t, errors.Is(err, errors.NotValid))

	_, err = ParseYAML([]byte("name: x\nnodes: {a: {}}"), "nofunc.yml")
	assert.True(t, errors.Is(err, errors.NotValid))

	_, err = ParseYAML([]byte("name: x\nnodes: {a: {function: identity, on_failure: maybe}}"), "policy.yml")
	assert.True(t, errors.Is(err, errors.NotValid))

	_, err = ParseYAML([]byte("name: x\nnodes: {a: {function: identity, timeout: soon}}"), "timeout.yml")
	assert.True(t, errors.Is(err, errors.NotValid))

	_, err = ParseYAML([]byte("name: x\ntriggers: [{name: t, schedule: '@daily', event: {source: s}}]"), "trigger.yml")
	assert.True(t, errors.Is(err, errors.NotValid))

	_, err = ParseYAML([]byte("name: x\nnodes:\n  a: {function: identity}\n  b: {function: identity}\nedges:\n  e: {source: a, destination: b}\n"), "edge.yml")
	assert.True(t, errors.Is(err, errors.NotValid))

	_, err = ParseYAML([]byte("name: [unclosed"), "broken.yml")
	assert.NotNil(t, err)

	// function is required
	_, err = ParseHCL([]byte("dag \"x\" {\n  node \"a\" {\n  }\n}\n"), "missing.hcl")
	assert.NotNil(t, err)

	_, err = ParseHCL([]byte("dag \"x\" {\n  node \"a\" {\n    function = \"identity\"\n    inputs = \"text\"\n  }\n}\n"), "inputs.hcl")
	assert.True(t, errors.Is(err, errors.NotValid))

	// the extension is checked before the file is read
	_, err = LoadFile("testdata/unknown.json")
	assert.True(t, errors.Is(err, errors.NotSupported))
	_, err = LoadFile("testdata/missing.yml")
	assert.True(t, os.IsNotExist(errors.Cause(err)))
}

func TestCatalogBind(t *testing.T) {
	catalog := NewCatalog()
	require.Nil(t, catalog.RegisterAll(functions.Builtins(nil)))
	assert.Contains(t, catalog.Names(), functions.NameIdentity)

	err := catalog.RegisterFunc(functions.NameIdentity, functions.Identity)
	assert.True(t, errors.Is(err, errors.AlreadyExists))
	assert.True(t, errors.Is(catalog.Register("x", nil), errors.BadRequest))

	def, err := LoadFile("testdata/report.hcl")
	require.Nil(t, err)
	require.Nil(t, catalog.Bind(def.DAG))
	assert.NotNil(t, def.DAG.Node("collect").Transform)

	dag := types.NewDAG("unknown")
	require.Nil(t, dag.AddNode(&types.TaskNode{Name: "a", Function: "nope"}))
	require.Nil(t, dag.AddNode(&types.TaskNode{Name: "b", Function: "nada"}))
	err = catalog.Bind(dag)
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "nope")
	assert.Contains(t, err.Error(), "nada")
}
