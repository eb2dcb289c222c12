package handler

import (
	"context"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warriorguo/dagflow/runtime"
	"github.com/warriorguo/dagflow/store/mem"
	"github.com/warriorguo/dagflow/types"
)

func newTestEngine(t *testing.T) types.FlowEngine {
	opts := types.NewFlowOptions()
	opts.MaxNodeConcurrency = 2
	opts.DefaultRetry = types.RetryPolicy{MaxAttempts: 2, Backoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 1}
	engine := runtime.NewFlowEngine(mem.NewMemStore(), nil, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.Nil(t, engine.Close(ctx))
	})
	return engine
}

func registerSingle(t *testing.T, engine types.FlowEngine, name string, fn types.TransformFunc) {
	dag := types.NewDAG(name)
	require.Nil(t, dag.AddTrigger(&types.Trigger{Kind: types.TriggerEvent, Source: "test"}))
	require.Nil(t, dag.AddNode(&types.TaskNode{Name: "only", Function: "only", Transform: fn}))
	require.Nil(t, engine.RegisterDAG(dag))
}

func TestInvokeSucceeded(t *testing.T) {
	engine := newTestEngine(t)
	registerSingle(t, engine, "echo", func(ctx types.Context, input types.Data) (any, error) {
		return input["trigger"], nil
	})

	resp, err := New(engine, "echo").Invoke(context.Background(), []byte(`{"order": 7}`))
	require.Nil(t, err)
	assert.Equal(t, "echo", resp.DAG)
	assert.Equal(t, "Succeeded", resp.Status)
	assert.NotEmpty(t, resp.RunID)
	assert.Equal(t, map[string]any{"order": 7.0}, resp.Outputs["only"])

	resp, err = New(engine, "echo").Invoke(context.Background(), nil)
	require.Nil(t, err)
	assert.Nil(t, resp.Outputs["only"])
}

func TestInvokeFailures(t *testing.T) {
	engine := newTestEngine(t)
	registerSingle(t, engine, "flaky", func(ctx types.Context, input types.Data) (any, error) {
		return nil, errors.New("upstream unavailable")
	})
	registerSingle(t, engine, "broken", func(ctx types.Context, input types.Data) (any, error) {
		return nil, types.NewFatalErrorf("bad record")
	})

	resp, err := New(engine, "flaky").Invoke(context.Background(), []byte(`1`))
	require.NotNil(t, err)
	var ie *InvokeError
	require.True(t, errors.As(err, &ie))
	assert.True(t, ie.Retryable)
	assert.Equal(t, "Failed", resp.Status)
	assert.Equal(t, 2, ie.Result.Node("only").Attempts)
	assert.Contains(t, err.Error(), "retryable failure")

	_, err = New(engine, "broken").Invoke(context.Background(), []byte(`1`))
	require.True(t, errors.As(err, &ie))
	assert.False(t, ie.Retryable)

	_, err = New(engine, "broken").Invoke(context.Background(), []byte(`{not json`))
	require.True(t, errors.As(err, &ie))
	assert.False(t, ie.Retryable)
	assert.True(t, errors.Is(err, errors.BadRequest))

	_, err = New(engine, "missing").Invoke(context.Background(), nil)
	require.True(t, errors.As(err, &ie))
	assert.False(t, ie.Retryable)
	assert.True(t, errors.Is(err, errors.NotFound))
}

func TestRetryable(t *testing.T) {
	result := func(status types.StatusType, err error) *types.RunResult {
		return &types.RunResult{
			Status:     status,
			FirstFatal: "n",
			Nodes:      map[string]*types.NodeResult{"n": {Node: "n", Status: types.Failed, Error: err}},
		}
	}

	assert.True(t, retryable(&types.RunResult{Status: types.Cancelled}))
	assert.True(t, retryable(result(types.Failed, errors.Timeoutf("node n"))))
	assert.False(t, retryable(result(types.Failed, types.NewFatalErrorf("x"))))
	assert.False(t, retryable(result(types.Failed, &types.ResolutionError{Expression: "$HOOK.db"})))
	assert.False(t, retryable(result(types.Failed, &types.ValidationError{Kind: types.KindCycle})))
	assert.False(t, retryable(result(types.Succeeded, nil)))
	assert.False(t, retryable(&types.RunResult{Status: types.Failed}))
}
