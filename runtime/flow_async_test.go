package runtime

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warriorguo/dagflow/registry"
	"github.com/warriorguo/dagflow/store/mem"
	"github.com/warriorguo/dagflow/types"
)

// rendezvous blocks each caller until n callers arrived or the timeout passed.
type rendezvous struct {
	mu      sync.Mutex
	arrived int
	n       int
	all     chan struct{}
}

func newRendezvous(n int) *rendezvous {
	return &rendezvous{n: n, all: make(chan struct{})}
}

func (r *rendezvous) wait(timeout time.Duration) bool {
	r.mu.Lock()
	r.arrived++
	if r.arrived == r.n {
		close(r.all)
	}
	r.mu.Unlock()

	select {
	case <-r.all:
		return true
	case <-time.After(timeout):
		return false
	}
}

func TestIndependentNodesRunConcurrently(t *testing.T) {
	f := newTestFlow(t, nil, nil, nil)

	rv := newRendezvous(3)
	meet := func(ctx types.Context, input types.Data) (any, error) {
		if !rv.wait(2 * time.Second) {
			return nil, types.NewFatalErrorf("%s ran alone", ctx.GetNodeName())
		}
		return ctx.GetNodeName(), nil
	}

	dag := newTestDAG("fanout")
	addNode(t, dag, "src", passTrigger)
	for _, name := range []string{"x", "y", "z"} {
		addNode(t, dag, name, meet)
		require.Nil(t, dag.AddEdge("src", name, "in"))
	}
	require.Nil(t, f.RegisterDAG(dag))

	result, err := f.RunDAG(context.Background(), "fanout", nil)
	require.Nil(t, err)
	assert.Equal(t, types.Succeeded, result.Status, result.Table())
}

func TestConcurrentRuns(t *testing.T) {
	f := newTestFlow(t, nil, nil, nil)

	dag := newTestDAG("double")
	addNode(t, dag, "a", passTrigger)
	addNode(t, dag, "b", func(ctx types.Context, input types.Data) (any, error) {
		v, _ := input.GetInt("in")
		return v * 2, nil
	})
	require.Nil(t, dag.AddEdge("a", "b", "in"))
	require.Nil(t, f.RegisterDAG(dag))

	ctx := context.Background()
	ids := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		id, err := f.StartDAG(ctx, "double", i)
		require.Nil(t, err)
		ids = append(ids, id)
	}
	for i, id := range ids {
		result, err := f.WaitRun(ctx, id)
		require.Nil(t, err)
		assert.Equal(t, types.Succeeded, result.Status)
		assert.Equal(t, i*2, result.Node("b").Output)
	}
}

func TestCancelRun(t *testing.T) {
	f := newTestFlow(t, nil, nil, nil)

	started := make(chan struct{})
	release := make(chan struct{})
	var afterCalled atomic.Bool

	dag := newTestDAG("cancel")
	addNode(t, dag, "block", func(ctx types.Context, input types.Data) (any, error) {
		close(started)
		<-release
		// the run context is not visible here
		return ctx.Err() == nil, nil
	})
	addNode(t, dag, "after", func(ctx types.Context, input types.Data) (any, error) {
		afterCalled.Store(true)
		return nil, nil
	})
	require.Nil(t, dag.AddEdge("block", "after", "in"))
	require.Nil(t, f.RegisterDAG(dag))

	ctx := context.Background()
	id, err := f.StartDAG(ctx, "cancel", nil)
	require.Nil(t, err)
	<-started

	require.Nil(t, f.CancelRun(ctx, id))
	status, err := f.GetRunStatus(ctx, id)
	require.Nil(t, err)
	assert.Equal(t, types.Running, status.Status)
	assert.Equal(t, types.Skipped, status.Node("after").Status)

	close(release)
	result, err := f.WaitRun(ctx, id)
	require.Nil(t, err)
	assert.Equal(t, types.Cancelled, result.Status)
	assert.Equal(t, types.Skipped, result.Node("block").Status)
	assert.Nil(t, result.Node("block").Output)
	assert.Equal(t, 1, result.Node("block").Attempts)
	assert.False(t, afterCalled.Load())

	// cancelling twice or a finished run is a no-op
	assert.Nil(t, f.CancelRun(ctx, id))
	assert.True(t, errors.Is(f.CancelRun(ctx, "unknown"), errors.NotFound))
}

func TestCancelDuringRetryWait(t *testing.T) {
	f := newTestFlow(t, nil, nil, nil)

	failed := make(chan struct{})
	var calls atomic.Int32
	dag := newTestDAG("retrywait")
	node := addNode(t, dag, "flaky", func(ctx types.Context, input types.Data) (any, error) {
		if calls.Add(1) == 1 {
			defer close(failed)
		}
		return nil, errors.New("down")
	})
	node.Retry = &types.RetryPolicy{MaxAttempts: 3, Backoff: time.Hour, MaxBackoff: time.Hour, Multiplier: 1}
	require.Nil(t, f.RegisterDAG(dag))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-failed
		cancel()
	}()

	start := time.Now()
	result, err := f.RunDAG(ctx, "retrywait", nil)
	require.Nil(t, err)
	assert.Less(t, time.Since(start), time.Minute)
	assert.Equal(t, types.Cancelled, result.Status)
	assert.Equal(t, types.Skipped, result.Node("flaky").Status)
	assert.Equal(t, 1, result.Node("flaky").Attempts)
	assert.EqualValues(t, 1, calls.Load())
}

type countingRegistry struct {
	registry.Registry
	calls atomic.Int32
}

func (c *countingRegistry) GetVariable(ctx context.Context, namespace, key string) (*registry.Variable, error) {
	c.calls.Add(1)
	return c.Registry.GetVariable(ctx, namespace, key)
}

func TestRegistryCachePerRun(t *testing.T) {
	s := mem.NewMemStore()
	backend := registry.NewStoreRegistry(s)
	ctx := context.Background()
	require.Nil(t, backend.SetVariable(ctx, "dev", &registry.Variable{ID: "region", Contents: "eu-west-1"}))
	counting := &countingRegistry{Registry: backend}

	opts := newOptions()
	opts.CacheRegistryPerRun = true
	f := newTestFlow(t, s, counting, opts)

	dag := newTestDAG("cached")
	for _, name := range []string{"a", "b", "c"} {
		node := addNode(t, dag, name, func(ctx types.Context, input types.Data) (any, error) {
			return input["region"], nil
		})
		node.Inputs = map[string]any{"region": "$VARIABLE.region"}
	}
	require.Nil(t, f.RegisterDAG(dag))

	result, err := f.RunDAG(ctx, "cached", nil)
	require.Nil(t, err)
	assert.Equal(t, "eu-west-1", result.Node("c").Output)
	assert.EqualValues(t, 1, counting.calls.Load())

	// a new run sees updates
	require.Nil(t, backend.SetVariable(ctx, "dev", &registry.Variable{ID: "region", Contents: "us-east-1"}))
	result, err = f.RunDAG(ctx, "cached", nil)
	require.Nil(t, err)
	assert.Equal(t, "us-east-1", result.Node("a").Output)
	assert.EqualValues(t, 2, counting.calls.Load())
}

func TestAwaitingNodesLeavePoolFree(t *testing.T) {
	opts := newOptions()
	opts.MaxNodeConcurrency = 1
	f := newTestFlow(t, nil, nil, opts)

	child := newTestDAG("child")
	addNode(t, child, "work", passTrigger)
	require.Nil(t, f.RegisterDAG(child))

	parent := newTestDAG("fanout")
	for _, name := range []string{"call1", "call2", "call3"} {
		require.Nil(t, parent.AddNode(&types.TaskNode{
			Name:     name,
			Function: name,
			Transform: types.AwaitFunc(func(ctx types.Context, input types.Data) (any, error) {
				result, err := f.RunDAG(ctx, "child", ctx.GetNodeName())
				if err != nil {
					return nil, err
				}
				return result.Node("work").Output, result.Err()
			}),
		}))
	}
	require.Nil(t, f.RegisterDAG(parent))

	done := make(chan *types.RunResult, 1)
	go func() {
		result, err := f.RunDAG(context.Background(), "fanout", nil)
		assert.Nil(t, err)
		done <- result
	}()

	select {
	case result := <-done:
		require.Equal(t, types.Succeeded, result.Status)
		assert.Equal(t, "call2", result.Node("call2").Output)
	case <-time.After(5 * time.Second):
		t.Fatal("invoking nodes starved the child runs of workers")
	}
}
