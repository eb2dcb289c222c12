package runtime

import (
	"context"
	"sort"
	"sync"

	"github.com/gammazero/workerpool"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/warriorguo/dagflow/graph"
	"github.com/warriorguo/dagflow/registry"
	"github.com/warriorguo/dagflow/store"
	"github.com/warriorguo/dagflow/types"
)

var (
	_ types.FlowEngine = &flow{}
)

/**
 * NewFlowEngine returns an engine running nodes of every run on one shared
 * pool of opts.MaxNodeConcurrency workers. The store keeps archived runs,
 * reg serves $HOOK and $VARIABLE bindings and may be nil.
 */
func NewFlowEngine(store store.Store, reg registry.Registry, opts *types.FlowOptions) types.FlowEngine {
	return newFlow(store, reg, opts)
}

type flow struct {
	flowExecute

	dagMu sync.Mutex
	dags  map[string]*types.DAG
}

func newFlow(store store.Store, reg registry.Registry, opts *types.FlowOptions) *flow {
	if opts == nil {
		opts = types.NewFlowOptions()
	}
	concurrency := opts.MaxNodeConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	parent := opts.Ctx
	if parent == nil {
		parent = context.Background()
	}

	f := &flow{}
	f.ctx, f.cancel = context.WithCancel(parent)
	f.opts = opts
	f.store = store
	f.registry = reg
	f.running = true
	f.wp = workerpool.New(concurrency)
	f.runs = make(map[string]*dagRun)
	f.dags = make(map[string]*types.DAG)
	return f
}

// RegisterDAG validates the DAG and requires every node to carry a bound transform.
func (f *flow) RegisterDAG(dag *types.DAG) error {
	if !f.isRunning() {
		return errors.MethodNotAllowedf("not running")
	}
	if err := graph.Validate(dag); err != nil {
		return err
	}
	for _, node := range dag.Nodes {
		if node.Transform == nil {
			return errors.BadRequestf("dag %s node %s has no transform bound to function %q", dag.Name, node.Name, node.Function)
		}
	}

	f.dagMu.Lock()
	defer f.dagMu.Unlock()
	if _, exists := f.dags[dag.Name]; exists {
		return errors.AlreadyExistsf("dag %s", dag.Name)
	}
	f.dags[dag.Name] = dag
	log.WithField("dag", dag.Name).Debugf("registered with %d nodes and %d edges", len(dag.Nodes), len(dag.Edges))
	return nil
}

func (f *flow) GetDAG(name string) (*types.DAG, bool) {
	f.dagMu.Lock()
	defer f.dagMu.Unlock()
	dag, exists := f.dags[name]
	return dag, exists
}

func (f *flow) ListDAGNames() ([]string, error) {
	f.dagMu.Lock()
	defer f.dagMu.Unlock()

	names := make([]string, 0, len(f.dags))
	for name := range f.dags {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (f *flow) RenderDAG(name string) (string, error) {
	dag, exists := f.GetDAG(name)
	if !exists {
		return "", errors.NotFoundf("DAG name: %s", name)
	}
	return newDAGRenderer().generateDOT(dag, nil)
}

// Close cancels every ongoing run and waits for in-flight nodes.
func (f *flow) Close(ctx context.Context) error {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return nil
	}
	f.running = false
	runs := make([]*dagRun, 0, len(f.runs))
	for _, r := range f.runs {
		runs = append(runs, r)
	}
	f.mu.Unlock()

	f.cancel()
	for _, r := range runs {
		select {
		case <-r.done:
		case <-ctx.Done():
			return errors.Annotatef(ctx.Err(), "wait run %s", r.id)
		}
	}
	f.wp.StopWait()
	return nil
}
