package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/google/uuid"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/warriorguo/dagflow/registry"
	"github.com/warriorguo/dagflow/store"
	"github.com/warriorguo/dagflow/types"
)

type flowExecute struct {
	ctx    context.Context
	cancel context.CancelFunc

	opts     *types.FlowOptions
	store    store.Store
	registry registry.Registry
	wp       *workerpool.WorkerPool

	mu      sync.Mutex
	running bool
	runs    map[string]*dagRun
}

func (fe *flowExecute) isRunning() bool {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.running
}

func (fe *flowExecute) getRun(runID string) *dagRun {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.runs[runID]
}

func (fe *flowExecute) removeRun(runID string) {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	delete(fe.runs, runID)
}

// RunDAG blocks until the run is terminal. Cancelling ctx cancels the run.
// A run that did not succeed is not an error here, see RunResult.Err.
func (f *flow) RunDAG(ctx context.Context, dagName string, payload any) (*types.RunResult, error) {
	r, err := f.launch(dagName, payload)
	if err != nil {
		return nil, errors.Trace(err)
	}
	stop := context.AfterFunc(ctx, r.cancelRun)
	defer stop()

	<-r.done
	return r.snapshot(), nil
}

// StartDAG launches a run that lives with the engine, not with ctx.
func (f *flow) StartDAG(ctx context.Context, dagName string, payload any) (string, error) {
	r, err := f.launch(dagName, payload)
	if err != nil {
		return "", errors.Trace(err)
	}
	return r.id, nil
}

func (f *flow) launch(dagName string, payload any) (*dagRun, error) {
	dag, exists := f.GetDAG(dagName)
	if !exists {
		return nil, errors.NotFoundf("DAG name: %s", dagName)
	}

	reg := f.registry
	if reg != nil && f.opts.CacheRegistryPerRun {
		reg = registry.NewRunCache(reg)
	}
	r := newDAGRun(&f.flowExecute, uuid.NewString(), dag, payload, reg)

	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return nil, errors.MethodNotAllowedf("not running")
	}
	f.runs[r.id] = r
	f.mu.Unlock()

	r.start()
	return r, nil
}

func (f *flow) WaitRun(ctx context.Context, runID string) (*types.RunResult, error) {
	r := f.getRun(runID)
	if r == nil {
		return f.loadRunResult(ctx, runID)
	}
	select {
	case <-r.done:
		return r.snapshot(), nil
	case <-ctx.Done():
		return nil, errors.Trace(ctx.Err())
	}
}

func (f *flow) GetRunStatus(ctx context.Context, runID string) (*types.RunResult, error) {
	if r := f.getRun(runID); r != nil {
		return r.snapshot(), nil
	}
	return f.loadRunResult(ctx, runID)
}

func (f *flow) RenderRun(ctx context.Context, runID string) (string, error) {
	result, err := f.GetRunStatus(ctx, runID)
	if err != nil {
		return "", errors.Trace(err)
	}
	dag, exists := f.GetDAG(result.DAG)
	if !exists {
		return "", errors.NotFoundf("DAG name: %s", result.DAG)
	}
	return newDAGRenderer().generateDOT(dag, result)
}

func (f *flow) CancelRun(ctx context.Context, runID string) error {
	r := f.getRun(runID)
	if r == nil {
		return errors.NotFoundf("run id: %s", runID)
	}
	r.cancelRun()
	return nil
}

// retire drops a finished run from memory once the retention elapsed.
func (fe *flowExecute) retire(r *dagRun) {
	retention := fe.opts.RunRetention
	if retention <= 0 {
		return
	}
	time.AfterFunc(retention, func() {
		fe.removeRun(r.id)
		log.WithField("run", r.id).Debugf("run retired from memory")
	})
}
