package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/warriorguo/dagflow/graph"
	"github.com/warriorguo/dagflow/registry"
	"github.com/warriorguo/dagflow/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	errCancelled = errors.New("run cancelled, result discarded")
)

/**
 * dagRun schedules one run with Kahn's algorithm: a node is dispatched to
 * the shared pool once every producer is terminal. All state lives in
 * dagRuntime and is guarded by mu.
 */
type dagRun struct {
	fe      *flowExecute
	id      string
	dag     *types.DAG
	plan    *graph.Plan
	payload any
	reg     registry.Registry
	logger  *log.Entry

	// ctx ends when the run is cancelled, nodes never see it directly
	ctx    context.Context
	cancel context.CancelFunc
	span   trace.Span

	mu sync.Mutex
	dagRuntime

	done chan struct{}
}

func newDAGRun(fe *flowExecute, id string, dag *types.DAG, payload any, reg registry.Registry) *dagRun {
	plan := graph.NewPlan(dag)
	r := &dagRun{
		fe:      fe,
		id:      id,
		dag:     dag,
		plan:    plan,
		payload: payload,
		reg:     reg,
		logger:  log.WithFields(log.Fields{"dag": dag.Name, "run": id}),
		done:    make(chan struct{}),
	}
	r.ctx, r.cancel = context.WithCancel(fe.ctx)
	r.dagRuntime = newDAGRuntime(dag, plan)
	return r
}

func (r *dagRun) start() {
	var spanCtx context.Context
	spanCtx, r.span = tracer.Start(r.ctx, "dag.run",
		trace.WithAttributes(
			attribute.String("dag.name", r.dag.Name),
			attribute.String("dag.run_id", r.id),
			attribute.Int("dag.node_count", len(r.plan.Names)),
		),
	)
	r.ctx = spanCtx
	runningRuns.Inc()

	r.mu.Lock()
	r.status = types.Running
	r.startTime = time.Now()
	for i := range r.plan.Names {
		if r.plan.InDegree[i] == 0 {
			r.dispatchLocked(i)
		}
	}
	finished := r.unfinished == 0
	r.mu.Unlock()

	r.logger.Debugf("run started with %d nodes", len(r.plan.Names))
	if finished {
		r.finalize()
		return
	}
	go r.watch()
}

// watch turns a cancelled run context into a cancelled run.
func (r *dagRun) watch() {
	select {
	case <-r.ctx.Done():
		r.cancelRun()
	case <-r.done:
	}
}

func (r *dagRun) dispatchLocked(i int) {
	r.dispatched[i] = true
	r.submit(r.dag.Node(r.plan.Names[i]), func() {
		r.execute(i)
	})
}

// submit queues node work on the shared pool. A node awaiting other runs gets
// its own goroutine: on the pool it would hold a worker its child runs need.
func (r *dagRun) submit(node *types.TaskNode, fn func()) {
	if types.AwaitsRuns(node.Transform) {
		go fn()
		return
	}
	r.fe.wp.Submit(fn)
}

// execute starts a dispatched node, unless the run was stopped meanwhile.
func (r *dagRun) execute(i int) {
	node := r.dag.Node(r.plan.Names[i])

	r.mu.Lock()
	if r.cancelled || r.aborted {
		r.skipLocked(i, "run stopped before the node started")
		finished := r.unfinished == 0
		r.mu.Unlock()
		if finished {
			r.finalize()
		}
		return
	}
	nr := r.nodes[i]
	nr.Status = types.Running
	nr.StartTime = time.Now()
	scope := r.scopeLocked(i)
	r.mu.Unlock()

	r.logger.WithField("node", node.Name).Debugf("node dispatched")
	r.runNode(i, node, scope)
}

// complete records the outcome of a node that was started.
func (r *dagRun) complete(i int, output any, attempts int, err error) {
	node := r.dag.Node(r.plan.Names[i])
	logger := r.logger.WithField("node", node.Name)

	var waiting []*nodeTask
	r.mu.Lock()
	nr := r.nodes[i]
	nr.Attempts = attempts
	nr.EndTime = time.Now()
	switch {
	case r.cancelled:
		nr.Status = types.Skipped
		nr.Error = errCancelled
		logger.Debugf("node finished after cancellation, result discarded")
	case err == nil:
		nr.Status = types.Succeeded
		nr.Output = output
		r.outputs[i] = output
	default:
		nr.Status = types.Failed
		nr.Error = err
		if node.IsFatal() {
			if !r.aborted {
				r.aborted = true
				r.firstFatal = node.Name
				logger.Errorf("fatal node failed, aborting run: %v", err)
				r.skipUndispatchedLocked()
				waiting = r.stopRetriesLocked()
			}
		} else {
			r.outputs[i] = types.Absent(node.Name)
			logger.Warnf("node failed, consumers see it absent: %v", err)
		}
	}
	r.unfinished--
	r.releaseLocked(i)
	record := r.traceRecordLocked(i)
	span, nodeErr := r.spans[i], nr.Error
	finished := r.unfinished == 0
	r.mu.Unlock()

	if span != nil {
		endNodeSpan(span, record.Status, nodeErr)
	}
	nodeResults.WithLabelValues(r.dag.Name, record.Status.String()).Inc()
	if !record.StartTime.IsZero() {
		nodeDuration.WithLabelValues(r.dag.Name, node.Name).Observe(record.EndTime.Sub(record.StartTime).Seconds())
	}
	r.fe.archiveRecord(context.WithoutCancel(r.ctx), record)
	for _, task := range waiting {
		r.complete(task.idx, nil, task.attempt, task.lastErr)
	}
	if finished {
		r.finalize()
	}
}

// releaseLocked lets consumers of a terminal node proceed once all their producers are terminal.
func (r *dagRun) releaseLocked(i int) {
	for _, c := range r.plan.Outgoing[i] {
		r.remaining[c]--
		if r.remaining[c] > 0 || r.dispatched[c] || r.nodes[c].Status.Terminal() {
			continue
		}
		r.decideLocked(c)
	}
}

func (r *dagRun) decideLocked(c int) {
	if r.cancelled || r.aborted {
		r.skipLocked(c, "run stopped")
		return
	}
	consumer := r.dag.Node(r.plan.Names[c])
	for _, p := range r.plan.Incoming[c] {
		switch r.nodes[p].Status {
		case types.Skipped:
			r.skipLocked(c, "producer "+r.plan.Names[p]+" skipped")
			return
		case types.Failed:
			if !consumer.TolerateAbsent {
				r.skipLocked(c, "producer "+r.plan.Names[p]+" failed")
				return
			}
		}
	}
	r.dispatchLocked(c)
}

func (r *dagRun) skipLocked(i int, reason string) {
	if r.nodes[i].Status.Terminal() {
		return
	}
	r.nodes[i].Status = types.Skipped
	r.unfinished--
	r.logger.WithField("node", r.plan.Names[i]).Debugf("node skipped: %s", reason)
	r.releaseLocked(i)
}

// skipUndispatchedLocked skips every node that was not handed to the pool yet.
func (r *dagRun) skipUndispatchedLocked() {
	for i := range r.plan.Names {
		if !r.dispatched[i] {
			r.skipLocked(i, "run stopped")
		}
	}
}

// cancelRun skips what has not started. In-flight nodes finish on their own
// and their results are discarded.
func (r *dagRun) cancelRun() {
	r.mu.Lock()
	// an aborted run already stopped scheduling and keeps its Failed outcome
	if r.status.Terminal() || r.cancelled || r.aborted {
		r.mu.Unlock()
		return
	}
	r.cancelled = true
	r.skipUndispatchedLocked()
	waiting := r.stopRetriesLocked()
	finished := r.unfinished == 0
	r.mu.Unlock()

	r.logger.Infof("run cancelled, %d nodes waiting for a retry dropped", len(waiting))
	r.cancel()
	for _, task := range waiting {
		r.complete(task.idx, nil, task.attempt, task.lastErr)
	}
	if finished && len(waiting) == 0 {
		r.finalize()
	}
}

func (r *dagRun) finalize() {
	r.mu.Lock()
	if r.status.Terminal() {
		r.mu.Unlock()
		return
	}
	switch {
	case r.aborted:
		r.status = types.Failed
	case r.cancelled:
		r.status = types.Cancelled
	default:
		r.status = types.Succeeded
	}
	r.endTime = time.Now()
	r.mu.Unlock()

	result := r.snapshot()
	runningRuns.Dec()
	runResults.WithLabelValues(r.dag.Name, result.Status.String()).Inc()
	if result.Status == types.Succeeded {
		r.span.SetStatus(codes.Ok, "")
	} else {
		if err := result.Err(); err != nil {
			r.span.RecordError(err)
		}
		r.span.SetStatus(codes.Error, result.Status.String())
	}
	r.span.End()

	r.fe.archiveRun(context.WithoutCancel(r.ctx), result)
	if result.Status == types.Succeeded {
		r.logger.Infof("run succeeded in %s", result.EndTime.Sub(result.StartTime))
	} else {
		r.logger.Errorf("run %s\n%s", result.Status, result.Table())
	}

	r.cancel()
	close(r.done)
	r.fe.retire(r)
}
