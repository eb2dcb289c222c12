package runtime

import (
	"time"

	"github.com/warriorguo/dagflow/graph"
	"github.com/warriorguo/dagflow/resolver"
	"github.com/warriorguo/dagflow/types"
	"go.opentelemetry.io/otel/trace"
)

// dagRuntime is the mutable state of one run, indexed like graph.Plan.
type dagRuntime struct {
	status     types.StatusType
	startTime  time.Time
	endTime    time.Time
	cancelled  bool
	aborted    bool
	firstFatal string

	nodes      []*types.NodeResult
	inputs     []types.Data
	outputs    []any
	spans      []trace.Span
	dispatched []bool
	// remaining counts producers that are not terminal yet
	remaining  []int
	unfinished int

	retries map[int]*nodeTask
}

func newDAGRuntime(dag *types.DAG, plan *graph.Plan) dagRuntime {
	n := len(plan.Names)
	rt := dagRuntime{
		status:     types.Pending,
		nodes:      make([]*types.NodeResult, n),
		inputs:     make([]types.Data, n),
		outputs:    make([]any, n),
		spans:      make([]trace.Span, n),
		dispatched: make([]bool, n),
		remaining:  make([]int, n),
		unfinished: n,
		retries:    make(map[int]*nodeTask),
	}
	for i, name := range plan.Names {
		rt.nodes[i] = &types.NodeResult{Node: name, Status: types.Pending}
		rt.remaining[i] = plan.InDegree[i]
	}
	return rt
}

// scopeLocked collects what the bindings of node i may see.
func (r *dagRun) scopeLocked(i int) *resolver.Scope {
	name := r.plan.Names[i]
	scope := &resolver.Scope{
		Registry:    r.reg,
		Namespace:   r.fe.opts.Environment,
		Environment: r.fe.opts.Environment,
		DAG:         r.dag.Name,
		RunID:       r.id,
		Trigger:     r.payload,
		Sources:     make(map[string]any),
	}
	for _, e := range r.dag.Producers(name) {
		if p, ok := r.plan.Index[e.Source]; ok {
			scope.Sources[e.Slot] = r.outputs[p]
		}
	}
	return scope
}

func (r *dagRun) stopRetriesLocked() []*nodeTask {
	waiting := make([]*nodeTask, 0, len(r.retries))
	for _, i := range r.plan.Order() {
		task, ok := r.retries[i]
		if !ok {
			continue
		}
		task.timer.Stop()
		delete(r.retries, i)
		waiting = append(waiting, task)
	}
	return waiting
}

func (r *dagRun) traceRecordLocked(i int) *types.NodeTraceRecord {
	nr := r.nodes[i]
	record := &types.NodeTraceRecord{
		RunID:     r.id,
		DAG:       r.dag.Name,
		Node:      nr.Node,
		Status:    nr.Status,
		Attempts:  nr.Attempts,
		StartTime: nr.StartTime,
		EndTime:   nr.EndTime,
		Input:     r.inputs[i],
		Output:    nr.Output,
	}
	if nr.Error != nil {
		record.Error = nr.Error.Error()
	}
	return record
}

// snapshot copies the run state, it is safe to call at any time.
func (r *dagRun) snapshot() *types.RunResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := &types.RunResult{
		RunID:      r.id,
		DAG:        r.dag.Name,
		Payload:    r.payload,
		Status:     r.status,
		FirstFatal: r.firstFatal,
		Nodes:      make(map[string]*types.NodeResult, len(r.nodes)),
		StartTime:  r.startTime,
		EndTime:    r.endTime,
	}
	for _, nr := range r.nodes {
		c := *nr
		result.Nodes[nr.Node] = &c
	}
	return result
}
