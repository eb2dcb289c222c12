package runtime

import (
	"context"

	log "github.com/sirupsen/logrus"
	"github.com/warriorguo/dagflow/types"
)

var (
	_ types.Context = &flowContext{}
)

// flowContext is what a transform sees. It ignores run cancellation,
// only the node timeout ends it.
type flowContext struct {
	context.Context
	cancel context.CancelFunc

	runID   string
	dagName string
	node    string
	attempt int
	env     string
	logger  *log.Entry
}

func newFlowContext(r *dagRun, node *types.TaskNode, attempt int) *flowContext {
	ctx := context.WithoutCancel(r.ctx)
	cancel := context.CancelFunc(func() {})
	if node.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, node.Timeout)
	}
	return &flowContext{
		Context: ctx,
		cancel:  cancel,
		runID:   r.id,
		dagName: r.dag.Name,
		node:    node.Name,
		attempt: attempt,
		env:     r.fe.opts.Environment,
		logger:  r.logger.WithFields(log.Fields{"node": node.Name, "attempt": attempt}),
	}
}

func (f *flowContext) close() {
	f.cancel()
}

func (f *flowContext) GetRunID() string {
	return f.runID
}

func (f *flowContext) GetDAGName() string {
	return f.dagName
}

func (f *flowContext) GetNodeName() string {
	return f.node
}

func (f *flowContext) GetAttempt() int {
	return f.attempt
}

func (f *flowContext) GetEnvironment() string {
	return f.env
}

func (f *flowContext) Logger() *log.Entry {
	return f.logger
}
