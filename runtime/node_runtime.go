package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/juju/errors"
	"github.com/warriorguo/dagflow/resolver"
	"github.com/warriorguo/dagflow/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// nodeTask carries a started node across its attempts.
type nodeTask struct {
	idx   int
	node  *types.TaskNode
	input types.Data

	policy  types.RetryPolicy
	backoff *backoff.ExponentialBackOff

	attempt int
	lastErr error
	timer   *time.Timer
}

func newBackoff(policy types.RetryPolicy) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.Backoff
	b.MaxInterval = policy.MaxBackoff
	if b.MaxInterval < b.InitialInterval {
		b.MaxInterval = b.InitialInterval
	}
	b.Multiplier = policy.Multiplier
	if b.Multiplier < 1 {
		b.Multiplier = 1
	}
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// retryable reports whether another attempt may fix err.
func retryable(err error) bool {
	return !types.IsFatal(err) && !types.IsResolutionError(err) && !types.IsValidationError(err)
}

// runNode resolves the node input once, then runs the first attempt.
func (r *dagRun) runNode(i int, node *types.TaskNode, scope *resolver.Scope) {
	_, span := tracer.Start(context.WithoutCancel(r.ctx), "dag.node",
		trace.WithAttributes(
			attribute.String("dag.name", r.dag.Name),
			attribute.String("dag.run_id", r.id),
			attribute.String("node.name", node.Name),
		),
	)

	input, err := resolver.ResolveInputs(context.WithoutCancel(r.ctx), node, scope)
	if err == nil && r.plan.InDegree[i] == 0 {
		if _, exists := input["trigger"]; !exists {
			input["trigger"] = r.payload
		}
	}

	r.mu.Lock()
	r.spans[i] = span
	r.inputs[i] = input
	r.mu.Unlock()

	if err != nil {
		r.logger.WithField("node", node.Name).Errorf("resolve input failed: %v", err)
		r.complete(i, nil, 0, err)
		return
	}

	policy := node.EffectiveRetry(r.fe.opts.DefaultRetry)
	r.attempt(&nodeTask{
		idx:     i,
		node:    node,
		input:   input,
		policy:  policy,
		backoff: newBackoff(policy),
	})
}

func (r *dagRun) attempt(task *nodeTask) {
	if task.attempt > 0 {
		// a retry may reach the pool after the run stopped
		r.mu.Lock()
		stopped := r.cancelled || r.aborted
		r.mu.Unlock()
		if stopped {
			r.complete(task.idx, nil, task.attempt, task.lastErr)
			return
		}
	}
	task.attempt++
	logger := r.logger.WithField("node", task.node.Name)

	fc := newFlowContext(r, task.node, task.attempt)
	output, err := r.invoke(fc, task.node, task.input)
	if err == nil {
		r.complete(task.idx, output, task.attempt, nil)
		return
	}
	task.lastErr = err

	if !retryable(err) || task.attempt >= task.policy.MaxAttempts {
		r.complete(task.idx, nil, task.attempt, err)
		return
	}

	wait := task.backoff.NextBackOff()
	var re *types.RetryError
	if errors.As(err, &re) && re.Backoff > 0 {
		wait = re.Backoff
	}

	r.mu.Lock()
	if r.cancelled || r.aborted {
		r.mu.Unlock()
		r.complete(task.idx, nil, task.attempt, err)
		return
	}
	nodeRetries.WithLabelValues(r.dag.Name).Inc()
	logger.Warnf("attempt %d/%d failed, retry in %s: %v", task.attempt, task.policy.MaxAttempts, wait, err)
	r.retries[task.idx] = task
	task.timer = time.AfterFunc(wait, func() {
		r.retryFire(task)
	})
	r.mu.Unlock()
}

// retryFire hands the next attempt back to the pool unless the run stopped meanwhile.
func (r *dagRun) retryFire(task *nodeTask) {
	r.mu.Lock()
	if r.retries[task.idx] != task {
		// already collected by cancelRun or an abort
		r.mu.Unlock()
		return
	}
	delete(r.retries, task.idx)
	stopped := r.cancelled || r.aborted
	r.mu.Unlock()

	if stopped {
		r.complete(task.idx, nil, task.attempt, task.lastErr)
		return
	}
	r.submit(task.node, func() {
		r.attempt(task)
	})
}

type invokeResult struct {
	output any
	err    error
}

// invoke runs the transform once. A panic turns into a FatalError, a node
// timeout into a recoverable error.
func (r *dagRun) invoke(fc *flowContext, node *types.TaskNode, input types.Data) (any, error) {
	defer fc.close()

	ch := make(chan invokeResult, 1)
	go func() {
		var res invokeResult
		defer func() {
			if p := recover(); p != nil {
				res = invokeResult{err: types.NewFatalError(fmt.Errorf("panic on %s: %v", node.Name, p))}
			}
			ch <- res
		}()
		res.output, res.err = node.Transform.Run(fc, input.Clone())
	}()

	select {
	case res := <-ch:
		return res.output, res.err
	case <-fc.Done():
		return nil, errors.Timeoutf("node %s after %s", node.Name, node.Timeout)
	}
}
