package types

import "time"

type FailurePolicy int

const (
	// FailurePolicyFatal aborts the run when the node ends Failed.
	FailurePolicyFatal FailurePolicy = 0
	// FailurePolicyContinue swallows the failure; consumers see Absent.
	FailurePolicyContinue FailurePolicy = 1
)

func (p FailurePolicy) String() string {
	if p == FailurePolicyContinue {
		return "continue"
	}
	return "fatal"
}

// Transform is the single capability every node kind implements.
type Transform interface {
	Run(ctx Context, input Data) (any, error)
}

type TransformFunc func(ctx Context, input Data) (any, error)

func (f TransformFunc) Run(ctx Context, input Data) (any, error) {
	return f(ctx, input)
}

// AwaitFunc is a transform that spends its time waiting on other DAG runs,
// like dag.invoke. The engine runs it outside the worker pool, the pool
// stays free for the nodes of the runs it waits on.
type AwaitFunc func(ctx Context, input Data) (any, error)

func (f AwaitFunc) Run(ctx Context, input Data) (any, error) {
	return f(ctx, input)
}

func (AwaitFunc) AwaitsRuns() bool { return true }

// AwaitsRuns reports whether t should run outside the worker pool.
func AwaitsRuns(t Transform) bool {
	a, ok := t.(interface{ AwaitsRuns() bool })
	return ok && a.AwaitsRuns()
}

type RetryPolicy struct {
	MaxAttempts int           `default:"1" toml:"max-attempts" yaml:"max_attempts"`
	Backoff     time.Duration `default:"1s" toml:"backoff" yaml:"backoff"`
	MaxBackoff  time.Duration `default:"1m" toml:"max-backoff" yaml:"max_backoff"`
	Multiplier  float64       `default:"2" toml:"multiplier" yaml:"multiplier"`
}

// Permission is a data-store access the node declares it needs.
type Permission struct {
	Actions   []string
	Resources []string
}

type TaskNode struct {
	Name string
	// Function names the transform in a catalog, Transform is the bound one.
	Function  string
	Transform Transform

	// Inputs maps an input slot to a literal or a binding expression.
	Inputs map[string]any

	Retry          *RetryPolicy
	Timeout        time.Duration
	OnFailure      FailurePolicy
	TolerateAbsent bool
	NonIdempotent  bool

	Permissions []Permission
	// Invokes lists DAGs this node calls as downstream functions.
	Invokes []string
}

func (n *TaskNode) IsFatal() bool {
	return n.OnFailure == FailurePolicyFatal
}

// EffectiveRetry returns the retry policy applied to the node.
func (n *TaskNode) EffectiveRetry(def RetryPolicy) RetryPolicy {
	policy := def
	if n.Retry != nil {
		policy = *n.Retry
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if n.NonIdempotent {
		policy.MaxAttempts = 1
	}
	return policy
}

// AbsentValue stands for the output of a non-fatal node that Failed.
type AbsentValue struct {
	Node string
}

func (a AbsentValue) String() string {
	return "<absent:" + a.Node + ">"
}

func Absent(node string) AbsentValue {
	return AbsentValue{Node: node}
}

func IsAbsent(v any) bool {
	_, ok := v.(AbsentValue)
	return ok
}
