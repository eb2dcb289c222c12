package types

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

type FlowEngine interface {
	// RegisterDAG validates the DAG and makes it runnable by name.
	RegisterDAG(dag *DAG) error
	GetDAG(name string) (*DAG, bool)
	ListDAGNames() ([]string, error)
	/**
	 * RenderDAG will return the DOT string that generate by the DAG given the name.
	 * If error is not nil, then it indicates error happened.
	 */
	RenderDAG(name string) (string, error)

	// RunDAG blocks until the run reaches a terminal state.
	RunDAG(ctx context.Context, dagName string, payload any) (*RunResult, error)
	// StartDAG launches a run and returns its ID immediately.
	StartDAG(ctx context.Context, dagName string, payload any) (string, error)
	WaitRun(ctx context.Context, runID string) (*RunResult, error)

	GetRunStatus(ctx context.Context, runID string) (*RunResult, error)
	RenderRun(ctx context.Context, runID string) (string, error)
	/**
	 * CancelRun stops scheduling nodes that have not started yet.
	 * In-flight nodes finish, their results are discarded.
	 */
	CancelRun(ctx context.Context, runID string) error

	/**
	 * close the flowengine, cancel all ongoing runs and wait for in-flight nodes.
	 */
	Close(ctx context.Context) error
}

type NodeResult struct {
	Node      string
	Status    StatusType
	Output    any
	Error     error
	Attempts  int
	StartTime time.Time
	EndTime   time.Time
}

type RunResult struct {
	RunID   string
	DAG     string
	Payload any
	Status  StatusType
	// FirstFatal is the first node with a fatal policy that ended Failed.
	FirstFatal string
	Nodes      map[string]*NodeResult
	StartTime  time.Time
	EndTime    time.Time
}

func (r *RunResult) Node(name string) *NodeResult {
	return r.Nodes[name]
}

// Err returns nil on success, otherwise a *RunError with the full table.
func (r *RunResult) Err() error {
	if r.Status == Succeeded {
		return nil
	}
	return &RunError{Result: r}
}

// Table renders every node's status, attempts and error, sorted by name.
func (r *RunResult) Table() string {
	names := make([]string, 0, len(r.Nodes))
	for name := range r.Nodes {
		names = append(names, name)
	}
	sort.Strings(names)

	sb := &strings.Builder{}
	fmt.Fprintf(sb, "%-24s %-10s %-8s %s\n", "NODE", "STATUS", "ATTEMPTS", "ERROR")
	for _, name := range names {
		nr := r.Nodes[name]
		errMsg := ""
		if nr.Error != nil {
			errMsg = nr.Error.Error()
		}
		fmt.Fprintf(sb, "%-24s %-10s %-8d %s\n", name, nr.Status, nr.Attempts, errMsg)
	}
	return sb.String()
}
