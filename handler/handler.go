package handler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/warriorguo/dagflow/types"
)

/**
 * Handler is the entry point of one deployed DAG. The platform passes the
 * raw trigger payload, the handler runs the DAG to completion and tells the
 * platform whether a redelivery could help.
 */
type Handler struct {
	engine  types.FlowEngine
	dagName string
}

type Response struct {
	RunID   string         `json:"run_id"`
	DAG     string         `json:"dag"`
	Status  string         `json:"status"`
	Outputs map[string]any `json:"outputs,omitempty"`
}

// InvokeError is returned for runs that did not succeed. Retryable asks the
// platform to redeliver the event.
type InvokeError struct {
	Retryable bool
	Result    *types.RunResult
	Err       error
}

func (e *InvokeError) Error() string {
	kind := "permanent"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("%s failure: %v", kind, e.Err)
}

func (e *InvokeError) Unwrap() error {
	return e.Err
}

func New(engine types.FlowEngine, dagName string) *Handler {
	return &Handler{engine: engine, dagName: dagName}
}

// Invoke decodes payload as JSON, an empty payload runs with a nil trigger.
func (h *Handler) Invoke(ctx context.Context, payload []byte) (*Response, error) {
	var event any
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, &InvokeError{Err: errors.BadRequestf("payload of dag %s is not json: %v", h.dagName, err)}
		}
	}

	result, err := h.engine.RunDAG(ctx, h.dagName, event)
	if err != nil {
		return nil, &InvokeError{Err: errors.Trace(err)}
	}

	resp := &Response{RunID: result.RunID, DAG: result.DAG, Status: result.Status.String()}
	if result.Status == types.Succeeded {
		resp.Outputs = make(map[string]any, len(result.Nodes))
		for name, nr := range result.Nodes {
			if nr.Status == types.Succeeded {
				resp.Outputs[name] = nr.Output
			}
		}
		return resp, nil
	}

	ie := &InvokeError{Retryable: retryable(result), Result: result, Err: result.Err()}
	log.WithFields(log.Fields{
		"dag":       h.dagName,
		"run":       result.RunID,
		"retryable": ie.Retryable,
	}).Warnf("run ended %s", result.Status)
	return resp, ie
}

// retryable reports whether running the same event again may succeed.
// Cancelled runs and recoverable errors that ran out of attempts qualify,
// fatal, resolution and validation failures do not.
func retryable(result *types.RunResult) bool {
	switch result.Status {
	case types.Cancelled:
		return true
	case types.Failed:
	default:
		return false
	}
	nr := result.Node(result.FirstFatal)
	if nr == nil || nr.Error == nil {
		return false
	}
	err := nr.Error
	return !types.IsFatal(err) && !types.IsResolutionError(err) && !types.IsValidationError(err)
}
