package functions

import (
	"github.com/juju/errors"
	"github.com/warriorguo/dagflow/registry"
	"github.com/warriorguo/dagflow/types"
)

const (
	NameIdentity      = "identity"
	NameInvokeDAG     = "dag.invoke"
	NameWriteData     = "filesystem.write_data"
	NameReadData      = "filesystem.read_data"
	NameListDirectory = "filesystem.list_directory"

	// LocalStorageType is the connection type of the filesystem functions,
	// its extra "base_path" roots every path.
	LocalStorageType = "local_storage"

	// InvokeDAGSlot names the DAG a dag.invoke node runs.
	InvokeDAGSlot = "dag"
)

const (
	localStorageBase  = "base_path"
	invokePayloadSlot = "payload"
	fileHookSlot      = "hook"
	filePathSlot      = "path"
	fileDataSlot      = "data"
)

// Builtins returns the node kinds shipped with dagflow by function name.
// engine serves dag.invoke and may be nil when no node calls another DAG.
func Builtins(engine types.FlowEngine) map[string]types.Transform {
	return map[string]types.Transform{
		NameIdentity:      types.TransformFunc(Identity),
		NameInvokeDAG:     InvokeDAG(engine),
		NameWriteData:     types.TransformFunc(WriteData),
		NameReadData:      types.TransformFunc(ReadData),
		NameListDirectory: types.TransformFunc(ListDirectory),
	}
}

// Identity returns its input unchanged.
func Identity(ctx types.Context, input types.Data) (any, error) {
	return input, nil
}

// InvokeDAG runs another registered DAG with input["payload"] and returns
// the outputs of its nodes. A failed downstream run is a recoverable error.
// It runs as an AwaitFunc, so any number of invoking nodes can wait at once
// without starving the child runs of pool workers.
func InvokeDAG(engine types.FlowEngine) types.Transform {
	return types.AwaitFunc(func(ctx types.Context, input types.Data) (any, error) {
		if engine == nil {
			return nil, types.NewFatalErrorf("%s: no engine configured", NameInvokeDAG)
		}
		name, _ := input.GetString(InvokeDAGSlot)
		if name == "" {
			return nil, types.NewFatalErrorf("%s: input %q is required", NameInvokeDAG, InvokeDAGSlot)
		}
		if _, exists := engine.GetDAG(name); !exists {
			return nil, types.NewFatalError(errors.NotFoundf("DAG name: %s", name))
		}

		result, err := engine.RunDAG(ctx, name, input[invokePayloadSlot])
		if err != nil {
			return nil, errors.Trace(err)
		}
		ctx.Logger().Debugf("invoked dag %s as run %s: %s", name, result.RunID, result.Status)
		if err := result.Err(); err != nil {
			return nil, err
		}

		outputs := make(map[string]any, len(result.Nodes))
		for node, nr := range result.Nodes {
			outputs[node] = nr.Output
		}
		return outputs, nil
	})
}

func connectionInput(input types.Data, slot string) (*registry.Connection, error) {
	v, exists := input.Get(slot)
	if !exists {
		return nil, types.NewFatalErrorf("input %q is required", slot)
	}
	conn, ok := v.(*registry.Connection)
	if !ok {
		return nil, types.NewFatalErrorf("input %q is %T, not a connection", slot, v)
	}
	return conn, nil
}
