package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/warriorguo/dagflow"
	"github.com/warriorguo/dagflow/types"
)

type renderOptions struct {
	generalOpts *generalOptions
}

// loadEngine registers the active definitions on an engine. Callers close it.
func loadEngine(generalOpts *generalOptions, opts *types.FlowOptions) (types.FlowEngine, error) {
	defs, err := generalOpts.definitions()
	if err != nil {
		return nil, err
	}
	engine, err := dagflow.NewFlowEngineWithOptions(opts)
	if err != nil {
		return nil, err
	}
	catalog, err := dagflow.NewCatalog(engine)
	if err == nil {
		err = dagflow.RegisterDefinitions(engine, catalog, defs)
	}
	if err != nil {
		engine.Close(context.Background())
		return nil, err
	}
	return engine, nil
}

func (o *renderOptions) run(cmd *cobra.Command, dagName string) error {
	opts, err := o.generalOpts.options()
	if err != nil {
		return err
	}
	// rendering never needs the configured stores
	opts.PostgresConfig, opts.BadgerConfig, opts.DynamoDBConfig = nil, nil, nil

	engine, err := loadEngine(o.generalOpts, opts)
	if err != nil {
		return err
	}
	defer engine.Close(context.Background())

	dot, err := engine.RenderDAG(dagName)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), dot)
	return nil
}

func newCmdRender(generalOpts *generalOptions) *cobra.Command {
	o := &renderOptions{generalOpts: generalOpts}
	return &cobra.Command{
		Use:   "render <dag>",
		Short: "Print the DOT graph of a DAG",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, args[0])
		},
	}
}
