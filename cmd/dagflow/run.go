package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/warriorguo/dagflow/handler"
)

type runOptions struct {
	generalOpts *generalOptions

	payload string
}

func (o *runOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.payload, "payload", "", "JSON trigger payload")
}

// run executes the DAG the way its deployed function would.
func (o *runOptions) run(cmd *cobra.Command, dagName string) error {
	opts, err := o.generalOpts.options()
	if err != nil {
		return err
	}
	engine, err := loadEngine(o.generalOpts, opts)
	if err != nil {
		return err
	}
	defer engine.Close(context.Background())

	resp, invokeErr := handler.New(engine, dagName).Invoke(cmd.Context(), []byte(o.payload))
	if resp != nil {
		b, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(b))
	}
	return invokeErr
}

func newCmdRun(generalOpts *generalOptions) *cobra.Command {
	o := &runOptions{generalOpts: generalOpts}
	cmd := &cobra.Command{
		Use:   "run <dag>",
		Short: "Run a DAG locally with the builtin functions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, args[0])
		},
	}
	o.addFlags(cmd)
	return cmd
}
