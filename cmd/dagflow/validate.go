package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/warriorguo/dagflow"
	"github.com/warriorguo/dagflow/graph"
	"go.uber.org/multierr"
)

type validateOptions struct {
	generalOpts *generalOptions
}

// run checks every active definition and reports all failures together.
func (o *validateOptions) run(cmd *cobra.Command) error {
	defs, err := o.generalOpts.definitions()
	if err != nil {
		return err
	}
	catalog, err := dagflow.NewCatalog(nil)
	if err != nil {
		return err
	}

	var errs error
	for _, def := range defs {
		if !def.Active {
			fmt.Fprintf(cmd.OutOrStdout(), "skip %s (inactive)\n", def.DAG.Name)
			continue
		}
		if err := catalog.Bind(def.DAG); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if err := graph.Validate(def.DAG); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ok   %s\n", def.DAG.Name)
	}
	return errs
}

func newCmdValidate(generalOpts *generalOptions) *cobra.Command {
	o := &validateOptions{generalOpts: generalOpts}
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the DAG definitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd)
		},
	}
}
