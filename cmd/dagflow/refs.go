package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/warriorguo/dagflow"
	"github.com/warriorguo/dagflow/definition"
	"github.com/warriorguo/dagflow/resolver"
	"github.com/warriorguo/dagflow/store"
	"go.uber.org/multierr"
)

type refsOptions struct {
	generalOpts *generalOptions

	check bool
}

func (o *refsOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&o.check, "check", false, "look every reference up in the configured registry")
}

func (o *refsOptions) run(cmd *cobra.Command) error {
	opts, err := o.generalOpts.options()
	if err != nil {
		return err
	}
	defs, err := o.generalOpts.definitions()
	if err != nil {
		return err
	}
	dags := definition.ActiveDAGs(defs)

	refs, err := resolver.References(dags...)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tNAMESPACE\tKEY\tNODE\tSLOT")
	for _, ref := range refs {
		ns := ref.Namespace
		if ns == "" {
			ns = opts.Environment
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", ref.Kind, ns, ref.Key, ref.Node, ref.Slot)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if !o.check {
		return nil
	}

	ctx := context.Background()
	s, err := dagflow.NewStore(ctx, opts)
	if err != nil {
		return err
	}
	reg, err := dagflow.NewRegistry(ctx, opts, s)
	if err != nil {
		return multierr.Append(err, store.Close(s))
	}
	err = resolver.CheckReferences(ctx, reg, opts.Environment, dags...)
	return multierr.Append(err, store.Close(s))
}

func newCmdRefs(generalOpts *generalOptions) *cobra.Command {
	o := &refsOptions{generalOpts: generalOpts}
	cmd := &cobra.Command{
		Use:   "refs",
		Short: "List the connections and variables the active DAGs read",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd)
		},
	}
	o.addFlags(cmd)
	return cmd
}
