package main

import (
	"fmt"

	"github.com/juju/errors"
	"github.com/spf13/cobra"
	"github.com/warriorguo/dagflow/compiler"
	"github.com/warriorguo/dagflow/compiler/sam"
	"github.com/warriorguo/dagflow/definition"
)

type compileOptions struct {
	generalOpts *generalOptions

	platform string
	outDir   string
}

func (o *compileOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.platform, "platform", sam.Platform, "deployment target")
	cmd.Flags().StringVar(&o.outDir, "out", "build", "directory the artifacts are written to")
}

func schemaOf(platform string) (compiler.Schema, error) {
	switch platform {
	case sam.Platform:
		return sam.New(), nil
	}
	return nil, errors.NotSupportedf("platform %s", platform)
}

func (o *compileOptions) run(cmd *cobra.Command) error {
	schema, err := schemaOf(o.platform)
	if err != nil {
		return err
	}
	opts, err := o.generalOpts.options()
	if err != nil {
		return err
	}
	defs, err := o.generalOpts.definitions()
	if err != nil {
		return err
	}

	set, err := compiler.New(opts).CompileProject(definition.ActiveDAGs(defs), schema)
	if err != nil {
		return err
	}
	if err := set.Write(o.outDir); err != nil {
		return err
	}
	for _, unit := range set.Units {
		fmt.Fprintf(cmd.OutOrStdout(), "compiled %s as %s\n", unit.DAG, unit.FunctionName)
	}
	return nil
}

func newCmdCompile(generalOpts *generalOptions) *cobra.Command {
	o := &compileOptions{generalOpts: generalOpts}
	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile the active DAGs into deployment artifacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd)
		},
	}
	o.addFlags(cmd)
	return cmd
}
