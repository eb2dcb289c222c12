package main

import (
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/warriorguo/dagflow/config"
	"github.com/warriorguo/dagflow/definition"
	"github.com/warriorguo/dagflow/types"
)

// generalOptions are shared by every sub command.
type generalOptions struct {
	configPath  string
	dir         string
	environment string
	logLevel    string
}

func (o *generalOptions) addFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&o.configPath, "config", "", "path of the TOML config file")
	cmd.PersistentFlags().StringVar(&o.dir, "dir", "dags", "directory holding the DAG definitions")
	cmd.PersistentFlags().StringVar(&o.environment, "env", "", "target environment, overrides the config file")
	cmd.PersistentFlags().StringVar(&o.logLevel, "log-level", "info", "log level")
}

func (o *generalOptions) setupLogger() error {
	level, err := log.ParseLevel(o.logLevel)
	if err != nil {
		return errors.NotValidf("log level %q", o.logLevel)
	}
	log.SetLevel(level)
	return nil
}

func (o *generalOptions) options() (*types.FlowOptions, error) {
	opts := types.NewFlowOptions()
	if o.configPath != "" {
		var err error
		if opts, err = config.Load(o.configPath); err != nil {
			return nil, err
		}
	}
	if o.environment != "" {
		opts.Environment = o.environment
	}
	return opts, nil
}

func (o *generalOptions) definitions() ([]*definition.Definition, error) {
	defs, err := definition.LoadDir(o.dir)
	if err != nil {
		return nil, errors.Annotatef(err, "load definitions from %s", o.dir)
	}
	return defs, nil
}

func newCmdRoot() *cobra.Command {
	o := &generalOptions{}
	cmd := &cobra.Command{
		Use:           "dagflow",
		Short:         "Validate, run and deploy DAG workflows",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return o.setupLogger()
		},
	}
	o.addFlags(cmd)

	cmd.AddCommand(
		newCmdValidate(o),
		newCmdCompile(o),
		newCmdRender(o),
		newCmdRefs(o),
		newCmdRun(o),
	)
	return cmd
}
