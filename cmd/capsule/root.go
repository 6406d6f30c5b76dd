package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/capsule/pkg/capsule"
	"github.com/randalmurphal/capsule/pkg/capsule/config"
)

// app carries state shared by the subcommands.
type app struct {
	cfgPath  string
	settings config.Settings
}

type runtimeFunc func(cmd *cobra.Command, args []string, rt *capsule.Runtime) error

// withRuntime builds a runtime for one command and closes it afterwards,
// whether or not the command failed.
func (a *app) withRuntime(fn runtimeFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		rt, err := capsule.New(cmd.Context(),
			capsule.WithSettings(a.settings),
			capsule.WithLogger(capsule.NewLogger(cmd.ErrOrStderr(), a.settings.LogLevel)),
		)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := rt.Close(cmd.Context()); err == nil {
				err = cerr
			}
		}()
		return fn(cmd, args, rt)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "capsule",
		Short: "Inspect capsule classes, journals and events",
		Long: `capsule inspects a component runtime.

List classes:        capsule classes [pattern]
Describe a class:    capsule describe <class>
Create an instance:  capsule create <class> --retries 2
List the journal:    capsule journal list
Decode an event:     capsule event decode <file>

Settings come from capsule.yaml (or --config), CAPSULE_* environment
variables and flags.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Context() == nil {
				cmd.SetContext(context.Background())
			}
			s, err := loadSettings(a.cfgPath, cmd.Flags())
			if err != nil {
				return err
			}
			a.settings = s
			return nil
		},
	}

	root.PersistentFlags().StringVar(&a.cfgPath, "config", "", "config file (default ./capsule.yaml or ~/.config/capsule/capsule.yaml)")
	root.PersistentFlags().StringSlice("plugin-path", nil, "plugin search path, repeatable")
	root.PersistentFlags().String("journal", "", "queue journal database")
	root.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		classesCmd(a),
		describeCmd(a),
		createCmd(a),
		journalCmd(a),
		eventCmd(),
	)
	return root
}
