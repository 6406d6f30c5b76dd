package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/capsule/pkg/capsule"
	cerrors "github.com/randalmurphal/capsule/pkg/capsule/errors"
	"github.com/randalmurphal/capsule/pkg/capsule/event"
	"github.com/randalmurphal/capsule/pkg/capsule/journal"
	"github.com/randalmurphal/capsule/pkg/capsule/object"
)

func classesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "classes [pattern]",
		Short: "List registered and discoverable classes",
		Long: `List class IDs in sorted order. A pattern with *, ? or [ is a glob;
any other pattern is a prefix.`,
		Args: cobra.MaximumNArgs(1),
		RunE: a.withRuntime(func(cmd *cobra.Command, args []string, rt *capsule.Runtime) error {
			if err := rt.Classes().Discover(cmd.Context()); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning:", err)
			}
			pattern := ""
			if len(args) == 1 {
				pattern = args[0]
			}
			for id := range rt.Classes().QueryClassList(pattern) {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		}),
	}
}

func describeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "describe <class>",
		Short: "Show a class record",
		Args:  cobra.ExactArgs(1),
		RunE: a.withRuntime(func(cmd *cobra.Command, args []string, rt *capsule.Runtime) error {
			if err := rt.Classes().Discover(cmd.Context()); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning:", err)
			}
			info, ok := rt.Classes().Describe(args[0])
			if !ok {
				return cerrors.NotFound("describe", args[0])
			}
			out, err := yaml.Marshal(info)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		}),
	}
}

func createCmd(a *app) *cobra.Command {
	var retries int
	cmd := &cobra.Command{
		Use:   "create <class>",
		Short: "Create and release one instance of a class",
		Args:  cobra.ExactArgs(1),
		RunE: a.withRuntime(func(cmd *cobra.Command, args []string, rt *capsule.Runtime) error {
			id := args[0]
			cfg := cerrors.NewRetryConfig(
				cerrors.WithMaxAttempts(retries+1),
				cerrors.WithRetryableFunc(func(err error) bool {
					return errors.Is(err, cerrors.ErrConstructionFailed) || cerrors.IsRetryable(err)
				}),
			)
			res := cerrors.WithRetryContext(cmd.Context(), cfg, func(ctx context.Context) (object.Capability, error) {
				return rt.CreateInstance(ctx, id)
			})
			if res.Err != nil {
				return res.Err
			}
			obj := res.Value
			defer obj.Release()

			names := make([]string, 0)
			for _, in := range object.Interfaces(obj) {
				names = append(names, in.Name+"@"+in.Version.String())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s after %d attempt(s)\nrefcount: %d\ninterfaces: %s\n",
				id, res.Attempts, obj.RefCount(), strings.Join(names, ", "))
			return nil
		}),
	}
	cmd.Flags().IntVar(&retries, "retries", 0, "extra attempts when construction fails")
	return cmd
}

func journalCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect the queue journal",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List undispatched journaled events",
		Args:  cobra.NoArgs,
		PreRunE: func(*cobra.Command, []string) error {
			if a.settings.JournalPath == "" {
				return cerrors.InvalidArgument("journal list", "no journal configured, set journal.path or --journal")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Opened directly: a runtime would recover, and so rewrite, the
			// journal it is asked to list.
			store, err := journal.NewSQLiteStore(a.settings.JournalPath)
			if err != nil {
				return err
			}
			defer store.Close()

			queues, err := store.Queues()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, q := range queues {
				entries, err := store.List(q)
				if err != nil {
					return err
				}
				for _, entry := range entries {
					summary := "undecodable"
					if e, err := event.Unflatten(entry.Data); err == nil {
						summary = fmt.Sprintf("%s id=%s attrs=%d", e.Type(), e.ID(), e.Len())
					}
					fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", q, entry.Seq, entry.Timestamp.Format(time.RFC3339), summary)
				}
			}
			return nil
		},
	})
	return cmd
}

func eventCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "event",
		Short: "Work with flattened events",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "decode <file>",
		Short: "Decode a flattened event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			e, err := event.Unflatten(data)
			if err != nil {
				return err
			}
			printEvent(cmd, e, "")
			return nil
		},
	})
	return cmd
}

func printEvent(cmd *cobra.Command, e *event.Event, indent string) {
	w := cmd.OutOrStdout()
	in := e.Input()
	fmt.Fprintf(w, "%stype: %s\n", indent, e.Type())
	fmt.Fprintf(w, "%scategory: %d/%d\n", indent, e.Category(), e.Subcategory())
	fmt.Fprintf(w, "%sbroadcast: %t\n", indent, e.IsBroadcast())
	fmt.Fprintf(w, "%stime: %d\n", indent, e.Time())
	fmt.Fprintf(w, "%sinput: number=%d button=%d x=%d y=%d modifiers=%d\n",
		indent, in.Number, in.Button, in.X, in.Y, in.Modifiers)
	if e.Len() == 0 {
		return
	}
	fmt.Fprintf(w, "%sattributes:\n", indent)
	for _, name := range e.Names() {
		a, _ := e.Attribute(name)
		switch v := a.Value().(type) {
		case *event.Event:
			fmt.Fprintf(w, "%s  %s (%s):\n", indent, name, a.Kind)
			printEvent(cmd, v, indent+"    ")
		case []byte:
			fmt.Fprintf(w, "%s  %s (%s): %x\n", indent, name, a.Kind, v)
		default:
			fmt.Fprintf(w, "%s  %s (%s): %v\n", indent, name, a.Kind, v)
		}
	}
}
