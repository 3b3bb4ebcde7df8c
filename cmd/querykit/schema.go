package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/artpar/querykit/bootstrap"
	"github.com/artpar/querykit/config"
	"github.com/artpar/querykit/core/registry"
	"github.com/artpar/querykit/core/schema"
)

const (
	checkMark = "✓"
	crossMark = "✗"
)

func (c *cli) newSchemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect record type definitions",
	}
	cmd.AddCommand(c.newSchemaValidateCmd(), c.newSchemaWatchCmd())
	return cmd
}

func (c *cli) newSchemaValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [dir]",
		Short: "Check record type definitions without touching the store",
		Long: `Parse every YAML definition in the schema directory.

Checks:
  - YAML syntax and known keys
  - Field kinds, normalizers and constraints
  - Duplicate type names
  - Reference fields point to defined types`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := c.schemaDir(args)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Validating %s...\n\n", dir)

			types, err := schema.ParseDir(dir)
			if err != nil {
				fmt.Fprintf(w, "  %s Definitions parse\n", crossMark)
				return err
			}
			fmt.Fprintf(w, "  %s Definitions parse\n", checkMark)

			reg, err := registry.New(types...)
			if err == nil {
				err = reg.Validate()
			}
			if err != nil {
				fmt.Fprintf(w, "  %s References resolve\n", crossMark)
				return err
			}
			fmt.Fprintf(w, "  %s References resolve\n\n", checkMark)

			printTypes(w, reg.List())
			fmt.Fprintf(w, "\n%d record types valid.\n", reg.Len())
			return nil
		},
	}
}

func (c *cli) newSchemaWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [dir]",
		Short: "Reload record types whenever definition files change",
		Long: `Watch the schema directory and re-register record types on change.
Tables gain columns for new fields. A broken definition is reported and
the previous types stay active.

The config file is watched too; validation.strict and logging.level
apply without restart. SIGHUP forces a config reload.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := c.schemaDir(args)
			if err != nil {
				return err
			}
			app, err := c.open(cmd, func(cfg *config.Config) { cfg.Schema.Dir = dir })
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			settle, _ := cmd.Flags().GetDuration("settle")
			return watchSchemas(ctx, cmd, app, c.cfgFile, settle)
		},
	}

	cmd.Flags().Duration("settle", 200*time.Millisecond, "Wait this long after the last change before reloading")
	return cmd
}

// watchSchemas blocks until ctx is done.
func watchSchemas(ctx context.Context, cmd *cobra.Command, app *bootstrap.App, cfgFile string, settle time.Duration) error {
	w := cmd.OutOrStdout()
	printTypes(w, app.Registry.List())

	watcher := bootstrap.NewSchemaWatcher(app, settle)
	watcher.OnReload(func(err error) {
		if err != nil {
			fmt.Fprintf(w, "%s reload failed: %v\n", crossMark, err)
			return
		}
		fmt.Fprintf(w, "%s reloaded %d record types\n", checkMark, app.Registry.Len())
	})
	if err := watcher.Start(ctx); err != nil {
		return err
	}
	defer watcher.Stop()

	if _, err := os.Stat(cfgFile); err == nil {
		holder, err := config.NewHolder(cfgFile, app.Logger)
		if err != nil {
			return err
		}
		holder.OnChange(app.ApplyConfig)
		if err := holder.WatchFile(); err != nil {
			return err
		}
		holder.WatchSignals()
		defer holder.Stop()
	}

	<-ctx.Done()
	return nil
}

// schemaDir is the positional directory, or schema.dir from config.
func (c *cli) schemaDir(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	cfg, err := c.loadConfig()
	if err != nil {
		return "", err
	}
	return cfg.Schema.Dir, nil
}

func printTypes(w io.Writer, types []*schema.RecordType) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tFIELDS\tREFERENCES")
	for _, rt := range types {
		refs := 0
		for _, f := range rt.Fields() {
			if f.Kind == schema.KindReference {
				refs++
			}
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\n", rt.Name(), len(rt.Fields()), refs)
	}
	tw.Flush()
}
