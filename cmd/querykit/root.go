package main

import (
	"context"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/artpar/querykit/bootstrap"
	"github.com/artpar/querykit/config"
	"github.com/artpar/querykit/core/events"
)

// cli holds state shared by the commands of one invocation.
type cli struct {
	cfgFile string
	app     *bootstrap.App
}

// run executes one invocation with args and releases the application
// afterwards, whether or not the command failed.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	c := &cli{}
	root := c.newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if cerr := c.close(); err == nil {
		err = cerr
	}
	return err
}

func (c *cli) newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "querykit",
		Short: "Declarative record types with lazy queries and validation",
		Long: `querykit stores records of declaratively defined types and queries
them with composable filters.

Record types are YAML files in the schema directory:

  type: user
  fields:
    - { name: email, kind: email, required: true, unique: true }
    - { name: name,  kind: string, required: true, normalize: [trim] }

Examples:
  querykit schema validate
  querykit create user --data '{"email":"ada@example.com","name":"Ada"}'
  querykit list user --where name__icontains=ad --order -created_at --limit 10
  querykit count user --exclude is_active=false`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&c.cfgFile, "config", "c", "querykit.yaml", "config file path")

	root.AddCommand(
		newVersionCmd(),
		c.newSchemaCmd(),
		c.newCreateCmd(),
		c.newUpdateCmd("update", "Replace the fields of a record", false),
		c.newUpdateCmd("patch", "Change some fields of a record", true),
		c.newListCmd(),
		c.newGetCmd(),
		c.newCountCmd(),
	)
	return root
}

// loadConfig reads the config file, or the environment when the file
// does not exist.
func (c *cli) loadConfig() (*config.Config, error) {
	return config.LoadWithFallback(c.cfgFile)
}

// open wires the application once per invocation. Record writes are
// logged through the event bus.
func (c *cli) open(cmd *cobra.Command, override func(*config.Config)) (*bootstrap.App, error) {
	if c.app != nil {
		return c.app, nil
	}

	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	if override != nil {
		override(cfg)
	}

	logger := bootstrap.NewLogger(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
	app, err := bootstrap.New(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, err
	}
	app.Events.Subscribe("*", logEvents(logger))

	c.app = app
	return app, nil
}

func (c *cli) close() error {
	if c.app == nil {
		return nil
	}
	err := c.app.Close()
	c.app = nil
	return err
}

// logEvents logs every record write.
func logEvents(logger zerolog.Logger) events.Handler {
	return func(ctx context.Context, e events.Event) error {
		logger.Info().
			Str("event", e.Name).
			Str("action", e.Action).
			Str("record_id", e.RecordID).
			Msg("record written")
		return nil
	}
}
