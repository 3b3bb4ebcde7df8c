package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/artpar/querykit/bootstrap"
	"github.com/artpar/querykit/core/formatter"
	"github.com/artpar/querykit/core/manager"
	"github.com/artpar/querykit/core/query"
	"github.com/artpar/querykit/core/schema"
)

// reportedError is an error already written to stderr by a formatter.
type reportedError struct {
	error
}

func (e reportedError) Unwrap() error { return e.error }

func (c *cli) newCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "create <type>",
		Short:   "Validate and store a new record",
		Example: `  querykit create user --data '{"email":"ada@example.com","name":"Ada"}'`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, m, err := c.manager(cmd, args[0])
			if err != nil {
				return err
			}
			data, err := dataFlag(cmd)
			if err != nil {
				return err
			}

			rec, err := m.Create(cmd.Context(), data)
			if err != nil {
				return formatError(cmd, err)
			}
			return formatRecord(cmd, app, m.Type(), rec)
		},
	}

	addDataFlag(cmd)
	addOutputFlags(cmd)
	return cmd
}

func (c *cli) newUpdateCmd(use, short string, partial bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use + " <type> <id>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, m, err := c.manager(cmd, args[0])
			if err != nil {
				return err
			}
			data, err := dataFlag(cmd)
			if err != nil {
				return err
			}

			var rec schema.Record
			if partial {
				rec, err = m.Patch(cmd.Context(), args[1], data)
			} else {
				rec, err = m.Update(cmd.Context(), args[1], data)
			}
			if err != nil {
				return formatError(cmd, err)
			}
			return formatRecord(cmd, app, m.Type(), rec)
		},
	}

	addDataFlag(cmd)
	addOutputFlags(cmd)
	return cmd
}

func (c *cli) newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <type>",
		Short: "List records matching the filters",
		Example: `  querykit list user --where name__icontains=ad --order -created_at --limit 10
  querykit list post --expand author --output json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, m, err := c.manager(cmd, args[0])
			if err != nil {
				return err
			}
			m, err = applyQueryFlags(cmd, m)
			if err != nil {
				return err
			}

			var records []schema.Record
			for rec, err := range m.All(cmd.Context()) {
				if err != nil {
					return formatError(cmd, err)
				}
				records = append(records, rec)
			}
			return formatList(cmd, app, m.Type(), records)
		},
	}

	addQueryFlags(cmd)
	cmd.Flags().StringArray("order", nil, "Sort field, prefix with - for descending (repeatable)")
	cmd.Flags().IntP("limit", "l", 0, "Maximum number of records (0 = no limit)")
	addOutputFlags(cmd)
	return cmd
}

func (c *cli) newGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "get <type>",
		Short:   "Fetch exactly one record",
		Example: `  querykit get user --where email=ada@example.com`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, m, err := c.manager(cmd, args[0])
			if err != nil {
				return err
			}
			m, err = applyQueryFlags(cmd, m)
			if err != nil {
				return err
			}

			rec, err := m.Get(cmd.Context())
			if err != nil {
				return formatError(cmd, err)
			}
			return formatRecord(cmd, app, m.Type(), rec)
		},
	}

	addQueryFlags(cmd)
	addOutputFlags(cmd)
	return cmd
}

func (c *cli) newCountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "count <type>",
		Short: "Count records matching the filters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, m, err := c.manager(cmd, args[0])
			if err != nil {
				return err
			}
			m, err = applyQueryFlags(cmd, m)
			if err != nil {
				return err
			}

			n, err := m.Count(cmd.Context())
			if err != nil {
				return formatError(cmd, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}

	addQueryFlags(cmd)
	return cmd
}

func (c *cli) manager(cmd *cobra.Command, typeName string) (*bootstrap.App, manager.Manager, error) {
	app, err := c.open(cmd, nil)
	if err != nil {
		return nil, manager.Manager{}, err
	}
	m, err := app.Manager(typeName)
	if err != nil {
		return nil, manager.Manager{}, err
	}
	return app, m, nil
}

func addDataFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("data", "d", "", "Record fields as a JSON object (required)")
	cmd.MarkFlagRequired("data")
}

// dataFlag decodes --data. Numbers keep their literal text so decimal
// fields lose no precision.
func dataFlag(cmd *cobra.Command) (map[string]any, error) {
	raw, _ := cmd.Flags().GetString("data")

	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()

	var data map[string]any
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("--data must be a JSON object: %w", err)
	}
	if data == nil {
		return nil, fmt.Errorf("--data must be a JSON object")
	}
	return data, nil
}

func addQueryFlags(cmd *cobra.Command) {
	cmd.Flags().StringArrayP("where", "w", nil, "Keep records matching field[__op]=value (repeatable)")
	cmd.Flags().StringArrayP("exclude", "x", nil, "Drop records matching field[__op]=value (repeatable)")
}

// applyQueryFlags chains the filter, exclude, order and limit flags
// onto m. Nothing reaches the store here.
func applyQueryFlags(cmd *cobra.Command, m manager.Manager) (manager.Manager, error) {
	where, _ := cmd.Flags().GetStringArray("where")
	for _, expr := range where {
		p, err := query.ParseLookup(expr)
		if err != nil {
			return m, err
		}
		m = m.Filter(p)
	}

	exclude, _ := cmd.Flags().GetStringArray("exclude")
	for _, expr := range exclude {
		p, err := query.ParseLookup(expr)
		if err != nil {
			return m, err
		}
		m = m.Exclude(p)
	}

	if cmd.Flags().Lookup("order") != nil {
		order, _ := cmd.Flags().GetStringArray("order")
		for _, o := range order {
			if field, ok := strings.CutPrefix(o, "-"); ok {
				m = m.OrderBy(field, query.Desc)
			} else {
				m = m.OrderBy(o, query.Asc)
			}
		}
	}

	if cmd.Flags().Changed("limit") {
		n, _ := cmd.Flags().GetInt("limit")
		m = m.Limit(n)
	}
	return m, nil
}

// addOutputFlags adds common output format flags to a command.
func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("output", "O", "table", "Output format: "+strings.Join(formatter.List(), ", "))
	cmd.Flags().Bool("no-header", false, "Disable header row (table format)")
	cmd.Flags().Bool("compact", false, "Compact output (json/yaml)")
	cmd.Flags().StringArray("expand", nil, "Inline the record a reference field points to (repeatable)")
	cmd.Flags().StringSlice("columns", nil, "Columns to show (default: all external fields)")

	// Reject an unknown format before anything is written.
	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		_, err := outputFormatter(cmd)
		return err
	}
}

// outputFormatter resolves --output.
func outputFormatter(cmd *cobra.Command) (formatter.Formatter, error) {
	name, _ := cmd.Flags().GetString("output")
	return formatter.Lookup(name)
}

// getFormatOptions builds format options from command flags.
func getFormatOptions(cmd *cobra.Command) formatter.FormatOptions {
	noHeader, _ := cmd.Flags().GetBool("no-header")
	compact, _ := cmd.Flags().GetBool("compact")
	columns, _ := cmd.Flags().GetStringSlice("columns")

	return formatter.FormatOptions{
		Columns:  columns,
		NoHeader: noHeader,
		Compact:  compact,
		MaxWidth: 40,
	}
}

// serialize renders rec, expanding the reference fields named by --expand.
func serialize(cmd *cobra.Command, app *bootstrap.App, rt *schema.RecordType, rec schema.Record) (map[string]any, error) {
	s := app.Serializer(rt)
	expand, _ := cmd.Flags().GetStringArray("expand")
	if len(expand) == 0 {
		return s.Serialize(rec), nil
	}
	return s.SerializeExpanded(cmd.Context(), rec, expand...)
}

func formatList(cmd *cobra.Command, app *bootstrap.App, rt *schema.RecordType, records []schema.Record) error {
	out := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		ext, err := serialize(cmd, app, rt, rec)
		if err != nil {
			return formatError(cmd, err)
		}
		out = append(out, ext)
	}
	f, err := outputFormatter(cmd)
	if err != nil {
		return err
	}
	return f.FormatList(cmd.OutOrStdout(), rt, out, getFormatOptions(cmd))
}

func formatRecord(cmd *cobra.Command, app *bootstrap.App, rt *schema.RecordType, rec schema.Record) error {
	ext, err := serialize(cmd, app, rt, rec)
	if err != nil {
		return formatError(cmd, err)
	}
	f, err := outputFormatter(cmd)
	if err != nil {
		return err
	}
	return f.FormatRecord(cmd.OutOrStdout(), rt, ext, getFormatOptions(cmd))
}

// formatError writes err to stderr in the selected format.
func formatError(cmd *cobra.Command, err error) error {
	f, ferr := outputFormatter(cmd)
	if ferr != nil {
		f = formatter.NewTableFormatter()
	}
	f.FormatError(cmd.ErrOrStderr(), err)
	return reportedError{err}
}
