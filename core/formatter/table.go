package formatter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"unicode/utf8"

	"github.com/artpar/querykit/core/schema"
)

// TableFormatter renders records as aligned columns and single records
// as label/value pairs.
type TableFormatter struct{}

// NewTableFormatter creates a new table formatter.
func NewTableFormatter() *TableFormatter {
	return &TableFormatter{}
}

func (f *TableFormatter) Name() string        { return "table" }
func (f *TableFormatter) Description() string { return "Aligned text table output" }

// FormatList writes one row per record under an upper-case header.
func (f *TableFormatter) FormatList(w io.Writer, rt *schema.RecordType, records []map[string]any, opts FormatOptions) error {
	if len(records) == 0 {
		fmt.Fprintln(w, "No records found.")
		return nil
	}

	columns := opts.Columns
	if len(columns) == 0 {
		columns = Columns(rt)
	}

	tw := newTabWriter(w)
	if !opts.NoHeader {
		header := make([]string, len(columns))
		for i, col := range columns {
			header[i] = strings.ToUpper(col)
		}
		fmt.Fprintln(tw, strings.Join(header, "\t"))
	}
	cells := make([]string, len(columns))
	for _, record := range records {
		for i, col := range columns {
			cells[i] = f.formatValue(record[col], opts.MaxWidth)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	return tw.Flush()
}

// FormatRecord writes "Label: value" lines. Values are never truncated.
func (f *TableFormatter) FormatRecord(w io.Writer, rt *schema.RecordType, record map[string]any, opts FormatOptions) error {
	if record == nil {
		fmt.Fprintln(w, "Record not found.")
		return nil
	}

	columns := opts.Columns
	if len(columns) == 0 {
		columns = Columns(rt)
	}

	tw := newTabWriter(w)
	for _, col := range columns {
		fmt.Fprintf(tw, "%s:\t%s\n", label(col), f.formatValue(record[col], 0))
	}
	return tw.Flush()
}

// FormatError writes the error. Validation errors list one line per field.
func (f *TableFormatter) FormatError(w io.Writer, err error) error {
	var ve *schema.ValidationError
	if !errors.As(err, &ve) {
		_, werr := fmt.Fprintf(w, "Error: %s\n", err)
		return werr
	}

	fmt.Fprintln(w, "Error: validation failed")
	tw := newTabWriter(w)
	for _, fe := range ve.Errors {
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", fe.Field, fe.Code, fe.Message)
	}
	return tw.Flush()
}

func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

// label turns a snake_case field name into Title Case.
func label(name string) string {
	words := strings.Split(name, "_")
	for i, word := range words {
		if word != "" {
			words[i] = strings.ToUpper(word[:1]) + word[1:]
		}
	}
	return strings.Join(words, " ")
}

// formatValue renders one external value as a cell. An expanded
// reference shows its identity. maxWidth counts runes.
func (f *TableFormatter) formatValue(val any, maxWidth int) string {
	var s string
	switch v := val.(type) {
	case nil:
		return "-"
	case string:
		s = v
	case bool:
		s = "no"
		if v {
			s = "yes"
		}
	case int64:
		s = strconv.FormatInt(v, 10)
	case float64:
		if v == float64(int64(v)) {
			s = strconv.FormatInt(int64(v), 10)
		} else {
			s = strconv.FormatFloat(v, 'f', 2, 64)
		}
	case map[string]any:
		if id, ok := v[schema.FieldID].(string); ok {
			s = id + " (expanded)"
			break
		}
		b, _ := json.Marshal(v)
		s = string(b)
	default:
		b, _ := json.Marshal(v)
		s = string(b)
	}

	if maxWidth > 3 && utf8.RuneCountInString(s) > maxWidth {
		r := []rune(s)
		s = string(r[:maxWidth-3]) + "..."
	}
	return s
}

func init() {
	if err := Register(NewTableFormatter()); err != nil {
		panic(err)
	}
}
