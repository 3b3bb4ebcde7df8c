package formatter

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/artpar/querykit/core/schema"
)

// JSONFormatter formats output as JSON.
type JSONFormatter struct{}

// NewJSONFormatter creates a new JSON formatter.
func NewJSONFormatter() *JSONFormatter {
	return &JSONFormatter{}
}

// Name returns the formatter name.
func (f *JSONFormatter) Name() string {
	return "json"
}

// Description returns the formatter description.
func (f *JSONFormatter) Description() string {
	return "JSON output format"
}

// FormatList formats a list of records as JSON.
func (f *JSONFormatter) FormatList(w io.Writer, rt *schema.RecordType, records []map[string]any, opts FormatOptions) error {
	filtered := projectAll(rt, records, opts.Columns)

	output := map[string]any{
		"type":  rt.Name(),
		"count": len(filtered),
		"data":  filtered,
	}

	return f.encode(w, output, opts.Compact)
}

// FormatRecord formats a single record as JSON.
func (f *JSONFormatter) FormatRecord(w io.Writer, rt *schema.RecordType, record map[string]any, opts FormatOptions) error {
	output := map[string]any{
		"type": rt.Name(),
		"data": nil,
	}
	if record != nil {
		output["data"] = project(rt, record, opts.Columns)
	}
	return f.encode(w, output, opts.Compact)
}

// FormatError formats an error as JSON. Validation errors carry their
// field errors.
func (f *JSONFormatter) FormatError(w io.Writer, err error) error {
	return f.encode(w, errorDocument(err), false)
}

// encode writes JSON to the writer.
func (f *JSONFormatter) encode(w io.Writer, data any, compact bool) error {
	encoder := json.NewEncoder(w)
	if !compact {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(data)
}

func init() {
	if err := Register(NewJSONFormatter()); err != nil {
		fmt.Printf("failed to register json formatter: %v\n", err)
	}
}
