package formatter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/artpar/querykit/core/manager"
	"github.com/artpar/querykit/core/schema"
)

// JSONAPIFormatter renders records as JSON:API documents. Reference
// fields become relationships; expanded references are also listed
// under "included".
type JSONAPIFormatter struct{}

// NewJSONAPIFormatter creates a new JSON:API formatter.
func NewJSONAPIFormatter() *JSONAPIFormatter {
	return &JSONAPIFormatter{}
}

// Name returns the formatter name.
func (f *JSONAPIFormatter) Name() string {
	return "jsonapi"
}

// Description returns the formatter description.
func (f *JSONAPIFormatter) Description() string {
	return "JSON:API document (application/vnd.api+json)"
}

// Document is a JSON:API top-level document.
type Document struct {
	Data     any            `json:"data"`
	Errors   []APIError     `json:"errors,omitempty"`
	Meta     map[string]any `json:"meta,omitempty"`
	Included []Resource     `json:"included,omitempty"`
}

// Resource is a JSON:API resource object.
type Resource struct {
	Type          string                  `json:"type"`
	ID            string                  `json:"id"`
	Attributes    map[string]any          `json:"attributes,omitempty"`
	Relationships map[string]Relationship `json:"relationships,omitempty"`
}

// ResourceIdentifier is a resource linkage.
type ResourceIdentifier struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Relationship links a resource to another. Data is nil for an empty
// reference.
type Relationship struct {
	Data *ResourceIdentifier `json:"data"`
}

// APIError is a JSON:API error object.
type APIError struct {
	Status string       `json:"status"`
	Code   string       `json:"code"`
	Title  string       `json:"title"`
	Detail string       `json:"detail,omitempty"`
	Source *ErrorSource `json:"source,omitempty"`
}

// ErrorSource points at the member that caused an error.
type ErrorSource struct {
	Pointer string `json:"pointer,omitempty"`
}

// FormatList formats records as a collection document.
func (f *JSONAPIFormatter) FormatList(w io.Writer, rt *schema.RecordType, records []map[string]any, opts FormatOptions) error {
	resources := make([]Resource, 0, len(records))
	var included []Resource
	for _, record := range records {
		r, inc := resource(rt, project(rt, record, opts.Columns))
		resources = append(resources, r)
		included = append(included, inc...)
	}

	doc := Document{
		Data:     resources,
		Meta:     map[string]any{"count": len(resources)},
		Included: dedupe(included),
	}
	return f.encode(w, doc, opts.Compact)
}

// FormatRecord formats one record as a single resource document.
func (f *JSONAPIFormatter) FormatRecord(w io.Writer, rt *schema.RecordType, record map[string]any, opts FormatOptions) error {
	doc := Document{}
	if record != nil {
		r, inc := resource(rt, project(rt, record, opts.Columns))
		doc.Data = r
		doc.Included = dedupe(inc)
	}
	return f.encode(w, doc, opts.Compact)
}

// FormatError formats err as an error document. Validation errors
// yield one error object per field error.
func (f *JSONAPIFormatter) FormatError(w io.Writer, err error) error {
	return f.encode(w, Document{Errors: apiErrors(err)}, false)
}

func (f *JSONAPIFormatter) encode(w io.Writer, doc Document, compact bool) error {
	encoder := json.NewEncoder(w)
	if !compact {
		encoder.SetIndent("", "  ")
	}
	if doc.Errors != nil {
		// Errors and data are mutually exclusive.
		return encoder.Encode(struct {
			Errors []APIError `json:"errors"`
		}{doc.Errors})
	}
	return encoder.Encode(doc)
}

// resource splits a serialized record into attributes and relationships.
func resource(rt *schema.RecordType, record map[string]any) (Resource, []Resource) {
	id, _ := record[schema.FieldID].(string)
	r := Resource{Type: rt.Name(), ID: id, Attributes: make(map[string]any)}

	var included []Resource
	for k, v := range record {
		if k == schema.FieldID {
			continue
		}
		f, ok := rt.Field(k)
		if !ok || f.Kind != schema.KindReference {
			r.Attributes[k] = v
			continue
		}

		if r.Relationships == nil {
			r.Relationships = make(map[string]Relationship)
		}
		switch ref := v.(type) {
		case string:
			r.Relationships[k] = Relationship{Data: &ResourceIdentifier{Type: f.To, ID: ref}}
		case map[string]any:
			// Expanded reference. Its fields are not checked against
			// the target type, so every member is an attribute.
			refID, _ := ref[schema.FieldID].(string)
			r.Relationships[k] = Relationship{Data: &ResourceIdentifier{Type: f.To, ID: refID}}
			inc := Resource{Type: f.To, ID: refID, Attributes: make(map[string]any)}
			for rk, rv := range ref {
				if rk != schema.FieldID {
					inc.Attributes[rk] = rv
				}
			}
			included = append(included, inc)
		default:
			r.Relationships[k] = Relationship{}
		}
	}
	return r, included
}

// dedupe drops repeated included resources, keeping the first, and
// sorts by type and identity.
func dedupe(resources []Resource) []Resource {
	if len(resources) == 0 {
		return nil
	}
	seen := make(map[ResourceIdentifier]bool, len(resources))
	out := resources[:0:0]
	for _, r := range resources {
		key := ResourceIdentifier{Type: r.Type, ID: r.ID}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// apiErrors maps err to error objects with HTTP-style statuses.
func apiErrors(err error) []APIError {
	var ve *schema.ValidationError
	if errors.As(err, &ve) {
		out := make([]APIError, 0, len(ve.Errors))
		for _, fe := range ve.Errors {
			out = append(out, APIError{
				Status: "422",
				Code:   string(fe.Code),
				Title:  "Validation Failed",
				Detail: fmt.Sprintf("%s %s", fe.Field, fe.Message),
				Source: &ErrorSource{Pointer: "/data/attributes/" + fe.Field},
			})
		}
		return out
	}

	outcome := manager.Outcome(err)
	status, title := 500, "Internal Error"
	switch outcome {
	case manager.OutcomeInvalidQuery:
		status, title = 400, "Bad Request"
	case manager.OutcomeNotFound:
		status, title = 404, "Not Found"
	case manager.OutcomeMultiple:
		status, title = 409, "Multiple Results"
	case manager.OutcomeConflict:
		status, title = 409, "Conflict"
	}
	return []APIError{{
		Status: strconv.Itoa(status),
		Code:   outcome,
		Title:  title,
		Detail: err.Error(),
	}}
}

func init() {
	if err := Register(NewJSONAPIFormatter()); err != nil {
		fmt.Printf("failed to register jsonapi formatter: %v\n", err)
	}
}
