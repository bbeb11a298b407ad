// Package schema validates task records against the strict tasks collection schema.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/starford/taskloader/internal/models"
)

// TaskSchema is the JSON schema every task must satisfy. Exactly the four
// record fields are allowed.
const TaskSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"id":          {"type": "string", "minLength": 1},
		"title":       {"type": "string"},
		"frontmatter": true,
		"content":     {"type": "string"}
	},
	"required": ["id", "title", "frontmatter", "content"],
	"additionalProperties": false
}`

// ErrInvalidRecord is wrapped by every ValidationError.
var ErrInvalidRecord = errors.New("invalid task record")

// Issue is a single schema violation.
type Issue struct {
	Location string
	Message  string
}

// ValidationError lists the schema violations of one record.
type ValidationError struct {
	ID     string
	Issues []Issue
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		loc := issue.Location
		if loc == "" {
			loc = "#"
		}
		parts = append(parts, fmt.Sprintf("%s: %s", loc, issue.Message))
	}
	return fmt.Sprintf("%s %q: %s", ErrInvalidRecord, e.ID, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrInvalidRecord }

// Validator checks records before they are written to a store.
type Validator interface {
	Validate(t models.Task) error
}

// JSONSchema validates tasks with a compiled JSON schema.
type JSONSchema struct {
	schema *jsonschema.Schema
}

// New compiles TaskSchema.
func New() (*JSONSchema, error) {
	return Compile(TaskSchema)
}

// Compile compiles an arbitrary task schema document.
func Compile(doc string) (*JSONSchema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource("task.json", strings.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("schema: add resource: %w", err)
	}
	s, err := compiler.Compile("task.json")
	if err != nil {
		return nil, fmt.Errorf("schema: compile: %w", err)
	}
	return &JSONSchema{schema: s}, nil
}

// Validate checks t against the compiled schema.
func (v *JSONSchema) Validate(t models.Task) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("schema: encode %s: %w", t.ID, err)
	}
	return v.ValidateJSON(t.ID, raw)
}

// ValidateJSON checks an encoded record. id is only used for error messages.
func (v *JSONSchema) ValidateJSON(id string, raw []byte) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("schema: decode %s: %w", id, err)
	}
	if err := v.schema.Validate(doc); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return &ValidationError{ID: id, Issues: collectIssues(verr)}
		}
		return fmt.Errorf("schema: validate %s: %w", id, err)
	}
	return nil
}

func collectIssues(err *jsonschema.ValidationError) []Issue {
	var issues []Issue
	var walk func(*jsonschema.ValidationError)
	walk = func(node *jsonschema.ValidationError) {
		if len(node.Causes) == 0 {
			issues = append(issues, Issue{
				Location: strings.TrimSpace(node.InstanceLocation),
				Message:  strings.TrimSpace(node.Message),
			})
			return
		}
		for _, cause := range node.Causes {
			walk(cause)
		}
	}
	walk(err)
	return issues
}
