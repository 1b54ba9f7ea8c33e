// Package validation checks auditor checklist submissions against the
// category-defined checklist schema. The schema itself is an external data
// contract owned by the business category definition; only its presence and
// shape are validated here.
package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ChecklistSchema wraps a compiled JSON Schema for a business category's
// audit checklist.
type ChecklistSchema struct {
	schema   *gojsonschema.Schema
	required []string
}

// CompileChecklistSchema parses and compiles the raw schema document.
func CompileChecklistSchema(raw json.RawMessage) (*ChecklistSchema, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("checklist schema is empty")
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid checklist schema: %w", err)
	}

	// Required question ids are part of the contract shape; pull them out so
	// the empty-answer check can name the offending question.
	var shape struct {
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(raw, &shape); err != nil {
		return nil, fmt.Errorf("invalid checklist schema document: %w", err)
	}

	return &ChecklistSchema{schema: schema, required: shape.Required}, nil
}

// ValidateResponses validates the submitted checklist responses. Every
// required question must carry a non-empty answer in addition to passing the
// schema itself.
func (c *ChecklistSchema) ValidateResponses(responses map[string]interface{}) *ValidationResult {
	errs := []ValidationError{}

	result, err := c.schema.Validate(gojsonschema.NewGoLoader(responses))
	if err != nil {
		errs = append(errs, ValidationError{
			Field:   "",
			Message: err.Error(),
			Code:    "SCHEMA_VALIDATION_FAILED",
		})
		return &ValidationResult{Valid: false, Errors: errs}
	}

	for _, re := range result.Errors() {
		errs = append(errs, ValidationError{
			Field:   re.Field(),
			Message: re.Description(),
			Code:    strings.ToUpper(re.Type()),
		})
	}

	for _, q := range c.required {
		v, ok := responses[q]
		if !ok {
			continue // already reported by the schema
		}
		if isEmptyAnswer(v) {
			errs = append(errs, ValidationError{
				Field:   q,
				Message: "required question has an empty response",
				Code:    "EMPTY_RESPONSE",
			})
		}
	}

	return &ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

func isEmptyAnswer(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []interface{}:
		return len(t) == 0
	case map[string]interface{}:
		return len(t) == 0
	default:
		return false
	}
}

// ErrorSummary flattens validation errors into a single details string.
func (r *ValidationResult) ErrorSummary() string {
	if r.Valid {
		return ""
	}
	parts := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		if e.Field != "" {
			parts = append(parts, fmt.Sprintf("%s: %s", e.Field, e.Message))
		} else {
			parts = append(parts, e.Message)
		}
	}
	return strings.Join(parts, "; ")
}
