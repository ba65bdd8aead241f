// Package validate turns loosely typed request payloads into typed model values.
//
// Every payload goes through a single strict stage: JSON decoding with unknown
// fields rejected, followed by struct-tag validation. Failures are reported as
// *SchemaError so callers can reject the request before any workflow runs.
package validate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// SchemaError reports a payload that is missing required fields or has the wrong shape.
type SchemaError struct {
	Kind   string
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid %s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s %s", e.Kind, e.Field, e.Reason)
}

// Errorf builds a SchemaError for checks that struct tags cannot express.
func Errorf(kind, field, format string, args ...any) *SchemaError {
	return &SchemaError{Kind: kind, Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsSchemaError reports whether err carries a SchemaError.
func IsSchemaError(err error) bool {
	var target *SchemaError
	return errors.As(err, &target)
}

var structValidator = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Decode strictly decodes raw into dst and validates the result.
// raw may be a map, a struct, json.RawMessage, []byte or a JSON string.
func Decode(kind string, raw any, dst any) error {
	data, err := toJSON(kind, raw)
	if err != nil {
		return err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return translateDecodeError(kind, err)
	}
	if dec.More() {
		return &SchemaError{Kind: kind, Reason: "unexpected trailing data"}
	}
	return Struct(kind, dst)
}

// Struct runs tag validation on an already typed value.
func Struct(kind string, value any) error {
	err := structValidator.Struct(value)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return &SchemaError{Kind: kind, Field: fieldPath(fe.Namespace()), Reason: describe(fe)}
	}
	return &SchemaError{Kind: kind, Reason: err.Error()}
}

func toJSON(kind string, raw any) ([]byte, error) {
	var data []byte
	switch v := raw.(type) {
	case nil:
		return nil, &SchemaError{Kind: kind, Reason: "payload is required"}
	case json.RawMessage:
		data = v
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, &SchemaError{Kind: kind, Reason: fmt.Sprintf("payload is not encodable: %v", err)}
		}
		data = encoded
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, &SchemaError{Kind: kind, Reason: "payload is required"}
	}
	if trimmed[0] != '{' {
		return nil, &SchemaError{Kind: kind, Reason: "payload must be an object"}
	}
	return trimmed, nil
}

func translateDecodeError(kind string, err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return &SchemaError{Kind: kind, Field: typeErr.Field, Reason: fmt.Sprintf("must be %s", typeErr.Type.String())}
	}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return &SchemaError{Kind: kind, Reason: fmt.Sprintf("malformed json at offset %d", syntaxErr.Offset)}
	}

	msg := err.Error()
	if field, ok := strings.CutPrefix(msg, "json: unknown field "); ok {
		return &SchemaError{Kind: kind, Field: strings.Trim(field, `"`), Reason: "is not a known field"}
	}
	return &SchemaError{Kind: kind, Reason: msg}
}

// fieldPath drops the root type name from a validator namespace.
func fieldPath(namespace string) string {
	if idx := strings.Index(namespace, "."); idx >= 0 {
		return namespace[idx+1:]
	}
	return namespace
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	default:
		return "failed " + fe.Tag() + " check"
	}
}
