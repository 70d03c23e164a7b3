package engine

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"schemakit/internal/schema"
)

// ValidateRecord checks the payload against the field definitions before any
// SQL is built: unknown fields are rejected, required fields must be present
// on create, and values must match their declared semantic type. Field-format
// validators (email, phone, ...) are a collaborator concern and not applied
// here.
func ValidateRecord(cfg *schema.EntityConfiguration, fields map[string]any, isCreate bool) []FieldError {
	var errs []FieldError

	system := make(map[string]bool, len(schema.SystemColumns))
	for _, c := range schema.SystemColumns {
		system[c] = true
	}

	for name, value := range fields {
		if system[name] || (!isCreate && name == cfg.IDColumn()) {
			// engine-managed columns are stamped by the service, never accepted
			// from the payload; ids are caller-suppliable only on create
			errs = append(errs, FieldError{
				Field: name, Rule: "readonly",
				Message: fmt.Sprintf("Field %s is managed by the engine", name),
			})
			continue
		}
		if name == cfg.IDColumn() {
			continue
		}
		f := cfg.Field(name)
		if f == nil || !f.IsActive {
			errs = append(errs, FieldError{
				Field: name, Rule: "unknown",
				Message: fmt.Sprintf("Unknown field: %s", name),
			})
			continue
		}
		if value == nil {
			continue
		}
		if msg := checkType(f.Type, value); msg != "" {
			errs = append(errs, FieldError{Field: name, Rule: "type", Message: msg})
		}
	}

	if isCreate {
		for _, f := range cfg.ActiveFields() {
			if !f.IsRequired {
				continue
			}
			if v, ok := fields[f.Name]; !ok || v == nil || v == "" {
				errs = append(errs, FieldError{
					Field: f.Name, Rule: "required",
					Message: fmt.Sprintf("Field %s is required", f.Name),
				})
			}
		}
	}

	return errs
}

// ApplyDefaults fills absent fields with their declared defaults, parsed
// according to the field type.
func ApplyDefaults(cfg *schema.EntityConfiguration, fields map[string]any) {
	for _, f := range cfg.ActiveFields() {
		if f.DefaultValue == nil {
			continue
		}
		if _, ok := fields[f.Name]; ok {
			continue
		}
		fields[f.Name] = parseDefault(f.Type, *f.DefaultValue)
	}
}

func parseDefault(fieldType, raw string) any {
	switch fieldType {
	case "integer":
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return n
		}
	case "number":
		if n, err := strconv.ParseFloat(raw, 64); err == nil {
			return n
		}
	case "boolean":
		if b, err := strconv.ParseBool(raw); err == nil {
			return b
		}
	}
	return raw
}

func checkType(fieldType string, value any) string {
	switch fieldType {
	case "string", "date", "datetime":
		s, ok := value.(string)
		if !ok {
			if _, isTime := value.(time.Time); isTime && fieldType != "string" {
				return ""
			}
			return fmt.Sprintf("expected %s, got %T", fieldType, value)
		}
		if fieldType == "date" {
			if _, err := time.Parse("2006-01-02", s); err != nil {
				return fmt.Sprintf("invalid date %q (want YYYY-MM-DD)", s)
			}
		}
		if fieldType == "datetime" {
			if !parseableDatetime(s) {
				return fmt.Sprintf("invalid datetime %q", s)
			}
		}
		return ""
	case "integer":
		switch n := value.(type) {
		case int, int32, int64:
			return ""
		case float64:
			if n == float64(int64(n)) {
				return ""
			}
			return fmt.Sprintf("expected integer, got %v", n)
		case json.Number:
			if _, err := n.Int64(); err == nil {
				return ""
			}
			return fmt.Sprintf("expected integer, got %v", n)
		default:
			return fmt.Sprintf("expected integer, got %T", value)
		}
	case "number":
		switch value.(type) {
		case int, int32, int64, float32, float64, json.Number:
			return ""
		default:
			return fmt.Sprintf("expected number, got %T", value)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Sprintf("expected boolean, got %T", value)
		}
		return ""
	case "json", "array", "object":
		// stored serialized; any JSON-encodable value is accepted
		return ""
	default:
		return ""
	}
}

func parseableDatetime(s string) bool {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}
