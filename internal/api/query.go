package api

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"schemakit/internal/engine"
	"schemakit/internal/schema"
)

const (
	defaultPerPage = 25
	maxPerPage     = 100
)

// parseFindOptions turns Fiber query parameters into engine find options:
// filter[field]=val or filter[field.op]=val, sort=-created_at,name,
// fields=a,b,c, page and per_page.
func parseFindOptions(c *fiber.Ctx, cfg *schema.EntityConfiguration) (engine.FindOptions, error) {
	opts := engine.FindOptions{}
	page, perPage := 1, defaultPerPage

	for key, val := range c.Queries() {
		if !strings.HasPrefix(key, "filter[") || !strings.HasSuffix(key, "]") {
			continue
		}
		inner := key[7 : len(key)-1]
		field, op := parseFilterKey(inner, cfg)

		if !knownField(cfg, field) {
			return opts, badRequest(fmt.Sprintf("Unknown filter field: %s", field))
		}
		if op != "" && !op.Valid() {
			return opts, badRequest(fmt.Sprintf("Unknown filter operator: %s", string(op)))
		}

		coerced, err := coerceValue(cfg.Field(field), val, op)
		if err != nil {
			return opts, badRequest(fmt.Sprintf("Invalid filter value for %s: %v", field, err))
		}

		opts.Conditions = append(opts.Conditions, schema.Condition{
			Field:    field,
			Operator: op,
			Value:    coerced,
		})
	}

	if sortParam := c.Query("sort"); sortParam != "" {
		for _, part := range strings.Split(sortParam, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			dir := "ASC"
			field := part
			if strings.HasPrefix(part, "-") {
				dir = "DESC"
				field = part[1:]
			}
			if !knownField(cfg, field) {
				return opts, badRequest(fmt.Sprintf("Unknown sort field: %s", field))
			}
			opts.Sorts = append(opts.Sorts, engine.Sort{Field: field, Direction: dir})
		}
	}

	if fieldsParam := c.Query("fields"); fieldsParam != "" {
		for _, name := range strings.Split(fieldsParam, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if !knownField(cfg, name) {
				return opts, badRequest(fmt.Sprintf("Unknown field: %s", name))
			}
			opts.Columns = append(opts.Columns, name)
		}
	}

	if p := c.Query("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			page = v
		}
	}
	if pp := c.Query("per_page"); pp != "" {
		if v, err := strconv.Atoi(pp); err == nil && v > 0 {
			perPage = v
			if perPage > maxPerPage {
				perPage = maxPerPage
			}
		}
	}
	opts.Limit = perPage
	opts.Offset = (page - 1) * perPage

	return opts, nil
}

// parseFilterKey splits "field.op" into the field name and operator. Field
// names themselves never contain dots, so the last segment is the operator
// when it names one; otherwise the whole key is a field filtered by
// equality.
func parseFilterKey(key string, cfg *schema.EntityConfiguration) (string, schema.Operator) {
	idx := strings.LastIndex(key, ".")
	if idx < 0 {
		return key, schema.OpEq
	}
	op := schema.Operator(key[idx+1:])
	if op.Valid() {
		return key[:idx], op
	}
	return key, schema.OpEq
}

func knownField(cfg *schema.EntityConfiguration, name string) bool {
	if name == cfg.IDColumn() || cfg.HasField(name) {
		return true
	}
	for _, c := range schema.SystemColumns {
		if c == name {
			return true
		}
	}
	// dotted names refer to join aliases of a view
	return strings.Contains(name, ".")
}

// coerceValue converts string query params to the field's semantic type.
// in/nin take comma-separated lists; isnull/isnotnull ignore the value.
func coerceValue(field *schema.FieldDefinition, val string, op schema.Operator) (any, error) {
	switch op {
	case schema.OpIsNull, schema.OpIsNotNull:
		return nil, nil
	case schema.OpIn, schema.OpNin:
		parts := strings.Split(val, ",")
		coerced := make([]any, len(parts))
		for i, p := range parts {
			v, err := coerceSingleValue(field, strings.TrimSpace(p))
			if err != nil {
				return nil, err
			}
			coerced[i] = v
		}
		return coerced, nil
	}
	return coerceSingleValue(field, val)
}

func coerceSingleValue(field *schema.FieldDefinition, val string) (any, error) {
	if field == nil {
		return val, nil
	}
	switch field.Type {
	case "integer":
		return strconv.ParseInt(val, 10, 64)
	case "number":
		return strconv.ParseFloat(val, 64)
	case "boolean":
		return strconv.ParseBool(val)
	default:
		return val, nil
	}
}
