package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// ValidationError 汇总参数校验失败的各项原因
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Issues, "; ")
}

// Validate 按 schema 的 required 与属性 type 校验参数。
// 未知类型与未声明的参数不做校验。
func Validate(args map[string]any, schema Schema) error {
	var issues []string

	for _, field := range schema.Required {
		if isMissing(args, field) {
			issues = append(issues, "missing required field: "+field)
		}
	}

	for _, key := range schema.Keys() {
		value, ok := args[key]
		if !ok || value == nil {
			continue
		}
		expected := schema.Properties[key]
		if expected == "" {
			continue
		}
		if !matchesType(value, expected) {
			issues = append(issues, fmt.Sprintf("field %s: expected %s but got %s", key, expected, jsonTypeName(value)))
		}
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

// isMissing 缺失、null 或空白字符串都视为未提供
func isMissing(args map[string]any, field string) bool {
	v, ok := args[field]
	if !ok || v == nil {
		return true
	}
	if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
		return true
	}
	return false
}

func matchesType(value any, expected string) bool {
	switch expected {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		return isNumber(value)
	case "integer":
		return isInteger(value)
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "null":
		return value == nil
	}
	return true
}

func isNumber(value any) bool {
	switch v := value.(type) {
	case float32, float64:
		return true
	case int, int8, int16, int32, int64:
		return true
	case uint, uint8, uint16, uint32, uint64:
		return true
	case json.Number:
		_, err := v.Float64()
		return err == nil
	}
	return false
}

func isInteger(value any) bool {
	switch v := value.(type) {
	case int, int8, int16, int32, int64:
		return true
	case uint, uint8, uint16, uint32, uint64:
		return true
	case float32:
		return math.Trunc(float64(v)) == float64(v)
	case float64:
		return math.Trunc(v) == v
	case json.Number:
		_, err := v.Int64()
		return err == nil
	}
	return false
}

func jsonTypeName(value any) string {
	switch value.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case nil:
		return "null"
	}
	if isNumber(value) {
		return "number"
	}
	return fmt.Sprintf("%T", value)
}
