// Package keys normalizes the casing of loosely typed JSON keys exchanged
// with the batch manager, which speaks CamelCase while pin descriptors and
// token values are indexed in snake_case.
package keys

import "github.com/iancoleman/strcase"

// Snake returns name in snake_case ("PinName" -> "pin_name").
func Snake(name string) string {
	return strcase.ToSnake(name)
}

// Camel returns name in CamelCase ("resource_path" -> "ResourcePath").
func Camel(name string) string {
	return strcase.ToCamel(name)
}

// SnakeMap returns a copy of m with every top-level key converted to
// snake_case. Nested values are kept as they are.
func SnakeMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[Snake(k)] = v
	}
	return out
}

// CamelMap is the inverse of SnakeMap.
func CamelMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[Camel(k)] = v
	}
	return out
}
