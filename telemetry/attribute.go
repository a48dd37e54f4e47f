package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"
)

// attributeFor converts an arbitrary span-attribute value into an OTel
// attribute.KeyValue, falling back to its string representation for types
// the attribute package doesn't special-case.
func attributeFor(key string, value interface{}) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case bool:
		return attribute.Bool(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}
