package rabbitmq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ToTable converts headers to an AMQP field table. Nested maps and slices
// are converted recursively; values AMQP cannot carry are stringified.
func ToTable(m map[string]interface{}) amqp.Table {
	if len(m) == 0 {
		return nil
	}

	t := make(amqp.Table, len(m))
	for k, v := range m {
		t[k] = toFieldValue(v)
	}
	return t
}

func toFieldValue(v interface{}) interface{} {
	switch x := v.(type) {
	case nil, bool, string, []byte, amqp.Decimal,
		int8, int16, int32, int64, int, uint8, uint16, uint32, uint64, uint,
		float32, float64:
		return x
	case map[string]interface{}:
		return ToTable(x)
	case amqp.Table:
		return x
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, e := range x {
			out[i] = toFieldValue(e)
		}
		return out
	case []string:
		out := make([]interface{}, len(x))
		for i, e := range x {
			out[i] = e
		}
		return out
	default:
		return fmt.Sprint(x)
	}
}

// FromTable converts an AMQP field table to plain headers
func FromTable(t amqp.Table) map[string]interface{} {
	m := make(map[string]interface{}, len(t))
	for k, v := range t {
		m[k] = fromFieldValue(v)
	}
	return m
}

func fromFieldValue(v interface{}) interface{} {
	switch x := v.(type) {
	case amqp.Table:
		return FromTable(x)
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, e := range x {
			out[i] = fromFieldValue(e)
		}
		return out
	default:
		return x
	}
}
