package core

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// ValueKind tags the variant held by a Value
type ValueKind uint8

const (
	KindUndefined ValueKind = iota
	KindNull
	KindString
	KindNumber
	KindBool
	KindList
)

func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	default:
		return "undefined"
	}
}

// Value is a tagged variant used for rule condition operands.
// The zero Value is undefined.
type Value struct {
	kind  ValueKind
	str   string
	num   float64
	flag  bool
	items []Value
}

func UndefinedValue() Value { return Value{} }
func NullValue() Value { return Value{kind: KindNull} }
func StringValue(s string) Value { return Value{kind: KindString, str: s} }
func NumberValue(n float64) Value { return Value{kind: KindNumber, num: n} }
func BoolValue(b bool) Value { return Value{kind: KindBool, flag: b} }
func ListValue(items ...Value) Value { return Value{kind: KindList, items: items} }

// ValueOf converts a decoded JSON/YAML/msgpack value into a Value.
// Maps and unsupported types are undefined.
func ValueOf(v interface{}) Value {
	switch t := v.(type) {
	case nil:
		return NullValue()
	case Value:
		return t
	case string:
		return StringValue(t)
	case bool:
		return BoolValue(t)
	case float64:
		return NumberValue(t)
	case float32:
		return NumberValue(float64(t))
	case int:
		return NumberValue(float64(t))
	case int8:
		return NumberValue(float64(t))
	case int16:
		return NumberValue(float64(t))
	case int32:
		return NumberValue(float64(t))
	case int64:
		return NumberValue(float64(t))
	case uint:
		return NumberValue(float64(t))
	case uint8:
		return NumberValue(float64(t))
	case uint16:
		return NumberValue(float64(t))
	case uint32:
		return NumberValue(float64(t))
	case uint64:
		return NumberValue(float64(t))
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return NumberValue(f)
		}
		return StringValue(t.String())
	case time.Time:
		return StringValue(t.UTC().Format(time.RFC3339Nano))
	case []interface{}:
		items := make([]Value, 0, len(t))
		for _, item := range t {
			items = append(items, ValueOf(item))
		}
		return ListValue(items...)
	case []string:
		items := make([]Value, 0, len(t))
		for _, item := range t {
			items = append(items, StringValue(item))
		}
		return ListValue(items...)
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		items := make([]Value, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			items = append(items, ValueOf(rv.Index(i).Interface()))
		}
		return ListValue(items...)
	}
	return UndefinedValue()
}

func (v Value) Kind() ValueKind { return v.kind }
func (v Value) IsUndefined() bool { return v.kind == KindUndefined }
func (v Value) IsNull() bool { return v.kind == KindNull }
func (v Value) Items() []Value { return v.items }

// AsString returns the string payload if v is a string
func (v Value) AsString() (string, bool) {
	return v.str, v.kind == KindString
}

// AsNumber returns the numeric payload if v is a number
func (v Value) AsNumber() (float64, bool) {
	return v.num, v.kind == KindNumber
}

// AsBool returns the boolean payload if v is a bool
func (v Value) AsBool() (bool, bool) {
	return v.flag, v.kind == KindBool
}

// Equal is strict: values of different kinds are never equal and
// undefined is not equal to anything, including itself.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.str == other.str
	case KindNumber:
		return v.num == other.num
	case KindBool:
		return v.flag == other.flag
	case KindList:
		if len(v.items) != len(other.items) {
			return false
		}
		for i := range v.items {
			if !v.items[i].Equal(other.items[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Contains reports list membership using Equal
func (v Value) Contains(item Value) bool {
	for _, candidate := range v.items {
		if candidate.Equal(item) {
			return true
		}
	}
	return false
}

// String renders the value for group keys and log output
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindString:
		return v.str
	case KindNumber:
		if v.num == math.Trunc(v.num) && math.Abs(v.num) < 1e15 {
			return strconv.FormatInt(int64(v.num), 10)
		}
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.flag)
	case KindList:
		parts := make([]string, len(v.items))
		for i, item := range v.items {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ",") + "]"
	default:
		return ""
	}
}

// Interface converts back to a plain Go value
func (v Value) Interface() interface{} {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.flag
	case KindList:
		out := make([]interface{}, len(v.items))
		for i, item := range v.items {
			out[i] = item.Interface()
		}
		return out
	default:
		return nil
	}
}

// GoString supports %#v in test failure output
func (v Value) GoString() string {
	return fmt.Sprintf("Value{%s:%s}", v.kind, v.String())
}
