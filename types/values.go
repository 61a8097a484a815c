package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// ErrNotChoiceList is returned when a cell is not an encoded choice list.
var ErrNotChoiceList = errors.New("value is not a choice list")

// DecodeChoiceList strips the list sentinel from an encoded choice list cell.
func DecodeChoiceList(v interface{}) ([]string, error) {
	items, ok := asSlice(v)
	if !ok || len(items) == 0 {
		return nil, ErrNotChoiceList
	}
	if s, _ := items[0].(string); s != ListSentinel {
		return nil, ErrNotChoiceList
	}
	out := make([]string, 0, len(items)-1)
	for _, item := range items[1:] {
		out = append(out, AsString(item))
	}
	return out, nil
}

// EncodeChoiceList prefixes values with the list sentinel.
func EncodeChoiceList(values []string) []interface{} {
	out := make([]interface{}, 0, len(values)+1)
	out = append(out, ListSentinel)
	for _, v := range values {
		out = append(out, v)
	}
	return out
}

// DecodeRowIDs reads a list of row ids, accepting both plain lists and
// sentinel-prefixed reference lists. A nil cell is an empty list.
func DecodeRowIDs(v interface{}) ([]int64, error) {
	if v == nil {
		return nil, nil
	}
	items, ok := asSlice(v)
	if !ok {
		return nil, fmt.Errorf("expected a list of row ids, got %T", v)
	}
	if len(items) > 0 {
		if s, ok := items[0].(string); ok && s == ListSentinel {
			items = items[1:]
		}
	}
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		id, ok := AsInt64(item)
		if !ok {
			return nil, fmt.Errorf("invalid row id %v", item)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Broadcast turns scalar fields into column arrays aligned with n row ids.
func Broadcast(fields map[string]interface{}, n int) map[string][]interface{} {
	cols := make(map[string][]interface{}, len(fields))
	for col, v := range fields {
		values := make([]interface{}, n)
		for i := range values {
			values[i] = v
		}
		cols[col] = values
	}
	return cols
}

// AsString renders a cell as text. nil is the empty string.
func AsString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// AsInt64 converts numeric cells to int64.
func AsInt64(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case uint:
		return int64(t), true
	case uint32:
		return int64(t), true
	case uint64:
		if t > math.MaxInt64 {
			return 0, false
		}
		return int64(t), true
	case float32:
		return int64(t), float32(int64(t)) == t
	case float64:
		return int64(t), float64(int64(t)) == t
	case json.Number:
		i, err := t.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(t, 10, 64)
		return i, err == nil
	}
	return 0, false
}

// AsFloat64 converts numeric cells to float64.
func AsFloat64(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	}
	if i, ok := AsInt64(v); ok {
		return float64(i), true
	}
	return 0, false
}

// Truthy follows the host document semantics: nil, false, zero, "" and empty lists are false.
func Truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	}
	if f, ok := AsFloat64(v); ok {
		return f != 0
	}
	if items, ok := asSlice(v); ok {
		return len(items) > 0
	}
	return true
}

func asSlice(v interface{}) ([]interface{}, bool) {
	switch t := v.(type) {
	case []interface{}:
		return t, true
	case []string:
		out := make([]interface{}, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, true
	case []int64:
		out := make([]interface{}, len(t))
		for i, n := range t {
			out[i] = n
		}
		return out, true
	case []int:
		out := make([]interface{}, len(t))
		for i, n := range t {
			out[i] = n
		}
		return out, true
	}
	return nil, false
}
