package policy

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
)

type valueKind int

const (
	kindNull valueKind = iota
	kindBool
	kindNumber
	kindString
	kindList
	kindMap
	kindOther
)

func (k valueKind) String() string {
	switch k {
	case kindNull:
		return "null"
	case kindBool:
		return "bool"
	case kindNumber:
		return "number"
	case kindString:
		return "string"
	case kindList:
		return "list"
	case kindMap:
		return "map"
	default:
		return "unsupported"
	}
}

// kindOfValue classifies a normalized value. NaN and infinities are
// unsupported so no comparison can succeed on them.
func kindOfValue(v any) valueKind {
	switch n := v.(type) {
	case nil:
		return kindNull
	case bool:
		return kindBool
	case int64:
		return kindNumber
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return kindOther
		}
		return kindNumber
	case string:
		return kindString
	case []any:
		return kindList
	case map[string]any:
		return kindMap
	default:
		return kindOther
	}
}

// normalizeValue folds the many shapes decoders produce (yaml ints, json.Number,
// typed slices) into int64/float64/string/bool/nil/[]any/map[string]any.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case nil, bool, string, int64, float64:
		return val
	case int:
		return int64(val)
	case int8:
		return int64(val)
	case int16:
		return int64(val)
	case int32:
		return int64(val)
	case uint:
		return normalizeUint(uint64(val))
	case uint8:
		return int64(val)
	case uint16:
		return int64(val)
	case uint32:
		return int64(val)
	case uint64:
		return normalizeUint(val)
	case float32:
		return float64(val)
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return string(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = normalizeValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = normalizeValue(e)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[fmt.Sprint(k)] = normalizeValue(e)
		}
		return out
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = normalizeValue(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return v
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = normalizeValue(iter.Value().Interface())
		}
		return out
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	}
	return v
}

func normalizeUint(u uint64) any {
	if u > math.MaxInt64 {
		return float64(u)
	}
	return int64(u)
}

// normalizeContext copies the context into canonical Go shapes.
func normalizeContext(ctx map[string]any) map[string]any {
	if ctx == nil {
		return map[string]any{}
	}
	return normalizeValue(ctx).(map[string]any)
}

// lookup resolves a dotted path. An exact top-level key wins over path
// traversal, so "a.b" can address a flat key literally named "a.b".
func lookup(ctx map[string]any, field string) (any, bool) {
	if v, ok := ctx[field]; ok {
		return v, true
	}
	if !strings.Contains(field, ".") {
		return nil, false
	}

	var cur any = ctx
	for _, seg := range strings.Split(field, ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// compareNumbers orders two finite numbers exactly. Integers beyond 2^53
// are not rounded to the nearest float first.
func compareNumbers(a, b any) int {
	ai, aok := a.(int64)
	bi, bok := b.(int64)
	if aok && bok {
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		}
		return 0
	}
	return toBig(a).Cmp(toBig(b))
}

// toBig is only called on values kindOfValue accepted as numbers.
func toBig(v any) *big.Float {
	if i, ok := v.(int64); ok {
		return new(big.Float).SetInt64(i)
	}
	return new(big.Float).SetFloat64(v.(float64))
}

// valuesEqual compares two normalized values. ok is false when the kinds
// cannot be compared at all.
func valuesEqual(a, b any) (equal bool, ok bool) {
	ka, kb := kindOfValue(a), kindOfValue(b)
	if ka != kb {
		return false, false
	}
	switch ka {
	case kindNull:
		return true, true
	case kindBool:
		return a.(bool) == b.(bool), true
	case kindNumber:
		return compareNumbers(a, b) == 0, true
	case kindString:
		return a.(string) == b.(string), true
	case kindList:
		la, lb := a.([]any), b.([]any)
		if len(la) != len(lb) {
			return false, true
		}
		for i := range la {
			eq, ok := valuesEqual(la[i], lb[i])
			if !ok || !eq {
				return false, true
			}
		}
		return true, true
	case kindMap:
		ma, mb := a.(map[string]any), b.(map[string]any)
		if len(ma) != len(mb) {
			return false, true
		}
		keys := make([]string, 0, len(ma))
		for k := range ma {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			other, present := mb[k]
			if !present {
				return false, true
			}
			eq, ok := valuesEqual(ma[k], other)
			if !ok || !eq {
				return false, true
			}
		}
		return true, true
	}
	return false, false
}

// orderValues returns -1/0/1 for ordered kinds. ok is false for a mismatch.
func orderValues(a, b any) (int, bool) {
	ka, kb := kindOfValue(a), kindOfValue(b)
	if ka != kb {
		return 0, false
	}
	switch ka {
	case kindNumber:
		return compareNumbers(a, b), true
	case kindString:
		return strings.Compare(a.(string), b.(string)), true
	}
	return 0, false
}
