package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"

	"github.com/vmihailenco/msgpack/v5"
)

// IsPrimitive reports whether v can be inlined into a Trace instead of
// being captured as a ValueRef. NaN and the infinities have no JSON form
// and are not primitive.
func IsPrimitive(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	case reflect.Float32, reflect.Float64:
		return isFinite(rv.Float())
	}
	return false
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// displayValue rewrites a decoded value into a JSON-encodable one: NaN and
// the infinities become the strings "NaN", "Infinity" and "-Infinity".
// changed reports whether anything was rewritten.
func displayValue(v any) (out any, changed bool) {
	switch x := v.(type) {
	case float32:
		return displayFloat(float64(x))
	case float64:
		return displayFloat(x)
	case []any:
		var cp []any
		for i, e := range x {
			d, ok := displayValue(e)
			if !ok {
				continue
			}
			if cp == nil {
				cp = append([]any(nil), x...)
			}
			cp[i] = d
		}
		if cp == nil {
			return v, false
		}
		return cp, true
	case map[string]any:
		var cp map[string]any
		for k, e := range x {
			d, ok := displayValue(e)
			if !ok {
				continue
			}
			if cp == nil {
				cp = make(map[string]any, len(x))
				for k2, e2 := range x {
					cp[k2] = e2
				}
			}
			cp[k] = d
		}
		if cp == nil {
			return v, false
		}
		return cp, true
	}
	return v, false
}

func displayFloat(f float64) (any, bool) {
	switch {
	case math.IsNaN(f):
		return "NaN", true
	case math.IsInf(f, 1):
		return "Infinity", true
	case math.IsInf(f, -1):
		return "-Infinity", true
	}
	return f, false
}

// jsonNumbers replaces the json.Number leaves of a value decoded with
// UseNumber by int64, uint64 or float64, in that order of preference.
func jsonNumbers(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if u, err := strconv.ParseUint(x.String(), 10, 64); err == nil {
			return u
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case []any:
		for i, e := range x {
			x[i] = jsonNumbers(e)
		}
	case map[string]any:
		for k, e := range x {
			x[k] = jsonNumbers(e)
		}
	}
	return v
}

// EncodeValue serializes v into the transport encoding of ValueRef.
func EncodeValue(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeValue is the inverse of EncodeValue. Maps decode as
// map[string]any so values stay JSON-encodable.
func DecodeValue(b []byte) (any, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	dec.SetMapDecoder(func(d *msgpack.Decoder) (any, error) {
		return d.DecodeMap()
	})
	v, err := dec.DecodeInterface()
	if err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return v, nil
}
