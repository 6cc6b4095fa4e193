package orm

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"time"
)

// CastType converts stored attribute values on read.
type CastType string

// Supported casts.
const (
	CastInt      CastType = "int"
	CastFloat    CastType = "float"
	CastBool     CastType = "bool"
	CastString   CastType = "string"
	CastJSON     CastType = "json"
	CastDatetime CastType = "datetime"
)

// DateFormat is the storage format of datetime attributes and timestamps.
const DateFormat = "2006-01-02 15:04:05"

var dateLayouts = []string{DateFormat, time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

// castValue converts a stored value for reading. It fails only for values
// that can't be decoded, such as malformed JSON.
func castValue(cast CastType, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}

	switch cast {
	case CastInt:
		switch n := v.(type) {
		case int64:
			return n, nil
		case int:
			return int64(n), nil
		case float64:
			return int64(n), nil
		case bool:
			if n {
				return int64(1), nil
			}
			return int64(0), nil
		}
		return strconv.ParseInt(fmt.Sprint(v), 10, 64)

	case CastFloat:
		switch n := v.(type) {
		case float64:
			return n, nil
		case int64:
			return float64(n), nil
		case int:
			return float64(n), nil
		}
		return strconv.ParseFloat(fmt.Sprint(v), 64)

	case CastBool:
		switch b := v.(type) {
		case bool:
			return b, nil
		case int64:
			return b != 0, nil
		case int:
			return b != 0, nil
		}
		return strconv.ParseBool(fmt.Sprint(v))

	case CastString:
		return fmt.Sprint(v), nil

	case CastJSON:
		s, ok := v.(string)
		if !ok {
			return v, nil
		}
		var out interface{}
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return nil, err
		}
		return out, nil

	case CastDatetime:
		switch t := v.(type) {
		case time.Time:
			return t, nil
		case string:
			for _, layout := range dateLayouts {
				if parsed, err := time.Parse(layout, t); err == nil {
					return parsed, nil
				}
			}
			return nil, fmt.Errorf("unrecognized datetime %q", t)
		}
	}
	return v, nil
}

// storeValue converts a value for storage in the attribute map.
func storeValue(cast CastType, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}

	switch cast {
	case CastJSON:
		if s, ok := v.(string); ok {
			return s, nil
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case CastDatetime:
		if t, ok := v.(time.Time); ok {
			return t.UTC().Format(DateFormat), nil
		}
	}
	return v, nil
}

// keyString normalizes a key for dictionary lookups, so an int64 from one
// driver matches an int or a numeric string from another.
func keyString(v interface{}) string {
	switch k := v.(type) {
	case nil:
		return ""
	case string:
		return k
	case []byte:
		return string(k)
	case int64:
		return strconv.FormatInt(k, 10)
	case int:
		return strconv.Itoa(k)
	case float64:
		if k == float64(int64(k)) {
			return strconv.FormatInt(int64(k), 10)
		}
	}
	return fmt.Sprint(v)
}

// equivalent reports whether a current value is unchanged from its original.
func equivalent(current, original interface{}) bool {
	if current == nil || original == nil {
		return current == nil && original == nil
	}
	if reflect.DeepEqual(current, original) {
		return true
	}
	return keyString(current) == keyString(original)
}
