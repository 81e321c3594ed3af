// Package wire holds small decoding helpers shared by the exchange
// protocol implementations. Exchange feeds mix strings, numbers and nested
// arrays inside the same JSON array, so most payloads decode through
// json.RawMessage or any and are coerced here.
package wire

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Float coerces a decoded JSON value (string, float64 or json.Number) to a
// float64. Exchanges quote prices as strings at fixed precision.
func Float(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0, fmt.Errorf("parse float %q: %w", x, err)
		}
		return f, nil
	case json.Number:
		return x.Float64()
	case int:
		return float64(x), nil
	case nil:
		return 0, fmt.Errorf("parse float: null value")
	default:
		return 0, fmt.Errorf("parse float: unexpected type %T", v)
	}
}

// Elements splits a JSON array frame into raw elements.
func Elements(raw []byte) ([]json.RawMessage, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, fmt.Errorf("decode array frame: %w", err)
	}
	return elems, nil
}

// IsArray reports whether the frame's top-level value is a JSON array.
func IsArray(raw []byte) bool {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		case '[':
			return true
		default:
			return false
		}
	}
	return false
}

// TimeFromSec converts an epoch timestamp in (possibly fractional)
// seconds to a time.Time.
func TimeFromSec(sec float64) time.Time {
	s, frac := math.Modf(sec)
	return time.Unix(int64(s), int64(frac*1e9)).UTC()
}

// TimeFromMilli converts an epoch timestamp in milliseconds.
func TimeFromMilli(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
