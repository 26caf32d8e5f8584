package utils

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func ToString(i interface{}, defaultVal string) string {
	switch value := i.(type) {
	case nil:
		return defaultVal
	case string:
		return value
	case []byte:
		return string(value)
	case int:
		return strconv.Itoa(value)
	case int32:
		return strconv.FormatInt(int64(value), 10)
	case int64:
		return strconv.FormatInt(value, 10)
	case uint32:
		return strconv.FormatUint(uint64(value), 10)
	case uint64:
		return strconv.FormatUint(value, 10)
	case float32:
		return strconv.FormatFloat(float64(value), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(value)
	case time.Time:
		return value.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("%v", value)
	}
}

func ToInt64(i interface{}, defaultVal int64) int64 {
	switch value := i.(type) {
	case int:
		return int64(value)
	case int8:
		return int64(value)
	case int16:
		return int64(value)
	case int32:
		return int64(value)
	case int64:
		return value
	case uint8:
		return int64(value)
	case uint16:
		return int64(value)
	case uint32:
		return int64(value)
	case uint64:
		return int64(value)
	case float32:
		return int64(value)
	case float64:
		return int64(value)
	case bool:
		if value {
			return 1
		}
		return 0
	case string:
		if v, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return v
		}
	case []byte:
		if v, err := strconv.ParseInt(string(value), 10, 64); err == nil {
			return v
		}
	}
	return defaultVal
}

func ToInt32(i interface{}, defaultVal int32) int32 {
	return int32(ToInt64(i, int64(defaultVal)))
}

func ToFloat(i interface{}, defaultVal float64) float64 {
	switch value := i.(type) {
	case float64:
		return value
	case float32:
		return float64(value)
	case int, int8, int16, int32, int64, uint8, uint16, uint32, uint64:
		return float64(ToInt64(value, 0))
	case string:
		if v, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return v
		}
	case []byte:
		if v, err := strconv.ParseFloat(string(value), 64); err == nil {
			return v
		}
	}
	return defaultVal
}

func ToFloat32(i interface{}, defaultVal float32) float32 {
	if v, ok := i.(float32); ok {
		return v
	}
	return float32(ToFloat(i, float64(defaultVal)))
}

func ToBool(i interface{}, defaultVal bool) bool {
	switch value := i.(type) {
	case bool:
		return value
	case int, int8, int16, int32, int64, uint8, uint16, uint32, uint64:
		return ToInt64(value, 0) != 0
	case string:
		if v, err := strconv.ParseBool(value); err == nil {
			return v
		}
	case []byte:
		if v, err := strconv.ParseBool(string(value)); err == nil {
			return v
		}
	}
	return defaultVal
}

// ToTime converts time values and their common textual forms. The result is in UTC.
func ToTime(i interface{}) (time.Time, bool) {
	switch value := i.(type) {
	case time.Time:
		return value.UTC(), true
	case *time.Time:
		if value == nil {
			return time.Time{}, false
		}
		return value.UTC(), true
	case []byte:
		return ToTime(string(value))
	case string:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, value); err == nil {
				return t.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

func isNumber(i interface{}) bool {
	switch i.(type) {
	case int, int8, int16, int32, int64, uint8, uint16, uint32, uint64, float32, float64:
		return true
	}
	return false
}

func isInteger(i interface{}) bool {
	switch i.(type) {
	case int, int8, int16, int32, int64, uint8, uint16, uint32, uint64:
		return true
	}
	return false
}

// CompareValues is a total order over feature values: nil sorts first, then
// booleans, numbers, times and strings. Values of different kinds are ordered
// by that kind rank.
func CompareValues(a, b interface{}) int {
	ra, rb := valueRank(a), valueRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}

	switch ra {
	case 0:
		return 0
	case 1:
		ba, bb := a.(bool), b.(bool)
		if ba == bb {
			return 0
		}
		if !ba {
			return -1
		}
		return 1
	case 2:
		if isInteger(a) && isInteger(b) {
			ia, ib := ToInt64(a, 0), ToInt64(b, 0)
			switch {
			case ia < ib:
				return -1
			case ia > ib:
				return 1
			}
			return 0
		}
		fa, fb := ToFloat(a, 0), ToFloat(b, 0)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		case math.IsNaN(fa) && !math.IsNaN(fb):
			return -1
		case !math.IsNaN(fa) && math.IsNaN(fb):
			return 1
		}
		return 0
	case 3:
		ta, _ := ToTime(a)
		tb, _ := ToTime(b)
		return ta.Compare(tb)
	default:
		return strings.Compare(ToString(a, ""), ToString(b, ""))
	}
}

func valueRank(i interface{}) int {
	switch i.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case time.Time:
		return 3
	}
	if isNumber(i) {
		return 2
	}
	return 4
}

// JoinKey builds a map key out of entity key values. Values are normalized
// through ToString so an int 5 and an int64 5 address the same entity.
func JoinKey(values []interface{}) string {
	var b strings.Builder
	for i, v := range values {
		if i > 0 {
			b.WriteByte(0x1f)
		}
		if v == nil {
			b.WriteByte(0x00)
			continue
		}
		b.WriteString(ToString(v, ""))
	}
	return b.String()
}
