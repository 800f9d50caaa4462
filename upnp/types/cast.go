package types

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// minInt returns minimum signed integer value for specified bit size
func minInt(bits int) int64 {
	switch bits {
	case 8:
		return math.MinInt8
	case 16:
		return math.MinInt16
	case 32:
		return math.MinInt32
	case 64:
		return math.MinInt64
	default:
		return math.MinInt64 // fallback
	}
}

// maxInt returns maximum signed integer value for specified bit size
func maxInt(bits int) int64 {
	switch bits {
	case 8:
		return math.MaxInt8
	case 16:
		return math.MaxInt16
	case 32:
		return math.MaxInt32
	case 64:
		return math.MaxInt64
	default:
		return math.MaxInt64 // fallback
	}
}

// toInt converts v to an int64 that fits in the given bit size. Strings
// are parsed base-10 with strconv, never with locale-aware formatting.
func toInt(v interface{}, bits int) (int64, error) {
	if v == nil {
		return 0, errors.New("cannot convert nil to int")
	}

	switch val := v.(type) {
	case int:
		return checkIntBounds(int64(val), bits)
	case int8:
		return checkIntBounds(int64(val), bits)
	case int16:
		return checkIntBounds(int64(val), bits)
	case int32:
		return checkIntBounds(int64(val), bits)
	case int64:
		return checkIntBounds(val, bits)

	case uint, uint8, uint16, uint32, uint64:
		u := reflect.ValueOf(val).Uint()
		if u > uint64(math.MaxInt64) {
			return 0, errors.New("unsigned value overflows int64")
		}
		return checkIntBounds(int64(u), bits)

	case float32:
		return checkIntBounds(int64(val), bits)
	case float64:
		return checkIntBounds(int64(val), bits)

	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(val), 10, bits)
		if err != nil {
			return 0, err
		}
		return checkIntBounds(i, bits)

	default:
		return 0, errors.New("unsupported type for toInt")
	}
}

// checkIntBounds verifies that v fits in the given bit size.
func checkIntBounds(v int64, bits int) (int64, error) {
	if v < minInt(bits) || v > maxInt(bits) {
		return 0, errors.New("integer value out of bounds")
	}
	return v, nil
}

// toUint converts v to a uint64 that fits in the given bit size.
func toUint(v interface{}, bits int) (uint64, error) {
	if v == nil {
		return 0, errors.New("cannot convert nil to uint")
	}

	var max uint64 = math.MaxUint64
	if bits < 64 {
		max = 1<<uint(bits) - 1
	}

	switch val := v.(type) {
	case uint, uint8, uint16, uint32, uint64:
		u := reflect.ValueOf(val).Uint()
		if u > max {
			return 0, errors.New("unsigned value out of bounds")
		}
		return u, nil

	case int, int8, int16, int32, int64:
		i := reflect.ValueOf(val).Int()
		if i < 0 || uint64(i) > max {
			return 0, errors.New("integer value out of bounds")
		}
		return uint64(i), nil

	case float32:
		return toUint(int64(val), bits)
	case float64:
		return toUint(int64(val), bits)

	case string:
		u, err := strconv.ParseUint(strings.TrimSpace(val), 10, bits)
		if err != nil {
			return 0, err
		}
		return u, nil

	default:
		return 0, errors.New("unsupported type for toUint")
	}
}

func maxFloat(bits int) float64 {
	switch bits {
	case 32:
		return float64(math.MaxFloat32)
	case 64:
		return math.MaxFloat64
	default:
		return math.MaxFloat64 // fallback
	}
}

func minFloat(bits int) float64 {
	switch bits {
	case 32:
		return -float64(math.MaxFloat32)
	case 64:
		return -math.MaxFloat64
	default:
		return -math.MaxFloat64 // fallback
	}
}

// toFloat converts v to a float64, ensuring it fits within the range of
// the requested float size. Strings are parsed with strconv.ParseFloat
// which only ever accepts the '.' decimal separator.
func toFloat(v interface{}, bits int) (float64, error) {
	var f float64

	switch val := v.(type) {
	case float32:
		f = float64(val)
	case float64:
		f = val
	case int:
		f = float64(val)
	case int8:
		f = float64(val)
	case int16:
		f = float64(val)
	case int32:
		f = float64(val)
	case int64:
		f = float64(val)
	case uint:
		f = float64(val)
	case uint8:
		f = float64(val)
	case uint16:
		f = float64(val)
	case uint32:
		f = float64(val)
	case uint64:
		f = float64(val)
	case string:
		var err error
		f, err = strconv.ParseFloat(strings.TrimSpace(val), bits)
		if err != nil {
			return 0, err
		}
	default:
		return 0, fmt.Errorf("%T, unsupported type in toFloat", v)
	}

	if f < minFloat(bits) || f > maxFloat(bits) {
		return 0, fmt.Errorf("value %v overflows float%d range", v, bits)
	}

	return f, nil
}

// parseBoolean parses a string like "true", "false", "1", "0", "yes",
// "no" into a boolean following the UPnP architecture rules.
func parseBoolean(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes":
		return true, nil
	case "0", "false", "no":
		return false, nil
	default:
		return false, errors.New("invalid string for UPnP boolean")
	}
}

// toBool converts various types to boolean following UPnP rules:
// true: 1, "true", "yes"; false: 0, "false", "no"
func toBool(val interface{}) (bool, error) {
	if val == nil {
		return false, errors.New("cannot convert nil to bool")
	}

	switch v := val.(type) {
	case bool:
		return v, nil

	case string:
		return parseBoolean(v)

	default:
		// try to convert numerics to float
		f, err := toFloat(v, 64)
		if err != nil {
			return false, err
		}

		if f == 1.0 {
			return true, nil
		}
		if f == 0.0 {
			return false, nil
		}
		return false, errors.New("numeric value cannot be converted to bool unless 0 or 1")
	}
}

// decodeBinary decodes Base64 or Hex-encoded binary strings to byte slices
func decodeBinary(t Datatype, val string) ([]byte, error) {
	switch t {
	case BinBase64:
		data, err := base64.StdEncoding.DecodeString(val)
		if err != nil {
			return nil, fmt.Errorf("invalid base64: %v", err)
		}
		return data, nil

	case BinHex:
		// Accept even-length hex string
		val = strings.TrimSpace(val)
		if len(val)%2 != 0 {
			return nil, fmt.Errorf("invalid hex: odd-length string")
		}
		data := make([]byte, len(val)/2)
		_, err := hex.Decode(data, []byte(val))
		if err != nil {
			return nil, fmt.Errorf("invalid hex: %v", err)
		}
		return data, nil

	default:
		return nil, fmt.Errorf("decodeBinary: unsupported binary type %v", t)
	}
}

// parseTime parses time values using the UPnP layouts:
//   - date:        "2006-01-02"
//   - time:        "15:04:05"
//   - time.tz:     "15:04:05-07:00"
//   - dateTime:    "2006-01-02T15:04:05"
//   - dateTime.tz: "2006-01-02T15:04:05-07:00"
func parseTime(t Datatype, s string) (time.Time, error) {
	s = strings.TrimSpace(s)

	layouts := []string{}

	switch t {
	case Date:
		layouts = []string{"2006-01-02"}

	case Time:
		layouts = []string{"15:04:05"} // HH:MM:SS

	case TimeTZ:
		layouts = []string{"15:04:05Z07:00"} // HH:MM:SS+TZ

	case DateTime:
		layouts = []string{"2006-01-02T15:04:05"} // ISO8601 without TZ

	case DateTimeTZ:
		layouts = []string{
			"2006-01-02T15:04:05Z07:00", // full
			"2006-01-02T15:04:05-0700",  // fallback no colon
			"2006-01-02T15:04:05Z",      // Zulu
		}

	default:
		return time.Time{}, fmt.Errorf("unsupported date/time type: %v", t)
	}

	for _, layout := range layouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid %v value: %q", t, s)
}
