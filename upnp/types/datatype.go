// Package types implements the UPnP datatype system: type identification,
// value parsing and formatting, casting, comparison and range validation
// for all datatypes of the UPnP Device Architecture.
package types

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Datatype identifies a UPnP state variable datatype and carries the
// parse/format/cast behaviour for values of that type.
type Datatype int

// Constants defining all supported UPnP datatypes
const (
	Unknown    Datatype = iota
	UI1                 // Unsigned 8-bit integer (Go: uint8)
	UI2                 // Unsigned 16-bit integer (Go: uint16)
	UI4                 // Unsigned 32-bit integer (Go: uint32)
	I1                  // Signed 8-bit integer (Go: int8)
	I2                  // Signed 16-bit integer (Go: int16)
	I4                  // Signed 32-bit integer (Go: int32)
	Int                 // Synonymous with i4 (Go: int32)
	R4                  // 32-bit floating point (Go: float32)
	R8                  // 64-bit floating point (Go: float64)
	Number              // Synonymous with r8 (Go: float64)
	Fixed14_4           // Fixed-point decimal (Go: float64)
	Char                // Single Unicode character (Go: rune)
	String              // Character string (Go: string)
	Boolean             // Boolean value (Go: bool)
	BinBase64           // Base64-encoded binary (Go: []byte)
	BinHex              // Hex-encoded binary (Go: []byte)
	Date                // Date (YYYY-MM-DD) (Go: time.Time)
	DateTime            // DateTime without timezone (Go: time.Time)
	DateTimeTZ          // DateTime with timezone (Go: time.Time)
	Time                // Time without timezone (Go: time.Time)
	TimeTZ              // Time with timezone (Go: time.Time)
	UUID                // Universally unique identifier (Go: uuid.UUID)
	URI                 // Uniform Resource Identifier (Go: *url.URL)
)

// typeNames maps UPnP XML type names to Datatype constants
var typeNames = map[string]Datatype{
	"ui1":         UI1,
	"ui2":         UI2,
	"ui4":         UI4,
	"i1":          I1,
	"i2":          I2,
	"i4":          I4,
	"int":         Int,
	"r4":          R4,
	"r8":          R8,
	"number":      Number,
	"fixed.14.4":  Fixed14_4,
	"char":        Char,
	"string":      String,
	"boolean":     Boolean,
	"bin.base64":  BinBase64,
	"bin.hex":     BinHex,
	"date":        Date,
	"dateTime":    DateTime,
	"dateTime.tz": DateTimeTZ,
	"time":        Time,
	"time.tz":     TimeTZ,
	"uuid":        UUID,
	"uri":         URI,
}

// typeStrings provides the wire names for Datatype constants
var typeStrings = [...]string{
	"unknown",
	"ui1",
	"ui2",
	"ui4",
	"i1",
	"i2",
	"i4",
	"int",
	"r4",
	"r8",
	"number",
	"fixed.14.4",
	"char",
	"string",
	"boolean",
	"bin.base64",
	"bin.hex",
	"date",
	"dateTime",
	"dateTime.tz",
	"time",
	"time.tz",
	"uuid",
	"uri",
}

// String returns the UPnP wire name of the datatype as it appears in a
// <dataType> descriptor element. It defaults to "unknown" if the type is
// not recognized.
func (t Datatype) String() string {
	if int(t) >= 0 && int(t) < len(typeStrings) {
		return typeStrings[t]
	}
	return "unknown"
}

// ParseDatatype converts a UPnP type name to its Datatype constant.
// Case-insensitive and trims whitespace. Returns Unknown for unrecognized
// names.
func ParseDatatype(s string) Datatype {
	s = strings.TrimSpace(s)
	for name, val := range typeNames {
		if strings.EqualFold(name, s) {
			return val
		}
	}
	return Unknown
}

// IsNumeric reports whether the datatype holds number-like values:
// UI1, UI2, UI4, I1, I2, I4, Int, R4, R8, Number and Fixed14_4.
func (t Datatype) IsNumeric() bool {
	switch t {
	case UI1, UI2, UI4,
		I1, I2, I4,
		Int,
		R4, R8,
		Number,
		Fixed14_4:
		return true
	default:
		return false
	}
}

// IsInteger reports whether the datatype is one of the integer types
// (UI1, UI2, UI4, I1, I2, I4, Int).
func (t Datatype) IsInteger() bool {
	switch t {
	case UI1, UI2, UI4,
		I1, I2, I4,
		Int:
		return true
	default:
		return false
	}
}

// IsString reports whether the datatype may carry an allowed-value list.
func (t Datatype) IsString() bool {
	return t == String
}

// Cast converts a value to the Go type corresponding to the UPnP type.
// Supports conversion from various primitive types and strings.
// Returns an error for unsupported conversions or invalid values.
//
// Examples:
//   - types.UI2.Cast(42)         // uint16(42), nil
//   - types.Boolean.Cast("true") // true, nil
//   - types.UI1.Cast(300)        // nil, error (overflow)
func (t Datatype) Cast(val interface{}) (interface{}, error) {
	switch t {
	case UI1:
		v, err := toUint(val, 8)
		if err != nil {
			return nil, fmt.Errorf("cannot cast %v (%T) to ui1", val, val)
		}
		return uint8(v), nil

	case UI2:
		v, err := toUint(val, 16)
		if err != nil {
			return nil, fmt.Errorf("cannot cast %v (%T) to ui2", val, val)
		}
		return uint16(v), nil

	case UI4:
		v, err := toUint(val, 32)
		if err != nil {
			return nil, fmt.Errorf("cannot cast %v (%T) to ui4", val, val)
		}
		return uint32(v), nil

	case I1:
		v, err := toInt(val, 8)
		if err != nil {
			return nil, fmt.Errorf("cannot cast %v (%T) to i1", val, val)
		}
		return int8(v), nil

	case I2:
		v, err := toInt(val, 16)
		if err != nil {
			return nil, fmt.Errorf("cannot cast %v (%T) to i2", val, val)
		}
		return int16(v), nil

	case I4, Int:
		v, err := toInt(val, 32)
		if err != nil {
			return nil, fmt.Errorf("cannot cast %v (%T) to i4", val, val)
		}
		return int32(v), nil

	case R4:
		v, err := toFloat(val, 32)
		if err != nil {
			return nil, fmt.Errorf("cannot cast %v (%T) to r4", val, val)
		}
		return float32(v), nil

	case R8, Number, Fixed14_4:
		v, err := toFloat(val, 64)
		if err != nil {
			return nil, fmt.Errorf("cannot cast %v (%T) to r8", val, val)
		}
		return v, nil

	case Boolean:
		b, err := toBool(val)
		if err != nil {
			return nil, fmt.Errorf("cannot cast %v (%T) to boolean", val, val)
		}
		return b, nil

	case Char:
		switch s := val.(type) {
		case string:
			r := []rune(s)
			if len(r) != 1 {
				return nil, fmt.Errorf("invalid char: %q is not a single character", s)
			}
			return r[0], nil
		case rune:
			return s, nil
		default:
			return nil, fmt.Errorf("cannot cast %v (%T) to char", val, val)
		}

	case String:
		return fmt.Sprint(val), nil

	case UUID:
		switch val := val.(type) {
		case uuid.UUID:
			return val, nil
		case string:
			u, err := uuid.Parse(strings.TrimSpace(val))
			if err != nil {
				return nil, fmt.Errorf("invalid uuid %v: %v", val, err)
			}
			return u, nil
		default:
			return nil, fmt.Errorf("cannot cast %v (%T) to uuid", val, val)
		}

	case URI:
		switch val := val.(type) {
		case *url.URL:
			return val, nil
		case string:
			u, err := url.Parse(strings.TrimSpace(val))
			if err != nil {
				return nil, fmt.Errorf("invalid uri %v: %v", val, err)
			}
			return u, nil
		default:
			return nil, fmt.Errorf("cannot cast %v (%T) to uri", val, val)
		}

	case BinBase64, BinHex:
		switch v := val.(type) {
		case []byte:
			return v, nil
		case string:
			return decodeBinary(t, v)
		default:
			return nil, fmt.Errorf("cannot cast %v (%T) to binary", val, val)
		}

	case Date, DateTime, DateTimeTZ, Time, TimeTZ:
		switch v := val.(type) {
		case time.Time:
			return v, nil
		case string:
			return parseTime(t, v)
		default:
			return nil, fmt.Errorf("cannot cast %v (%T) to time", val, val)
		}

	default:
		return nil, fmt.Errorf("unsupported datatype: %v", t)
	}
}

// Parse converts a string from the wire into a value of the Go type
// corresponding to the UPnP type. It is Cast restricted to string input,
// which is what every codec needs.
func (t Datatype) Parse(s string) (interface{}, error) {
	return t.Cast(s)
}
