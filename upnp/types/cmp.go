package types

import (
	"bytes"
	"fmt"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Cmp compares two values of the UPnP type. Returns:
//   - -1 if v1 < v2
//   - 0 if v1 == v2
//   - 1 if v1 > v2
//
// Values that cannot be cast to the type compare as an error.
func (t Datatype) Cmp(v1, v2 interface{}) (int, error) {
	compareFloat := func(f1, f2 float64) int {
		switch {
		case f1 < f2:
			return -1
		case f1 > f2:
			return 1
		default:
			return 0
		}
	}

	castV1, err1 := t.Cast(v1)
	castV2, err2 := t.Cast(v2)

	if err1 != nil || err2 != nil {
		return 0, fmt.Errorf("failed to cast for comparison: %v vs %v (errors: %v, %v)", v1, v2, err1, err2)
	}

	switch t {
	case I1, I2, I4, Int:
		i1 := reflect.ValueOf(castV1).Int()
		i2 := reflect.ValueOf(castV2).Int()

		switch {
		case i1 < i2:
			return -1, nil
		case i1 > i2:
			return 1, nil
		default:
			return 0, nil
		}

	case UI1, UI2, UI4:
		u1 := reflect.ValueOf(castV1).Uint()
		u2 := reflect.ValueOf(castV2).Uint()

		switch {
		case u1 < u2:
			return -1, nil
		case u1 > u2:
			return 1, nil
		default:
			return 0, nil
		}

	case R4:
		return compareFloat(float64(castV1.(float32)), float64(castV2.(float32))), nil

	case R8, Number, Fixed14_4:
		return compareFloat(castV1.(float64), castV2.(float64)), nil

	case Boolean:
		b1 := castV1.(bool)
		b2 := castV2.(bool)
		switch {
		case b1 == b2:
			return 0, nil
		case !b1 && b2:
			return -1, nil
		default:
			return 1, nil
		}

	case Char:
		r1 := castV1.(rune)
		r2 := castV2.(rune)

		switch {
		case r1 < r2:
			return -1, nil
		case r1 > r2:
			return 1, nil
		default:
			return 0, nil
		}

	case String:
		return strings.Compare(castV1.(string), castV2.(string)), nil

	case UUID:
		return strings.Compare(castV1.(uuid.UUID).String(), castV2.(uuid.UUID).String()), nil

	case URI:
		return strings.Compare(castV1.(*url.URL).String(), castV2.(*url.URL).String()), nil

	case BinBase64, BinHex:
		return bytes.Compare(castV1.([]byte), castV2.([]byte)), nil

	case Date, DateTime, DateTimeTZ, Time, TimeTZ:
		t1 := castV1.(time.Time)
		t2 := castV2.(time.Time)
		if t1.Before(t2) {
			return -1, nil
		} else if t1.After(t2) {
			return 1, nil
		}
		return 0, nil

	default:
		return strings.Compare(fmt.Sprint(castV1), fmt.Sprint(castV2)), nil
	}
}

// Equal reports whether two values of the type compare equal.
func (t Datatype) Equal(v1, v2 interface{}) bool {
	c, err := t.Cmp(v1, v2)
	return err == nil && c == 0
}
