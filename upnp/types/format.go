package types

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Format converts a value to its UPnP-compatible string representation,
// suitable for descriptors, SOAP arguments and GENA properties. The value
// is cast to the type first, so Format accepts anything Cast accepts.
func (t Datatype) Format(val interface{}) (string, error) {
	if val == nil {
		return "", fmt.Errorf("cannot format nil as %v", t)
	}

	cval, err := t.Cast(val)
	if err != nil {
		return "", err
	}

	switch t {
	case Boolean:
		// Boolean: "1" for true, "0" for false (UPnP standard)
		if cval.(bool) {
			return "1", nil
		}
		return "0", nil

	case Char:
		return string(cval.(rune)), nil

	case R4:
		return strconv.FormatFloat(float64(cval.(float32)), 'g', -1, 32), nil

	case R8, Number:
		return strconv.FormatFloat(cval.(float64), 'g', -1, 64), nil

	case Fixed14_4:
		// Fixed-point: four digits after the decimal separator
		return strconv.FormatFloat(cval.(float64), 'f', 4, 64), nil

	case Date:
		return cval.(time.Time).Format("2006-01-02"), nil

	case DateTime:
		return cval.(time.Time).Format("2006-01-02T15:04:05"), nil

	case DateTimeTZ:
		return cval.(time.Time).Format("2006-01-02T15:04:05Z07:00"), nil

	case Time:
		return cval.(time.Time).Format("15:04:05"), nil

	case TimeTZ:
		return cval.(time.Time).Format("15:04:05Z07:00"), nil

	case BinBase64:
		return base64.StdEncoding.EncodeToString(cval.([]byte)), nil

	case BinHex:
		return hex.EncodeToString(cval.([]byte)), nil

	case URI:
		return cval.(*url.URL).String(), nil

	case UUID:
		return cval.(uuid.UUID).String(), nil
	}

	// Integers and strings print naturally
	return fmt.Sprintf("%v", cval), nil
}

// MustFormat is Format for values already known to be valid, as when
// serializing a value previously accepted by Cast. It falls back to
// fmt.Sprint instead of failing.
func (t Datatype) MustFormat(val interface{}) string {
	s, err := t.Format(val)
	if err != nil {
		return fmt.Sprint(val)
	}
	return s
}
