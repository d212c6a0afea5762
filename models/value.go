package models

import (
	"encoding/base64"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"
)

// ValueType is the semantic type of a row field.
type ValueType int

const (
	TypeNone ValueType = iota
	TypeString
	TypeInteger
	TypeDecimal
	TypeBoolean
	TypeDate
	TypeBinary
)

// DateLayout is the layout used when dates are converted from or to text.
const DateLayout = time.RFC3339Nano

func (t ValueType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeInteger:
		return "integer"
	case TypeDecimal:
		return "decimal"
	case TypeBoolean:
		return "boolean"
	case TypeDate:
		return "date"
	case TypeBinary:
		return "binary"
	default:
		return "none"
	}
}

// ParseValueType returns the type named by s.
func ParseValueType(s string) (ValueType, error) {
	switch strings.ToLower(s) {
	case "string":
		return TypeString, nil
	case "integer", "int":
		return TypeInteger, nil
	case "decimal", "number", "bignumber":
		return TypeDecimal, nil
	case "boolean", "bool":
		return TypeBoolean, nil
	case "date", "timestamp":
		return TypeDate, nil
	case "binary":
		return TypeBinary, nil
	}
	return TypeNone, fmt.Errorf("unknown value type %q", s)
}

func (t ValueType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *ValueType) UnmarshalText(text []byte) error {
	v, err := ParseValueType(string(text))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Check reports whether v is a legal value for the type.
// A nil value is always legal and represents null.
func (t ValueType) Check(v interface{}) error {
	if v == nil {
		return nil
	}
	ok := false
	switch t {
	case TypeString:
		_, ok = v.(string)
	case TypeInteger:
		_, ok = v.(int64)
	case TypeDecimal:
		_, ok = v.(*big.Float)
	case TypeBoolean:
		_, ok = v.(bool)
	case TypeDate:
		_, ok = v.(time.Time)
	case TypeBinary:
		_, ok = v.([]byte)
	}
	if !ok {
		return fmt.Errorf("value of type %T is not a legal %s", v, t)
	}
	return nil
}

// Convert converts a loosely typed value, as found in decoded configuration,
// into the Go representation of the type.
func (t ValueType) Convert(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case TypeString:
		switch x := v.(type) {
		case string:
			return x, nil
		case []byte:
			return string(x), nil
		case time.Time:
			return x.Format(DateLayout), nil
		case *big.Float:
			return x.Text('f', -1), nil
		}
		return fmt.Sprint(v), nil
	case TypeInteger:
		switch x := v.(type) {
		case int:
			return int64(x), nil
		case int32:
			return int64(x), nil
		case int64:
			return x, nil
		case float64:
			return int64(x), nil
		case bool:
			if x {
				return int64(1), nil
			}
			return int64(0), nil
		case string:
			return strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		}
	case TypeDecimal:
		switch x := v.(type) {
		case *big.Float:
			return new(big.Float).Copy(x), nil
		case int:
			return new(big.Float).SetInt64(int64(x)), nil
		case int64:
			return new(big.Float).SetInt64(x), nil
		case float64:
			return big.NewFloat(x), nil
		case string:
			f, _, err := big.ParseFloat(strings.TrimSpace(x), 10, 128, big.ToNearestEven)
			return f, err
		}
	case TypeBoolean:
		switch x := v.(type) {
		case bool:
			return x, nil
		case int64:
			return x != 0, nil
		case float64:
			return x != 0, nil
		case string:
			return strconv.ParseBool(strings.TrimSpace(x))
		}
	case TypeDate:
		switch x := v.(type) {
		case time.Time:
			return x, nil
		case string:
			return time.Parse(DateLayout, strings.TrimSpace(x))
		case int64:
			return time.Unix(0, x).UTC(), nil
		case float64:
			return time.Unix(0, int64(x)).UTC(), nil
		}
	case TypeBinary:
		switch x := v.(type) {
		case []byte:
			b := make([]byte, len(x))
			copy(b, x)
			return b, nil
		case string:
			return base64.StdEncoding.DecodeString(x)
		}
	}
	return nil, fmt.Errorf("cannot convert %T to %s", v, t)
}

// Equal compares two field values of the same semantic type.
func Equal(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch x := a.(type) {
	case *big.Float:
		y, ok := b.(*big.Float)
		return ok && x.Cmp(y) == 0
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	case []byte:
		y, ok := b.([]byte)
		return ok && string(x) == string(y)
	}
	return a == b
}
