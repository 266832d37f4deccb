package record

import (
	"fmt"
	"strings"
)

// DataType identifies an attribute's type.
type DataType int32

const (
	TypeInt    DataType = 0
	TypeString DataType = 1
	TypeFloat  DataType = 2
	TypeBool   DataType = 3
)

func (dt DataType) String() string {
	switch dt {
	case TypeInt:
		return "INT"
	case TypeString:
		return "STRING"
	case TypeFloat:
		return "FLOAT"
	case TypeBool:
		return "BOOL"
	default:
		return "UNKNOWN"
	}
}

// width returns the packed byte width of the type; strings take their
// declared length.
func (dt DataType) width(typeLength int32) int32 {
	switch dt {
	case TypeInt:
		return 4
	case TypeFloat:
		return 4
	case TypeBool:
		return 1
	case TypeString:
		return typeLength
	default:
		return 0
	}
}

// Value is one typed attribute value. The zero Value is a non-NULL INT 0;
// NULLs are built with NullValue.
type Value struct {
	Type   DataType
	IsNull bool
	Int    int32
	Float  float32
	Bool   bool
	Str    string
}

// IntValue builds an INT value.
func IntValue(v int32) Value { return Value{Type: TypeInt, Int: v} }

// FloatValue builds a FLOAT value.
func FloatValue(v float32) Value { return Value{Type: TypeFloat, Float: v} }

// BoolValue builds a BOOL value.
func BoolValue(v bool) Value { return Value{Type: TypeBool, Bool: v} }

// StringValue builds a STRING value.
func StringValue(v string) Value { return Value{Type: TypeString, Str: v} }

// NullValue builds a NULL of the given type.
func NullValue(dt DataType) Value { return Value{Type: dt, IsNull: true} }

// Equals compares two values of the same type. Comparisons involving
// NULL are false. Strings compare byte-wise with trailing padding
// stripped.
func (v Value) Equals(o Value) bool {
	if v.IsNull || o.IsNull || v.Type != o.Type {
		return false
	}
	switch v.Type {
	case TypeInt:
		return v.Int == o.Int
	case TypeFloat:
		return v.Float == o.Float
	case TypeBool:
		return v.Bool == o.Bool
	case TypeString:
		return strings.TrimRight(v.Str, " ") == strings.TrimRight(o.Str, " ")
	default:
		return false
	}
}

// Less orders two values of the same numeric or string type. Comparisons
// involving NULL or BOOL are false.
func (v Value) Less(o Value) bool {
	if v.IsNull || o.IsNull || v.Type != o.Type {
		return false
	}
	switch v.Type {
	case TypeInt:
		return v.Int < o.Int
	case TypeFloat:
		return v.Float < o.Float
	case TypeString:
		return strings.TrimRight(v.Str, " ") < strings.TrimRight(o.Str, " ")
	default:
		return false
	}
}

func (v Value) String() string {
	if v.IsNull {
		return "NULL"
	}
	switch v.Type {
	case TypeInt:
		return fmt.Sprintf("%d", v.Int)
	case TypeFloat:
		return fmt.Sprintf("%g", v.Float)
	case TypeBool:
		return fmt.Sprintf("%t", v.Bool)
	case TypeString:
		return strings.TrimRight(v.Str, " ")
	default:
		return "?"
	}
}
