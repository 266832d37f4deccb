package record

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// tombstoneBit marks a logically deleted record in the null map.
const tombstoneBit = 15

// RID locates a record: data page number and slot within the page.
// RIDs are stable across updates.
type RID struct {
	Page int32
	Slot int32
}

func (id RID) String() string {
	return fmt.Sprintf("%d.%d", id.Page, id.Slot)
}

// Record is one tuple: its location, the null/tombstone bitmap, and the
// packed attribute payload.
type Record struct {
	ID      RID
	NullMap uint16
	Data    []byte
}

// NewRecord allocates an empty record sized for the schema.
func NewRecord(schema *Schema) *Record {
	return &Record{Data: make([]byte, schema.RecordSize())}
}

// Tombstoned reports whether the record carries the deletion mark.
func (r *Record) Tombstoned() bool {
	return r.NullMap&(1<<tombstoneBit) != 0
}

func (r *Record) setTombstone() {
	r.NullMap |= 1 << tombstoneBit
}

// IsNullAttr reports whether attribute attrNum is NULL.
func (r *Record) IsNullAttr(schema *Schema, attrNum int) (bool, error) {
	if attrNum < 0 || attrNum >= schema.NumAttrs() {
		return false, fmt.Errorf("%w: attribute %d", ErrInvalidAttr, attrNum)
	}
	return r.NullMap&(1<<uint(attrNum)) != 0, nil
}

// GetAttr decodes attribute attrNum from the packed payload.
func (r *Record) GetAttr(schema *Schema, attrNum int) (Value, error) {
	if attrNum < 0 || attrNum >= schema.NumAttrs() {
		return Value{}, fmt.Errorf("%w: attribute %d", ErrInvalidAttr, attrNum)
	}
	dt := schema.DataTypes[attrNum]
	if r.NullMap&(1<<uint(attrNum)) != 0 {
		return NullValue(dt), nil
	}

	off := schema.attrOffsets[attrNum]
	switch dt {
	case TypeInt:
		return IntValue(int32(binary.LittleEndian.Uint32(r.Data[off:]))), nil
	case TypeFloat:
		return FloatValue(math.Float32frombits(binary.LittleEndian.Uint32(r.Data[off:]))), nil
	case TypeBool:
		return BoolValue(r.Data[off] != 0), nil
	case TypeString:
		n := schema.TypeLengths[attrNum]
		return StringValue(string(r.Data[off : off+n])), nil
	default:
		return Value{}, fmt.Errorf("%w: attribute %d has unknown type %d", ErrInvalidAttr, attrNum, dt)
	}
}

// SetAttr encodes v into attribute attrNum of the packed payload.
// Strings are space-padded to the declared length and truncated beyond
// it. A NULL value sets the null bit and zeroes the field.
func (r *Record) SetAttr(schema *Schema, attrNum int, v Value) error {
	if attrNum < 0 || attrNum >= schema.NumAttrs() {
		return fmt.Errorf("%w: attribute %d", ErrInvalidAttr, attrNum)
	}
	dt := schema.DataTypes[attrNum]
	if !v.IsNull && v.Type != dt {
		return fmt.Errorf("%w: attribute %d is %s, value is %s", ErrInvalidAttr, attrNum, dt, v.Type)
	}

	off := schema.attrOffsets[attrNum]
	width := dt.width(schema.TypeLengths[attrNum])

	if v.IsNull {
		r.NullMap |= 1 << uint(attrNum)
		for i := off; i < off+width; i++ {
			r.Data[i] = 0
		}
		return nil
	}
	r.NullMap &^= 1 << uint(attrNum)

	switch dt {
	case TypeInt:
		binary.LittleEndian.PutUint32(r.Data[off:], uint32(v.Int))
	case TypeFloat:
		binary.LittleEndian.PutUint32(r.Data[off:], math.Float32bits(v.Float))
	case TypeBool:
		if v.Bool {
			r.Data[off] = 1
		} else {
			r.Data[off] = 0
		}
	case TypeString:
		s := v.Str
		n := int(schema.TypeLengths[attrNum])
		if len(s) > n {
			s = s[:n]
		}
		copy(r.Data[off:], s)
		for i := off + int32(len(s)); i < off+int32(n); i++ {
			r.Data[i] = ' '
		}
	}
	return nil
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	data := make([]byte, len(r.Data))
	copy(data, r.Data)
	return &Record{ID: r.ID, NullMap: r.NullMap, Data: data}
}

// serializeInto packs the record into its on-page slot form:
// page id, slot id, null map, payload. dst must be PhysRecordSize bytes.
func (r *Record) serializeInto(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:4], uint32(r.ID.Page))
	binary.LittleEndian.PutUint32(dst[4:8], uint32(r.ID.Slot))
	binary.LittleEndian.PutUint16(dst[8:10], r.NullMap)
	copy(dst[10:], r.Data)
}

// deserializeRecord unpacks a slot image into a fresh record.
func deserializeRecord(schema *Schema, src []byte) *Record {
	r := NewRecord(schema)
	r.ID.Page = int32(binary.LittleEndian.Uint32(src[0:4]))
	r.ID.Slot = int32(binary.LittleEndian.Uint32(src[4:8]))
	r.NullMap = binary.LittleEndian.Uint16(src[8:10])
	copy(r.Data, src[10:10+int(schema.RecordSize())])
	return r
}

// Format renders the record as "(a:1,b:hello,…)" for diagnostics.
func (r *Record) Format(schema *Schema) string {
	var b strings.Builder
	b.WriteByte('(')
	for i, name := range schema.AttrNames {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(name)
		b.WriteByte(':')
		v, err := r.GetAttr(schema, i)
		if err != nil {
			b.WriteByte('?')
			continue
		}
		b.WriteString(v.String())
	}
	b.WriteByte(')')
	return b.String()
}
