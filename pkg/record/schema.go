package record

import (
	"encoding/binary"
	"fmt"
)

// Schema describes the fixed layout of a table's records: attribute
// names, types, string lengths, the optional single-attribute primary
// key, and the derived packed offsets.
type Schema struct {
	AttrNames   []string
	DataTypes   []DataType
	TypeLengths []int32
	KeyAttrs    []int32
	attrOffsets []int32
	recordSize  int32
}

// NewSchema validates the attribute lists, derives the packed offsets
// and returns the schema.
func NewSchema(names []string, types []DataType, typeLengths []int32, keyAttrs []int32) (*Schema, error) {
	if len(names) == 0 || len(names) != len(types) || len(names) != len(typeLengths) {
		return nil, fmt.Errorf("%w: attribute lists of lengths %d/%d/%d",
			ErrInvalidSchema, len(names), len(types), len(typeLengths))
	}
	if len(keyAttrs) > 1 {
		return nil, fmt.Errorf("%w: multi-attribute keys are not supported", ErrInvalidSchema)
	}
	for _, k := range keyAttrs {
		if int(k) < 0 || int(k) >= len(names) {
			return nil, fmt.Errorf("%w: key attribute %d out of range", ErrInvalidSchema, k)
		}
		if types[k] != TypeInt {
			return nil, fmt.Errorf("%w: key attribute %d must be INT", ErrInvalidSchema, k)
		}
	}

	s := &Schema{
		AttrNames:   names,
		DataTypes:   types,
		TypeLengths: typeLengths,
		KeyAttrs:    keyAttrs,
	}
	s.attrOffsets = make([]int32, len(names))
	var off int32
	for i := range names {
		if types[i] == TypeString && typeLengths[i] <= 0 {
			return nil, fmt.Errorf("%w: string attribute %q needs a positive length", ErrInvalidSchema, names[i])
		}
		s.attrOffsets[i] = off
		off += types[i].width(typeLengths[i])
	}
	s.recordSize = off
	return s, nil
}

// NumAttrs returns the attribute count.
func (s *Schema) NumAttrs() int {
	return len(s.AttrNames)
}

// RecordSize returns the packed payload size of one record.
func (s *Schema) RecordSize() int32 {
	return s.recordSize
}

// PhysRecordSize returns the on-page size of one slot:
// page id, slot id, null map, then the packed payload.
func (s *Schema) PhysRecordSize() int32 {
	return 4 + 4 + 2 + s.recordSize
}

// HasPrimaryKey reports whether the schema declares a primary key.
func (s *Schema) HasPrimaryKey() bool {
	return len(s.KeyAttrs) == 1
}

// AttrIndex resolves an attribute name to its position.
func (s *Schema) AttrIndex(name string) (int, error) {
	for i, n := range s.AttrNames {
		if n == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %q", ErrInvalidAttr, name)
}

// serializedSize returns the byte size of the schema blob written into
// the table header page.
func (s *Schema) serializedSize() int32 {
	size := int32(4) // numAttr
	for _, n := range s.AttrNames {
		size += 4 + 4 + 4 + int32(len(n)) // dataType, typeLength, nameLen, name
	}
	size += 4                          // keySize
	size += 4 * int32(len(s.KeyAttrs)) // keyAttrs
	return size
}

// serialize appends the schema blob to buf:
// numAttr, then per attribute (dataType, typeLength, nameLen, name),
// then keySize and the key attribute positions. All little-endian.
func (s *Schema) serialize(buf []byte) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s.AttrNames)))
	for i, n := range s.AttrNames {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(s.DataTypes[i]))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(s.TypeLengths[i]))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(n)))
		buf = append(buf, n...)
	}
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s.KeyAttrs)))
	for _, k := range s.KeyAttrs {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(k))
	}
	return buf
}

// deserializeSchema parses a schema blob produced by serialize.
func deserializeSchema(buf []byte) (*Schema, error) {
	r := &byteReader{buf: buf}

	numAttr, err := r.uint32()
	if err != nil {
		return nil, fmt.Errorf("%w: truncated schema", ErrInvalidSchema)
	}
	if numAttr == 0 || numAttr > 1<<16 {
		return nil, fmt.Errorf("%w: implausible attribute count %d", ErrInvalidSchema, numAttr)
	}

	names := make([]string, numAttr)
	types := make([]DataType, numAttr)
	lengths := make([]int32, numAttr)
	for i := 0; i < int(numAttr); i++ {
		dt, err := r.uint32()
		if err != nil {
			return nil, fmt.Errorf("%w: truncated attribute %d", ErrInvalidSchema, i)
		}
		tl, err := r.uint32()
		if err != nil {
			return nil, fmt.Errorf("%w: truncated attribute %d", ErrInvalidSchema, i)
		}
		nameLen, err := r.uint32()
		if err != nil {
			return nil, fmt.Errorf("%w: truncated attribute %d", ErrInvalidSchema, i)
		}
		name, err := r.bytes(int(nameLen))
		if err != nil {
			return nil, fmt.Errorf("%w: truncated attribute name %d", ErrInvalidSchema, i)
		}
		types[i] = DataType(dt)
		lengths[i] = int32(tl)
		names[i] = string(name)
	}

	keySize, err := r.uint32()
	if err != nil {
		return nil, fmt.Errorf("%w: truncated key info", ErrInvalidSchema)
	}
	keys := make([]int32, keySize)
	for i := range keys {
		k, err := r.uint32()
		if err != nil {
			return nil, fmt.Errorf("%w: truncated key attribute %d", ErrInvalidSchema, i)
		}
		keys[i] = int32(k)
	}

	return NewSchema(names, types, lengths, keys)
}

// byteReader is a bounds-checked cursor over a serialized blob.
type byteReader struct {
	buf []byte
	pos int
}

func (r *byteReader) uint32() (uint32, error) {
	if r.pos+4 > len(r.buf) {
		return 0, fmt.Errorf("short read at %d", r.pos)
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *byteReader) bytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, fmt.Errorf("short read at %d", r.pos)
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}
