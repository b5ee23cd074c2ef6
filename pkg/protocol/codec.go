package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/aeolun/wired/pkg/spec"
)

// Encode serializes the message:
//
//	[u32 message id] then per field [u32 field id][u8 type id][value]
//
// Fixed-width values are big-endian. Strings are [u32 length incl. NUL][UTF-8][0x00],
// data is [u32 length][bytes] and lists are [u32 count] followed by strings.
func (m *Message) Encode() ([]byte, error) {
	for _, p := range m.spec.Parameters {
		if p.Required && !m.Has(p.Field.Name) {
			return nil, fmt.Errorf("%w: %s in %s", ErrMissingField, p.Field.Name, m.spec.Name)
		}
	}

	buf := new(bytes.Buffer)
	_ = WriteUint32(buf, m.spec.ID)

	for _, name := range m.Fields() {
		f, ok := m.catalog.Field(name)
		if !ok {
			return nil, spec.UnknownField(name)
		}
		if _, ok := m.spec.Parameter(name); !ok {
			return nil, spec.UndeclaredField(m.spec.Name, name)
		}
		_ = WriteUint32(buf, f.ID)
		_ = WriteUint8(buf, uint8(f.Type))
		if err := encodeValue(buf, f, m.values[name]); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func encodeValue(buf *bytes.Buffer, f *spec.Field, value any) error {
	switch v := value.(type) {
	case bool:
		if v {
			return WriteUint8(buf, 1)
		}
		return WriteUint8(buf, 0)
	case uint8:
		return WriteUint8(buf, v)
	case int8:
		return WriteUint8(buf, uint8(v))
	case uint16:
		return WriteUint16(buf, v)
	case int16:
		return WriteUint16(buf, uint16(v))
	case uint32:
		return WriteUint32(buf, v)
	case int32:
		return WriteUint32(buf, uint32(v))
	case uint64:
		return WriteUint64(buf, v)
	case int64:
		return WriteUint64(buf, uint64(v))
	case float64:
		return WriteUint64(buf, math.Float64bits(v))
	case string:
		return WriteString(buf, v)
	case uuid.UUID:
		_, err := buf.Write(v[:])
		return err
	case time.Time:
		return WriteUint64(buf, uint64(v.Unix()))
	case []byte:
		return WriteBytes(buf, v)
	case []string:
		if err := WriteUint32(buf, uint32(len(v))); err != nil {
			return err
		}
		for _, s := range v {
			if err := WriteString(buf, s); err != nil {
				return err
			}
		}
		return nil
	}
	return &FieldTypeMismatch{Field: f.Name, Want: f.Type, Got: fmt.Sprintf("%T", value)}
}

// decoder walks a message payload.
type decoder struct {
	buf []byte
	off int
}

func (d *decoder) remaining() int { return len(d.buf) - d.off }

func (d *decoder) take(n int, field string) ([]byte, error) {
	if n < 0 || d.remaining() < n {
		return nil, &DecodeError{
			Kind:   KindTruncated,
			Field:  field,
			Offset: d.off,
			Detail: fmt.Sprintf("need %d bytes, have %d", n, d.remaining()),
		}
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b, nil
}

func (d *decoder) readUint32(field string) (uint32, error) {
	b, err := d.take(4, field)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (d *decoder) readString(field string) (string, error) {
	start := d.off
	n, err := d.readUint32(field)
	if err != nil {
		return "", err
	}
	b, err := d.take(int(n), field)
	if err != nil {
		return "", err
	}
	if len(b) == 0 || b[len(b)-1] != 0 {
		return "", &DecodeError{Kind: KindTypeMismatch, Field: field, Offset: start, Detail: "string is not NUL terminated"}
	}
	return string(b[:len(b)-1]), nil
}

// value decodes one value of type t.
func (d *decoder) value(t spec.FieldType, field string) (any, error) {
	if size := t.Size(); size > 0 {
		b, err := d.take(size, field)
		if err != nil {
			return nil, err
		}
		return fixedValue(t, b), nil
	}

	switch t {
	case spec.TypeString:
		return d.readString(field)
	case spec.TypeData:
		n, err := d.readUint32(field)
		if err != nil {
			return nil, err
		}
		b, err := d.take(int(n), field)
		if err != nil {
			return nil, err
		}
		return append([]byte{}, b...), nil
	case spec.TypeList:
		n, err := d.readUint32(field)
		if err != nil {
			return nil, err
		}
		// Every item takes at least 5 bytes; refuse counts the payload cannot hold.
		if int64(n)*5 > int64(d.remaining()) {
			return nil, &DecodeError{Kind: KindTruncated, Field: field, Offset: d.off, Detail: fmt.Sprintf("list of %d items", n)}
		}
		items := make([]string, 0, n)
		for i := uint32(0); i < n; i++ {
			s, err := d.readString(field)
			if err != nil {
				return nil, err
			}
			items = append(items, s)
		}
		return items, nil
	}

	return nil, &DecodeError{Kind: KindTypeMismatch, Field: field, Offset: d.off, Detail: fmt.Sprintf("invalid type id %d", t)}
}

func fixedValue(t spec.FieldType, b []byte) any {
	switch t {
	case spec.TypeBool:
		return b[0] != 0
	case spec.TypeInt8:
		return int8(b[0])
	case spec.TypeUint8:
		return b[0]
	case spec.TypeInt16:
		return int16(binary.BigEndian.Uint16(b))
	case spec.TypeUint16:
		return binary.BigEndian.Uint16(b)
	case spec.TypeInt32:
		return int32(binary.BigEndian.Uint32(b))
	case spec.TypeEnum, spec.TypeUint32:
		return binary.BigEndian.Uint32(b)
	case spec.TypeInt64:
		return int64(binary.BigEndian.Uint64(b))
	case spec.TypeUint64, spec.TypeOOBData:
		return binary.BigEndian.Uint64(b)
	case spec.TypeDouble:
		return math.Float64frombits(binary.BigEndian.Uint64(b))
	case spec.TypeDate:
		return time.Unix(int64(binary.BigEndian.Uint64(b)), 0).UTC()
	case spec.TypeUUID:
		var u uuid.UUID
		copy(u[:], b)
		return u
	}
	return nil
}

// Decode parses a payload produced by Encode. Fields unknown to the catalog
// are skipped and reported by Message.Skipped. Catalog fields the message does
// not declare are kept and reported by Message.Undeclared. A message ID the
// catalog does not define yields a *spec.Error of kind KindUnknownMessage.
func Decode(catalog *spec.Catalog, payload []byte) (*Message, error) {
	d := &decoder{buf: payload}

	id, err := d.readUint32("")
	if err != nil {
		return nil, err
	}
	ms, ok := catalog.LookupID(id)
	if !ok {
		return nil, spec.UnknownMessageID(id)
	}

	m := &Message{catalog: catalog, spec: ms, values: make(map[string]any)}

	for d.remaining() > 0 {
		header, err := d.take(5, "")
		if err != nil {
			return nil, err
		}
		fieldID := binary.BigEndian.Uint32(header[:4])
		wireType := spec.FieldType(header[4])

		f, known := catalog.FieldByID(fieldID)
		if !known {
			if !wireType.Valid() {
				return nil, &DecodeError{Kind: KindTypeMismatch, Offset: d.off - 1, Detail: fmt.Sprintf("unknown field %d with invalid type id %d", fieldID, wireType)}
			}
			if _, err := d.value(wireType, ""); err != nil {
				return nil, err
			}
			m.skipped = append(m.skipped, fieldID)
			continue
		}

		if wireType != f.Type {
			return nil, &DecodeError{
				Kind:   KindTypeMismatch,
				Field:  f.Name,
				Offset: d.off - 1,
				Detail: fmt.Sprintf("wire type %s, catalog type %s", wireType, f.Type),
			}
		}

		v, err := d.value(f.Type, f.Name)
		if err != nil {
			return nil, err
		}
		if _, ok := ms.Parameter(f.Name); !ok {
			if _, dup := m.values[f.Name]; !dup {
				m.undeclared = append(m.undeclared, f.Name)
			}
		}
		m.values[f.Name] = v
	}

	return m, nil
}
