// Package protocol implements the P7 message model, its binary codec and the
// length-delimited framing used by the wire channel.
package protocol

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aeolun/wired/pkg/spec"
)

// Message is a spec-validated set of typed field values.
type Message struct {
	catalog *spec.Catalog
	spec    *spec.MessageSpec
	values  map[string]any
	skipped []uint32

	undeclared []string
}

// NewMessage returns an empty message named name.
func NewMessage(catalog *spec.Catalog, name string) (*Message, error) {
	ms, ok := catalog.Lookup(name)
	if !ok {
		return nil, spec.UnknownMessage(name)
	}
	return &Message{
		catalog: catalog,
		spec:    ms,
		values:  make(map[string]any),
	}, nil
}

// Name returns the message name.
func (m *Message) Name() string { return m.spec.Name }

// ID returns the message wire ID.
func (m *Message) ID() uint32 { return m.spec.ID }

// Spec returns the message definition.
func (m *Message) Spec() *spec.MessageSpec { return m.spec }

// Catalog returns the catalog the message was built against.
func (m *Message) Catalog() *spec.Catalog { return m.catalog }

// Skipped returns the IDs of fields that were present on the wire but unknown
// to the catalog.
func (m *Message) Skipped() []uint32 {
	return append([]uint32(nil), m.skipped...)
}

// Undeclared returns the names of decoded fields that the catalog knows but
// the message does not list as parameters. Their values are kept.
func (m *Message) Undeclared() []string {
	return append([]string(nil), m.undeclared...)
}

// Set stores value for field, which must be one of the message's parameters.
// The Go type must match the catalog type:
//
//	bool, enum (uint32), int8..int64, uint8..uint64, double (float64),
//	string, data ([]byte), date (time.Time), uuid (uuid.UUID),
//	oobdata (uint64), list ([]string)
func (m *Message) Set(field string, value any) error {
	f, ok := m.catalog.Field(field)
	if !ok {
		return spec.UnknownField(field)
	}
	if _, ok := m.spec.Parameter(field); !ok {
		return spec.UndeclaredField(m.spec.Name, field)
	}

	v, ok := normalize(f.Type, value)
	if !ok {
		return &FieldTypeMismatch{Field: field, Want: f.Type, Got: fmt.Sprintf("%T", value)}
	}
	m.values[field] = v
	return nil
}

// MustSet is Set for values known to be valid, such as literals in the
// handshake; it panics on error.
func (m *Message) MustSet(field string, value any) *Message {
	if err := m.Set(field, value); err != nil {
		panic(err)
	}
	return m
}

func normalize(t spec.FieldType, value any) (any, bool) {
	switch t {
	case spec.TypeBool:
		v, ok := value.(bool)
		return v, ok
	case spec.TypeEnum, spec.TypeUint32:
		v, ok := value.(uint32)
		return v, ok
	case spec.TypeInt8:
		v, ok := value.(int8)
		return v, ok
	case spec.TypeInt16:
		v, ok := value.(int16)
		return v, ok
	case spec.TypeInt32:
		v, ok := value.(int32)
		return v, ok
	case spec.TypeInt64:
		v, ok := value.(int64)
		return v, ok
	case spec.TypeUint8:
		v, ok := value.(uint8)
		return v, ok
	case spec.TypeUint16:
		v, ok := value.(uint16)
		return v, ok
	case spec.TypeUint64, spec.TypeOOBData:
		v, ok := value.(uint64)
		return v, ok
	case spec.TypeDouble:
		v, ok := value.(float64)
		return v, ok
	case spec.TypeString:
		v, ok := value.(string)
		return v, ok
	case spec.TypeUUID:
		v, ok := value.(uuid.UUID)
		return v, ok
	case spec.TypeDate:
		v, ok := value.(time.Time)
		if !ok {
			return nil, false
		}
		// Dates travel as whole seconds.
		return time.Unix(v.Unix(), 0).UTC(), true
	case spec.TypeData:
		v, ok := value.([]byte)
		if !ok {
			return nil, false
		}
		return append([]byte{}, v...), true
	case spec.TypeList:
		v, ok := value.([]string)
		if !ok {
			return nil, false
		}
		return append([]string{}, v...), true
	}
	return nil, false
}

// Has reports whether field has a value.
func (m *Message) Has(field string) bool {
	_, ok := m.values[field]
	return ok
}

// Value returns the raw stored value of field.
func (m *Message) Value(field string) (any, bool) {
	v, ok := m.values[field]
	return v, ok
}

// Fields returns the names of present fields: message parameters in declared
// order, then undeclared fields from a decoded message by ascending ID.
func (m *Message) Fields() []string {
	names := make([]string, 0, len(m.values))
	for _, p := range m.spec.Parameters {
		if _, ok := m.values[p.Field.Name]; ok {
			names = append(names, p.Field.Name)
		}
	}

	var extra []*spec.Field
	for name := range m.values {
		if _, ok := m.spec.Parameter(name); ok {
			continue
		}
		if f, ok := m.catalog.Field(name); ok {
			extra = append(extra, f)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i].ID < extra[j].ID })
	for _, f := range extra {
		names = append(names, f.Name)
	}
	return names
}

func get[T any](m *Message, field string) (T, bool) {
	v, ok := m.values[field].(T)
	return v, ok
}

func (m *Message) String(field string) (string, bool) { return get[string](m, field) }
func (m *Message) Bool(field string) (bool, bool) { return get[bool](m, field) }
func (m *Message) Uint8(field string) (uint8, bool) { return get[uint8](m, field) }
func (m *Message) Uint16(field string) (uint16, bool) { return get[uint16](m, field) }
func (m *Message) Uint32(field string) (uint32, bool) { return get[uint32](m, field) }
func (m *Message) Uint64(field string) (uint64, bool) { return get[uint64](m, field) }
func (m *Message) Int8(field string) (int8, bool) { return get[int8](m, field) }
func (m *Message) Int16(field string) (int16, bool) { return get[int16](m, field) }
func (m *Message) Int32(field string) (int32, bool) { return get[int32](m, field) }
func (m *Message) Int64(field string) (int64, bool) { return get[int64](m, field) }
func (m *Message) Double(field string) (float64, bool) { return get[float64](m, field) }
func (m *Message) UUID(field string) (uuid.UUID, bool) { return get[uuid.UUID](m, field) }
func (m *Message) Date(field string) (time.Time, bool) { return get[time.Time](m, field) }
func (m *Message) Enum(field string) (uint32, bool) { return get[uint32](m, field) }
func (m *Message) OOBData(field string) (uint64, bool) { return get[uint64](m, field) }
func (m *Message) List(field string) ([]string, bool) { return get[[]string](m, field) }

// Data returns a copy of a data field.
func (m *Message) Data(field string) ([]byte, bool) {
	v, ok := get[[]byte](m, field)
	if !ok {
		return nil, false
	}
	return append([]byte{}, v...), true
}

// EnumName resolves an enum field to its constant name.
func (m *Message) EnumName(field string) (string, bool) {
	v, ok := m.Enum(field)
	if !ok {
		return "", false
	}
	f, ok := m.catalog.Field(field)
	if !ok {
		return "", false
	}
	return f.EnumName(v)
}

// Describe renders the message for logs. Password fields are masked.
func (m *Message) Describe() string {
	var b strings.Builder
	b.WriteString(m.spec.Name)
	b.WriteString("{")
	for i, name := range m.Fields() {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(name)
		b.WriteString("=")
		switch v := m.values[name].(type) {
		case []byte:
			fmt.Fprintf(&b, "<%d bytes>", len(v))
		case string:
			if strings.Contains(name, "password") {
				b.WriteString("***")
			} else {
				fmt.Fprintf(&b, "%q", v)
			}
		default:
			fmt.Fprintf(&b, "%v", v)
		}
	}
	b.WriteString("}")
	return b.String()
}
