package spec

// FieldType identifies how a field value is laid out on the wire.
// The numeric values are the type IDs written in front of every encoded field.
type FieldType uint8

const (
	TypeBool    FieldType = 1
	TypeEnum    FieldType = 2
	TypeInt32   FieldType = 3
	TypeUint32  FieldType = 4
	TypeInt64   FieldType = 5
	TypeUint64  FieldType = 6
	TypeDouble  FieldType = 7
	TypeString  FieldType = 8
	TypeUUID    FieldType = 9
	TypeDate    FieldType = 10
	TypeData    FieldType = 11
	TypeOOBData FieldType = 12
	TypeList    FieldType = 13
	TypeInt8    FieldType = 14
	TypeUint8   FieldType = 15
	TypeInt16   FieldType = 16
	TypeUint16  FieldType = 17
)

var typeNames = map[FieldType]string{
	TypeBool:    "bool",
	TypeEnum:    "enum",
	TypeInt32:   "int32",
	TypeUint32:  "uint32",
	TypeInt64:   "int64",
	TypeUint64:  "uint64",
	TypeDouble:  "double",
	TypeString:  "string",
	TypeUUID:    "uuid",
	TypeDate:    "date",
	TypeData:    "data",
	TypeOOBData: "oobdata",
	TypeList:    "list",
	TypeInt8:    "int8",
	TypeUint8:   "uint8",
	TypeInt16:   "int16",
	TypeUint16:  "uint16",
}

var typeSizes = map[FieldType]int{
	TypeBool:    1,
	TypeEnum:    4,
	TypeInt32:   4,
	TypeUint32:  4,
	TypeInt64:   8,
	TypeUint64:  8,
	TypeDouble:  8,
	TypeUUID:    16,
	TypeDate:    8,
	TypeOOBData: 8,
	TypeInt8:    1,
	TypeUint8:   1,
	TypeInt16:   2,
	TypeUint16:  2,
}

// ParseFieldType maps a document type name ("uint32", "data", ...) to its FieldType.
func ParseFieldType(name string) (FieldType, bool) {
	for t, n := range typeNames {
		if n == name {
			return t, true
		}
	}
	return 0, false
}

func (t FieldType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "unknown"
}

// Valid reports whether t is one of the known wire types.
func (t FieldType) Valid() bool {
	_, ok := typeNames[t]
	return ok
}

// Size returns the fixed encoded width of t, or 0 for length-delimited types
// (string, data and list).
func (t FieldType) Size() int {
	return typeSizes[t]
}
