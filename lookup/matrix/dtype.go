package matrix

import (
	"fmt"
	"strings"

	"github.com/c360/lookupkit/errors"
)

// Kind is the scalar element type of a column.
type Kind uint8

// Supported column kinds.
const (
	Int8 Kind = iota + 1
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Float16
	Float32
	Float64
	Float128
	Bytes
	String
)

var kindNames = map[Kind]string{
	Int8:     "int8",
	Int16:    "int16",
	Int32:    "int32",
	Int64:    "int64",
	Uint8:    "uint8",
	Uint16:   "uint16",
	Uint32:   "uint32",
	Uint64:   "uint64",
	Float16:  "float16",
	Float32:  "float32",
	Float64:  "float64",
	Float128: "float128",
	Bytes:    "bytes",
	String:   "string",
}

// aliases accepted by ParseKind in addition to the canonical names
var kindAliases = map[string]Kind{
	"i1": Int8, "i2": Int16, "i4": Int32, "i8": Int64,
	"u1": Uint8, "u2": Uint16, "u4": Uint32, "u8": Uint64,
	"f2": Float16, "f4": Float32, "f8": Float64, "f16": Float128,
	"s": Bytes, "u": String, "str": String,
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind resolves a kind name such as "int32", "f8" or "string".
func ParseKind(name string) (Kind, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	if k, ok := kindAliases[name]; ok {
		return k, nil
	}
	return 0, errors.WrapInvalid(fmt.Errorf("%w: unknown column type %q", errors.ErrInvalidSchema, name),
		"matrix", "ParseKind", "parse column type")
}

// IsNumeric reports whether values of the kind convert to float64.
func (k Kind) IsNumeric() bool {
	return k >= Int8 && k <= Float128
}

// MarshalText implements encoding.TextMarshaler so kinds appear by name in
// config files and encoded schemas.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Column describes one field of the matrix record.
type Column struct {
	Name string `json:"name" yaml:"name" msgpack:"name"`
	Kind Kind   `json:"type" yaml:"type" msgpack:"kind"`
	// Width is the fixed byte length of a Bytes column.
	Width int `json:"width,omitempty" yaml:"width,omitempty" msgpack:"width,omitempty"`
	// Shape makes the column a fixed-size array of Shape scalars. Zero means scalar.
	Shape int `json:"shape,omitempty" yaml:"shape,omitempty" msgpack:"shape,omitempty"`
}

func (c Column) validate() error {
	switch {
	case c.Name == "":
		return fmt.Errorf("%w: column name is empty", errors.ErrInvalidSchema)
	case c.Kind == Float128:
		return fmt.Errorf("%w: column %q: float128 has no native representation", errors.ErrInvalidSchema, c.Name)
	case c.Kind < Int8 || c.Kind > String:
		return fmt.Errorf("%w: column %q: unknown kind %d", errors.ErrInvalidSchema, c.Name, c.Kind)
	case c.Kind == Bytes && c.Width <= 0:
		return fmt.Errorf("%w: column %q: bytes width must be positive", errors.ErrInvalidSchema, c.Name)
	case c.Kind != Bytes && c.Width != 0:
		return fmt.Errorf("%w: column %q: width only applies to bytes", errors.ErrInvalidSchema, c.Name)
	case c.Shape < 0:
		return fmt.Errorf("%w: column %q: negative shape", errors.ErrInvalidSchema, c.Name)
	}
	return nil
}
