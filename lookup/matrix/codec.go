package matrix

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/c360/lookupkit/errors"
)

// document is the encoded form of a Matrix. Row names and indices are
// parallel slices in ascending index order so insertion order survives.
type document struct {
	Columns    []Column             `msgpack:"columns"`
	Rows       int                  `msgpack:"rows"`
	Data       []msgpack.RawMessage `msgpack:"data"`
	RowNames   []string             `msgpack:"row_names"`
	RowIndexes []int                `msgpack:"row_indexes"`
	Closed     []byte               `msgpack:"closed"`
	Storage    map[int]any          `msgpack:"storage,omitempty"`
	Version    uint64               `msgpack:"version"`
	Generation uint64               `msgpack:"generation"`
}

var (
	_ msgpack.Marshaler   = (*Matrix)(nil)
	_ msgpack.Unmarshaler = (*Matrix)(nil)
)

// MarshalMsgpack encodes the schema, every physical row including closed
// ones, the row maps, the tombstones and the storage side table.
func (m *Matrix) MarshalMsgpack() ([]byte, error) {
	doc := document{
		Columns:    m.columns,
		Rows:       m.rows,
		Data:       make([]msgpack.RawMessage, len(m.data)),
		Storage:    m.storage,
		Version:    m.version,
		Generation: m.generation,
	}

	for i, c := range m.data {
		raw, err := c.encode()
		if err != nil {
			return nil, errors.Wrap(err, "Matrix", "MarshalMsgpack", fmt.Sprintf("encode column %s", m.columns[i].Name))
		}
		doc.Data[i] = raw
	}

	doc.RowIndexes = m.OpenRows()
	doc.RowNames = make([]string, len(doc.RowIndexes))
	for i, index := range doc.RowIndexes {
		doc.RowNames[i] = m.revRowMap[index]
	}

	closed, err := m.closed.ToBytes()
	if err != nil {
		return nil, errors.Wrap(err, "Matrix", "MarshalMsgpack", "encode tombstones")
	}
	doc.Closed = closed

	return msgpack.Marshal(&doc)
}

// UnmarshalMsgpack replaces m with the decoded matrix. On error m is left
// unchanged.
//
// Storage values carry no Go type on the wire and come back normalized:
// signed integers as int64, unsigned as uint64, floats as float64, byte
// slices as string, arrays as []any and maps as map[string]any. Columns,
// row maps and tombstones round trip exactly.
func (m *Matrix) UnmarshalMsgpack(data []byte) error {
	var doc document
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	if err := dec.Decode(&doc); err != nil {
		return errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrParsingFailed, err), "Matrix", "UnmarshalMsgpack", "decode document")
	}

	decoded, err := New(doc.Columns)
	if err != nil {
		return err
	}
	if len(doc.Data) != len(doc.Columns) {
		return errors.WrapInvalid(fmt.Errorf("%w: %d column payloads for %d columns", errors.ErrParsingFailed, len(doc.Data), len(doc.Columns)),
			"Matrix", "UnmarshalMsgpack", "decode columns")
	}
	for i, raw := range doc.Data {
		if err := decoded.data[i].decode(raw, doc.Rows); err != nil {
			return errors.WrapInvalid(fmt.Errorf("%w: column %s: %v", errors.ErrParsingFailed, doc.Columns[i].Name, err),
				"Matrix", "UnmarshalMsgpack", "decode columns")
		}
	}
	decoded.rows = doc.Rows

	if len(doc.RowNames) != len(doc.RowIndexes) {
		return errors.WrapInvalid(fmt.Errorf("%w: row map length mismatch", errors.ErrParsingFailed),
			"Matrix", "UnmarshalMsgpack", "decode row maps")
	}
	for i, name := range doc.RowNames {
		index := doc.RowIndexes[i]
		if index < 0 || index >= doc.Rows {
			return errors.WrapInvalid(fmt.Errorf("%w: row %q index %d out of range", errors.ErrParsingFailed, name, index),
				"Matrix", "UnmarshalMsgpack", "decode row maps")
		}
		if _, dup := decoded.rowMap[name]; dup {
			return errors.WrapInvalid(fmt.Errorf("%w: duplicate row %q", errors.ErrParsingFailed, name),
				"Matrix", "UnmarshalMsgpack", "decode row maps")
		}
		decoded.rowMap[name] = index
		decoded.revRowMap[index] = name
	}

	closed := roaring.New()
	if len(doc.Closed) > 0 {
		if err := closed.UnmarshalBinary(doc.Closed); err != nil {
			return errors.WrapInvalid(fmt.Errorf("%w: tombstones: %v", errors.ErrParsingFailed, err),
				"Matrix", "UnmarshalMsgpack", "decode tombstones")
		}
	}
	decoded.closed = closed
	if doc.Storage != nil {
		decoded.storage = doc.Storage
	}
	decoded.version = doc.Version
	decoded.generation = doc.Generation

	*m = *decoded
	return nil
}

// Equal reports whether two matrices have the same schema, row maps,
// tombstones and records.
func (m *Matrix) Equal(other *Matrix) bool {
	if m.rows != other.rows || !slices.Equal(m.columns, other.columns) ||
		len(m.rowMap) != len(other.rowMap) || !m.closed.Equals(other.closed) {
		return false
	}
	for name, index := range m.rowMap {
		if other.rowMap[name] != index {
			return false
		}
	}
	for i := range m.data {
		a, errA := m.data[i].encode()
		b, errB := other.data[i].encode()
		if errA != nil || errB != nil || string(a) != string(b) {
			return false
		}
	}
	return true
}
