// Package matrix implements the typed columnar table behind matrix lookups.
//
// A Matrix has a fixed schema of named columns. Each column stores one
// scalar kind (signed and unsigned integers, float16/32/64, fixed-width
// bytes, strings) or a fixed-size array of one. Rows are identified by name
// and addressed by index:
//
//	m, err := matrix.New([]matrix.Column{
//		{Name: "start", Kind: matrix.Int64},
//		{Name: "end", Kind: matrix.Int64},
//		{Name: "country", Kind: matrix.Bytes, Width: 2},
//	})
//	row, err := m.AddRow("10.0.0.0/8")
//	err = m.SetRecord(row, map[string]any{"start": 167772160, "end": 184549376, "country": "US"})
//
// # Row lifecycle
//
// CloseRow tombstones a row in O(1): the name leaves both row maps and the
// index joins ClosedRows, but the record stays in place. Rebuild with
// RebuildPartial compacts the columns around the tombstones, renumbering the
// open rows from 0 in insertion order. RebuildFull empties the matrix.
// Either rebuild bumps Generation, which invalidates every row index held
// outside the matrix.
//
// Matrix implements msgpack.Marshaler and msgpack.Unmarshaler. The encoding
// keeps closed records, row maps, tombstones and the storage side table, so
// a decoded matrix compacts exactly like the original. Column data keeps its
// exact types; storage values are msgpack generic and decode to int64,
// uint64, float64, string, []any or map[string]any.
//
// float128 columns are rejected: Go has no native binary128 type.
package matrix
