package matrix

import (
	"fmt"
	"maps"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/c360/lookupkit/errors"
)

// RebuildMode selects how Rebuild treats existing rows.
type RebuildMode string

// Rebuild modes.
const (
	// RebuildFull discards every row and returns the matrix to empty.
	RebuildFull RebuildMode = "full"
	// RebuildPartial compacts surviving rows around tombstones.
	RebuildPartial RebuildMode = "partial"
)

// Matrix is a fixed-schema columnar table with named rows. Closing a row is
// O(1) and leaves its data in place; Rebuild(RebuildPartial) reclaims it.
//
// Matrix is not safe for concurrent use. Lookups guard it with their own
// lock.
type Matrix struct {
	columns  []Column
	colIndex map[string]int
	data     []column
	rows     int

	rowMap    map[string]int
	revRowMap map[int]string
	closed    *roaring.Bitmap
	storage   map[int]any

	version    uint64
	generation uint64
}

// New creates an empty matrix with the given schema.
func New(columns []Column) (*Matrix, error) {
	if len(columns) == 0 {
		return nil, errors.WrapFatal(fmt.Errorf("%w: no columns", errors.ErrInvalidSchema), "Matrix", "New", "validate schema")
	}

	colIndex := make(map[string]int, len(columns))
	for i, c := range columns {
		if err := c.validate(); err != nil {
			return nil, errors.WrapFatal(err, "Matrix", "New", "validate schema")
		}
		if _, dup := colIndex[c.Name]; dup {
			return nil, errors.WrapFatal(fmt.Errorf("%w: duplicate column %q", errors.ErrInvalidSchema, c.Name),
				"Matrix", "New", "validate schema")
		}
		colIndex[c.Name] = i
	}

	m := &Matrix{
		columns:  slices.Clone(columns),
		colIndex: colIndex,
	}
	m.reset()
	return m, nil
}

func (m *Matrix) reset() {
	m.data = make([]column, len(m.columns))
	for i, c := range m.columns {
		m.data[i] = newColumn(c)
	}
	m.rows = 0
	m.rowMap = make(map[string]int)
	m.revRowMap = make(map[int]string)
	m.closed = roaring.New()
	m.storage = make(map[int]any)
}

// Columns returns a copy of the schema.
func (m *Matrix) Columns() []Column {
	return slices.Clone(m.columns)
}

// Column returns the schema entry for name.
func (m *Matrix) Column(name string) (Column, bool) {
	i, ok := m.colIndex[name]
	if !ok {
		return Column{}, false
	}
	return m.columns[i], true
}

// Len returns the number of physical rows, open and closed.
func (m *Matrix) Len() int {
	return m.rows
}

// OpenCount returns the number of open rows.
func (m *Matrix) OpenCount() int {
	return len(m.rowMap)
}

// Version increases on every mutation.
func (m *Matrix) Version() uint64 {
	return m.version
}

// Generation increases on every Rebuild. Row indices from an older
// generation are meaningless.
func (m *Matrix) Generation() uint64 {
	return m.generation
}

// AddRow appends a zeroed record for name and returns its index. Adding a
// name that is already open returns ErrInvalidData.
func (m *Matrix) AddRow(name string) (int, error) {
	if _, exists := m.rowMap[name]; exists {
		return 0, errors.WrapInvalid(fmt.Errorf("%w: row %q already exists", errors.ErrInvalidData, name),
			"Matrix", "AddRow", "add row")
	}

	index := m.rows
	for _, c := range m.data {
		c.grow(1)
	}
	m.rows++
	m.rowMap[name] = index
	m.revRowMap[index] = name
	m.version++
	return index, nil
}

// GetRow returns the index of an open row.
func (m *Matrix) GetRow(name string) (int, bool) {
	index, ok := m.rowMap[name]
	return index, ok
}

// GetOrAddRow returns the index of name, appending a row on miss.
func (m *Matrix) GetOrAddRow(name string) (int, bool) {
	if index, ok := m.rowMap[name]; ok {
		return index, false
	}
	index, _ := m.AddRow(name)
	return index, true
}

// RowName returns the name of an open row.
func (m *Matrix) RowName(index int) (string, bool) {
	name, ok := m.revRowMap[index]
	return name, ok
}

// IsOpen reports whether index is an open row.
func (m *Matrix) IsOpen(index int) bool {
	_, ok := m.revRowMap[index]
	return ok
}

// CloseRow tombstones an open row. Its data stays in place until the next
// partial rebuild.
func (m *Matrix) CloseRow(index int) error {
	name, ok := m.revRowMap[index]
	if !ok {
		return errors.WrapInvalid(fmt.Errorf("%w: row %d is not open", errors.ErrRowNotFound, index),
			"Matrix", "CloseRow", "close row")
	}
	delete(m.rowMap, name)
	delete(m.revRowMap, index)
	m.closed.Add(uint32(index))
	m.version++
	return nil
}

// ClosedRows returns a copy of the tombstone set.
func (m *Matrix) ClosedRows() *roaring.Bitmap {
	return m.closed.Clone()
}

// OpenRows returns the indices of open rows in ascending order, which is also
// insertion order.
func (m *Matrix) OpenRows() []int {
	rows := make([]int, 0, len(m.revRowMap))
	for index := range m.revRowMap {
		rows = append(rows, index)
	}
	slices.Sort(rows)
	return rows
}

// OpenBitmap returns the open rows as a bitmap.
func (m *Matrix) OpenBitmap() *roaring.Bitmap {
	bm := roaring.New()
	for index := range m.revRowMap {
		bm.Add(uint32(index))
	}
	return bm
}

// Rebuild discards (RebuildFull) or compacts (RebuildPartial) the matrix.
// Partial compaction renumbers open rows contiguously from 0 in insertion
// order, carries their records and storage entries over, and clears the
// tombstones.
func (m *Matrix) Rebuild(mode RebuildMode) error {
	switch mode {
	case RebuildFull:
		m.reset()
	case RebuildPartial:
		keep := m.OpenRows()

		data := make([]column, len(m.data))
		for i, c := range m.data {
			data[i] = c.gather(keep)
		}

		rowMap := make(map[string]int, len(keep))
		revRowMap := make(map[int]string, len(keep))
		storage := make(map[int]any)
		for newIndex, oldIndex := range keep {
			name := m.revRowMap[oldIndex]
			rowMap[name] = newIndex
			revRowMap[newIndex] = name
			if v, ok := m.storage[oldIndex]; ok {
				storage[newIndex] = v
			}
		}

		m.data = data
		m.rows = len(keep)
		m.rowMap = rowMap
		m.revRowMap = revRowMap
		m.storage = storage
		m.closed = roaring.New()
	default:
		return errors.WrapInvalid(fmt.Errorf("%w: rebuild mode %q", errors.ErrInvalidData, mode),
			"Matrix", "Rebuild", "select mode")
	}

	m.generation++
	m.version++
	return nil
}

func (m *Matrix) cell(row int, name string) (column, error) {
	ci, ok := m.colIndex[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", errors.ErrColumnNotFound, name)
	}
	if row < 0 || row >= m.rows {
		return nil, fmt.Errorf("%w: index %d out of range", errors.ErrRowNotFound, row)
	}
	return m.data[ci], nil
}

// Set writes one field of a row. Closed rows may still be written; their
// data is dropped at the next partial rebuild.
func (m *Matrix) Set(row int, name string, value any) error {
	c, err := m.cell(row, name)
	if err != nil {
		return errors.WrapInvalid(err, "Matrix", "Set", "resolve cell")
	}
	if err := c.set(row, value); err != nil {
		return errors.WrapInvalid(err, "Matrix", "Set", fmt.Sprintf("set column %s", name))
	}
	m.version++
	return nil
}

// SetRecord writes several fields of a row at once.
func (m *Matrix) SetRecord(row int, fields map[string]any) error {
	for name, value := range fields {
		if err := m.Set(row, name, value); err != nil {
			return err
		}
	}
	return nil
}

// Get reads one field of a row.
func (m *Matrix) Get(row int, name string) (any, error) {
	c, err := m.cell(row, name)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Matrix", "Get", "resolve cell")
	}
	return c.get(row), nil
}

// Float reads a numeric scalar field as float64.
func (m *Matrix) Float(row int, name string) (float64, error) {
	c, err := m.cell(row, name)
	if err != nil {
		return 0, errors.WrapInvalid(err, "Matrix", "Float", "resolve cell")
	}
	f, ok := c.float(row)
	if !ok {
		return 0, errors.WrapInvalid(fmt.Errorf("%w: column %s is not a numeric scalar", errors.ErrUnsupportedValueType, name),
			"Matrix", "Float", "read cell")
	}
	return f, nil
}

// Key reads a field in the comparable form produced by CanonicalKey.
func (m *Matrix) Key(row int, name string) (any, error) {
	c, err := m.cell(row, name)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Matrix", "Key", "resolve cell")
	}
	return c.key(row), nil
}

// Record returns every field of a row keyed by column name.
func (m *Matrix) Record(row int) (map[string]any, error) {
	if row < 0 || row >= m.rows {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: index %d out of range", errors.ErrRowNotFound, row),
			"Matrix", "Record", "resolve row")
	}
	rec := make(map[string]any, len(m.columns))
	for i, c := range m.columns {
		rec[c.Name] = m.data[i].get(row)
	}
	return rec, nil
}

// Clone returns a copy that shares no column, row map or tombstone state
// with m. Storage values are copied by assignment.
func (m *Matrix) Clone() *Matrix {
	all := make([]int, m.rows)
	for i := range all {
		all[i] = i
	}
	out := &Matrix{
		columns:    slices.Clone(m.columns),
		colIndex:   maps.Clone(m.colIndex),
		data:       make([]column, len(m.data)),
		rows:       m.rows,
		rowMap:     maps.Clone(m.rowMap),
		revRowMap:  maps.Clone(m.revRowMap),
		closed:     m.closed.Clone(),
		storage:    maps.Clone(m.storage),
		version:    m.version,
		generation: m.generation,
	}
	for i, c := range m.data {
		out.data[i] = c.gather(all)
	}
	return out
}

// StorageGet returns the side-table value of a row.
func (m *Matrix) StorageGet(row int) (any, bool) {
	v, ok := m.storage[row]
	return v, ok
}

// StorageSet attaches an opaque value to a row. The value is kept as is in
// memory; after an encode and decode it comes back in the normalized form
// described on UnmarshalMsgpack, so an int is read back as int64.
func (m *Matrix) StorageSet(row int, value any) error {
	if row < 0 || row >= m.rows {
		return errors.WrapInvalid(fmt.Errorf("%w: index %d out of range", errors.ErrRowNotFound, row),
			"Matrix", "StorageSet", "resolve row")
	}
	m.storage[row] = value
	m.version++
	return nil
}

// StorageDelete removes the side-table value of a row.
func (m *Matrix) StorageDelete(row int) {
	if _, ok := m.storage[row]; ok {
		delete(m.storage, row)
		m.version++
	}
}
