package index

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/c360/lookupkit/errors"
	"github.com/c360/lookupkit/lookup/matrix"
)

// BitMapIndex maps each distinct value of one column to the bitmap of open
// rows holding it. Search is a single map access.
type BitMapIndex struct {
	name       string
	column     string
	values     map[any]*roaring.Bitmap
	generation uint64
	built      bool
}

// NewBitMap returns an empty bitmap index over column.
func NewBitMap(name, column string) *BitMapIndex {
	return &BitMapIndex{
		name:   name,
		column: column,
		values: make(map[any]*roaring.Bitmap),
	}
}

// Name returns the index name.
func (b *BitMapIndex) Name() string { return b.name }

// Kind returns KindBitmap.
func (b *BitMapIndex) Kind() Kind { return KindBitmap }

// Columns returns the indexed column.
func (b *BitMapIndex) Columns() []string { return []string{b.column} }

// Len returns the number of distinct values.
func (b *BitMapIndex) Len() int { return len(b.values) }

// Search returns the open rows whose column equals v. Array columns are
// searched with a slice or array of the cell's elements. Values that cannot
// be a map key match nothing.
func (b *BitMapIndex) Search(v any) *roaring.Bitmap {
	key := matrix.CanonicalKey(v)
	if key == nil || !reflect.ValueOf(key).Comparable() {
		return roaring.New()
	}
	if bm, ok := b.values[key]; ok {
		return bm
	}
	// A []byte is a bytes cell first and a uint8 array second.
	if raw, ok := v.([]byte); ok {
		if elems, _ := matrix.ArrayKey(raw); elems != key {
			if bm, ok := b.values[elems]; ok {
				return bm
			}
		}
	}
	return roaring.New()
}

// Update rescans the open rows in a single pass. Within one matrix
// generation, bitmaps whose membership did not change are kept, so bitmaps
// handed out by Search for untouched values stay valid.
//
// The cost is O(open rows) per call regardless of how many rows changed,
// plus one bitmap comparison per distinct value. The matrix keeps no
// change log, so a value diff cannot see cells rewritten in place by Set.
// Lookups with many rows and frequent small mutations should batch them
// into one Mutate so the rescan runs once per batch.
func (b *BitMapIndex) Update(m *matrix.Matrix) error {
	if _, ok := m.Column(b.column); !ok {
		return errors.WrapFatal(fmt.Errorf("%w: %s", errors.ErrColumnNotFound, b.column), "BitMapIndex", "Update", "resolve column")
	}

	values := make(map[any]*roaring.Bitmap, len(b.values))
	for _, row := range m.OpenRows() {
		key, err := m.Key(row, b.column)
		if err != nil {
			return errors.WrapFatal(fmt.Errorf("%w: %v", errors.ErrIndexColumnMismatched, err), "BitMapIndex", "Update", "read key")
		}
		bm, ok := values[key]
		if !ok {
			bm = roaring.New()
			values[key] = bm
		}
		bm.Add(uint32(row))
	}

	if b.built && b.generation == m.Generation() {
		for key, bm := range values {
			if prev, ok := b.values[key]; ok && prev.Equals(bm) {
				values[key] = prev
			}
		}
	}
	for _, bm := range values {
		bm.RunOptimize()
	}

	b.values = values
	b.generation = m.Generation()
	b.built = true
	return nil
}

// keyValue carries a bitmap key with its type so integer, float and string
// keys survive a msgpack round trip unchanged.
type keyValue struct {
	T byte    `msgpack:"t"`
	I int64   `msgpack:"i,omitempty"`
	U uint64  `msgpack:"u,omitempty"`
	F float64 `msgpack:"f,omitempty"`
	S string  `msgpack:"s,omitempty"`
}

const (
	keyInt    byte = 'i'
	keyUint   byte = 'u'
	keyFloat  byte = 'f'
	keyString byte = 's'
	keyBool   byte = 'b'
)

func toKeyValue(key any) (keyValue, error) {
	switch x := key.(type) {
	case int64:
		return keyValue{T: keyInt, I: x}, nil
	case uint64:
		return keyValue{T: keyUint, U: x}, nil
	case float64:
		return keyValue{T: keyFloat, F: x}, nil
	case string:
		return keyValue{T: keyString, S: x}, nil
	case bool:
		kv := keyValue{T: keyBool}
		if x {
			kv.I = 1
		}
		return kv, nil
	}
	return keyValue{}, fmt.Errorf("%w: %T", errors.ErrUnsupportedValueType, key)
}

func (kv keyValue) value() (any, error) {
	switch kv.T {
	case keyInt:
		return kv.I, nil
	case keyUint:
		return kv.U, nil
	case keyFloat:
		return kv.F, nil
	case keyString:
		return kv.S, nil
	case keyBool:
		return kv.I != 0, nil
	}
	return nil, fmt.Errorf("%w: key tag %q", errors.ErrUnsupportedValueType, kv.T)
}

type bitmapEntry struct {
	Key  keyValue `msgpack:"key"`
	Rows []byte   `msgpack:"rows"`
}

type bitmapDocument struct {
	Name       string        `msgpack:"name"`
	Column     string        `msgpack:"column"`
	Generation uint64        `msgpack:"generation"`
	Built      bool          `msgpack:"built"`
	Entries    []bitmapEntry `msgpack:"entries"`
}

// MarshalMsgpack encodes the index. Entries are sorted by encoded key so
// equal indexes encode identically.
func (b *BitMapIndex) MarshalMsgpack() ([]byte, error) {
	doc := bitmapDocument{
		Name:       b.name,
		Column:     b.column,
		Generation: b.generation,
		Built:      b.built,
		Entries:    make([]bitmapEntry, 0, len(b.values)),
	}
	for key, bm := range b.values {
		kv, err := toKeyValue(key)
		if err != nil {
			return nil, errors.WrapInvalid(err, "BitMapIndex", "MarshalMsgpack", "encode key")
		}
		rows, err := encodeBitmap(bm)
		if err != nil {
			return nil, errors.Wrap(err, "BitMapIndex", "MarshalMsgpack", "encode rows")
		}
		doc.Entries = append(doc.Entries, bitmapEntry{Key: kv, Rows: rows})
	}
	sort.Slice(doc.Entries, func(i, j int) bool {
		a, c := doc.Entries[i].Key, doc.Entries[j].Key
		if a.T != c.T {
			return a.T < c.T
		}
		switch a.T {
		case keyUint:
			return a.U < c.U
		case keyFloat:
			return a.F < c.F
		case keyString:
			return a.S < c.S
		}
		return a.I < c.I
	})
	return msgpack.Marshal(&doc)
}

// UnmarshalMsgpack restores an index produced by MarshalMsgpack.
func (b *BitMapIndex) UnmarshalMsgpack(data []byte) error {
	var doc bitmapDocument
	if err := msgpack.Unmarshal(data, &doc); err != nil {
		return err
	}
	values := make(map[any]*roaring.Bitmap, len(doc.Entries))
	for _, entry := range doc.Entries {
		key, err := entry.Key.value()
		if err != nil {
			return err
		}
		bm, err := decodeBitmap(entry.Rows)
		if err != nil {
			return err
		}
		values[key] = bm
	}
	b.name = doc.Name
	b.column = doc.Column
	b.generation = doc.Generation
	b.built = doc.Built
	b.values = values
	return nil
}
