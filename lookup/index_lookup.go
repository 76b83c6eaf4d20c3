package lookup

import (
	"fmt"
	"sort"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/c360/lookupkit/errors"
	"github.com/c360/lookupkit/lookup/index"
	"github.com/c360/lookupkit/lookup/matrix"
)

// IndexLookup is a MatrixLookup with named secondary indexes. Searches run
// under the read lock and never see an index halfway through an update.
type IndexLookup struct {
	*MatrixLookup

	indexes        map[string]index.Index
	indexedVersion uint64
	indexed        bool
}

type indexDocument struct {
	Matrix         *matrix.Matrix      `msgpack:"matrix"`
	Indexes        []msgpack.RawMessage `msgpack:"indexes"`
	IndexedVersion uint64               `msgpack:"indexed_version"`
}

// NewIndex creates an index lookup with indexes built from specs.
func NewIndex(cfg Config, columns []matrix.Column, specs []index.Spec, compression Compression, opts ...Option) (*IndexLookup, error) {
	ml, err := newMatrixLookup(columns, compression)
	if err != nil {
		return nil, err
	}
	il := &IndexLookup{MatrixLookup: ml, indexes: make(map[string]index.Index, len(specs))}
	for _, spec := range specs {
		if _, dup := il.indexes[spec.Name]; dup {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: duplicate index %q", errors.ErrInvalidConfig, spec.Name),
				"IndexLookup", "NewIndex", "build indexes")
		}
		idx, err := index.New(spec)
		if err != nil {
			return nil, err
		}
		il.indexes[spec.Name] = idx
	}

	if _, err := il.refreshLocked(); err != nil {
		return nil, err
	}

	c, err := NewController(cfg, il, opts...)
	if err != nil {
		return nil, err
	}
	ml.Controller = c
	return il, nil
}

// IndexNames returns the index names in sorted order.
func (il *IndexLookup) IndexNames() []string {
	il.mu.RLock()
	defer il.mu.RUnlock()
	names := make([]string, 0, len(il.indexes))
	for name := range il.indexes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Search returns the open rows index name matches for v. Range indexes
// only return rows whose [start, end) interval contains v. The result is a
// copy owned by the caller.
func (il *IndexLookup) Search(name string, v any) (*roaring.Bitmap, error) {
	il.mu.RLock()
	defer il.mu.RUnlock()
	return il.search(name, v)
}

func (il *IndexLookup) search(name string, v any) (*roaring.Bitmap, error) {
	idx, ok := il.indexes[name]
	if !ok {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrIndexNotFound, name), "IndexLookup", "Search", "resolve index")
	}
	if il.matrix != nil && !il.indexed {
		return nil, errors.WrapTransient(fmt.Errorf("%w: indexes failed to update, call RefreshIndexes", errors.ErrUnavailable),
			"IndexLookup", "Search", "check indexes")
	}
	found := idx.Search(v)
	if idx.Kind() == index.KindSlice && il.matrix != nil {
		return index.Filter(il.matrix, idx.(index.RangeIndex), found, v), nil
	}
	return found.Clone(), nil
}

// Lookup returns the row names and records matched by Search.
func (il *IndexLookup) Lookup(name string, v any) (map[string]map[string]any, error) {
	il.mu.RLock()
	defer il.mu.RUnlock()

	rows, err := il.search(name, v)
	if err != nil {
		return nil, err
	}
	out := make(map[string]map[string]any, rows.GetCardinality())
	it := rows.Iterator()
	for it.HasNext() {
		row := int(it.Next())
		rowName, ok := il.matrix.RowName(row)
		if !ok {
			continue
		}
		record, err := il.matrix.Record(row)
		if err != nil {
			return nil, errors.Wrap(err, "IndexLookup", "Lookup", "read record")
		}
		out[rowName] = record
	}
	return out, nil
}

// RefreshIndexes updates every index when the matrix changed since the last
// refresh and reports whether it did any work. While a refresh has failed,
// Search and Lookup return an error instead of rows from stale indexes.
func (il *IndexLookup) RefreshIndexes() (bool, error) {
	il.mu.Lock()
	defer il.mu.Unlock()
	return il.refreshLocked()
}

func (il *IndexLookup) refreshLocked() (bool, error) {
	if il.matrix == nil {
		return false, nil
	}
	if il.indexed && il.indexedVersion == il.matrix.Version() {
		return false, nil
	}

	start := time.Now()
	for _, name := range sortedKeys(il.indexes) {
		if err := il.indexes[name].Update(il.matrix); err != nil {
			il.indexed = false
			return false, errors.Wrap(err, "IndexLookup", "RefreshIndexes", fmt.Sprintf("update index %s", name))
		}
	}
	il.indexedVersion = il.matrix.Version()
	il.indexed = true
	if il.Controller != nil {
		il.metrics.RecordIndexRefresh(il.id, time.Since(start))
	}
	return true, nil
}

// Mutate runs fn under the write lock and brings the indexes up to date
// before readers see the change. It is all or nothing: when fn or an index
// update fails, the matrix and the indexes are restored to their state
// before the call and the version does not move. Each call copies the
// matrix first, so batch related writes into one fn.
func (il *IndexLookup) Mutate(fn func(m *matrix.Matrix) error) error {
	changed, err := il.mutateAndRefresh(fn)
	if changed && err == nil {
		il.Touch()
	}
	return err
}

func (il *IndexLookup) mutateAndRefresh(fn func(m *matrix.Matrix) error) (bool, error) {
	il.mu.Lock()
	defer il.mu.Unlock()
	if il.matrix == nil {
		return false, errors.WrapInvalid(fmt.Errorf("%w: matrix has no schema yet", errors.ErrInvalidSchema),
			"IndexLookup", "Mutate", "check matrix")
	}

	snapshot := il.matrix.Clone()
	before := snapshot.Version()
	err := fn(il.matrix)
	if err == nil && il.matrix.Version() != before {
		_, err = il.refreshLocked()
		if err == nil {
			return true, nil
		}
	}
	if err == nil {
		return false, nil
	}

	if il.matrix.Version() != before {
		il.restoreLocked(snapshot)
	}
	return false, err
}

// restoreLocked puts snapshot back and rebuilds the indexes over it.
// Indexes that had already been updated in place refer to the discarded
// row numbering, so every index is rebuilt.
func (il *IndexLookup) restoreLocked(snapshot *matrix.Matrix) {
	il.matrix = snapshot
	fresh := make(map[string]index.Index, len(il.indexes))
	for name, current := range il.indexes {
		idx, err := rebuildIndex(current, snapshot)
		if err != nil {
			il.indexed = false
			if il.Controller != nil {
				il.logger.Error("Indexes stay unusable after rollback", "index", name, "error", err)
			}
			return
		}
		fresh[name] = idx
	}
	il.indexes = fresh
	il.indexedVersion = snapshot.Version()
	il.indexed = true
}

// Rebuild compacts or clears the matrix and rebuilds every index.
func (il *IndexLookup) Rebuild(mode matrix.RebuildMode) error {
	return il.Mutate(func(m *matrix.Matrix) error {
		return m.Rebuild(mode)
	})
}

// Serialize encodes {matrix, indexes}.
func (il *IndexLookup) Serialize() ([]byte, error) {
	il.mu.RLock()
	defer il.mu.RUnlock()
	if il.matrix == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: matrix has no schema yet", errors.ErrNoData), "IndexLookup", "Serialize", "check matrix")
	}

	doc := indexDocument{Matrix: il.matrix}
	if il.indexed {
		doc.IndexedVersion = il.indexedVersion
		for _, name := range sortedKeys(il.indexes) {
			data, err := index.Encode(il.indexes[name])
			if err != nil {
				return nil, errors.Wrap(err, "IndexLookup", "Serialize", fmt.Sprintf("encode index %s", name))
			}
			doc.Indexes = append(doc.Indexes, data)
		}
	}
	return encodeDocument(&doc, il.compression, "IndexLookup")
}

// Deserialize replaces the matrix and the indexes. Indexes shipped in the
// payload are adopted when they match the configured ones; otherwise they
// are rebuilt from the matrix. Nothing is replaced if either step fails.
func (il *IndexLookup) Deserialize(data []byte) error {
	var doc indexDocument
	if err := decodeDocument(data, &doc, "IndexLookup"); err != nil {
		return err
	}
	if err := il.checkSchema(doc.Matrix); err != nil {
		return err
	}

	shipped := make(map[string]index.Index, len(doc.Indexes))
	for _, raw := range doc.Indexes {
		idx, err := index.Decode(raw)
		if err != nil {
			return errors.Wrap(err, "IndexLookup", "Deserialize", "decode index")
		}
		shipped[idx.Name()] = idx
	}

	il.mu.RLock()
	configured := il.indexes
	il.mu.RUnlock()

	fresh := make(map[string]index.Index, len(configured))
	reuse := len(doc.Indexes) > 0 && doc.IndexedVersion == doc.Matrix.Version()
	for name, current := range configured {
		if idx, ok := shipped[name]; reuse && ok && sameIndex(current, idx) {
			fresh[name] = idx
			continue
		}
		idx, err := rebuildIndex(current, doc.Matrix)
		if err != nil {
			return err
		}
		fresh[name] = idx
	}

	il.mu.Lock()
	il.matrix = doc.Matrix
	il.indexes = fresh
	il.indexedVersion = doc.Matrix.Version()
	il.indexed = true
	il.mu.Unlock()
	return nil
}

func sameIndex(a, b index.Index) bool {
	if a.Kind() != b.Kind() {
		return false
	}
	ac, bc := a.Columns(), b.Columns()
	if len(ac) != len(bc) {
		return false
	}
	for i := range ac {
		if ac[i] != bc[i] {
			return false
		}
	}
	return true
}

// rebuildIndex builds a fresh copy of like over m without touching like.
func rebuildIndex(like index.Index, m *matrix.Matrix) (index.Index, error) {
	spec := index.Spec{Name: like.Name(), Kind: like.Kind()}
	switch idx := like.(type) {
	case *index.BitMapIndex:
		spec.Column = idx.Columns()[0]
	case *index.TreeRangeIndex:
		spec.Start, spec.End = idx.Bounds()
	case *index.SliceIndex:
		spec.Start, spec.End = idx.Bounds()
		spec.Resolution = idx.ConfiguredResolution()
	}
	fresh, err := index.New(spec)
	if err != nil {
		return nil, err
	}
	if err := fresh.Update(m); err != nil {
		return nil, errors.Wrap(err, "IndexLookup", "Deserialize", fmt.Sprintf("build index %s", like.Name()))
	}
	return fresh, nil
}

func sortedKeys(m map[string]index.Index) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
