package lookup

import (
	"fmt"
	"slices"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/c360/lookupkit/errors"
	"github.com/c360/lookupkit/lookup/matrix"
)

// MatrixLookup keeps its data in a matrix.Matrix keyed by row name. The
// replication payload is a msgpack document, optionally zstd compressed.
type MatrixLookup struct {
	*Controller

	mu          sync.RWMutex
	matrix      *matrix.Matrix
	columns     []matrix.Column
	compression Compression
}

type matrixDocument struct {
	Matrix *matrix.Matrix `msgpack:"matrix"`
}

func newMatrixLookup(columns []matrix.Column, compression Compression) (*MatrixLookup, error) {
	ml := &MatrixLookup{compression: compression}
	if len(columns) > 0 {
		m, err := matrix.New(columns)
		if err != nil {
			return nil, err
		}
		ml.matrix = m
		ml.columns = slices.Clone(columns)
	}
	return ml, nil
}

// NewMatrix creates a matrix lookup. Columns may be empty for slaves, which
// take the schema from the first payload they load.
func NewMatrix(cfg Config, columns []matrix.Column, compression Compression, opts ...Option) (*MatrixLookup, error) {
	ml, err := newMatrixLookup(columns, compression)
	if err != nil {
		return nil, err
	}
	c, err := NewController(cfg, ml, opts...)
	if err != nil {
		return nil, err
	}
	ml.Controller = c
	return ml, nil
}

// Get returns the record of an open row.
func (ml *MatrixLookup) Get(name string) (map[string]any, bool) {
	ml.mu.RLock()
	defer ml.mu.RUnlock()
	if ml.matrix == nil {
		return nil, false
	}
	row, ok := ml.matrix.GetRow(name)
	if !ok {
		return nil, false
	}
	record, err := ml.matrix.Record(row)
	if err != nil {
		return nil, false
	}
	return record, true
}

// Len returns the number of open rows.
func (ml *MatrixLookup) Len() int {
	ml.mu.RLock()
	defer ml.mu.RUnlock()
	if ml.matrix == nil {
		return 0
	}
	return ml.matrix.OpenCount()
}

// View runs fn with the matrix under the read lock. fn must not keep the
// matrix or mutate it.
func (ml *MatrixLookup) View(fn func(m *matrix.Matrix)) {
	ml.mu.RLock()
	defer ml.mu.RUnlock()
	if ml.matrix != nil {
		fn(ml.matrix)
	}
}

// Mutate runs fn with the matrix under the write lock. Changes made by fn
// count as a new version of the lookup.
func (ml *MatrixLookup) Mutate(fn func(m *matrix.Matrix) error) error {
	changed, err := ml.mutate(fn)
	if changed {
		ml.Touch()
	}
	return err
}

func (ml *MatrixLookup) mutate(fn func(m *matrix.Matrix) error) (bool, error) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	if ml.matrix == nil {
		return false, errors.WrapInvalid(fmt.Errorf("%w: matrix has no schema yet", errors.ErrInvalidSchema),
			"MatrixLookup", "Mutate", "check matrix")
	}
	before := ml.matrix.Version()
	err := fn(ml.matrix)
	return ml.matrix.Version() != before, err
}

// Serialize encodes {matrix} with msgpack and applies the configured
// compression.
func (ml *MatrixLookup) Serialize() ([]byte, error) {
	ml.mu.RLock()
	defer ml.mu.RUnlock()
	if ml.matrix == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: matrix has no schema yet", errors.ErrNoData), "MatrixLookup", "Serialize", "check matrix")
	}
	return encodeDocument(&matrixDocument{Matrix: ml.matrix}, ml.compression, "MatrixLookup")
}

// Deserialize replaces the matrix with the one in data. When columns were
// configured the payload must carry the same schema.
func (ml *MatrixLookup) Deserialize(data []byte) error {
	var doc matrixDocument
	if err := decodeDocument(data, &doc, "MatrixLookup"); err != nil {
		return err
	}
	if err := ml.checkSchema(doc.Matrix); err != nil {
		return err
	}
	ml.mu.Lock()
	ml.matrix = doc.Matrix
	ml.mu.Unlock()
	return nil
}

func (ml *MatrixLookup) checkSchema(m *matrix.Matrix) error {
	if m == nil {
		return errors.WrapInvalid(fmt.Errorf("%w: document has no matrix", errors.ErrParsingFailed), "MatrixLookup", "Deserialize", "check schema")
	}
	if len(ml.columns) > 0 && !slices.Equal(ml.columns, m.Columns()) {
		return errors.WrapFatal(fmt.Errorf("%w: payload schema differs from configured columns", errors.ErrInvalidSchema),
			"MatrixLookup", "Deserialize", "check schema")
	}
	return nil
}

func encodeDocument(doc any, compression Compression, component string) ([]byte, error) {
	data, err := msgpack.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, component, "Serialize", "encode document")
	}
	out, err := compress(compression, data)
	if err != nil {
		return nil, errors.Wrap(err, component, "Serialize", "compress document")
	}
	return out, nil
}

func decodeDocument(data []byte, doc any, component string) error {
	raw, err := decompress(data)
	if err != nil {
		return errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrParsingFailed, err), component, "Deserialize", "decompress document")
	}
	if err := msgpack.Unmarshal(raw, doc); err != nil {
		return errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrParsingFailed, err), component, "Deserialize", "decode document")
	}
	return nil
}
