package index

import (
	"fmt"
	"math"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/c360/lookupkit/errors"
	"github.com/c360/lookupkit/lookup/matrix"
)

// Kind names an index structure.
type Kind string

// Index kinds.
const (
	KindBitmap Kind = "bitmap"
	KindTree   Kind = "tree"
	KindSlice  Kind = "slice"
)

// Index answers "which open rows match v" over one or two matrix columns.
//
// Search never returns nil. The returned bitmap may be shared with the index
// and must be treated as read-only; Clone it before mutating.
type Index interface {
	Name() string
	Kind() Kind
	Columns() []string
	Search(v any) *roaring.Bitmap
	// Update brings the index in line with the open rows of m. A matrix
	// rebuild since the previous Update forces a full rebuild.
	Update(m *matrix.Matrix) error
	msgpack.Marshaler
	msgpack.Unmarshaler
}

// RangeIndex is an index over [start, end) intervals.
type RangeIndex interface {
	Index
	Bounds() (start, end string)
}

// Spec configures an index. Column applies to bitmap indexes, Start and End
// to tree and slice indexes.
type Spec struct {
	Name       string  `json:"name" yaml:"name"`
	Kind       Kind    `json:"kind" yaml:"kind"`
	Column     string  `json:"column,omitempty" yaml:"column,omitempty"`
	Start      string  `json:"start,omitempty" yaml:"start,omitempty"`
	End        string  `json:"end,omitempty" yaml:"end,omitempty"`
	Resolution float64 `json:"resolution,omitempty" yaml:"resolution,omitempty"`
}

// New builds an empty index from spec. Call Update to populate it.
func New(spec Spec) (Index, error) {
	if spec.Name == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: index name is empty", errors.ErrInvalidConfig), "index", "New", "validate spec")
	}
	switch spec.Kind {
	case KindBitmap:
		if spec.Column == "" {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: bitmap index %s needs a column", errors.ErrInvalidConfig, spec.Name),
				"index", "New", "validate spec")
		}
		return NewBitMap(spec.Name, spec.Column), nil
	case KindTree, KindSlice:
		if spec.Start == "" || spec.End == "" {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: %s index %s needs start and end columns", errors.ErrInvalidConfig, spec.Kind, spec.Name),
				"index", "New", "validate spec")
		}
		if spec.Kind == KindTree {
			return NewTreeRange(spec.Name, spec.Start, spec.End), nil
		}
		if spec.Resolution < 0 || math.IsNaN(spec.Resolution) || math.IsInf(spec.Resolution, 0) {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: slice index %s resolution %v", errors.ErrInvalidConfig, spec.Name, spec.Resolution),
				"index", "New", "validate spec")
		}
		return NewSlice(spec.Name, spec.Start, spec.End, spec.Resolution), nil
	}
	return nil, errors.WrapInvalid(fmt.Errorf("%w: unknown index kind %q", errors.ErrInvalidConfig, spec.Kind), "index", "New", "validate spec")
}

// envelope tags an encoded index with its kind so Decode can dispatch.
type envelope struct {
	Kind Kind               `msgpack:"kind"`
	Name string             `msgpack:"name"`
	Body msgpack.RawMessage `msgpack:"body"`
}

// Encode serializes idx with its kind.
func Encode(idx Index) ([]byte, error) {
	body, err := idx.MarshalMsgpack()
	if err != nil {
		return nil, errors.Wrap(err, "index", "Encode", fmt.Sprintf("encode %s", idx.Name()))
	}
	return msgpack.Marshal(&envelope{Kind: idx.Kind(), Name: idx.Name(), Body: body})
}

// Decode restores an index produced by Encode.
func Decode(data []byte) (Index, error) {
	var env envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrParsingFailed, err), "index", "Decode", "decode envelope")
	}

	var idx Index
	switch env.Kind {
	case KindBitmap:
		idx = &BitMapIndex{}
	case KindTree:
		idx = &TreeRangeIndex{}
	case KindSlice:
		idx = &SliceIndex{}
	default:
		return nil, errors.WrapInvalid(fmt.Errorf("%w: unknown index kind %q", errors.ErrParsingFailed, env.Kind),
			"index", "Decode", "dispatch kind")
	}
	if err := idx.UnmarshalMsgpack(env.Body); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrParsingFailed, err), "index", "Decode", fmt.Sprintf("decode %s", env.Name))
	}
	return idx, nil
}

// ToFloat converts a numeric query value to float64.
func ToFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

func encodeBitmap(bm *roaring.Bitmap) ([]byte, error) {
	return bm.ToBytes()
}

func decodeBitmap(data []byte) (*roaring.Bitmap, error) {
	bm := roaring.New()
	if len(data) == 0 {
		return bm, nil
	}
	if err := bm.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return bm, nil
}

// interval is the [start, end) span of one open row.
type interval struct {
	start, end float64
	row        uint32
}

// collectIntervals reads the interval columns of every open row. start > end
// is a data-model error.
func collectIntervals(m *matrix.Matrix, startCol, endCol, component string) ([]interval, error) {
	rows := m.OpenRows()
	out := make([]interval, 0, len(rows))
	for _, row := range rows {
		start, err := m.Float(row, startCol)
		if err != nil {
			return nil, errors.WrapFatal(fmt.Errorf("%w: %v", errors.ErrIndexColumnMismatched, err), component, "Update", "read start column")
		}
		end, err := m.Float(row, endCol)
		if err != nil {
			return nil, errors.WrapFatal(fmt.Errorf("%w: %v", errors.ErrIndexColumnMismatched, err), component, "Update", "read end column")
		}
		if start > end || math.IsNaN(start) || math.IsNaN(end) {
			return nil, errors.WrapFatal(fmt.Errorf("%w: row %d has start %v after end %v", errors.ErrOverlappingIntervals, row, start, end),
				component, "Update", "validate interval")
		}
		out = append(out, interval{start: start, end: end, row: uint32(row)})
	}
	return out, nil
}

// containsRow verifies a candidate row against the interval columns.
func containsRow(m *matrix.Matrix, row int, startCol, endCol string, v float64) bool {
	start, err := m.Float(row, startCol)
	if err != nil {
		return false
	}
	end, err := m.Float(row, endCol)
	if err != nil {
		return false
	}
	return start <= v && v < end
}

// Filter drops candidate rows whose [start, end) interval does not contain v.
// Slice buckets can hold intervals that only overlap part of the bucket.
func Filter(m *matrix.Matrix, idx RangeIndex, candidates *roaring.Bitmap, v any) *roaring.Bitmap {
	f, ok := ToFloat(v)
	out := roaring.New()
	if !ok {
		return out
	}
	startCol, endCol := idx.Bounds()
	it := candidates.Iterator()
	for it.HasNext() {
		row := it.Next()
		if containsRow(m, int(row), startCol, endCol, f) {
			out.Add(row)
		}
	}
	return out
}
