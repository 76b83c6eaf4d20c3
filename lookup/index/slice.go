package index

import (
	"fmt"
	"math"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/c360/lookupkit/errors"
	"github.com/c360/lookupkit/lookup/matrix"
)

// SliceIndex cuts [min, max) of the indexed intervals into fixed-width
// buckets. Search is a single division. A bucket holds every row whose
// interval intersects it, so results are candidates; use Filter to keep only
// rows that contain the query value.
type SliceIndex struct {
	name       string
	startCol   string
	endCol     string
	configured float64

	resolution float64
	min, max   float64
	buckets    []*roaring.Bitmap
}

// MaxSliceBuckets caps the bucket count of a SliceIndex. A derived
// resolution is widened to stay under it; a configured one that would
// exceed it fails the Update.
const MaxSliceBuckets = 1 << 20

// Bucket is the [Lower, Upper) span of one slice.
type Bucket struct {
	Lower float64
	Upper float64
}

// NewSlice returns an empty slice index. A zero resolution is derived on each
// Update from the shortest non-empty interval.
func NewSlice(name, startCol, endCol string, resolution float64) *SliceIndex {
	return &SliceIndex{
		name:       name,
		startCol:   startCol,
		endCol:     endCol,
		configured: resolution,
	}
}

// Name returns the index name.
func (s *SliceIndex) Name() string { return s.name }

// Kind returns KindSlice.
func (s *SliceIndex) Kind() Kind { return KindSlice }

// Columns returns the start and end columns.
func (s *SliceIndex) Columns() []string { return []string{s.startCol, s.endCol} }

// Bounds returns the start and end columns.
func (s *SliceIndex) Bounds() (string, string) { return s.startCol, s.endCol }

// Resolution returns the bucket width used by the last Update.
func (s *SliceIndex) Resolution() float64 { return s.resolution }

// ConfiguredResolution returns the resolution given at construction, zero
// when it is derived from the data.
func (s *SliceIndex) ConfiguredResolution() float64 { return s.configured }

// Range returns the indexed [min, max) span.
func (s *SliceIndex) Range() (float64, float64) { return s.min, s.max }

// Buckets returns the spans of every bucket in order. The last bucket is
// clipped to max.
func (s *SliceIndex) Buckets() []Bucket {
	out := make([]Bucket, len(s.buckets))
	for k := range s.buckets {
		lower := s.min + float64(k)*s.resolution
		upper := s.min + float64(k+1)*s.resolution
		if k == len(s.buckets)-1 || upper > s.max {
			upper = s.max
		}
		out[k] = Bucket{Lower: lower, Upper: upper}
	}
	return out
}

// Search returns the candidate rows for v. Values below min or at or above
// max match nothing.
func (s *SliceIndex) Search(v any) *roaring.Bitmap {
	k, ok := s.bucket(v)
	if !ok {
		return roaring.New()
	}
	return s.buckets[k]
}

func (s *SliceIndex) bucket(v any) (int, bool) {
	f, ok := ToFloat(v)
	if !ok || math.IsNaN(f) || len(s.buckets) == 0 {
		return 0, false
	}
	if f < s.min || f >= s.max {
		return 0, false
	}
	k := int(math.Floor((f - s.min) / s.resolution))
	if k >= len(s.buckets) {
		k = len(s.buckets) - 1
	}
	return k, true
}

// Update rebuilds the buckets from the open rows of m. Empty intervals are
// skipped since they contain no value.
func (s *SliceIndex) Update(m *matrix.Matrix) error {
	intervals, err := collectIntervals(m, s.startCol, s.endCol, "SliceIndex")
	if err != nil {
		return err
	}

	spans := intervals[:0]
	for _, iv := range intervals {
		if iv.end > iv.start {
			spans = append(spans, iv)
		}
	}
	if len(spans) == 0 {
		s.resolution, s.min, s.max, s.buckets = s.configured, 0, 0, nil
		return nil
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	shortest := math.Inf(1)
	for _, iv := range spans {
		lo = math.Min(lo, iv.start)
		hi = math.Max(hi, iv.end)
		shortest = math.Min(shortest, iv.end-iv.start)
	}
	resolution := s.configured
	if resolution <= 0 {
		resolution = shortest
		if count := math.Ceil((hi - lo) / resolution); count > MaxSliceBuckets {
			resolution = math.Nextafter((hi-lo)/MaxSliceBuckets, math.Inf(1))
		}
	}

	count := math.Ceil((hi - lo) / resolution)
	if count > MaxSliceBuckets || math.IsNaN(count) {
		return errors.WrapFatal(fmt.Errorf("%w: index %s needs %.0f buckets at resolution %g, limit is %d",
			errors.ErrInvalidSchema, s.name, count, resolution, MaxSliceBuckets), "SliceIndex", "Update", "size buckets")
	}
	n := int(count)
	if n < 1 {
		n = 1
	}
	buckets := make([]*roaring.Bitmap, n)
	for k := range buckets {
		buckets[k] = roaring.New()
	}
	for _, iv := range spans {
		first := int(math.Floor((iv.start - lo) / resolution))
		last := int(math.Ceil((iv.end-lo)/resolution)) - 1
		if last >= n {
			last = n - 1
		}
		for k := first; k <= last; k++ {
			buckets[k].Add(iv.row)
		}
	}
	for _, bm := range buckets {
		bm.RunOptimize()
	}

	s.resolution, s.min, s.max, s.buckets = resolution, lo, hi, buckets
	return nil
}

type sliceDocument struct {
	Name       string   `msgpack:"name"`
	StartCol   string   `msgpack:"start"`
	EndCol     string   `msgpack:"end"`
	Configured float64  `msgpack:"configured"`
	Resolution float64  `msgpack:"resolution"`
	Min        float64  `msgpack:"min"`
	Max        float64  `msgpack:"max"`
	Buckets    [][]byte `msgpack:"buckets"`
}

// MarshalMsgpack encodes the index.
func (s *SliceIndex) MarshalMsgpack() ([]byte, error) {
	doc := sliceDocument{
		Name:       s.name,
		StartCol:   s.startCol,
		EndCol:     s.endCol,
		Configured: s.configured,
		Resolution: s.resolution,
		Min:        s.min,
		Max:        s.max,
		Buckets:    make([][]byte, len(s.buckets)),
	}
	for k, bm := range s.buckets {
		data, err := encodeBitmap(bm)
		if err != nil {
			return nil, errors.Wrap(err, "SliceIndex", "MarshalMsgpack", "encode bucket")
		}
		doc.Buckets[k] = data
	}
	return msgpack.Marshal(&doc)
}

// UnmarshalMsgpack restores an index produced by MarshalMsgpack.
func (s *SliceIndex) UnmarshalMsgpack(data []byte) error {
	var doc sliceDocument
	if err := msgpack.Unmarshal(data, &doc); err != nil {
		return err
	}
	buckets := make([]*roaring.Bitmap, len(doc.Buckets))
	for k, raw := range doc.Buckets {
		bm, err := decodeBitmap(raw)
		if err != nil {
			return err
		}
		buckets[k] = bm
	}
	if len(buckets) > 0 && !(doc.Resolution > 0) {
		return errors.ErrInvalidData
	}
	s.name, s.startCol, s.endCol, s.configured = doc.Name, doc.StartCol, doc.EndCol, doc.Configured
	s.resolution, s.min, s.max, s.buckets = doc.Resolution, doc.Min, doc.Max, buckets
	return nil
}
