package index

import (
	"fmt"
	"math"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/c360/lookupkit/errors"
	"github.com/c360/lookupkit/lookup/matrix"
)

// TreeRangeIndex is a binary search tree over the boundaries of
// non-overlapping [start, end) intervals. Each leaf covers the span between
// two neighbouring boundaries and holds the rows whose interval covers it.
// Rows sharing an identical interval are allowed; any other overlap fails
// Update.
type TreeRangeIndex struct {
	name     string
	startCol string
	endCol   string
	root     *treeNode
	leaves   int
}

type treeNode struct {
	Pivot float64
	Lower float64
	Upper float64
	Left  *treeNode
	Right *treeNode
	Leaf  bool

	rows *roaring.Bitmap
}

// NewTreeRange returns an empty tree index over the startCol and endCol
// interval columns.
func NewTreeRange(name, startCol, endCol string) *TreeRangeIndex {
	return &TreeRangeIndex{
		name:     name,
		startCol: startCol,
		endCol:   endCol,
		root:     emptyLeaf(),
		leaves:   1,
	}
}

func emptyLeaf() *treeNode {
	return &treeNode{Lower: math.Inf(-1), Upper: math.Inf(1), Leaf: true, rows: roaring.New()}
}

// Name returns the index name.
func (t *TreeRangeIndex) Name() string { return t.name }

// Kind returns KindTree.
func (t *TreeRangeIndex) Kind() Kind { return KindTree }

// Columns returns the start and end columns.
func (t *TreeRangeIndex) Columns() []string { return []string{t.startCol, t.endCol} }

// Bounds returns the start and end columns.
func (t *TreeRangeIndex) Bounds() (string, string) { return t.startCol, t.endCol }

// Leaves returns the number of leaves in the tree.
func (t *TreeRangeIndex) Leaves() int { return t.leaves }

// Search returns the rows whose interval contains v, start <= v < end.
func (t *TreeRangeIndex) Search(v any) *roaring.Bitmap {
	f, ok := ToFloat(v)
	if !ok || math.IsNaN(f) {
		return roaring.New()
	}
	node := t.root
	for !node.Leaf {
		if f < node.Pivot {
			node = node.Left
		} else {
			node = node.Right
		}
	}
	return node.rows
}

// Update rebuilds the tree from the open rows of m.
func (t *TreeRangeIndex) Update(m *matrix.Matrix) error {
	intervals, err := collectIntervals(m, t.startCol, t.endCol, "TreeRangeIndex")
	if err != nil {
		return err
	}
	sort.Slice(intervals, func(i, j int) bool {
		if intervals[i].start != intervals[j].start {
			return intervals[i].start < intervals[j].start
		}
		return intervals[i].end < intervals[j].end
	})

	// Group rows with identical intervals; distinct intervals must not overlap.
	var groups []intervalGroup
	for _, iv := range intervals {
		if n := len(groups); n > 0 {
			last := &groups[n-1]
			if last.start == iv.start && last.end == iv.end {
				last.rows.Add(iv.row)
				continue
			}
			if iv.start < last.end {
				return errors.WrapFatal(fmt.Errorf("%w: [%v, %v) and [%v, %v)", errors.ErrOverlappingIntervals,
					last.start, last.end, iv.start, iv.end), "TreeRangeIndex", "Update", "validate intervals")
			}
		}
		rows := roaring.New()
		rows.Add(iv.row)
		groups = append(groups, intervalGroup{start: iv.start, end: iv.end, rows: rows})
	}

	boundaries := make([]float64, 0, 2*len(groups))
	for _, g := range groups {
		if n := len(boundaries); n == 0 || boundaries[n-1] != g.start {
			boundaries = append(boundaries, g.start)
		}
		if boundaries[len(boundaries)-1] != g.end {
			boundaries = append(boundaries, g.end)
		}
	}

	t.leaves = 0
	t.root = t.build(boundaries, math.Inf(-1), math.Inf(1), groups)
	return nil
}

type intervalGroup struct {
	start, end float64
	rows       *roaring.Bitmap
}

// build splits the sorted boundaries around their median. Every node carries
// the [lower, upper) span it is responsible for, so leaves know exactly which
// values reach them.
func (t *TreeRangeIndex) build(boundaries []float64, lower, upper float64, groups []intervalGroup) *treeNode {
	if len(boundaries) == 0 {
		t.leaves++
		return &treeNode{Lower: lower, Upper: upper, Leaf: true, rows: coveringRows(groups, lower, upper)}
	}
	mid := len(boundaries) / 2
	pivot := boundaries[mid]
	return &treeNode{
		Pivot: pivot,
		Lower: lower,
		Upper: upper,
		Left:  t.build(boundaries[:mid], lower, pivot, groups),
		Right: t.build(boundaries[mid+1:], pivot, upper, groups),
	}
}

// coveringRows finds the interval group covering [lower, upper). Groups are
// sorted and disjoint, so at most one qualifies.
func coveringRows(groups []intervalGroup, lower, upper float64) *roaring.Bitmap {
	if math.IsInf(lower, -1) || math.IsInf(upper, 1) {
		return roaring.New()
	}
	i := sort.Search(len(groups), func(i int) bool { return groups[i].start > lower }) - 1
	if i < 0 {
		return roaring.New()
	}
	g := groups[i]
	if g.start <= lower && upper <= g.end {
		return g.rows
	}
	return roaring.New()
}

// nodeDocument is the wire form of a treeNode.
type nodeDocument struct {
	Pivot float64       `msgpack:"pivot"`
	Lower float64       `msgpack:"lower"`
	Upper float64       `msgpack:"upper"`
	Left  *nodeDocument `msgpack:"left,omitempty"`
	Right *nodeDocument `msgpack:"right,omitempty"`
	Leaf  bool          `msgpack:"leaf"`
	Rows  []byte        `msgpack:"rows,omitempty"`
}

type treeDocument struct {
	Name     string        `msgpack:"name"`
	StartCol string        `msgpack:"start"`
	EndCol   string        `msgpack:"end"`
	Leaves   int           `msgpack:"leaves"`
	Root     *nodeDocument `msgpack:"root"`
}

// MarshalMsgpack encodes the tree with its node bounds.
func (t *TreeRangeIndex) MarshalMsgpack() ([]byte, error) {
	root, err := encodeNode(t.root)
	if err != nil {
		return nil, errors.Wrap(err, "TreeRangeIndex", "MarshalMsgpack", "encode rows")
	}
	return msgpack.Marshal(&treeDocument{
		Name:     t.name,
		StartCol: t.startCol,
		EndCol:   t.endCol,
		Leaves:   t.leaves,
		Root:     root,
	})
}

// UnmarshalMsgpack restores a tree produced by MarshalMsgpack.
func (t *TreeRangeIndex) UnmarshalMsgpack(data []byte) error {
	var doc treeDocument
	if err := msgpack.Unmarshal(data, &doc); err != nil {
		return err
	}
	root := emptyLeaf()
	if doc.Root != nil {
		var err error
		if root, err = decodeNode(doc.Root); err != nil {
			return err
		}
	}
	t.name = doc.Name
	t.startCol = doc.StartCol
	t.endCol = doc.EndCol
	t.leaves = doc.Leaves
	t.root = root
	return nil
}

func encodeNode(n *treeNode) (*nodeDocument, error) {
	doc := &nodeDocument{Pivot: n.Pivot, Lower: n.Lower, Upper: n.Upper, Leaf: n.Leaf}
	if n.Leaf {
		rows, err := encodeBitmap(n.rows)
		doc.Rows = rows
		return doc, err
	}
	var err error
	if doc.Left, err = encodeNode(n.Left); err != nil {
		return nil, err
	}
	if doc.Right, err = encodeNode(n.Right); err != nil {
		return nil, err
	}
	return doc, nil
}

func decodeNode(doc *nodeDocument) (*treeNode, error) {
	n := &treeNode{Pivot: doc.Pivot, Lower: doc.Lower, Upper: doc.Upper, Leaf: doc.Leaf}
	if doc.Leaf {
		rows, err := decodeBitmap(doc.Rows)
		if err != nil {
			return nil, err
		}
		n.rows = rows
		return n, nil
	}
	if doc.Left == nil || doc.Right == nil {
		return nil, fmt.Errorf("%w: inner node at %v is missing a child", errors.ErrInvalidData, doc.Pivot)
	}
	var err error
	if n.Left, err = decodeNode(doc.Left); err != nil {
		return nil, err
	}
	if n.Right, err = decodeNode(doc.Right); err != nil {
		return nil, err
	}
	return n, nil
}
