// Package index provides secondary indexes over a matrix.Matrix.
//
// BitMapIndex answers equality queries on one column. TreeRangeIndex and
// SliceIndex answer "which interval contains v" over a pair of start and end
// columns using half-open [start, end) semantics. All indexes return row sets
// as roaring bitmaps and ignore closed rows.
//
// Indexes are rebuilt with Update after the matrix changes. Encode and Decode
// serialize any index with its kind so a slave can receive prebuilt indexes
// from its master.
package index
