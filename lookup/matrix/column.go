package matrix

import (
	"bytes"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/x448/float16"

	"github.com/c360/lookupkit/errors"
)

// column is the typed backing store of one Column. Rows are addressed by
// index; array columns hold stride scalars per row.
type column interface {
	grow(n int)
	get(row int) any
	set(row int, v any) error
	float(row int) (float64, bool)
	key(row int) any
	gather(rows []int) column
	encode() ([]byte, error)
	decode(data []byte, rows int) error
}

type number interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~float32 | ~float64
}

func newColumn(c Column) column {
	stride := c.Shape
	if stride == 0 {
		stride = 1
	}
	switch c.Kind {
	case Int8:
		return &numericColumn[int8]{stride: stride, array: c.Shape > 0}
	case Int16:
		return &numericColumn[int16]{stride: stride, array: c.Shape > 0}
	case Int32:
		return &numericColumn[int32]{stride: stride, array: c.Shape > 0}
	case Int64:
		return &numericColumn[int64]{stride: stride, array: c.Shape > 0}
	case Uint8:
		return &numericColumn[uint8]{stride: stride, array: c.Shape > 0}
	case Uint16:
		return &numericColumn[uint16]{stride: stride, array: c.Shape > 0}
	case Uint32:
		return &numericColumn[uint32]{stride: stride, array: c.Shape > 0}
	case Uint64:
		return &numericColumn[uint64]{stride: stride, array: c.Shape > 0}
	case Float16:
		return &halfColumn{stride: stride, array: c.Shape > 0}
	case Float32:
		return &numericColumn[float32]{stride: stride, array: c.Shape > 0}
	case Float64:
		return &numericColumn[float64]{stride: stride, array: c.Shape > 0}
	case Bytes:
		return &bytesColumn{width: c.Width, stride: stride, array: c.Shape > 0}
	case String:
		return &stringColumn{stride: stride, array: c.Shape > 0}
	}
	return nil
}

type numericColumn[T number] struct {
	stride int
	array  bool
	data   []T
}

func (c *numericColumn[T]) grow(n int) {
	c.data = append(c.data, make([]T, n*c.stride)...)
}

func (c *numericColumn[T]) get(row int) any {
	if c.array {
		out := make([]T, c.stride)
		copy(out, c.data[row*c.stride:(row+1)*c.stride])
		return out
	}
	return c.data[row]
}

func (c *numericColumn[T]) set(row int, v any) error {
	if !c.array {
		x, err := convertNumber[T](v)
		if err != nil {
			return err
		}
		c.data[row] = x
		return nil
	}
	return setArray(v, c.stride, func(i int, elem any) error {
		x, err := convertNumber[T](elem)
		if err != nil {
			return err
		}
		c.data[row*c.stride+i] = x
		return nil
	})
}

func (c *numericColumn[T]) float(row int) (float64, bool) {
	if c.array {
		return 0, false
	}
	return float64(c.data[row]), true
}

func (c *numericColumn[T]) key(row int) any {
	if c.array {
		return arrayKey(reflect.ValueOf(c.data[row*c.stride : (row+1)*c.stride]))
	}
	return CanonicalKey(c.data[row])
}

func (c *numericColumn[T]) gather(rows []int) column {
	out := &numericColumn[T]{stride: c.stride, array: c.array, data: make([]T, 0, len(rows)*c.stride)}
	for _, r := range rows {
		out.data = append(out.data, c.data[r*c.stride:(r+1)*c.stride]...)
	}
	return out
}

func (c *numericColumn[T]) encode() ([]byte, error) {
	return msgpack.Marshal(c.data)
}

func (c *numericColumn[T]) decode(data []byte, rows int) error {
	var values []T
	if err := msgpack.Unmarshal(data, &values); err != nil {
		return err
	}
	if len(values) != rows*c.stride {
		return fmt.Errorf("%w: column has %d values, want %d", errors.ErrInvalidData, len(values), rows*c.stride)
	}
	c.data = values
	return nil
}

// halfColumn stores IEEE 754 binary16 values. Reads return float32.
type halfColumn struct {
	stride int
	array  bool
	data   []float16.Float16
}

func (c *halfColumn) grow(n int) {
	c.data = append(c.data, make([]float16.Float16, n*c.stride)...)
}

func (c *halfColumn) get(row int) any {
	if c.array {
		out := make([]float32, c.stride)
		for i := range out {
			out[i] = c.data[row*c.stride+i].Float32()
		}
		return out
	}
	return c.data[row].Float32()
}

func (c *halfColumn) set(row int, v any) error {
	put := func(i int, elem any) error {
		x, err := convertNumber[float32](elem)
		if err != nil {
			return err
		}
		c.data[row*c.stride+i] = float16.Fromfloat32(x)
		return nil
	}
	if !c.array {
		return put(0, v)
	}
	return setArray(v, c.stride, put)
}

func (c *halfColumn) float(row int) (float64, bool) {
	if c.array {
		return 0, false
	}
	return float64(c.data[row].Float32()), true
}

func (c *halfColumn) key(row int) any {
	if c.array {
		return arrayKey(reflect.ValueOf(c.get(row)))
	}
	return CanonicalKey(c.data[row].Float32())
}

func (c *halfColumn) gather(rows []int) column {
	out := &halfColumn{stride: c.stride, array: c.array, data: make([]float16.Float16, 0, len(rows)*c.stride)}
	for _, r := range rows {
		out.data = append(out.data, c.data[r*c.stride:(r+1)*c.stride]...)
	}
	return out
}

func (c *halfColumn) encode() ([]byte, error) {
	bits := make([]uint16, len(c.data))
	for i, h := range c.data {
		bits[i] = h.Bits()
	}
	return msgpack.Marshal(bits)
}

func (c *halfColumn) decode(data []byte, rows int) error {
	var bits []uint16
	if err := msgpack.Unmarshal(data, &bits); err != nil {
		return err
	}
	if len(bits) != rows*c.stride {
		return fmt.Errorf("%w: column has %d values, want %d", errors.ErrInvalidData, len(bits), rows*c.stride)
	}
	c.data = make([]float16.Float16, len(bits))
	for i, b := range bits {
		c.data[i] = float16.Frombits(b)
	}
	return nil
}

// bytesColumn stores fixed-width byte strings, NUL padded. Reads trim the
// padding.
type bytesColumn struct {
	width  int
	stride int
	array  bool
	data   []byte
}

func (c *bytesColumn) grow(n int) {
	c.data = append(c.data, make([]byte, n*c.stride*c.width)...)
}

func (c *bytesColumn) cell(row, i int) []byte {
	off := (row*c.stride + i) * c.width
	return c.data[off : off+c.width]
}

func (c *bytesColumn) get(row int) any {
	if c.array {
		out := make([][]byte, c.stride)
		for i := range out {
			out[i] = bytes.Clone(bytes.TrimRight(c.cell(row, i), "\x00"))
		}
		return out
	}
	return bytes.Clone(bytes.TrimRight(c.cell(row, 0), "\x00"))
}

func (c *bytesColumn) set(row int, v any) error {
	put := func(i int, elem any) error {
		var b []byte
		switch x := elem.(type) {
		case []byte:
			b = x
		case string:
			b = []byte(x)
		default:
			return fmt.Errorf("%w: %T into bytes column", errors.ErrUnsupportedValueType, elem)
		}
		if len(b) > c.width {
			return fmt.Errorf("%w: %d bytes exceed width %d", errors.ErrInvalidData, len(b), c.width)
		}
		cell := c.cell(row, i)
		clear(cell)
		copy(cell, b)
		return nil
	}
	if !c.array {
		return put(0, v)
	}
	if _, ok := v.([]byte); ok {
		return fmt.Errorf("%w: bytes array column needs one value per element", errors.ErrUnsupportedValueType)
	}
	return setArray(v, c.stride, put)
}

func (c *bytesColumn) float(int) (float64, bool) { return 0, false }

func (c *bytesColumn) key(row int) any {
	if c.array {
		return arrayKey(reflect.ValueOf(c.get(row)))
	}
	return string(bytes.TrimRight(c.cell(row, 0), "\x00"))
}

func (c *bytesColumn) gather(rows []int) column {
	size := c.stride * c.width
	out := &bytesColumn{width: c.width, stride: c.stride, array: c.array, data: make([]byte, 0, len(rows)*size)}
	for _, r := range rows {
		out.data = append(out.data, c.data[r*size:(r+1)*size]...)
	}
	return out
}

func (c *bytesColumn) encode() ([]byte, error) {
	return msgpack.Marshal(c.data)
}

func (c *bytesColumn) decode(data []byte, rows int) error {
	var raw []byte
	if err := msgpack.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != rows*c.stride*c.width {
		return fmt.Errorf("%w: column has %d bytes, want %d", errors.ErrInvalidData, len(raw), rows*c.stride*c.width)
	}
	c.data = raw
	return nil
}

type stringColumn struct {
	stride int
	array  bool
	data   []string
}

func (c *stringColumn) grow(n int) {
	c.data = append(c.data, make([]string, n*c.stride)...)
}

func (c *stringColumn) get(row int) any {
	if c.array {
		out := make([]string, c.stride)
		copy(out, c.data[row*c.stride:(row+1)*c.stride])
		return out
	}
	return c.data[row]
}

func (c *stringColumn) set(row int, v any) error {
	put := func(i int, elem any) error {
		switch x := elem.(type) {
		case string:
			c.data[row*c.stride+i] = x
		case []byte:
			c.data[row*c.stride+i] = string(x)
		case fmt.Stringer:
			c.data[row*c.stride+i] = x.String()
		default:
			return fmt.Errorf("%w: %T into string column", errors.ErrUnsupportedValueType, elem)
		}
		return nil
	}
	if !c.array {
		return put(0, v)
	}
	return setArray(v, c.stride, put)
}

func (c *stringColumn) float(int) (float64, bool) { return 0, false }

func (c *stringColumn) key(row int) any {
	if c.array {
		return arrayKey(reflect.ValueOf(c.data[row*c.stride : (row+1)*c.stride]))
	}
	return c.data[row]
}

func (c *stringColumn) gather(rows []int) column {
	out := &stringColumn{stride: c.stride, array: c.array, data: make([]string, 0, len(rows)*c.stride)}
	for _, r := range rows {
		out.data = append(out.data, c.data[r*c.stride:(r+1)*c.stride]...)
	}
	return out
}

func (c *stringColumn) encode() ([]byte, error) {
	return msgpack.Marshal(c.data)
}

func (c *stringColumn) decode(data []byte, rows int) error {
	var values []string
	if err := msgpack.Unmarshal(data, &values); err != nil {
		return err
	}
	if len(values) != rows*c.stride {
		return fmt.Errorf("%w: column has %d values, want %d", errors.ErrInvalidData, len(values), rows*c.stride)
	}
	c.data = values
	return nil
}

// setArray feeds each element of a slice or array value to put.
func setArray(v any, stride int, put func(i int, elem any) error) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return fmt.Errorf("%w: %T into array column", errors.ErrUnsupportedValueType, v)
	}
	if rv.Len() != stride {
		return fmt.Errorf("%w: array of %d elements, column shape is %d", errors.ErrInvalidData, rv.Len(), stride)
	}
	for i := 0; i < stride; i++ {
		if err := put(i, rv.Index(i).Interface()); err != nil {
			return err
		}
	}
	return nil
}

// convertNumber stores v in a T. Integers must fit T exactly and floats
// written to integer columns must be integral and in range; anything else is
// ErrInvalidData. Float targets accept any finite value that does not
// overflow them.
func convertNumber[T number](v any) (T, error) {
	switch x := v.(type) {
	case int:
		return intTo[T](int64(x))
	case int8:
		return intTo[T](int64(x))
	case int16:
		return intTo[T](int64(x))
	case int32:
		return intTo[T](int64(x))
	case int64:
		return intTo[T](x)
	case uint:
		return uintTo[T](uint64(x))
	case uint8:
		return uintTo[T](uint64(x))
	case uint16:
		return uintTo[T](uint64(x))
	case uint32:
		return uintTo[T](uint64(x))
	case uint64:
		return uintTo[T](x)
	case float32:
		return floatTo[T](float64(x))
	case float64:
		return floatTo[T](x)
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("%w: %T into numeric column", errors.ErrUnsupportedValueType, v)
}

func isFloat[T number]() bool {
	half := 0.5
	return T(half) != 0
}

func isSigned[T number]() bool {
	minusOne := int64(-1)
	return T(minusOne) < 0
}

func outOfRange[T number](v any) error {
	var zero T
	return fmt.Errorf("%w: %v does not fit a %T column", errors.ErrInvalidData, v, zero)
}

func intTo[T number](i int64) (T, error) {
	t := T(i)
	if isFloat[T]() {
		return t, nil
	}
	if int64(t) != i || (t < 0) != (i < 0) {
		return 0, outOfRange[T](i)
	}
	return t, nil
}

func uintTo[T number](u uint64) (T, error) {
	t := T(u)
	if isFloat[T]() {
		return t, nil
	}
	if uint64(t) != u || t < 0 {
		return 0, outOfRange[T](u)
	}
	return t, nil
}

func floatTo[T number](f float64) (T, error) {
	if isFloat[T]() {
		t := T(f)
		if !math.IsInf(f, 0) && math.IsInf(float64(t), 0) {
			return 0, outOfRange[T](f)
		}
		return t, nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, fmt.Errorf("%w: %v is not an integer", errors.ErrInvalidData, f)
	}
	limit := math.Ldexp(1, 64)
	if isSigned[T]() {
		limit = math.Ldexp(1, 63)
	}
	if f >= limit || f < -math.Ldexp(1, 63) {
		return 0, outOfRange[T](f)
	}
	t := T(f)
	if float64(t) != f {
		return 0, outOfRange[T](f)
	}
	return t, nil
}

// CanonicalKey maps a value to the comparable form used as a bitmap index
// key: signed integers to int64, unsigned to uint64 when they do not fit
// int64, floats to float64 and byte slices to string. Integral floats are
// folded into int64 so Search(3) and Search(3.0) agree. Other slices and
// arrays become the string ArrayKey returns, which is how array cells are
// keyed.
func CanonicalKey(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case uint:
		return canonicalUint(uint64(x))
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return canonicalUint(x)
	case float32:
		return canonicalFloat(float64(x))
	case float64:
		return canonicalFloat(x)
	case []byte:
		return string(x)
	}
	if key, ok := ArrayKey(v); ok {
		return key
	}
	return v
}

// ArrayKey renders a slice or array as "[e1 e2 ...]" with every element in
// its CanonicalKey form and string elements quoted. It reports false for
// any other value. A []byte is rendered element by element, which is how
// uint8 array cells are keyed.
func ArrayKey(v any) (string, bool) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return "", false
	}
	return arrayKey(rv), true
}

func arrayKey(rv reflect.Value) string {
	var b strings.Builder
	b.WriteByte('[')
	for i := 0; i < rv.Len(); i++ {
		if i > 0 {
			b.WriteByte(' ')
		}
		switch k := CanonicalKey(rv.Index(i).Interface()).(type) {
		case string:
			b.WriteString(strconv.Quote(k))
		default:
			fmt.Fprint(&b, k)
		}
	}
	b.WriteByte(']')
	return b.String()
}

func canonicalUint(x uint64) any {
	if x <= math.MaxInt64 {
		return int64(x)
	}
	return x
}

func canonicalFloat(x float64) any {
	if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
		return int64(x)
	}
	return x
}
