package core

import (
	"fmt"
	"strconv"

	"gonum.org/v1/gonum/mat"
)

// Frame is a dense matrix with named columns.
//
// It is the Go representation of the dataframe output types. Columns are
// positional: Columns[j] names column j of Values.
type Frame struct {
	Columns []string
	Values  *mat.Dense
}

// NewFrame creates a Frame, checking that the column names match the matrix width.
func NewFrame(columns []string, values *mat.Dense) (*Frame, error) {
	if values == nil {
		return nil, unsupportedf("frame values are nil")
	}
	_, c := values.Dims()
	if len(columns) != c {
		return nil, unsupportedf("frame has %d column names for %d columns", len(columns), c)
	}
	cols := make([]string, len(columns))
	copy(cols, columns)
	return &Frame{Columns: cols, Values: values}, nil
}

// Column returns the index of the named column, or -1.
func (f *Frame) Column(name string) int {
	for i, c := range f.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Chunked is a dense matrix split into row chunks.
//
// It is the Go representation of the dask array output type. All chunks
// share the same column count.
type Chunked struct {
	Chunks []*mat.Dense
}

// NewChunked splits m into chunks of at most rowsPerChunk rows.
// A non-positive rowsPerChunk yields a single chunk.
func NewChunked(m *mat.Dense, rowsPerChunk int) *Chunked {
	r, c := m.Dims()
	if rowsPerChunk <= 0 || rowsPerChunk >= r {
		return &Chunked{Chunks: []*mat.Dense{mat.DenseCopyOf(m)}}
	}
	out := &Chunked{}
	for i := 0; i < r; i += rowsPerChunk {
		end := i + rowsPerChunk
		if end > r {
			end = r
		}
		out.Chunks = append(out.Chunks, mat.DenseCopyOf(m.Slice(i, end, 0, c)))
	}
	return out
}

// Rows returns the total row count across all chunks.
func (c *Chunked) Rows() int {
	n := 0
	for _, ch := range c.Chunks {
		r, _ := ch.Dims()
		n += r
	}
	return n
}

// Stack concatenates all chunks into a single matrix.
func (c *Chunked) Stack() (*mat.Dense, error) {
	if c == nil || len(c.Chunks) == 0 {
		return nil, unsupportedf("chunked array has no chunks")
	}
	acc := mat.DenseCopyOf(c.Chunks[0])
	for i, ch := range c.Chunks[1:] {
		_, ac := acc.Dims()
		_, cc := ch.Dims()
		if ac != cc {
			return nil, unsupportedf("chunk %d has %d columns, want %d", i+1, cc, ac)
		}
		var next mat.Dense
		next.Stack(acc, ch)
		acc = &next
	}
	return acc, nil
}

// AsDense returns the dense matrix view of any supported value.
//
// Supported values are *mat.Dense, *Frame and *Chunked. The returned matrix
// may share storage with the input.
func AsDense(data any) (*mat.Dense, error) {
	switch v := data.(type) {
	case *mat.Dense:
		if v == nil {
			return nil, unsupportedf("nil matrix")
		}
		return v, nil
	case *Frame:
		if v == nil || v.Values == nil {
			return nil, unsupportedf("nil frame")
		}
		return v.Values, nil
	case *Chunked:
		return v.Stack()
	default:
		return nil, unsupportedf("%T", data)
	}
}

// Convert returns data in the Go type that represents out:
//
//	numpy_array                     -> *mat.Dense
//	dask_array                      -> *Chunked
//	pandas_dataframe, dask_dataframe -> *Frame
//
// Dense values converted to a Frame get positional column names "0".."n-1".
func Convert(data any, out OutputDataType) (any, error) {
	switch out {
	case NumpyArray:
		return AsDense(data)
	case DaskArray:
		if ch, ok := data.(*Chunked); ok {
			return ch, nil
		}
		m, err := AsDense(data)
		if err != nil {
			return nil, err
		}
		return &Chunked{Chunks: []*mat.Dense{m}}, nil
	case PandasDataFrame, DaskDataFrame:
		if f, ok := data.(*Frame); ok {
			return f, nil
		}
		m, err := AsDense(data)
		if err != nil {
			return nil, err
		}
		return NewFrame(PositionalColumns(m), m)
	default:
		return nil, unsupportedf("unknown output data type %q", out)
	}
}

// PositionalColumns returns the names "0".."n-1" for the columns of m.
func PositionalColumns(m mat.Matrix) []string {
	_, c := m.Dims()
	cols := make([]string, c)
	for i := range cols {
		cols[i] = strconv.Itoa(i)
	}
	return cols
}

// ConcatColumns joins values side by side, in order.
//
// When every part is a *Frame the result is a *Frame whose columns are the
// concatenated column names; otherwise the result is a *mat.Dense.
func ConcatColumns(parts []any) (any, error) {
	if len(parts) == 0 {
		return nil, unsupportedf("nothing to concatenate")
	}
	allFrames := true
	var columns []string
	mats := make([]*mat.Dense, 0, len(parts))
	for i, p := range parts {
		m, err := AsDense(p)
		if err != nil {
			return nil, fmt.Errorf("part %d: %w", i, err)
		}
		mats = append(mats, m)
		if f, ok := p.(*Frame); ok {
			columns = append(columns, f.Columns...)
		} else {
			allFrames = false
		}
	}

	acc := mat.DenseCopyOf(mats[0])
	for i, m := range mats[1:] {
		ar, _ := acc.Dims()
		mr, _ := m.Dims()
		if ar != mr {
			return nil, unsupportedf("part %d has %d rows, want %d", i+1, mr, ar)
		}
		var next mat.Dense
		next.Augment(acc, m)
		acc = &next
	}

	if allFrames {
		return NewFrame(columns, acc)
	}
	return acc, nil
}
