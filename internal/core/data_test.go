package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestNewChunked_SplitsRowsAndStacksBack(t *testing.T) {
	m := mat.NewDense(5, 2, []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})

	ch := NewChunked(m, 2)
	require.Len(t, ch.Chunks, 3)
	assert.Equal(t, 5, ch.Rows())

	r, _ := ch.Chunks[2].Dims()
	assert.Equal(t, 1, r)

	stacked, err := ch.Stack()
	require.NoError(t, err)
	assert.True(t, mat.Equal(m, stacked))
}

func TestNewChunked_NonPositiveChunkSizeKeepsOneChunk(t *testing.T) {
	m := mat.NewDense(3, 1, []float64{1, 2, 3})
	assert.Len(t, NewChunked(m, 0).Chunks, 1)
	assert.Len(t, NewChunked(m, 10).Chunks, 1)
}

func TestChunked_StackRejectsMismatchedColumns(t *testing.T) {
	ch := &Chunked{Chunks: []*mat.Dense{
		mat.NewDense(1, 2, []float64{1, 2}),
		mat.NewDense(1, 3, []float64{1, 2, 3}),
	}}
	_, err := ch.Stack()
	assert.True(t, errors.Is(err, ErrUnsupportedData))
}

func TestNewFrame_ChecksColumnCount(t *testing.T) {
	_, err := NewFrame([]string{"a"}, mat.NewDense(1, 2, []float64{1, 2}))
	assert.Error(t, err)

	f, err := NewFrame([]string{"a", "b"}, mat.NewDense(1, 2, []float64{1, 2}))
	require.NoError(t, err)
	assert.Equal(t, 1, f.Column("b"))
	assert.Equal(t, -1, f.Column("c"))
}

func TestConvert_AllOutputTypes(t *testing.T) {
	m := mat.NewDense(2, 2, []float64{1, 2, 3, 4})

	dense, err := Convert(m, NumpyArray)
	require.NoError(t, err)
	assert.Same(t, m, dense)

	chunked, err := Convert(m, DaskArray)
	require.NoError(t, err)
	require.IsType(t, &Chunked{}, chunked)
	assert.Len(t, chunked.(*Chunked).Chunks, 1)

	frame, err := Convert(m, PandasDataFrame)
	require.NoError(t, err)
	require.IsType(t, &Frame{}, frame)
	assert.Equal(t, []string{"0", "1"}, frame.(*Frame).Columns)

	_, err = Convert("not data", NumpyArray)
	assert.True(t, errors.Is(err, ErrUnsupportedData))
}

func TestConcatColumns_FramesKeepNames(t *testing.T) {
	a, _ := NewFrame([]string{"a"}, mat.NewDense(2, 1, []float64{1, 2}))
	b, _ := NewFrame([]string{"b", "c"}, mat.NewDense(2, 2, []float64{3, 4, 5, 6}))

	out, err := ConcatColumns([]any{a, b})
	require.NoError(t, err)

	f, ok := out.(*Frame)
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b", "c"}, f.Columns)
	assert.Equal(t, []float64{1, 3, 4}, f.Values.RawRowView(0))
}

func TestConcatColumns_MixedYieldsDense(t *testing.T) {
	a, _ := NewFrame([]string{"a"}, mat.NewDense(2, 1, []float64{1, 2}))
	b := mat.NewDense(2, 1, []float64{3, 4})

	out, err := ConcatColumns([]any{a, b})
	require.NoError(t, err)
	m, ok := out.(*mat.Dense)
	require.True(t, ok)
	assert.Equal(t, []float64{2, 4}, m.RawRowView(1))
}

func TestConcatColumns_RowMismatch(t *testing.T) {
	_, err := ConcatColumns([]any{
		mat.NewDense(2, 1, []float64{1, 2}),
		mat.NewDense(3, 1, []float64{1, 2, 3}),
	})
	assert.Error(t, err)
}
