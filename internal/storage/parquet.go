package storage

import (
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"
	"gonum.org/v1/gonum/mat"

	"epochalyst/internal/core"
)

// parquetCell is one matrix element in long format.
type parquetCell struct {
	Row   int64   `parquet:"row"`
	Col   int64   `parquet:"col"`
	Name  string  `parquet:"name,dict"`
	Value float64 `parquet:"value"`
}

// ParquetCodec stores a matrix as a long-format parquet file with one row
// per element. Column names survive the round trip.
type ParquetCodec struct{}

// Write stores data at path, replacing any existing file atomically.
func (ParquetCodec) Write(path string, data any) error {
	converted, err := core.Convert(data, core.PandasDataFrame)
	if err != nil {
		return err
	}
	frame := converted.(*core.Frame)

	r, c := frame.Values.Dims()
	cells := make([]parquetCell, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			cells = append(cells, parquetCell{
				Row:   int64(i),
				Col:   int64(j),
				Name:  frame.Columns[j],
				Value: frame.Values.At(i, j),
			})
		}
	}

	return writeFileAtomic(path, 0o644, func(w io.Writer) error {
		if err := parquet.Write(w, cells); err != nil {
			return fmt.Errorf("encoding parquet: %w", err)
		}
		return nil
	})
}

// Read decodes the file at path into the out representation.
func (ParquetCodec) Read(path string, out core.OutputDataType) (any, error) {
	cells, err := parquet.ReadFile[parquetCell](path)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	if len(cells) == 0 {
		return nil, fmt.Errorf("decoding %s: no cells", path)
	}

	var rows, cols int64
	for _, cell := range cells {
		if cell.Row+1 > rows {
			rows = cell.Row + 1
		}
		if cell.Col+1 > cols {
			cols = cell.Col + 1
		}
	}
	if int64(len(cells)) != rows*cols {
		return nil, fmt.Errorf("decoding %s: %d cells for a %dx%d matrix", path, len(cells), rows, cols)
	}

	m := mat.NewDense(int(rows), int(cols), nil)
	columns := make([]string, cols)
	for _, cell := range cells {
		m.Set(int(cell.Row), int(cell.Col), cell.Value)
		columns[cell.Col] = cell.Name
	}
	frame, err := core.NewFrame(columns, m)
	if err != nil {
		return nil, err
	}
	return core.Convert(frame, out)
}

// Exists reports whether a file is stored at path.
func (ParquetCodec) Exists(path string) (bool, error) {
	return fileExists(path)
}
