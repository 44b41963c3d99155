package storage

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"epochalyst/internal/core"
)

// CSVCodec stores a matrix as CSV with a header row.
//
// Frames write their column names; other values get positional names.
// NaN is written as an empty cell and empty cells read back as NaN.
type CSVCodec struct{}

// Write writes data to path as CSV with a header row.
func (CSVCodec) Write(path string, data any) error {
	converted, err := core.Convert(data, core.PandasDataFrame)
	if err != nil {
		return err
	}
	return writeFileAtomic(path, 0o644, func(w io.Writer) error {
		return WriteCSV(w, converted.(*core.Frame))
	})
}

// Read parses the CSV at path into the out representation.
func (CSVCodec) Read(path string, out core.OutputDataType) (any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	frame, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return core.Convert(frame, out)
}

// Exists reports whether a file is stored at path.
func (CSVCodec) Exists(path string) (bool, error) {
	return fileExists(path)
}

// WriteCSV writes a frame with a header row.
func WriteCSV(w io.Writer, f *core.Frame) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(f.Columns); err != nil {
		return err
	}
	r, c := f.Values.Dims()
	record := make([]string, c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := f.Values.At(i, j)
			if math.IsNaN(v) {
				record[j] = ""
				continue
			}
			record[j] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV reads a headed CSV of numbers into a frame.
func ReadCSV(r io.Reader) (*core.Frame, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = false

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty csv")
		}
		return nil, err
	}
	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = strings.TrimSpace(h)
	}

	var values []float64
	rows := 0
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		for j, cell := range record {
			cell = strings.TrimSpace(cell)
			if cell == "" {
				values = append(values, math.NaN())
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("row %d column %q: %w", rows+1, columns[j], err)
			}
			values = append(values, v)
		}
		rows++
	}
	if rows == 0 || len(columns) == 0 {
		return nil, errors.New("csv has no data rows")
	}
	return core.NewFrame(columns, mat.NewDense(rows, len(columns), values))
}
