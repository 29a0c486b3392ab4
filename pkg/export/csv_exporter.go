package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

// Field is a labelled value printed above the table.
type Field struct {
	Label string
	Value string
}

// Dataset defines tabular export content.
type Dataset struct {
	Title    string
	Subtitle []string
	Summary  []Field
	Headers  []string
	Rows     [][]string
}

func (d Dataset) check() error {
	if len(d.Headers) == 0 {
		return fmt.Errorf("dataset requires at least one header")
	}
	for i, row := range d.Rows {
		if len(row) != len(d.Headers) {
			return fmt.Errorf("row %d has %d cells, want %d", i, len(row), len(d.Headers))
		}
	}
	return nil
}

// CSVExporter renders the table of a Dataset into CSV bytes.
type CSVExporter struct {
	comma rune
}

// NewCSVExporter builds a comma separated exporter.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{comma: ','}
}

// NewCSVExporterWithSeparator builds an exporter using sep as field delimiter.
func NewCSVExporterWithSeparator(sep rune) *CSVExporter {
	return &CSVExporter{comma: sep}
}

// Render produces CSV encoded bytes for the dataset table.
func (e *CSVExporter) Render(data Dataset) ([]byte, error) {
	if err := data.check(); err != nil {
		return nil, err
	}
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	writer.Comma = e.comma
	if err := writer.Write(data.Headers); err != nil {
		return nil, fmt.Errorf("write csv headers: %w", err)
	}
	if err := writer.WriteAll(data.Rows); err != nil {
		return nil, fmt.Errorf("write csv rows: %w", err)
	}
	return buf.Bytes(), nil
}
