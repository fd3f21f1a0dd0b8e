package panel

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// LoadCSV reads a return history from a CSV file. The first row is treated
// as a header when any of its cells fails to parse as a number.
func LoadCSV(path string) (*Panel, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open returns file %s: %w", path, err)
	}
	defer f.Close()

	return ReadCSV(f)
}

// ReadCSV parses a return history from r
func ReadCSV(r io.Reader) (*Panel, []string, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse returns csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("%w: empty returns csv", ErrShape)
	}

	var header []string
	if !numericRow(records[0]) {
		header = records[0]
		records = records[1:]
	}

	rows := make([][]float64, 0, len(records))
	for line, rec := range records {
		row := make([]float64, len(rec))
		for i, cell := range rec {
			v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
			if err != nil {
				return nil, nil, fmt.Errorf("returns csv line %d column %d: %w", line+1, i+1, err)
			}
			row[i] = v
		}
		rows = append(rows, row)
	}

	p, err := FromRows(rows)
	if err != nil {
		return nil, nil, err
	}
	return p, header, nil
}

func numericRow(rec []string) bool {
	for _, cell := range rec {
		if _, err := strconv.ParseFloat(strings.TrimSpace(cell), 64); err != nil {
			return false
		}
	}
	return true
}
