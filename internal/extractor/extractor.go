package extractor

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// DefaultColumn is the column read when no other is configured
const DefaultColumn = "text"

// ErrMissingHeader is returned when the content has no readable header row
var ErrMissingHeader = errors.New("source has no header row")

// SkipReason explains why a row produced no message
type SkipReason string

const (
	SkipMalformed    SkipReason = "malformed"
	SkipMissingField SkipReason = "missing_field"
	SkipEmptyValue   SkipReason = "empty_value"
)

// Options controls how rows are read
type Options struct {
	Column string // Designated field name
	Comma  rune   // Field delimiter, ',' when zero
}

// Extraction is the outcome of reading one object
type Extraction struct {
	Messages    []string
	RowsRead    int
	Skipped     map[SkipReason]int
	ColumnFound bool
}

// RowsSkipped returns the number of rows that produced no message
func (e *Extraction) RowsSkipped() int {
	total := 0
	for _, n := range e.Skipped {
		total += n
	}
	return total
}

// Extract decodes content as delimited text with a header row and returns the trimmed,
// non-empty values of the designated column in row order.
// Row-level problems are counted and skipped; only undecodable content or a missing header fail.
func Extract(content []byte, opts Options) (*Extraction, error) {
	column := opts.Column
	if column == "" {
		column = DefaultColumn
	}

	text, err := decodeText(content)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(bytes.NewReader(text))
	if opts.Comma != 0 {
		reader.Comma = opts.Comma
	}
	// Field count is fixed by the header row
	reader.FieldsPerRecord = 0

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, ErrMissingHeader
		}
		return nil, fmt.Errorf("%w: %v", ErrMissingHeader, err)
	}

	index := -1
	for i, name := range header {
		if strings.TrimSpace(name) == column {
			index = i
		}
	}

	result := &Extraction{
		Skipped:     make(map[SkipReason]int),
		ColumnFound: index >= 0,
	}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		result.RowsRead++

		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				result.Skipped[SkipMalformed]++
				continue
			}
			return nil, fmt.Errorf("failed to read row %d: %w", result.RowsRead, err)
		}

		if index < 0 {
			result.Skipped[SkipMissingField]++
			continue
		}

		value := strings.TrimSpace(record[index])
		if value == "" {
			result.Skipped[SkipEmptyValue]++
			continue
		}

		result.Messages = append(result.Messages, value)
	}

	return result, nil
}
