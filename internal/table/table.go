// Package table holds delimited text parsed into named columns and writes it
// back out as CSV.
package table

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"sftpFetch/internal/models"
)

// Table is an ordered set of named columns with rows kept in file order.
type Table struct {
	Columns []string
	Rows    [][]string
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// Column returns the values of the named column, or false if it does not exist.
func (t *Table) Column(name string) ([]string, bool) {
	idx := -1
	for i, c := range t.Columns {
		if c == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, false
	}
	values := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		values[i] = row[idx]
	}
	return values, true
}

// RowError reports a malformed input line.
type RowError struct {
	Line int
	Err  error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

var (
	ErrFieldCount = errors.New("wrong number of fields")
	ErrEncoding   = errors.New("invalid UTF-8")
)

// Parse reads headerless delimited text from r. Every line, including the
// first, is data and is assigned opts.Columns in order.
func Parse(r io.Reader, opts models.ParseOptions) (*Table, error) {
	if len(opts.Columns) == 0 {
		return nil, errors.New("at least one column name is required")
	}
	if opts.Delimiter == "" {
		return nil, errors.New("delimiter cannot be empty")
	}

	t := &Table{Columns: append([]string(nil), opts.Columns...)}

	var err error
	if opts.Strict {
		err = parseStrict(r, opts, t)
	} else if utf8.RuneCountInString(opts.Delimiter) == 1 {
		err = parseLenientRune(r, opts, t)
	} else {
		err = parseLenientMulti(r, opts, t)
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func parseStrict(r io.Reader, opts models.ParseOptions, t *Table) error {
	if utf8.RuneCountInString(opts.Delimiter) != 1 {
		return fmt.Errorf("strict parser needs a single-character delimiter, got %q", opts.Delimiter)
	}
	delim, _ := utf8.DecodeRuneInString(opts.Delimiter)

	cr := csv.NewReader(r)
	cr.Comma = delim
	cr.FieldsPerRecord = len(opts.Columns)

	for {
		record, err := cr.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				if errors.Is(pe.Err, csv.ErrFieldCount) {
					return &RowError{Line: pe.StartLine, Err: ErrFieldCount}
				}
				return &RowError{Line: pe.StartLine, Err: pe.Err}
			}
			return err
		}
		line, _ := cr.FieldPos(0)
		if err := checkEncoding(record); err != nil {
			return &RowError{Line: line, Err: err}
		}
		t.Rows = append(t.Rows, record)
	}
}

func parseLenientRune(r io.Reader, opts models.ParseOptions, t *Table) error {
	delim, _ := utf8.DecodeRuneInString(opts.Delimiter)

	cr := csv.NewReader(r)
	cr.Comma = delim
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	for {
		record, err := cr.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				return &RowError{Line: pe.StartLine, Err: pe.Err}
			}
			return err
		}
		line, _ := cr.FieldPos(0)
		row, err := fitRow(record, len(opts.Columns))
		if err != nil {
			return &RowError{Line: line, Err: err}
		}
		t.Rows = append(t.Rows, row)
	}
}

func parseLenientMulti(r io.Reader, opts models.ParseOptions, t *Table) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSuffix(scanner.Text(), "\r")
		if strings.TrimSpace(text) == "" {
			continue
		}
		row, err := fitRow(strings.Split(text, opts.Delimiter), len(opts.Columns))
		if err != nil {
			return &RowError{Line: line, Err: err}
		}
		t.Rows = append(t.Rows, row)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	return nil
}

// fitRow pads short records with empty values and drops trailing empty
// fields beyond the column count. Any other surplus is an error.
func fitRow(record []string, n int) ([]string, error) {
	if err := checkEncoding(record); err != nil {
		return nil, err
	}
	for len(record) > n && record[len(record)-1] == "" {
		record = record[:len(record)-1]
	}
	if len(record) > n {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrFieldCount, len(record), n)
	}
	row := make([]string, n)
	copy(row, record)
	return row, nil
}

func checkEncoding(record []string) error {
	for _, field := range record {
		if !utf8.ValidString(field) {
			return ErrEncoding
		}
	}
	return nil
}

// WriteCSV writes the header row followed by every row, comma separated.
// No index column is added.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	return nil
}
