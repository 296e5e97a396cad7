package fetcher

import (
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// CSVOptions configures the CSV parsers.
type CSVOptions struct {
	Delimiter  rune // default ','
	Comment    rune // comment character (0 = none)
	LazyQuotes bool
	TrimSpace  bool
}

// CSVScanner reads a headered CSV one record at a time. Mobility dumps do
// not fit in memory, so callers batch rows as they scan.
type CSVScanner struct {
	reader *csv.Reader
	header []string
	opts   CSVOptions
}

// NewCSVScanner wraps r and consumes the header row.
func NewCSVScanner(r io.Reader, opts CSVOptions) (*CSVScanner, error) {
	reader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	if opts.Comment != 0 {
		reader.Comment = opts.Comment
	}
	reader.LazyQuotes = opts.LazyQuotes
	reader.FieldsPerRecord = -1 // allow variable fields; schema checks happen upstream

	header, err := reader.Read()
	if err != nil {
		return nil, eris.Wrap(err, "csv: read header")
	}
	if opts.TrimSpace {
		trimFields(header)
	}

	return &CSVScanner{reader: reader, header: header, opts: opts}, nil
}

// Header returns the header row.
func (s *CSVScanner) Header() []string {
	return s.header
}

// Next returns the next record, or io.EOF when the input is exhausted.
func (s *CSVScanner) Next() ([]string, error) {
	record, err := s.reader.Read()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, eris.Wrap(err, "csv: read row")
	}
	if s.opts.TrimSpace {
		trimFields(record)
	}
	return record, nil
}

// ReadCSV reads an entire headered CSV into memory. Only suitable for the
// small hex-keyed tables, never for the mobility stream.
func ReadCSV(r io.Reader, opts CSVOptions) (header []string, rows [][]string, err error) {
	scanner, err := NewCSVScanner(r, opts)
	if err != nil {
		return nil, nil, err
	}

	for {
		record, err := scanner.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		rows = append(rows, record)
	}

	return scanner.Header(), rows, nil
}

func trimFields(record []string) {
	for i, field := range record {
		record[i] = strings.TrimSpace(field)
	}
}
