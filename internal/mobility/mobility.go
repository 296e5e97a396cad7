// Package mobility streams raw device pings from a mobility dump. Dumps are
// CSV with a fixed schema (device_id, lat, lon, timestamp) and far too large
// to materialize, so the reader hands out fixed-size batches and nothing is
// held beyond the batch in flight. Malformed rows are skipped and counted,
// never fatal; a missing schema column is.
package mobility

import (
	"context"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mobility-cli/internal/fetcher"
	"github.com/sells-group/mobility-cli/internal/tabular"
)

// DefaultBatchSize bounds how many pings are resident between merges.
const DefaultBatchSize = 10000

// Required dump columns, matched case-insensitively against the header.
const (
	colDeviceID  = "device_id"
	colLat       = "lat"
	colLon       = "lon"
	colTimestamp = "timestamp"
)

// Record is one device ping. Immutable once read.
type Record struct {
	DeviceID  string
	Lat       float64
	Lon       float64
	Timestamp int64
}

type colIndex struct {
	device, lat, lon, ts int
}

// Reader streams a mobility dump in fixed-size batches.
type Reader struct {
	scanner   *fetcher.CSVScanner
	file      *os.File
	tempPath  string // downloaded copy, removed on Close
	batchSize int
	idx       colIndex
	rows      int64
	skipped   int64
}

// NewReader wraps an open CSV stream. The header row is consumed and
// validated immediately.
func NewReader(r io.Reader, batchSize int) (*Reader, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	scanner, err := fetcher.NewCSVScanner(r, fetcher.CSVOptions{TrimSpace: true, LazyQuotes: true})
	if err != nil {
		return nil, eris.Wrap(err, "mobility: read header")
	}

	idx, err := mapHeader(scanner.Header())
	if err != nil {
		return nil, err
	}

	return &Reader{scanner: scanner, batchSize: batchSize, idx: idx}, nil
}

// Open opens a local dump file.
func Open(path string, batchSize int) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "mobility: open dump")
	}

	r, err := NewReader(f, batchSize)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	r.file = f
	return r, nil
}

// OpenSource opens either a local path or an http(s) URL. URLs are
// downloaded to a temporary file first so the stream survives connection
// resets mid-dump.
func OpenSource(ctx context.Context, f fetcher.Fetcher, source string, batchSize int) (*Reader, error) {
	if !fetcher.IsURL(source) {
		return Open(source, batchSize)
	}

	tempPath := filepath.Join(os.TempDir(), "mobility_"+uuid.NewString()+".csv")
	zap.L().Info("downloading mobility dump", zap.String("url", source))

	n, err := f.DownloadToFile(ctx, source, tempPath)
	if err != nil {
		_ = os.Remove(tempPath)
		return nil, eris.Wrapf(err, "mobility: download %s", source)
	}
	zap.L().Info("downloaded mobility dump", zap.String("url", source), zap.Int64("bytes", n))

	r, err := Open(tempPath, batchSize)
	if err != nil {
		_ = os.Remove(tempPath)
		return nil, err
	}
	r.tempPath = tempPath
	return r, nil
}

func mapHeader(header []string) (colIndex, error) {
	m := make(map[string]int, len(header))
	for i, col := range header {
		m[strings.ToLower(strings.TrimSpace(col))] = i
	}

	var idx colIndex
	for _, c := range []struct {
		name string
		dst  *int
	}{
		{colDeviceID, &idx.device},
		{colLat, &idx.lat},
		{colLon, &idx.lon},
		{colTimestamp, &idx.ts},
	} {
		i, ok := m[c.name]
		if !ok {
			return colIndex{}, &tabular.SchemaError{Column: c.name, Reason: "missing from mobility dump"}
		}
		*c.dst = i
	}
	return idx, nil
}

// Next returns the next batch of at most batchSize records, or io.EOF once
// the dump is exhausted. Malformed rows are dropped and counted, so a batch
// is only short when the dump ends.
func (r *Reader) Next(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "mobility: cancelled")
	}

	batch := make([]Record, 0, r.batchSize)
	for len(batch) < r.batchSize {
		row, err := r.scanner.Next()
		if err == io.EOF {
			if len(batch) == 0 {
				return nil, io.EOF
			}
			return batch, nil
		}
		if err != nil {
			r.skipped++
			continue
		}

		rec, ok := r.parseRow(row)
		if !ok {
			r.skipped++
			continue
		}
		batch = append(batch, rec)
		r.rows++
	}
	return batch, nil
}

func (r *Reader) parseRow(row []string) (Record, bool) {
	if len(row) <= max(r.idx.device, r.idx.lat, r.idx.lon, r.idx.ts) {
		return Record{}, false
	}

	device := strings.TrimSpace(row[r.idx.device])
	if device == "" {
		return Record{}, false
	}

	lat, err := strconv.ParseFloat(strings.TrimSpace(row[r.idx.lat]), 64)
	if err != nil {
		return Record{}, false
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(row[r.idx.lon]), 64)
	if err != nil {
		return Record{}, false
	}
	if math.IsNaN(lat) || math.IsNaN(lon) || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return Record{}, false
	}

	ts, err := strconv.ParseInt(strings.TrimSpace(row[r.idx.ts]), 10, 64)
	if err != nil {
		return Record{}, false
	}

	return Record{DeviceID: device, Lat: lat, Lon: lon, Timestamp: ts}, true
}

// Rows returns how many records have been delivered so far.
func (r *Reader) Rows() int64 { return r.rows }

// Skipped returns how many malformed rows have been dropped so far.
func (r *Reader) Skipped() int64 { return r.skipped }

// Close releases the underlying file and removes any downloaded copy.
func (r *Reader) Close() error {
	var err error
	if r.file != nil {
		err = r.file.Close()
	}
	if r.tempPath != "" {
		_ = os.Remove(r.tempPath)
	}
	return eris.Wrap(err, "mobility: close dump")
}
