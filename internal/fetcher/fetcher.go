// Package fetcher downloads and parses the pipeline's input files: CSV and
// XLSX tables from local paths or HTTP(S) URLs.
package fetcher

import (
	"context"
	"io"
	"strings"
)

// Fetcher defines the interface for downloading remote data.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to the given path. Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}

// IsURL reports whether the input path should be fetched over HTTP rather
// than opened locally.
func IsURL(path string) bool {
	return strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://")
}
