// Package hexgrid wraps the H3 hexagonal indexing library behind the small
// contract the pipeline relies on: identifiers at the same resolution are
// opaque, directly joinable keys, and the resolution embedded in an identifier
// can be recovered from the identifier alone.
package hexgrid

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	h3 "github.com/uber/h3-go/v4"
)

// Cell is an H3 cell index at a fixed resolution. The zero value is invalid.
type Cell h3.Cell

// String returns the canonical lowercase hex form of the identifier, the
// representation used in hex_id columns and as join keys.
func (c Cell) String() string {
	return h3.Cell(c).String()
}

// Resolution returns the grid resolution embedded in the identifier.
func (c Cell) Resolution() int {
	return h3.Cell(c).Resolution()
}

// Valid reports whether c is a well-formed H3 cell index.
func (c Cell) Valid() bool {
	return h3.Cell(c).IsValid()
}

// ParseCell parses a hex_id string into a Cell.
func ParseCell(s string) (Cell, error) {
	id := strings.TrimSpace(s)
	if id == "" {
		return 0, eris.New("hexgrid: empty cell identifier")
	}
	c := Cell(h3.IndexFromString(id))
	if !c.Valid() {
		return 0, eris.Errorf("hexgrid: invalid cell identifier %q", s)
	}
	return c, nil
}

// CellAt indexes a coordinate pair at the given resolution.
func CellAt(lat, lon float64, res int) Cell {
	return Cell(h3.LatLngToCell(h3.NewLatLng(lat, lon), res))
}

// InferResolution recovers the grid resolution from one sample identifier.
// The pipeline calls this once, on the first labeled row, and converts every
// raw point at the returned resolution so aggregated keys actually join.
func InferResolution(sample string) (int, error) {
	c, err := ParseCell(sample)
	if err != nil {
		return 0, eris.Wrap(err, "hexgrid: infer resolution")
	}
	return c.Resolution(), nil
}

// CheckResolution verifies that a cell carries the run resolution. A mismatch
// means raw points were (or would be) indexed on a grid the labeled table
// never joins against, so it is fatal rather than a silent empty join.
func CheckResolution(c Cell, want int) error {
	if got := c.Resolution(); got != want {
		return &ResolutionMismatchError{Cell: c.String(), Want: want, Got: got}
	}
	return nil
}

// Center returns the cell's center coordinate.
func Center(c Cell) (lat, lon float64) {
	ll := h3.CellToLatLng(h3.Cell(c))
	return ll.Lat, ll.Lng
}

// Boundary returns the cell's hexagonal outline as (lat, lon) pairs in
// traversal order. The ring is not closed; callers that need a closed ring
// append the first vertex again.
func Boundary(c Cell) [][2]float64 {
	bound := h3.CellToBoundary(h3.Cell(c))
	ring := make([][2]float64, len(bound))
	for i, ll := range bound {
		ring[i] = [2]float64{ll.Lat, ll.Lng}
	}
	return ring
}

// ResolutionMismatchError reports an identifier whose embedded resolution
// differs from the resolution the run was pinned to.
type ResolutionMismatchError struct {
	Cell string
	Want int
	Got  int
}

func (e *ResolutionMismatchError) Error() string {
	return fmt.Sprintf("hexgrid: cell %s has resolution %d, run expects %d", e.Cell, e.Got, e.Want)
}
