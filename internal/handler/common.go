package handler // handler defines http handlers

import (
	"strconv"

	"github.com/ticketpro/seatmap/internal/model"
)

// Default seat grid dimensions and price used when an event is created
// without an explicit layout.
const (
	defaultGridRows   = 10
	defaultGridCols   = 10
	defaultPriceCents = 5000
)

// indexToRowLabel converts a zero-based index to an alphabetical row
// label like A, B, AA.
func indexToRowLabel(i int) string {
	if i < 0 {
		return ""
	}
	res := []rune{}
	for {
		rem := i % 26
		res = append(res, rune('A'+rem))
		i = i/26 - 1
		if i < 0 {
			break
		}
	}
	for j, k := 0, len(res)-1; j < k; j, k = j+1, k-1 {
		res[j], res[k] = res[k], res[j]
	}
	return string(res)
}

// buildSeatGrid lays out a rectangular seat map.  Labels combine the
// row letter with the one-based seat number (A1, A2, ...).  The pixel
// coordinates place the grid the way the seat picker renders it: 60px
// per seat horizontally, 50px per row vertically, offset from the
// stage.
func buildSeatGrid(rows, cols int, priceCents uint32) []model.Seat {
	seats := make([]model.Seat, 0, rows*cols)
	for r := 0; r < rows; r++ {
		label := indexToRowLabel(r)
		for n := 1; n <= cols; n++ {
			seats = append(seats, model.Seat{
				ID:         label + strconv.Itoa(n),
				Row:        uint32(r + 1),
				Number:     uint32(n),
				Category:   "standard",
				PriceCents: priceCents,
				X:          uint32(n*60 + 200),
				Y:          uint32((r+1)*50 + 100),
			})
		}
	}
	return seats
}
