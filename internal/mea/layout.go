// Package mea describes the 60-electrode MCS microelectrode array layout.
//
// Electrodes sit on an 8x8 grid addressed by 1-indexed (row, col). The four
// corners carry no electrode. Channel indices follow the MCS data stream
// order: row-major over the grid, skipping the corners. The electrode
// label is the column digit followed by the row digit ("21" is column 2,
// row 1), which is how the electrodes are printed on the array.
package mea

import "strconv"

const (
	// Rows and Cols describe the physical grid.
	Rows = 8
	Cols = 8

	// Channels is the number of valid electrodes.
	Channels = 60

	// NoChannel marks a grid position without an electrode.
	NoChannel = -1
)

type position struct{ row, col int }

var (
	grid      [Rows][Cols]int
	positions [Channels]position
)

func init() {
	ch := 0
	for r := 1; r <= Rows; r++ {
		for c := 1; c <= Cols; c++ {
			if isCorner(r, c) {
				grid[r-1][c-1] = NoChannel
				continue
			}
			grid[r-1][c-1] = ch
			positions[ch] = position{row: r, col: c}
			ch++
		}
	}
}

func isCorner(row, col int) bool {
	return (row == 1 || row == Rows) && (col == 1 || col == Cols)
}

// Lookup maps a 1-indexed grid position to a channel index, or NoChannel for
// corners and positions outside the grid.
func Lookup(row, col int) int {
	if row < 1 || row > Rows || col < 1 || col > Cols {
		return NoChannel
	}
	return grid[row-1][col-1]
}

// Position returns the grid position of a channel.
func Position(channel int) (row, col int, ok bool) {
	if channel < 0 || channel >= Channels {
		return 0, 0, false
	}
	p := positions[channel]
	return p.row, p.col, true
}

// Label returns the MCS electrode label for a channel, or "" if out of range.
func Label(channel int) string {
	row, col, ok := Position(channel)
	if !ok {
		return ""
	}
	return strconv.Itoa(col*10 + row)
}

// Electrode is one populated grid position.
type Electrode struct {
	Channel int    `json:"channel"`
	Row     int    `json:"row"`
	Col     int    `json:"col"`
	Label   string `json:"label"`
}

// Layout lists every electrode in the order a display fills its plot grid.
func Layout() []Electrode {
	out := make([]Electrode, 0, Channels)
	for r := 1; r <= Rows; r++ {
		for c := 1; c <= Cols; c++ {
			ch := Lookup(r, c)
			if ch == NoChannel {
				continue
			}
			out = append(out, Electrode{Channel: ch, Row: r, Col: c, Label: strconv.Itoa(c*10 + r)})
		}
	}
	return out
}
