package mea

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupCoversGrid(t *testing.T) {
	seen := make(map[int]bool)
	var sentinels [][2]int
	for r := 1; r <= Rows; r++ {
		for c := 1; c <= Cols; c++ {
			ch := Lookup(r, c)
			if ch == NoChannel {
				sentinels = append(sentinels, [2]int{r, c})
				continue
			}
			require.GreaterOrEqual(t, ch, 0)
			require.Less(t, ch, Channels)
			require.False(t, seen[ch], "channel %d mapped twice", ch)
			seen[ch] = true
		}
	}
	assert.Len(t, seen, Channels)
	assert.ElementsMatch(t, [][2]int{{1, 1}, {1, 8}, {8, 1}, {8, 8}}, sentinels)
}

func TestLookupOutsideGrid(t *testing.T) {
	assert.Equal(t, NoChannel, Lookup(0, 3))
	assert.Equal(t, NoChannel, Lookup(3, 9))
	assert.Equal(t, NoChannel, Lookup(-1, -1))
}

func TestPositionInvertsLookup(t *testing.T) {
	for ch := 0; ch < Channels; ch++ {
		r, c, ok := Position(ch)
		require.True(t, ok)
		assert.Equal(t, ch, Lookup(r, c))
	}
	_, _, ok := Position(Channels)
	assert.False(t, ok)
}

func TestLabels(t *testing.T) {
	assert.Equal(t, "21", Label(0))
	assert.Equal(t, "12", Label(6))
	assert.Equal(t, "78", Label(Channels-1))
	assert.Equal(t, "", Label(-1))
}

func TestLayoutRowMajor(t *testing.T) {
	l := Layout()
	require.Len(t, l, Channels)
	assert.Equal(t, Electrode{Channel: 0, Row: 1, Col: 2, Label: "21"}, l[0])
	assert.Equal(t, 1, l[5].Row)
	assert.Equal(t, 2, l[6].Row)
	assert.Equal(t, 1, l[6].Col)
}
