package filestore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{in: "", want: time.Unix(0, 0).UTC()},
		{in: "0", want: time.Unix(0, 0).UTC()},
		{in: "1700000000123", want: time.UnixMilli(1700000000123).UTC()},
		{in: "2024-03-01", want: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{in: "2024-03-01T10:20:30", want: time.Date(2024, 3, 1, 10, 20, 30, 0, time.UTC)},
		{in: "2024-03-01T10:20:30Z", want: time.Date(2024, 3, 1, 10, 20, 30, 0, time.UTC)},
		{in: "2024-03-01T10:20:30.5+02:00", want: time.Date(2024, 3, 1, 8, 20, 30, 500000000, time.UTC)},
		{in: "  2024-03-01  ", want: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDate(tt.in)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %v, want %v", got, tt.want)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestParseDate_Invalid(t *testing.T) {
	for _, in := range []string{"yesterday", "2024-13-01", "12:00"} {
		_, err := ParseDate(in)
		assert.ErrorIs(t, err, ErrValidation, in)
	}
}

func TestTimestampAndBump(t *testing.T) {
	in := time.Date(2024, 1, 1, 12, 0, 0, 123456789, time.FixedZone("X", 3600))
	ts := Timestamp(in)
	assert.Equal(t, time.UTC, ts.Location())
	assert.Equal(t, 123456000, ts.Nanosecond())

	assert.Equal(t, 123457000, WindowStart(in).Nanosecond())
	assert.Equal(t, ts, WindowStart(ts), "stored precision is already a window start")

	later := ts.Add(time.Second)
	assert.Equal(t, later, Bump(ts, later))
	assert.Equal(t, later, Bump(later, ts), "update dates never move backwards")
}
