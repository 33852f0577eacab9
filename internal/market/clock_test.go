package market

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalClockSessionBounds(t *testing.T) {
	s, err := NewYorkSession("America/New_York")
	require.NoError(t, err)
	s.Holidays = map[string]bool{"2024-07-04": true}
	c := NewLocal(s)
	at := func(v string) time.Time {
		ts, err := time.ParseInLocation("2006-01-02 15:04", v, s.Location)
		require.NoError(t, err)
		return ts
	}
	cases := map[string]bool{
		"2024-07-03 09:29": false,
		"2024-07-03 09:30": true,
		"2024-07-03 15:59": true,
		"2024-07-03 16:00": false,
		"2024-07-04 11:00": false,
		"2024-07-06 11:00": false,
	}
	for in, want := range cases {
		got, err := c.IsOpen(context.Background(), at(in).UTC())
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
}

func TestAlwaysOpen(t *testing.T) {
	open, err := Always{}.IsOpen(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.True(t, open)
}
