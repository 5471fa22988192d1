package util

import (
	"math"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEscapeString(t *testing.T) {
	require.Equal(t, "", EscapeString(nil))
	require.Equal(t, "abc", EscapeString([]byte("abc")))
	require.Equal(t, "a\\x00b", EscapeString([]byte{'a', 0, 'b'}))
	require.Equal(t, "\\xff", EscapeString([]byte{0xff}))
}

func TestConsumeDecimalNumber(t *testing.T) {
	cases := []struct {
		in       string
		value    uint64
		rest     string
		consumed bool
	}{
		{"", 0, "", false},
		{"abc", 0, "abc", false},
		{"0", 0, "", true},
		{"12345", 12345, "", true},
		{"123abc", 123, "abc", true},
		{strconv.FormatUint(math.MaxUint64, 10), math.MaxUint64, "", true},
	}
	for _, c := range cases {
		in := c.in
		var v uint64
		require.Equal(t, c.consumed, ConsumeDecimalNumber(&in, &v), c.in)
		if c.consumed {
			require.Equal(t, c.value, v, c.in)
			require.Equal(t, c.rest, in, c.in)
		}
	}
}

func TestConsumeDecimalNumberOverflow(t *testing.T) {
	in := "18446744073709551616" // MaxUint64 + 1
	var v uint64
	require.False(t, ConsumeDecimalNumber(&in, &v))
}
