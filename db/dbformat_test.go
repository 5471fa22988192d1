package db

import (
	"testing"

	"github.com/stretchr/testify/require"

	"shaledb"
)

func ikey(userKey string, seq sequenceNumber, vt shaledb.ValueType) []byte {
	return newInternalKey([]byte(userKey), seq, vt).encode()
}

func TestInternalKeyEncodeDecode(t *testing.T) {
	keys := []string{"", "k", "hello", "longggggggggggggggggggggg"}
	seqs := []sequenceNumber{
		1, 2, 3,
		(1 << 8) - 1, 1 << 8, (1 << 8) + 1,
		(1 << 16) - 1, 1 << 16, (1 << 16) + 1,
		(1 << 32) - 1, 1 << 32, (1 << 32) + 1,
	}
	for _, key := range keys {
		for _, seq := range seqs {
			encoded := ikey(key, seq, shaledb.TypeValue)
			decoded := new(parsedInternalKey)
			require.True(t, parseInternalKey(encoded, decoded))
			require.Equal(t, key, string(decoded.userKey))
			require.Equal(t, seq, decoded.sequence)
			require.Equal(t, shaledb.TypeValue, decoded.valueType)

			require.False(t, parseInternalKey([]byte("bar"), decoded))
		}
	}
}

func TestInternalKeyOrdering(t *testing.T) {
	icmp := newInternalKeyComparator(shaledb.BytewiseComparator)
	// Increasing order: ascending user key, then descending sequence, then
	// descending type.
	ordered := [][]byte{
		ikey("", 100, shaledb.TypeValue),
		ikey("", 99, shaledb.TypeValue),
		ikey("a", 101, shaledb.TypeValue),
		ikey("a", 100, shaledb.TypeValue),
		ikey("a", 100, shaledb.TypeDeletion),
		ikey("b", 100, shaledb.TypeValue),
		ikey("b", 99, shaledb.TypeValue),
	}
	for i := 0; i < len(ordered); i++ {
		for j := i + 1; j < len(ordered); j++ {
			require.Negative(t, icmp.Compare(ordered[i], ordered[j]))
			require.Positive(t, icmp.Compare(ordered[j], ordered[i]))
		}
		require.Zero(t, icmp.Compare(ordered[i], ordered[i]))
	}
}

func TestInternalKeyShortSeparator(t *testing.T) {
	icmp := newInternalKeyComparator(shaledb.BytewiseComparator)
	shorten := func(s, l []byte) []byte {
		start := append([]byte(nil), s...)
		icmp.FindShortestSeparator(&start, l)
		return start
	}

	// When there is no shortening to do, the key is unchanged.
	require.Equal(t, ikey("foo", 100, shaledb.TypeValue),
		shorten(ikey("foo", 100, shaledb.TypeValue), ikey("foo", 99, shaledb.TypeValue)))

	// Keys physically shorten when user keys differ by enough.
	shortened := shorten(ikey("foo", 100, shaledb.TypeValue), ikey("hello", 200, shaledb.TypeValue))
	require.Equal(t, ikey("g", maxSequenceNumber, valueTypeForSeek), shortened)

	// A prefix relationship leaves the key alone.
	require.Equal(t, ikey("foo", 100, shaledb.TypeValue),
		shorten(ikey("foo", 100, shaledb.TypeValue), ikey("foobar", 200, shaledb.TypeValue)))
}

func TestInternalKeyShortestSuccessor(t *testing.T) {
	icmp := newInternalKeyComparator(shaledb.BytewiseComparator)
	key := ikey("foo", 100, shaledb.TypeValue)
	icmp.FindShortSuccessor(&key)
	require.Equal(t, ikey("g", maxSequenceNumber, valueTypeForSeek), key)

	key = ikey("\xff\xff", 100, shaledb.TypeValue)
	icmp.FindShortSuccessor(&key)
	require.Equal(t, ikey("\xff\xff", 100, shaledb.TypeValue), key)
}

func TestLookupKey(t *testing.T) {
	lk := newLookupKey([]byte("user"), 42)
	require.Equal(t, "user", string(lk.userKey()))
	parsed := new(parsedInternalKey)
	require.True(t, parseInternalKey(lk.internalKey(), parsed))
	require.Equal(t, sequenceNumber(42), parsed.sequence)
	require.Equal(t, valueTypeForSeek, parsed.valueType)
}
