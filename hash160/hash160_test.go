// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package hash160

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSumDeterministic(t *testing.T) {
	require := require.New(t)

	a := Sum([]byte("hello world"))
	b := Sum([]byte("hello world"))
	require.Equal(a, b)

	c := Sum([]byte("hello world!"))
	require.NotEqual(a, c)
}

func TestDouble(t *testing.T) {
	require := require.New(t)

	h := Sum([]byte("keyword"))
	require.Equal(Sum(h[:]), h.Double())
}

func TestParseRoundTrip(t *testing.T) {
	require := require.New(t)

	h := Sum([]byte("roundtrip"))
	parsed, err := Parse(h.String())
	require.NoError(err)
	require.Equal(h, parsed)
}

func TestParseInvalid(t *testing.T) {
	require := require.New(t)

	_, err := Parse("not-hex")
	require.Error(err)

	_, err = Parse("aabb")
	require.Error(err)
}

func TestXORDistanceAndLess(t *testing.T) {
	require := require.New(t)

	a := Hash{}
	b := Hash{}
	b[19] = 1

	d := XORDistance(a, b)
	require.Equal(byte(1), d[19])

	require.True(Less(a, b))
	require.False(Less(b, a))
	require.False(Less(a, a))
}

func TestWord(t *testing.T) {
	require := require.New(t)

	h := Sum([]byte("word-test"))
	for i := 0; i < WordCount; i++ {
		w := h.Word(i)
		_ = w
	}
	require.Equal(WordCount, 5)
}

func TestBucketDeterministicAndInRange(t *testing.T) {
	require := require.New(t)

	for _, key := range [][]byte{[]byte("a"), []byte("b"), []byte("c"), []byte("quota-shard")} {
		h := Sum(key)
		b1 := Bucket(h, 17)
		b2 := Bucket(h, 17)
		require.Equal(b1, b2)
		require.Less(b1, uint32(17))
	}
}

func TestBucketZeroBucketsTreatedAsOne(t *testing.T) {
	require := require.New(t)

	h := Sum([]byte("zero"))
	require.Equal(uint32(0), Bucket(h, 0))
}

func TestBucketDistributesAcrossKeys(t *testing.T) {
	require := require.New(t)

	seen := map[uint32]bool{}
	for i := 0; i < 64; i++ {
		h := Sum([]byte{byte(i)})
		seen[Bucket(h, 8)] = true
	}
	require.Greater(len(seen), 1)
}
