package ids

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobstoreKeyRoundTrip(t *testing.T) {
	id := New(DomainContent, []byte("hello"))
	parsed, err := ParseBlobstoreKey(id.BlobstoreKey())
	require.NoError(t, err)
	require.True(t, parsed.Equal(id), "round-trip mismatch: %v != %v", parsed, id)
}

func TestBytesRoundTripIsRawDigest(t *testing.T) {
	id := New(DomainChangeset, []byte("payload"))
	back, err := FromBytes(DomainChangeset, id.Bytes())
	require.NoError(t, err)
	require.True(t, back.Equal(id), "bytes round-trip mismatch")
}

func TestThriftRoundTrip(t *testing.T) {
	id := New(DomainFsnode, []byte("tree"))
	back, err := FromThrift(id.IntoThrift())
	require.NoError(t, err)
	require.True(t, back.Equal(id), "thrift round-trip mismatch")
}

func TestCrossDomainNoCollision(t *testing.T) {
	a := New(DomainContent, []byte("same-bytes"))
	b := New(DomainChangeset, []byte("same-bytes"))
	require.False(t, a.Equal(b), "cross-domain collision: %v == %v", a, b)
}

func TestSameBytesSameDomainIsStable(t *testing.T) {
	a := New(DomainContent, []byte("stable"))
	b := New(DomainContent, []byte("stable"))
	require.True(t, a.Equal(b), "expected deterministic hash, got %v != %v", a, b)
}

func TestResolvePrefix(t *testing.T) {
	mk := func(n byte) ID {
		return New(DomainContent, []byte{n})
	}
	_, m := ResolvePrefix(nil, 5)
	require.Equal(t, NoMatch, m)

	one := []ID{mk(1)}
	_, m = ResolvePrefix(one, 5)
	require.Equal(t, Single, m)

	three := []ID{mk(1), mk(2), mk(3)}
	_, m = ResolvePrefix(three, 5)
	require.Equal(t, Multiple, m)

	got, m := ResolvePrefix(three, 2)
	require.Equal(t, TooMany, m)
	require.Len(t, got, 2)
}
