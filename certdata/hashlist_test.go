package certdata

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/require"
)

func hashOf(s string) []byte {
	h := sha256.Sum256([]byte(s))
	return h[:]
}

func Test_NewCertHashList_RejectsBadLength(t *testing.T) {
	_, err := NewCertHashList(make([]byte, 31))
	require.Error(t, err)
}

func Test_HashList_AddIsIdempotent(t *testing.T) {
	var l CertHashList
	h := hashOf("a")

	l, err := l.Add(h)
	require.NoError(t, err)
	require.Equal(t, 1, l.Len())

	l2, err := l.Add(h)
	require.NoError(t, err)
	require.Equal(t, l, l2)
}

func Test_HashList_RemoveThenAddContainsHashAgain(t *testing.T) {
	var l CertHashList
	h1, h2 := hashOf("a"), hashOf("b")

	l, err := l.Add(h1)
	require.NoError(t, err)
	l, err = l.Add(h2)
	require.NoError(t, err)

	removed, err := l.Remove(h1)
	require.NoError(t, err)
	require.Equal(t, 1, removed.Len())

	restored, err := removed.Add(h1)
	require.NoError(t, err)
	require.Equal(t, 2, restored.Len())

	found, err := restored.Contains(h1)
	require.NoError(t, err)
	require.True(t, found)
}

func Test_HashList_LenGrowsByHashLengthOrNotAtAll(t *testing.T) {
	var l CertHashList
	h := hashOf("a")

	before := len(l)
	l, err := l.Add(h)
	require.NoError(t, err)
	require.Contains(t, []int{before, before + HashLength}, len(l))
}
