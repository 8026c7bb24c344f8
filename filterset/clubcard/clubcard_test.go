package clubcard_test

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mozilla-services/cert-storage/filterset"
	"github.com/mozilla-services/cert-storage/filterset/clubcard"
)

func keyHash(t *testing.T, k filterset.Key) [32]byte {
	t.Helper()
	return sha256.Sum256(append(append([]byte{}, k.IssuerSPKIHash[:]...), k.Serial...))
}

func Test_Clubcard_RoundTrip(t *testing.T) {
	logID := [32]byte{1}
	key := filterset.Key{IssuerSPKIHash: [32]byte{2}, Serial: []byte("S1")}
	entries := map[[32]byte]filterset.Status{
		keyHash(t, key): filterset.StatusRevoked,
	}

	raw := clubcard.Encode(100, 200, [][32]byte{logID}, entries)

	f, err := clubcard.Decode(raw)
	require.NoError(t, err)

	require.Equal(t, filterset.StatusRevoked, f.Has(key))
}

func Test_Clubcard_AbsentKeyIsGoodWhenEnrolled(t *testing.T) {
	logID := [32]byte{1}
	raw := clubcard.Encode(100, 200, [][32]byte{logID}, nil)

	f, err := clubcard.Decode(raw)
	require.NoError(t, err)

	other := filterset.Key{IssuerSPKIHash: [32]byte{9}, Serial: []byte("nope")}
	require.Equal(t, filterset.StatusGood, f.Has(other))
}

func Test_Clubcard_CoverageCountRespectsUniverseAndLogID(t *testing.T) {
	logID := [32]byte{1}
	raw := clubcard.Encode(100, 200, [][32]byte{logID}, nil)
	f, err := clubcard.Decode(raw)
	require.NoError(t, err)

	in := filterset.Timestamp{LogID: logID[:], Time: 150}
	outOfWindow := filterset.Timestamp{LogID: logID[:], Time: 9999}
	unenrolledLog := filterset.Timestamp{LogID: []byte{9}, Time: 150}

	require.Equal(t, 1, f.CoverageCount([]filterset.Timestamp{in}))
	require.Equal(t, 0, f.CoverageCount([]filterset.Timestamp{outOfWindow}))
	require.Equal(t, 0, f.CoverageCount([]filterset.Timestamp{unenrolledLog}))
}

func Test_Clubcard_DecodeRejectsBadMagic(t *testing.T) {
	_, err := clubcard.Decode([]byte("not a clubcard filter at all"))
	require.Error(t, err)
}

func Test_Clubcard_DecodeRejectsTamperedChecksum(t *testing.T) {
	raw := clubcard.Encode(1, 2, nil, nil)
	raw[len(raw)-1] ^= 0xFF

	_, err := clubcard.Decode(raw)
	require.Error(t, err)
}
