package securitystate_test

import (
	"crypto/sha256"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mozilla-services/cert-storage/certindex"
	"github.com/mozilla-services/cert-storage/filterset"
	"github.com/mozilla-services/cert-storage/filterset/clubcard"
	"github.com/mozilla-services/cert-storage/revocation"
	"github.com/mozilla-services/cert-storage/securitystate"
)

func newTestState(t *testing.T) *securitystate.State {
	t.Helper()
	dir := t.TempDir()
	return securitystate.New(securitystate.Config{ProfileDir: dir, MinCoverage: 0})
}

func b64(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

func Test_EnsureOpen_IsIdempotent(t *testing.T) {
	s := newTestState(t)
	require.NoError(t, s.EnsureOpen())
	require.NoError(t, s.EnsureOpen())
}

func Test_LegacyMigration(t *testing.T) {
	dir := t.TempDir()
	legacyPath := filepath.Join(dir, "revocations.txt")
	require.NoError(t, os.WriteFile(legacyPath, []byte("AAAA\n\tBBBB\n BBBB\n"), 0o600))

	s := securitystate.New(securitystate.Config{ProfileDir: dir})
	require.NoError(t, s.EnsureOpen())

	dn, err := base64decode("AAAA")
	require.NoError(t, err)
	val, err := base64decode("BBBB")
	require.NoError(t, err)

	state, err := s.GetRevocationState(dn, val, dn, nil)
	require.NoError(t, err)
	require.Equal(t, revocation.StateEnforce, state)

	_, statErr := os.Stat(legacyPath)
	require.True(t, os.IsNotExist(statErr))
}

func base64decode(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

func Test_SetFullFilter_ThenQuery(t *testing.T) {
	s := newTestState(t)

	issuerHash := [32]byte{1}
	serial := []byte("S1")
	entries := map[[32]byte]filterset.Status{}
	key := hashKey(issuerHash, serial)
	entries[key] = filterset.StatusRevoked

	raw := clubcard.Encode(0, 1<<62, nil, entries)
	require.NoError(t, s.SetFullCRLiteFilter(raw))

	has, err := s.GetHasPriorData(revocation.DataTypeCRLiteFullFilter)
	require.NoError(t, err)
	require.True(t, has)

	state, err := s.GetCRLiteRevocationState(nil, serial, nil)
	require.NoError(t, err)
	_ = state
}

func hashKey(issuerHash [32]byte, serial []byte) [32]byte {
	return sha256.Sum256(append(append([]byte{}, issuerHash[:]...), serial...))
}

func Test_SetFullFilter_WipesDeltas(t *testing.T) {
	s := newTestState(t)
	require.NoError(t, s.EnsureOpen())

	require.NoError(t, s.AddCRLiteDelta(clubcard.Encode(0, 10, nil, nil), "a.delta"))
	require.NoError(t, s.SetFullCRLiteFilter(clubcard.Encode(0, 10, nil, nil)))

	require.Equal(t, 1, s.FilterCount())
}

func Test_CertAddFindRemove(t *testing.T) {
	s := newTestState(t)
	der := []byte{0x30, 0x00}
	subject := []byte{0x31, 0x00}

	require.NoError(t, s.AddCerts([]certindex.Base64CertEntry{
		{DERB64: b64(der), SubjectB64: b64(subject)},
	}))

	found, err := s.FindCertsBySubject(subject)
	require.NoError(t, err)
	require.Equal(t, [][]byte{der}, found)
}

func Test_IsCRLiteFresh_ViaNoteAndQuery(t *testing.T) {
	dir := t.TempDir()
	now := time.Unix(1_700_000_000, 0)
	clockCalls := 0
	s := securitystate.New(securitystate.Config{
		ProfileDir: dir,
		Clock: func() time.Time {
			clockCalls++
			return now
		},
	})

	require.NoError(t, s.SetFullCRLiteFilter(clubcard.Encode(0, 1, nil, nil)))

	state, err := s.GetCRLiteRevocationState([]byte("issuer"), []byte("serial"), nil)
	require.NoError(t, err)
	require.Equal(t, revocation.StateUnset, state)
	require.Greater(t, clockCalls, 0)
}
