package kvstore

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "data.safe.bin"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func Test_Store_GetMissingKeyReturnsNotOK(t *testing.T) {
	s := openTestStore(t)

	_, ok, err := s.Get([]byte("nope"))
	require.NoError(t, err)
	require.False(t, ok)
}

func Test_Store_PutThenGetRoundTrips(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Update(func(tx *Tx) error {
		return tx.Put([]byte("k"), Uint64Value(42))
	}))

	v, ok, err := s.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	got, err := v.AsUint64()
	require.NoError(t, err)
	require.Equal(t, uint64(42), got)
}

func Test_Store_TypeMismatchFailsLoudly(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Update(func(tx *Tx) error {
		return tx.Put([]byte("k"), BoolValue(true))
	}))

	v, ok, err := s.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)

	_, err = v.AsBlob()
	require.Error(t, err)
}

func Test_Store_UpdateRollsBackOnError(t *testing.T) {
	s := openTestStore(t)

	err := s.Update(func(tx *Tx) error {
		_ = tx.Put([]byte("k"), Int64Value(1))
		return errBoom
	})
	require.Error(t, err)

	_, ok, err := s.Get([]byte("k"))
	require.NoError(t, err)
	require.False(t, ok)
}

func Test_Store_DeleteRemovesKey(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Update(func(tx *Tx) error {
		return tx.Put([]byte("k"), BlobValue([]byte("v")))
	}))
	require.NoError(t, s.Update(func(tx *Tx) error {
		return tx.Delete([]byte("k"))
	}))

	_, ok, err := s.Get([]byte("k"))
	require.NoError(t, err)
	require.False(t, ok)
}

func Test_Store_ForEachVisitsAllEntries(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Update(func(tx *Tx) error {
		if err := tx.Put([]byte("a"), Int64Value(1)); err != nil {
			return err
		}
		return tx.Put([]byte("b"), Int64Value(2))
	}))

	seen := map[string]int64{}
	require.NoError(t, s.View(func(tx *Tx) error {
		return tx.ForEach(func(key []byte, v Value) error {
			n, err := v.AsInt64()
			if err != nil {
				return err
			}
			seen[string(key)] = n
			return nil
		})
	}))
	require.Equal(t, map[string]int64{"a": 1, "b": 2}, seen)
}
