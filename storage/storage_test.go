package storage

import (
	"testing"

	"github.com/kilimba/ledger/ledgerr"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Storage {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestChainPutGetRoundTrip(t *testing.T) {
	s := openTemp(t)

	require.NoError(t, s.PutChain("deadbeef", []byte("block-bytes")))

	got, err := s.GetChain("deadbeef")
	require.NoError(t, err)
	require.Equal(t, []byte("block-bytes"), got)
}

func TestGetMissingChainIsNotFound(t *testing.T) {
	s := openTemp(t)

	_, err := s.GetChain("nope")
	require.Error(t, err)
	require.Equal(t, ledgerr.NotFound, ledgerr.KindOf(err))
}

func TestMiscPutGet(t *testing.T) {
	s := openTemp(t)

	require.NoError(t, s.PutMisc("tip", []byte("somehash")))
	got, err := s.GetMisc("tip")
	require.NoError(t, err)
	require.Equal(t, []byte("somehash"), got)
}

func TestUnspentTxLifecycle(t *testing.T) {
	s := openTemp(t)

	require.NoError(t, s.PutUnspentTx("abc123", []byte("tx-bytes")))

	got, err := s.GetUnspentTx("abc123")
	require.NoError(t, err)
	require.Equal(t, []byte("tx-bytes"), got)

	require.NoError(t, s.DeleteUnspentTx("abc123"))
	_, err = s.GetUnspentTx("abc123")
	require.Error(t, err)
}

func TestIterateUnspentTxs(t *testing.T) {
	s := openTemp(t)

	require.NoError(t, s.PutUnspentTx("a", []byte("1")))
	require.NoError(t, s.PutUnspentTx("b", []byte("2")))

	seen := map[string]string{}
	err := s.IterateUnspentTxs(func(txID string, data []byte) error {
		seen[txID] = string(data)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, map[string]string{"a": "1", "b": "2"}, seen)
}

func TestExistsFalseForFreshDir(t *testing.T) {
	require.False(t, Exists(t.TempDir()))
}
