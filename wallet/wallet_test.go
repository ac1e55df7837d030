package wallet

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	w, err := New()
	require.NoError(t, err)

	require.NoError(t, w.Save(dir, "alice"))

	loaded, err := Load(dir, "alice")
	require.NoError(t, err)

	require.Equal(t, w.Address(), loaded.Address())
	require.Equal(t, w.PublicKey, loaded.PublicKey)
}

func TestLoadMissingWallet(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(dir, "nobody")
	require.Error(t, err)
}

func TestAddressIsStable(t *testing.T) {
	dir := t.TempDir()
	w, err := New()
	require.NoError(t, err)
	require.NoError(t, w.Save(dir, "bob"))

	first := w.Address()

	raw, err := os.ReadFile(dir + "/bob.txt")
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	loaded, err := Load(dir, "bob")
	require.NoError(t, err)
	require.Equal(t, first, loaded.Address())
}
