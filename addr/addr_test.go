package addr

import (
	"testing"

	"github.com/kilimba/ledger/ledgerr"
	"github.com/stretchr/testify/require"
)

func TestB58CheckRoundTrip(t *testing.T) {
	payloads := [][]byte{
		{},
		{0x00},
		[]byte("hello world"),
		HashPubKey([]byte("some DER-encoded public key bytes")),
	}
	for _, p := range payloads {
		encoded := B58CheckEncode(p)
		decoded, err := B58CheckDecode(encoded)
		require.NoError(t, err)
		require.Equal(t, p, decoded)
	}
}

func TestB58CheckDecodeBadChecksum(t *testing.T) {
	encoded := B58CheckEncode([]byte("payload"))
	tampered := []byte(encoded)
	tampered[0] = tampered[0] + 1
	_, err := B58CheckDecode(string(tampered))
	require.Error(t, err)
	require.Equal(t, ledgerr.BadAddress, ledgerr.KindOf(err))
}

func TestToAddressAndBack(t *testing.T) {
	hash := HashPubKey([]byte("a public key"))
	address := ToAddress(hash)
	require.True(t, ValidateAddress(address))

	recovered, err := PubKeyHashFromAddress(address)
	require.NoError(t, err)
	require.Equal(t, hash, recovered)
}

func TestValidateAddressRejectsGarbage(t *testing.T) {
	require.False(t, ValidateAddress("not a real address"))
}
