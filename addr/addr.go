// Package addr implements the hashing primitives and the Base58Check
// address codec used to turn a public key into a P2PKH address.
package addr

import (
	"crypto/sha256"

	"github.com/kilimba/ledger/ledgerr"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/ripemd160"
)

// Version is the single network version byte this ledger uses for P2PKH
// addresses (Bitcoin mainnet uses the same byte; there is only one network
// here, so it never varies).
const Version = byte(0x00)

const checksumLength = 4

// Sha256 hashes b with SHA-256.
func Sha256(b []byte) []byte {
	h := sha256.Sum256(b)
	return h[:]
}

// Ripemd160 hashes b with RIPEMD-160.
func Ripemd160(b []byte) []byte {
	h := ripemd160.New()
	h.Write(b)
	return h.Sum(nil)
}

// Checksum is the first 4 bytes of SHA256(SHA256(payload)).
func Checksum(payload []byte) []byte {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	return second[:checksumLength]
}

// HashPubKey is Hash160 over the DER-encoded public key: RIPEMD160(SHA256(der)).
func HashPubKey(derPub []byte) []byte {
	return Ripemd160(Sha256(derPub))
}

// B58CheckEncode base58-encodes payload with an appended 4-byte checksum.
func B58CheckEncode(payload []byte) string {
	full := append(append([]byte{}, payload...), Checksum(payload)...)
	return base58.Encode(full)
}

// B58CheckDecode reverses B58CheckEncode, validating the checksum. It
// returns ledgerr.BadAddress if the string doesn't decode, is too short to
// hold a checksum, or the checksum doesn't match.
func B58CheckDecode(s string) ([]byte, error) {
	full, err := base58.Decode(s)
	if err != nil {
		return nil, ledgerr.Wrap(ledgerr.BadAddress, err)
	}
	if len(full) < checksumLength {
		return nil, ledgerr.New(ledgerr.BadAddress, "address too short")
	}
	payload := full[:len(full)-checksumLength]
	want := full[len(full)-checksumLength:]
	got := Checksum(payload)
	if string(want) != string(got) {
		return nil, ledgerr.New(ledgerr.BadAddress, "checksum mismatch")
	}
	return payload, nil
}

// ToAddress wraps a 20-byte pubkey hash into a spendable address string.
func ToAddress(pubKeyHash []byte) string {
	versioned := append([]byte{Version}, pubKeyHash...)
	return B58CheckEncode(versioned)
}

// PubKeyHashFromAddress recovers the 20-byte pubkey hash from an address,
// failing with ledgerr.BadAddress on any malformed input.
func PubKeyHashFromAddress(address string) ([]byte, error) {
	versioned, err := B58CheckDecode(address)
	if err != nil {
		return nil, err
	}
	if len(versioned) < 1 {
		return nil, ledgerr.New(ledgerr.BadAddress, "empty address payload")
	}
	return versioned[1:], nil
}

// ValidateAddress reports whether address round-trips through the codec.
func ValidateAddress(address string) bool {
	_, err := PubKeyHashFromAddress(address)
	return err == nil
}
