// Package wallet manages the ECDSA P-256 keypair behind a ledger address
// and its PEM persistence to disk.
package wallet

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kilimba/ledger/addr"
	"github.com/kilimba/ledger/ledgerr"
)

const pemBlockType = "EC PRIVATE KEY"

// Wallet holds a single keypair. PublicKey is kept as the DER encoding of
// the public key so addr.HashPubKey can be applied directly to it.
type Wallet struct {
	PrivateKey ecdsa.PrivateKey
	PublicKey  []byte
}

// New generates a fresh P-256 keypair.
func New() (*Wallet, error) {
	private, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, ledgerr.Wrap(ledgerr.IO, err)
	}
	w := &Wallet{PrivateKey: *private}
	der, err := x509.MarshalPKIXPublicKey(&private.PublicKey)
	if err != nil {
		return nil, ledgerr.Wrap(ledgerr.IO, err)
	}
	w.PublicKey = der
	return w, nil
}

// Address derives the P2PKH address for this wallet's public key.
func (w *Wallet) Address() string {
	return addr.ToAddress(addr.HashPubKey(w.PublicKey))
}

// AddressHash is the raw 20-byte pubkey hash locking outputs to this wallet.
func (w *Wallet) AddressHash() []byte {
	return addr.HashPubKey(w.PublicKey)
}

func walletPath(dir, name string) string {
	return filepath.Join(dir, fmt.Sprintf("%s.txt", name))
}

// Save writes the PEM-encoded private key to "<dir>/<name>.txt".
func (w *Wallet) Save(dir, name string) error {
	der, err := x509.MarshalECPrivateKey(&w.PrivateKey)
	if err != nil {
		return ledgerr.Wrap(ledgerr.IO, err)
	}
	block := &pem.Block{Type: pemBlockType, Bytes: der}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ledgerr.Wrap(ledgerr.IO, err)
	}
	f, err := os.Create(walletPath(dir, name))
	if err != nil {
		return ledgerr.Wrap(ledgerr.IO, err)
	}
	defer f.Close()

	if err := pem.Encode(f, block); err != nil {
		return ledgerr.Wrap(ledgerr.IO, err)
	}
	return nil
}

// Load reads "<dir>/<name>.txt" and reconstructs the public key from the
// private scalar, per spec: the public key is recomputed on load rather
// than stored alongside it.
func Load(dir, name string) (*Wallet, error) {
	raw, err := os.ReadFile(walletPath(dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ledgerr.Wrap(ledgerr.NotFound, err)
		}
		return nil, ledgerr.Wrap(ledgerr.IO, err)
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, ledgerr.New(ledgerr.IO, "wallet file is not valid PEM")
	}

	private, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, ledgerr.Wrap(ledgerr.IO, err)
	}

	der, err := x509.MarshalPKIXPublicKey(&private.PublicKey)
	if err != nil {
		return nil, ledgerr.Wrap(ledgerr.IO, err)
	}

	return &Wallet{PrivateKey: *private, PublicKey: der}, nil
}
