// Package tx implements transactions, their UTXO-referencing inputs and
// outputs, deterministic hashing, and ECDSA sign/verify over a trimmed copy.
package tx

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/kilimba/ledger/addr"
	"github.com/kilimba/ledger/ledgerr"
	"github.com/kilimba/ledger/wallet"
)

// Subsidy is the fixed mining reward credited by every coinbase transaction.
const Subsidy = 1

// p256FieldLen is the byte width of a P-256 coordinate. Signature.r and
// Signature.s are each left-padded to this width before concatenation so
// Verify can split on a fixed offset instead of len(sig)/2, which breaks
// whenever a coordinate's big.Int.Bytes() loses a leading zero.
const p256FieldLen = 32

// padTo32 left-pads b with zero bytes to p256FieldLen.
func padTo32(b []byte) []byte {
	if len(b) >= p256FieldLen {
		return b
	}
	out := make([]byte, p256FieldLen)
	copy(out[p256FieldLen-len(b):], b)
	return out
}

// TxOutput locks a value to whoever can present a public key hashing to
// PubKeyHash. IsSpent is monotonic: false -> true, never back.
type TxOutput struct {
	Value      uint64
	PubKeyHash []byte
	IsSpent    bool
}

// Lock sets PubKeyHash from a ledger address.
func (o *TxOutput) Lock(address string) error {
	hash, err := addr.PubKeyHashFromAddress(address)
	if err != nil {
		return err
	}
	o.PubKeyHash = hash
	return nil
}

// CanBeUnlockedWith reports whether a key hashing to pubKeyHash may spend o.
func (o *TxOutput) CanBeUnlockedWith(pubKeyHash []byte) bool {
	return bytes.Equal(o.PubKeyHash, pubKeyHash)
}

func newOutput(value uint64, address string) (TxOutput, error) {
	out := TxOutput{Value: value}
	if err := out.Lock(address); err != nil {
		return TxOutput{}, err
	}
	return out, nil
}

// hash is the per-record digest folded into Transaction.ComputeID. It hashes
// the hex-encoded pubkey hash, not the raw bytes, matching the original
// source's hash(f"{self.value}{self.pubkey_hash}") over a hex-stored string.
func (o TxOutput) hash() []byte {
	h := sha256.New()
	fmt.Fprintf(h, "%d", o.Value)
	h.Write([]byte(hex.EncodeToString(o.PubKeyHash)))
	return h.Sum(nil)
}

// TxInput refers to a previous output being spent. A coinbase input has an
// empty TxID, VoutIndex 0, empty PubKey, and random Signature bytes.
type TxInput struct {
	TxID      []byte
	VoutIndex int
	Signature []byte
	PubKey    []byte
}

func (in TxInput) hash() []byte {
	h := sha256.New()
	h.Write([]byte(hex.EncodeToString(in.TxID)))
	fmt.Fprintf(h, "%d", in.VoutIndex)
	h.Write([]byte(hex.EncodeToString(in.Signature)))
	h.Write([]byte(hex.EncodeToString(in.PubKey)))
	return h.Sum(nil)
}

// canUnlockWith reports whether this input was signed by pubKeyHash's key.
func (in TxInput) canUnlockWith(pubKeyHash []byte) bool {
	return bytes.Equal(addr.HashPubKey(in.PubKey), pubKeyHash)
}

// Transaction is a hashed, optionally-signed batch of inputs and outputs.
type Transaction struct {
	ID   []byte
	Vin  []TxInput
	Vout []TxOutput
}

// ComputeID is SHA256 of the concatenation of every input's and then every
// output's per-record hash, each folded in as a hex string rather than raw
// bytes, per the data model's id rule and the original source's hexdigest()
// concatenation.
func (t *Transaction) ComputeID() []byte {
	h := sha256.New()
	for _, in := range t.Vin {
		h.Write([]byte(hex.EncodeToString(in.hash())))
	}
	for _, out := range t.Vout {
		h.Write([]byte(hex.EncodeToString(out.hash())))
	}
	return h.Sum(nil)
}

// IsCoinbase reports whether t has exactly one input referencing nothing.
func (t *Transaction) IsCoinbase() bool {
	return len(t.Vin) == 1 && len(t.Vin[0].TxID) == 0 && len(t.Vin[0].PubKey) == 0
}

// NewCoinbase builds the mining-reward transaction for the given address.
// The dummy input's signature is random so two coinbases to the same
// address still get distinct ids.
func NewCoinbase(to string) (*Transaction, error) {
	randomBytes := make([]byte, 20)
	if _, err := rand.Read(randomBytes); err != nil {
		return nil, ledgerr.Wrap(ledgerr.IO, err)
	}

	in := TxInput{TxID: []byte{}, VoutIndex: 0, Signature: randomBytes, PubKey: []byte{}}
	out, err := newOutput(Subsidy, to)
	if err != nil {
		return nil, err
	}

	t := &Transaction{Vin: []TxInput{in}, Vout: []TxOutput{out}}
	t.ID = t.ComputeID()
	return t, nil
}

// SpendableSource is satisfied by a blockchain's view of the UTXO set. It
// exists so Transaction construction never holds a back-pointer into the
// chain that produced it.
type SpendableSource interface {
	FindSpendableTransactions(amount uint64, address string) ([]Transaction, uint64, error)
}

// New builds, ids, and signs a transaction moving amount from sender to to,
// spending whatever UTXOs source reports as belonging to sender.
func New(sender *wallet.Wallet, to string, amount uint64, source SpendableSource) (*Transaction, error) {
	spendable, accumulated, err := source.FindSpendableTransactions(amount, sender.Address())
	if err != nil {
		return nil, err
	}

	senderHash := sender.AddressHash()

	var inputs []TxInput
	for _, prev := range spendable {
		for index, out := range prev.Vout {
			if out.IsSpent || !out.CanBeUnlockedWith(senderHash) {
				continue
			}
			inputs = append(inputs, TxInput{
				TxID:      append([]byte{}, prev.ID...),
				VoutIndex: index,
				PubKey:    sender.PublicKey,
			})
		}
	}

	toOut, err := newOutput(amount, to)
	if err != nil {
		return nil, err
	}
	outputs := []TxOutput{toOut}
	if accumulated > amount {
		changeOut, err := newOutput(accumulated-amount, sender.Address())
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, changeOut)
	}

	t := &Transaction{Vin: inputs, Vout: outputs}
	t.ID = t.ComputeID()

	if err := t.Sign(sender); err != nil {
		return nil, err
	}
	return t, nil
}

// TrimmedCopy returns a fresh transaction with every input's Signature and
// PubKey cleared. Each call is independent: no state survives between
// inputs across calls.
func (t *Transaction) TrimmedCopy() Transaction {
	inputs := make([]TxInput, len(t.Vin))
	for i, in := range t.Vin {
		inputs[i] = TxInput{TxID: in.TxID, VoutIndex: in.VoutIndex}
	}
	outputs := make([]TxOutput, len(t.Vout))
	copy(outputs, t.Vout)
	return Transaction{ID: append([]byte{}, t.ID...), Vin: inputs, Vout: outputs}
}

// signingDigest builds the trimmed copy for input i, with only that input's
// PubKey populated as w's current public key, and returns its id. This is
// the single trimmed-copy convention this implementation commits to
// (Open Question 2): the populated field is the signer's public key, not
// the previous output's locking hash, matching the original source's
// tx_copy.vin[index].pubkey = wallet.export_public_key() step.
func signingDigest(t *Transaction, i int, pub []byte) []byte {
	copyTx := t.TrimmedCopy()
	copyTx.Vin[i].PubKey = pub
	return copyTx.ComputeID()
}

// Sign signs every input of t with w's private key, over SHA256 of the
// trimmed-copy id for that input. Coinbase transactions are not signed.
func (t *Transaction) Sign(w *wallet.Wallet) error {
	if t.IsCoinbase() {
		return nil
	}

	for i := range t.Vin {
		txCopyID := signingDigest(t, i, w.PublicKey)
		digest := sha256.Sum256([]byte(hex.EncodeToString(txCopyID)))

		r, s, err := ecdsa.Sign(rand.Reader, &w.PrivateKey, digest[:])
		if err != nil {
			return ledgerr.Wrap(ledgerr.IO, err)
		}
		t.Vin[i].Signature = append(padTo32(r.Bytes()), padTo32(s.Bytes())...)
	}
	return nil
}

// Verify checks every input's signature against its referenced previous
// output's unlocking requirements. prevTxs maps hex txid to the
// transaction that created the output being spent.
func (t *Transaction) Verify(prevTxs map[string]Transaction) (bool, error) {
	if t.IsCoinbase() {
		return true, nil
	}

	for _, in := range t.Vin {
		prev, ok := prevTxs[hex.EncodeToString(in.TxID)]
		if !ok {
			return false, ledgerr.Newf(ledgerr.BadSignature, "unknown previous transaction %x", in.TxID)
		}
		if in.VoutIndex < 0 || in.VoutIndex >= len(prev.Vout) || !in.canUnlockWith(prev.Vout[in.VoutIndex].PubKeyHash) {
			return false, nil
		}
	}

	for i, in := range t.Vin {
		txCopyID := signingDigest(t, i, in.PubKey)
		digest := sha256.Sum256([]byte(hex.EncodeToString(txCopyID)))

		pubKey, err := x509.ParsePKIXPublicKey(in.PubKey)
		if err != nil {
			return false, ledgerr.Wrap(ledgerr.BadSignature, err)
		}
		ecdsaPub, ok := pubKey.(*ecdsa.PublicKey)
		if !ok || ecdsaPub.Curve != elliptic.P256() {
			return false, ledgerr.New(ledgerr.BadSignature, "public key is not P-256 ECDSA")
		}

		if len(in.Signature) != 2*p256FieldLen {
			return false, nil
		}
		r := new(big.Int).SetBytes(in.Signature[:p256FieldLen])
		s := new(big.Int).SetBytes(in.Signature[p256FieldLen:])

		if !ecdsa.Verify(ecdsaPub, digest[:], r, s) {
			return false, nil
		}
	}
	return true, nil
}

// Serialize gob-encodes t for storage and network transmission.
func (t Transaction) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(t); err != nil {
		return nil, ledgerr.Wrap(ledgerr.IO, err)
	}
	return buf.Bytes(), nil
}

// Deserialize reverses Serialize.
func Deserialize(data []byte) (Transaction, error) {
	var t Transaction
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&t); err != nil {
		return Transaction{}, ledgerr.Wrap(ledgerr.IO, err)
	}
	return t, nil
}

// String renders a transaction for printchain-style output.
func (t Transaction) String() string {
	var lines []string
	lines = append(lines, fmt.Sprintf("--- Transaction %x", t.ID))
	for i, in := range t.Vin {
		lines = append(lines, fmt.Sprintf("  Input %d: prev=%x out=%d", i, in.TxID, in.VoutIndex))
	}
	for i, out := range t.Vout {
		lines = append(lines, fmt.Sprintf("  Output %d: value=%d lockedTo=%x spent=%v", i, out.Value, out.PubKeyHash, out.IsSpent))
	}
	s := ""
	for _, l := range lines {
		s += l + "\n"
	}
	return s
}
