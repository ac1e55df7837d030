// Package block implements block headers, proof-of-work mining and
// validation, and block (de)serialization.
package block

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"math/big"
	"strconv"
	"time"

	"github.com/kilimba/ledger/ledgerr"
	"github.com/kilimba/ledger/tx"
)

// DefaultTargetBits is the fixed mining difficulty: the number of leading
// zero bits a valid block hash must have, always a multiple of 8.
const DefaultTargetBits = 16

// GenesisPrevHash is the sentinel previous-hash value for the genesis block.
const GenesisPrevHash = "0000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000"[:64]

// Block is one link of the chain: a timestamped batch of transactions,
// chained to its predecessor by hash, with the nonce that satisfies the
// proof-of-work target for TargetBits.
type Block struct {
	Timestamp     int64
	Transactions  []tx.Transaction
	PrevBlockHash string
	Nonce         uint64
	Hash          string
	TargetBits    int
}

// HashTransactions is SHA256 of the concatenation of every transaction's
// id, hex-encoded then hashed — no Merkle commitment.
func (b *Block) HashTransactions() string {
	h := sha256.New()
	for _, t := range b.Transactions {
		h.Write([]byte(hex.EncodeToString(t.ID)))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// PrepareData concatenates the header fields that the proof-of-work digest
// is computed over, for a candidate nonce.
func (b *Block) PrepareData(nonce uint64) []byte {
	var buf bytes.Buffer
	buf.WriteString(b.PrevBlockHash)
	buf.WriteString(b.HashTransactions())
	buf.WriteString(strconv.FormatInt(b.Timestamp, 10))
	buf.WriteString(strconv.Itoa(b.TargetBits))
	buf.WriteString(strconv.FormatUint(nonce, 10))
	return buf.Bytes()
}

func target(targetBits int) *big.Int {
	t := big.NewInt(1)
	return t.Lsh(t, uint(256-targetBits))
}

// ProofOfWork scans nonces from 0 until SHA256(PrepareData(nonce)),
// interpreted as a big-endian integer, is strictly below the target
// implied by TargetBits. It returns ledgerr.MiningExhausted if the space
// is exhausted, and respects ctx cancellation so a shutting-down node can
// abort an in-flight search.
func (b *Block) ProofOfWork(ctx context.Context) (uint64, string, error) {
	t := target(b.TargetBits)
	var intHash big.Int

	for nonce := uint64(0); ; nonce++ {
		select {
		case <-ctx.Done():
			return 0, "", ledgerr.Wrap(ledgerr.MiningExhausted, ctx.Err())
		default:
		}

		hash := sha256.Sum256(b.PrepareData(nonce))
		intHash.SetBytes(hash[:])
		if intHash.Cmp(t) == -1 {
			return nonce, hex.EncodeToString(hash[:]), nil
		}

		if nonce == ^uint64(0) {
			return 0, "", ledgerr.New(ledgerr.MiningExhausted, "nonce space exhausted")
		}
	}
}

// Validate recomputes the block's hash from its stored nonce and confirms
// it still satisfies TargetBits.
func (b *Block) Validate() bool {
	hash := sha256.Sum256(b.PrepareData(b.Nonce))
	targetBytes := b.TargetBits / 8
	for i := 0; i < targetBytes; i++ {
		if hash[i] != 0 {
			return false
		}
	}
	return hex.EncodeToString(hash[:]) == b.Hash
}

// New verifies every non-coinbase transaction, then mines a block
// containing txs on top of prevHash.
func New(ctx context.Context, txs []tx.Transaction, prevHash string, prevTxLookup func([]byte) (tx.Transaction, error)) (*Block, error) {
	for i := range txs {
		t := txs[i]
		if t.IsCoinbase() {
			continue
		}
		prevTxs := make(map[string]tx.Transaction)
		for _, in := range t.Vin {
			prevTx, err := prevTxLookup(in.TxID)
			if err != nil {
				return nil, ledgerr.Wrap(ledgerr.BadSignature, err)
			}
			prevTxs[hex.EncodeToString(in.TxID)] = prevTx
		}
		ok, err := t.Verify(prevTxs)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ledgerr.Newf(ledgerr.BadSignature, "transaction %x failed verification", t.ID)
		}
	}

	b := &Block{
		Timestamp:     time.Now().Unix(),
		Transactions:  txs,
		PrevBlockHash: prevHash,
		TargetBits:    DefaultTargetBits,
	}

	nonce, hash, err := b.ProofOfWork(ctx)
	if err != nil {
		return nil, err
	}
	b.Nonce = nonce
	b.Hash = hash
	return b, nil
}

// Genesis builds the first block of a chain, whose coinbase is its only
// transaction and whose PrevBlockHash is the all-zero sentinel.
func Genesis(ctx context.Context, coinbase tx.Transaction) (*Block, error) {
	return New(ctx, []tx.Transaction{coinbase}, GenesisPrevHash, nil)
}

// Serialize gob-encodes b for storage.
func (b Block) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(b); err != nil {
		return nil, ledgerr.Wrap(ledgerr.IO, err)
	}
	return buf.Bytes(), nil
}

// Deserialize reverses Serialize.
func Deserialize(data []byte) (*Block, error) {
	var b Block
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&b); err != nil {
		return nil, ledgerr.Wrap(ledgerr.IO, err)
	}
	return &b, nil
}
