// Package chain ties together storage, blocks and transactions into the
// append-only ledger: genesis creation, block creation, the spendable-output
// scan a new transaction is built from, and the per-transaction UTXO index
// maintained alongside the chain itself.
package chain

import (
	"context"
	"encoding/hex"

	"github.com/kilimba/ledger/addr"
	"github.com/kilimba/ledger/block"
	"github.com/kilimba/ledger/ledgerr"
	"github.com/kilimba/ledger/storage"
	"github.com/kilimba/ledger/tx"
)

func addressHash(address string) ([]byte, error) {
	return addr.PubKeyHashFromAddress(address)
}

const lastHashKey = "lh"

// Blockchain is a node's view of the ledger: a storage handle plus the
// cached hash of its current tip.
type Blockchain struct {
	store    *storage.Storage
	lastHash string
}

// New creates a fresh chain rooted at a freshly mined genesis block whose
// coinbase pays minerAddress, and indexes the coinbase as the only initial
// unspent transaction. It fails with ledgerr.ChainExists if store already
// holds a chain.
func New(ctx context.Context, store *storage.Storage, minerAddress string) (*Blockchain, error) {
	if _, err := store.GetMisc(lastHashKey); err == nil {
		return nil, ledgerr.New(ledgerr.ChainExists, "a chain already exists in this database")
	}

	coinbase, err := tx.NewCoinbase(minerAddress)
	if err != nil {
		return nil, err
	}

	genesis, err := block.Genesis(ctx, *coinbase)
	if err != nil {
		return nil, err
	}

	data, err := genesis.Serialize()
	if err != nil {
		return nil, err
	}
	if err := store.PutChain(genesis.Hash, data); err != nil {
		return nil, err
	}
	if err := store.PutMisc(lastHashKey, []byte(genesis.Hash)); err != nil {
		return nil, err
	}

	bc := &Blockchain{store: store, lastHash: genesis.Hash}
	if err := bc.indexUnspent(*coinbase); err != nil {
		return nil, err
	}
	return bc, nil
}

// Load opens an existing chain from store, returning ledgerr.NotFound if
// none has been created yet.
func Load(store *storage.Storage) (*Blockchain, error) {
	hash, err := store.GetMisc(lastHashKey)
	if err != nil {
		return nil, err
	}
	return &Blockchain{store: store, lastHash: string(hash)}, nil
}

// Tip returns the hash of the current chain head.
func (bc *Blockchain) Tip() string {
	return bc.lastHash
}

func (bc *Blockchain) blockAt(hash string) (*block.Block, error) {
	data, err := bc.store.GetChain(hash)
	if err != nil {
		return nil, err
	}
	return block.Deserialize(data)
}

// Iterator walks the chain from the tip back to genesis, newest block
// first, mirroring the teacher's chain_iter.go traversal.
type Iterator struct {
	currentHash string
	bc          *Blockchain
}

// Iterator returns a fresh newest-first iterator over bc.
func (bc *Blockchain) Iterator() *Iterator {
	return &Iterator{currentHash: bc.lastHash, bc: bc}
}

// Next returns the next block and advances the iterator, or returns
// ledgerr.NotFound once genesis has already been returned.
func (it *Iterator) Next() (*block.Block, error) {
	if it.currentHash == "" {
		return nil, ledgerr.New(ledgerr.NotFound, "iterator exhausted")
	}
	b, err := it.bc.blockAt(it.currentHash)
	if err != nil {
		return nil, err
	}
	it.currentHash = b.PrevBlockHash
	if it.currentHash == block.GenesisPrevHash {
		it.currentHash = ""
	}
	return b, nil
}

// Len counts the blocks from tip to genesis, inclusive.
func (bc *Blockchain) Len() (int, error) {
	n := 0
	it := bc.Iterator()
	for {
		_, err := it.Next()
		if err != nil {
			if ledgerr.Is(err, ledgerr.NotFound) {
				return n, nil
			}
			return 0, err
		}
		n++
	}
}

// TopNBlocks returns up to n blocks counting back from the tip, oldest
// first, so the result can be applied in order by AddBlock (which only
// accepts a block extending the current tip).
func (bc *Blockchain) TopNBlocks(n int) ([]*block.Block, error) {
	var out []*block.Block
	it := bc.Iterator()
	for len(out) < n {
		b, err := it.Next()
		if err != nil {
			if ledgerr.Is(err, ledgerr.NotFound) {
				break
			}
			return nil, err
		}
		out = append(out, b)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// findTransaction scans the chain, newest block first, for a transaction
// by id. Used only as the slow-path fallback of prevTxLookup, for a
// transaction that is no longer in the unspent-tx index.
func (bc *Blockchain) findTransaction(id []byte) (tx.Transaction, error) {
	it := bc.Iterator()
	for {
		b, err := it.Next()
		if err != nil {
			if ledgerr.Is(err, ledgerr.NotFound) {
				return tx.Transaction{}, ledgerr.Newf(ledgerr.NotFound, "transaction %x not found", id)
			}
			return tx.Transaction{}, err
		}
		for _, t := range b.Transactions {
			if hex.EncodeToString(t.ID) == hex.EncodeToString(id) {
				return t, nil
			}
		}
	}
}

// prevTxLookup adapts bc's unspent-tx index (falling back to a full chain
// scan) to the function block.New needs to verify inputs.
func (bc *Blockchain) prevTxLookup(id []byte) (tx.Transaction, error) {
	data, err := bc.store.GetUnspentTx(hex.EncodeToString(id))
	if err == nil {
		return tx.Deserialize(data)
	}
	return bc.findTransaction(id)
}

// CreateBlock mines a new block over pending, crediting minerAddress with
// a fresh coinbase reward, appends it to the chain, and folds its
// transactions into the unspent-tx index.
func (bc *Blockchain) CreateBlock(ctx context.Context, pending []tx.Transaction, minerAddress string) (*block.Block, error) {
	coinbase, err := tx.NewCoinbase(minerAddress)
	if err != nil {
		return nil, err
	}
	txs := append([]tx.Transaction{*coinbase}, pending...)

	b, err := block.New(ctx, txs, bc.lastHash, bc.prevTxLookup)
	if err != nil {
		return nil, err
	}

	if err := bc.appendBlock(b); err != nil {
		return nil, err
	}
	for _, t := range txs {
		if err := bc.indexUnspent(t); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// AddBlock records a block received from a peer, per ledgerr.ProtocolError
// rules: it is rejected if it does not chain onto the current tip.
// Signatures are not re-verified here, matching the source system's
// accept-on-receipt behavior for blocks already produced by proof-of-work.
func (bc *Blockchain) AddBlock(b *block.Block) error {
	if b.PrevBlockHash != bc.lastHash {
		return ledgerr.New(ledgerr.ProtocolError, "block does not extend the current tip")
	}
	if !b.Validate() {
		return ledgerr.New(ledgerr.ProtocolError, "block fails proof-of-work validation")
	}
	if err := bc.appendBlock(b); err != nil {
		return err
	}
	for _, t := range b.Transactions {
		if err := bc.indexUnspent(t); err != nil {
			return err
		}
	}
	return nil
}

func (bc *Blockchain) appendBlock(b *block.Block) error {
	data, err := b.Serialize()
	if err != nil {
		return err
	}
	if err := bc.store.PutChain(b.Hash, data); err != nil {
		return err
	}
	if err := bc.store.PutMisc(lastHashKey, []byte(b.Hash)); err != nil {
		return err
	}
	bc.lastHash = b.Hash
	return nil
}

// UpdateUnspentTxsSet folds a transaction into the local unspent-tx index
// without mining or appending a block. The client calls this right after
// building a transfer, so its own spend is reflected locally before the
// node has confirmed it, matching the original source's
// update_unspent_txs_set step in send().
func (bc *Blockchain) UpdateUnspentTxsSet(t tx.Transaction) error {
	return bc.indexUnspent(t)
}

// indexUnspent folds a newly confirmed transaction into the unspent-tx
// index: its own record is stored, and every previous transaction it
// spends from is marked (and deleted once fully spent).
func (bc *Blockchain) indexUnspent(t tx.Transaction) error {
	data, err := t.Serialize()
	if err != nil {
		return err
	}
	if err := bc.store.PutUnspentTx(hex.EncodeToString(t.ID), data); err != nil {
		return err
	}

	if t.IsCoinbase() {
		return nil
	}

	spent := make(map[string][]int)
	for _, in := range t.Vin {
		key := hex.EncodeToString(in.TxID)
		spent[key] = append(spent[key], in.VoutIndex)
	}

	for txIDHex, indices := range spent {
		raw, err := bc.store.GetUnspentTx(txIDHex)
		if err != nil {
			if ledgerr.Is(err, ledgerr.NotFound) {
				continue
			}
			return err
		}
		prev, err := tx.Deserialize(raw)
		if err != nil {
			return err
		}

		remaining := false
		for _, idx := range indices {
			if idx >= 0 && idx < len(prev.Vout) {
				prev.Vout[idx].IsSpent = true
			}
		}
		for _, out := range prev.Vout {
			if !out.IsSpent {
				remaining = true
				break
			}
		}

		if remaining {
			data, err := prev.Serialize()
			if err != nil {
				return err
			}
			if err := bc.store.PutUnspentTx(txIDHex, data); err != nil {
				return err
			}
		} else {
			if err := bc.store.DeleteUnspentTx(txIDHex); err != nil {
				return err
			}
		}
	}
	return nil
}

// FindSpendableTransactions implements tx.SpendableSource: it scans the
// unspent-tx index for outputs locked to address, accumulating until the
// total strictly exceeds amount. It fails with ledgerr.InsufficientFunds
// if the whole index does not exceed amount, so spending exactly the
// available balance fails.
func (bc *Blockchain) FindSpendableTransactions(amount uint64, address string) ([]tx.Transaction, uint64, error) {
	hash, err := addressHash(address)
	if err != nil {
		return nil, 0, err
	}

	var spendable []tx.Transaction
	var accumulated uint64

	err = bc.store.IterateUnspentTxs(func(txID string, data []byte) error {
		if accumulated > amount {
			return nil
		}
		t, err := tx.Deserialize(data)
		if err != nil {
			return err
		}

		belongsToSender := false
		for _, out := range t.Vout {
			if out.IsSpent {
				continue
			}
			if out.CanBeUnlockedWith(hash) {
				accumulated += out.Value
				belongsToSender = true
			}
		}
		if belongsToSender {
			spendable = append(spendable, t)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	if accumulated <= amount {
		return nil, 0, ledgerr.Newf(ledgerr.InsufficientFunds, "address %s has %d, needs more than %d", address, accumulated, amount)
	}
	return spendable, accumulated, nil
}

// Balance sums every unspent output locked to address.
func (bc *Blockchain) Balance(address string) (uint64, error) {
	hash, err := addressHash(address)
	if err != nil {
		return 0, err
	}

	var total uint64
	err = bc.store.IterateUnspentTxs(func(txID string, data []byte) error {
		t, err := tx.Deserialize(data)
		if err != nil {
			return err
		}
		for _, out := range t.Vout {
			if !out.IsSpent && out.CanBeUnlockedWith(hash) {
				total += out.Value
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}
