// Package storage wraps a single Badger database handle, exposing three
// logical tables (chain, unspent transactions, and miscellaneous
// bookkeeping) through key prefixes, mirroring the chain/misc/unspent_txs
// tables of the original key-value store this ledger was modeled on.
package storage

import (
	"os"
	"path/filepath"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/kilimba/ledger/ledgerr"
)

const (
	chainPrefix = "chain:"
	utxoPrefix  = "utxo:"
	miscPrefix  = "misc:"
)

// Storage is the embedded key-value store backing a node's chain, UTXO
// index, and small bookkeeping values (last-hash pointer and similar).
type Storage struct {
	db *badger.DB
}

// Exists reports whether a Badger database already lives at dir.
func Exists(dir string) bool {
	if _, err := os.Stat(filepath.Join(dir, "MANIFEST")); err != nil {
		return false
	}
	return true
}

// Open opens (creating if necessary) the Badger database rooted at dir.
func Open(dir string) (*Storage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, ledgerr.Wrap(ledgerr.IO, err)
	}

	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := openWithRetry(opts)
	if err != nil {
		return nil, ledgerr.Wrap(ledgerr.IO, err)
	}
	return &Storage{db: db}, nil
}

// openWithRetry clears a stale Badger lock file once before retrying, the
// same recovery the teacher's blockchain.openDB performs after an unclean
// shutdown.
func openWithRetry(opts badger.Options) (*badger.DB, error) {
	db, err := badger.Open(opts)
	if err == nil {
		return db, nil
	}
	if _, lockErr := os.Stat(filepath.Join(opts.Dir, "LOCK")); lockErr == nil {
		if removeErr := os.Remove(filepath.Join(opts.Dir, "LOCK")); removeErr == nil {
			return badger.Open(opts)
		}
	}
	return nil, err
}

// Close releases the underlying database handle.
func (s *Storage) Close() error {
	if err := s.db.Close(); err != nil {
		return ledgerr.Wrap(ledgerr.IO, err)
	}
	return nil
}

func get(db *badger.DB, key string) ([]byte, error) {
	var value []byte
	err := db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			value = append([]byte{}, v...)
			return nil
		})
	})
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, ledgerr.Newf(ledgerr.NotFound, "key %q not found", key)
		}
		return nil, ledgerr.Wrap(ledgerr.IO, err)
	}
	return value, nil
}

func put(db *badger.DB, key string, value []byte) error {
	err := db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return ledgerr.Wrap(ledgerr.IO, err)
	}
	return nil
}

func del(db *badger.DB, key string) error {
	err := db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return ledgerr.Wrap(ledgerr.IO, err)
	}
	return nil
}

// GetChain fetches a block's serialized bytes by hash.
func (s *Storage) GetChain(hash string) ([]byte, error) {
	return get(s.db, chainPrefix+hash)
}

// PutChain stores a block's serialized bytes under its hash.
func (s *Storage) PutChain(hash string, data []byte) error {
	return put(s.db, chainPrefix+hash, data)
}

// GetMisc fetches a small bookkeeping value (e.g. the tip pointer) by key.
func (s *Storage) GetMisc(key string) ([]byte, error) {
	return get(s.db, miscPrefix+key)
}

// PutMisc stores a small bookkeeping value by key.
func (s *Storage) PutMisc(key string, value []byte) error {
	return put(s.db, miscPrefix+key, value)
}

// GetUnspentTx fetches a serialized transaction from the unspent-tx index
// by its hex-encoded txid.
func (s *Storage) GetUnspentTx(txID string) ([]byte, error) {
	return get(s.db, utxoPrefix+txID)
}

// PutUnspentTx records a serialized transaction in the unspent-tx index.
func (s *Storage) PutUnspentTx(txID string, data []byte) error {
	return put(s.db, utxoPrefix+txID, data)
}

// DeleteUnspentTx removes a transaction from the unspent-tx index, once
// every one of its outputs has been spent.
func (s *Storage) DeleteUnspentTx(txID string) error {
	return del(s.db, utxoPrefix+txID)
}

// IterateUnspentTxs calls fn with the raw bytes of every entry in the
// unspent-tx index. Iteration stops at the first error fn returns.
func (s *Storage) IterateUnspentTxs(fn func(txID string, data []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(utxoPrefix)); it.ValidForPrefix([]byte(utxoPrefix)); it.Next() {
			item := it.Item()
			key := string(item.Key())[len(utxoPrefix):]
			var value []byte
			if err := item.Value(func(v []byte) error {
				value = append([]byte{}, v...)
				return nil
			}); err != nil {
				return err
			}
			if err := fn(key, value); err != nil {
				return err
			}
		}
		return nil
	})
}
