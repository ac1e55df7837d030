package chain

import (
	"context"
	"testing"
	"time"

	"github.com/kilimba/ledger/ledgerr"
	"github.com/kilimba/ledger/storage"
	"github.com/kilimba/ledger/tx"
	"github.com/kilimba/ledger/wallet"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *storage.Storage {
	t.Helper()
	s, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func ctxWithTimeout(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestNewChainCreatesGenesisAndCreditsMiner(t *testing.T) {
	s := openStore(t)
	miner, err := wallet.New()
	require.NoError(t, err)

	bc, err := New(ctxWithTimeout(t), s, miner.Address())
	require.NoError(t, err)

	length, err := bc.Len()
	require.NoError(t, err)
	require.Equal(t, 1, length)

	balance, err := bc.Balance(miner.Address())
	require.NoError(t, err)
	require.EqualValues(t, tx.Subsidy, balance)
}

func TestNewChainTwiceFails(t *testing.T) {
	s := openStore(t)
	miner, err := wallet.New()
	require.NoError(t, err)

	_, err = New(ctxWithTimeout(t), s, miner.Address())
	require.NoError(t, err)

	_, err = New(ctxWithTimeout(t), s, miner.Address())
	require.Error(t, err)
	require.Equal(t, ledgerr.ChainExists, ledgerr.KindOf(err))
}

func TestLoadMissingChain(t *testing.T) {
	s := openStore(t)
	_, err := Load(s)
	require.Error(t, err)
	require.Equal(t, ledgerr.NotFound, ledgerr.KindOf(err))
}

func TestCreateBlockTransfersFunds(t *testing.T) {
	s := openStore(t)
	miner, err := wallet.New()
	require.NoError(t, err)
	recipient, err := wallet.New()
	require.NoError(t, err)

	bc, err := New(ctxWithTimeout(t), s, miner.Address())
	require.NoError(t, err)

	// A second reward gives the miner more than the amount sent, since a
	// transfer must be strictly covered by the spendable outputs.
	_, err = bc.CreateBlock(ctxWithTimeout(t), nil, miner.Address())
	require.NoError(t, err)

	transfer, err := tx.New(miner, recipient.Address(), tx.Subsidy, bc)
	require.NoError(t, err)

	_, err = bc.CreateBlock(ctxWithTimeout(t), []tx.Transaction{*transfer}, miner.Address())
	require.NoError(t, err)

	recipientBalance, err := bc.Balance(recipient.Address())
	require.NoError(t, err)
	require.EqualValues(t, tx.Subsidy, recipientBalance)

	minerBalance, err := bc.Balance(miner.Address())
	require.NoError(t, err)
	require.EqualValues(t, 2*tx.Subsidy, minerBalance) // both earlier rewards spent: change output plus the new block's reward remain

	length, err := bc.Len()
	require.NoError(t, err)
	require.Equal(t, 3, length)
}

func TestTopNBlocksReturnsOldestFirst(t *testing.T) {
	s := openStore(t)
	miner, err := wallet.New()
	require.NoError(t, err)

	bc, err := New(ctxWithTimeout(t), s, miner.Address())
	require.NoError(t, err)
	genesisHash := bc.Tip()

	second, err := bc.CreateBlock(ctxWithTimeout(t), nil, miner.Address())
	require.NoError(t, err)

	blocks, err := bc.TopNBlocks(2)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	require.Equal(t, genesisHash, blocks[0].Hash, "oldest block must come first")
	require.Equal(t, second.Hash, blocks[1].Hash, "tip must come last")

	for i := 1; i < len(blocks); i++ {
		require.Equal(t, blocks[i-1].Hash, blocks[i].PrevBlockHash, "pulled blocks must chain in order")
	}
}

func TestUpdateUnspentTxsSetFoldsTransactionLocally(t *testing.T) {
	s := openStore(t)
	miner, err := wallet.New()
	require.NoError(t, err)
	recipient, err := wallet.New()
	require.NoError(t, err)

	bc, err := New(ctxWithTimeout(t), s, miner.Address())
	require.NoError(t, err)

	// A second reward gives the miner more than the amount sent, since a
	// transfer must be strictly covered by the spendable outputs.
	_, err = bc.CreateBlock(ctxWithTimeout(t), nil, miner.Address())
	require.NoError(t, err)

	transfer, err := tx.New(miner, recipient.Address(), tx.Subsidy, bc)
	require.NoError(t, err)

	require.NoError(t, bc.UpdateUnspentTxsSet(*transfer))

	recipientBalance, err := bc.Balance(recipient.Address())
	require.NoError(t, err)
	require.EqualValues(t, tx.Subsidy, recipientBalance)

	minerBalance, err := bc.Balance(miner.Address())
	require.NoError(t, err)
	require.EqualValues(t, tx.Subsidy, minerBalance, "both reward outputs were spent by the folded transaction; only its change output remains")
}

func TestAddBlockRejectsNonExtendingBlock(t *testing.T) {
	s := openStore(t)
	miner, err := wallet.New()
	require.NoError(t, err)

	bc, err := New(ctxWithTimeout(t), s, miner.Address())
	require.NoError(t, err)

	orphanStore := openStore(t)
	orphanChain, err := New(ctxWithTimeout(t), orphanStore, miner.Address())
	require.NoError(t, err)
	orphanTip, err := orphanChain.TopNBlocks(1)
	require.NoError(t, err)
	require.Len(t, orphanTip, 1)

	err = bc.AddBlock(orphanTip[0])
	require.Error(t, err)
	require.Equal(t, ledgerr.ProtocolError, ledgerr.KindOf(err))
}
