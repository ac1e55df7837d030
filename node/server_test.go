package node

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/kilimba/ledger/chain"
	"github.com/kilimba/ledger/storage"
	"github.com/kilimba/ledger/tx"
	"github.com/kilimba/ledger/wallet"
	"github.com/stretchr/testify/require"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func newTestChain(t *testing.T, minerAddress string) (*storage.Storage, *chain.Blockchain) {
	t.Helper()
	s, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	bc, err := chain.New(ctx, s, minerAddress)
	require.NoError(t, err)
	return s, bc
}

func startTestServer(t *testing.T, minerAddress string, s *storage.Storage, bc *chain.Blockchain) (addr string, srv *Server) {
	t.Helper()
	addr = freeAddr(t)
	srv = NewServer(addr, minerAddress, s, bc)

	ln, err := net.Listen("tcp", addr)
	require.NoError(t, err)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go srv.handleConnection(conn)
		}
	}()
	t.Cleanup(func() { _ = ln.Close() })
	return addr, srv
}

func TestClientPullChainReturnsBlocksPastHeight(t *testing.T) {
	miner, err := wallet.New()
	require.NoError(t, err)

	s, bc := newTestChain(t, miner.Address())
	addr, _ := startTestServer(t, miner.Address(), s, bc)

	client := NewClient(addr)
	blocks, err := client.PullChain(0, "caller")
	require.NoError(t, err)
	require.Len(t, blocks, 1)
}

func TestClientPullChainUpToDateReturnsNothing(t *testing.T) {
	miner, err := wallet.New()
	require.NoError(t, err)

	s, bc := newTestChain(t, miner.Address())
	addr, _ := startTestServer(t, miner.Address(), s, bc)

	length, err := bc.Len()
	require.NoError(t, err)

	client := NewClient(addr)
	blocks, err := client.PullChain(length, "caller")
	require.NoError(t, err)
	require.Empty(t, blocks)
}

func TestClientSendWaitsForSecondTransaction(t *testing.T) {
	miner, err := wallet.New()
	require.NoError(t, err)
	recipient, err := wallet.New()
	require.NoError(t, err)

	s, bc := newTestChain(t, miner.Address())

	// A second reward gives the miner more than the amount sent, since a
	// transfer must be strictly covered by the spendable outputs.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, err = bc.CreateBlock(ctx, nil, miner.Address())
	require.NoError(t, err)

	addr, _ := startTestServer(t, miner.Address(), s, bc)

	transfer, err := tx.New(miner, recipient.Address(), tx.Subsidy, bc)
	require.NoError(t, err)

	client := NewClient(addr)
	mined, err := client.SendTransactions([]tx.Transaction{*transfer})
	require.NoError(t, err)
	require.Nil(t, mined, "server should wait for a second transaction before mining")
}
