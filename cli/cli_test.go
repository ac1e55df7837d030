package cli

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/kilimba/ledger/chain"
	"github.com/kilimba/ledger/config"
	"github.com/kilimba/ledger/node"
	"github.com/kilimba/ledger/storage"
	"github.com/kilimba/ledger/wallet"
	"github.com/stretchr/testify/require"
)

func testCLI(t *testing.T) *CommandLine {
	t.Helper()
	cfg := config.Config{
		DBDir:     t.TempDir(),
		WalletDir: t.TempDir(),
		NodeAddr:  freeAddr(t),
	}
	return New(cfg)
}

// freeAddr reserves an address nothing is listening on yet, so tests that
// never start a node get a clean connection-refused rather than colliding
// with another test's listener.
func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

// startNodeFor brings up a mining server on its own store, separate from
// the CLI's own local store, per the design's node/client split: each side
// keeps its own database and reconciles over the wire.
func startNodeFor(t *testing.T, nodeAddr, minerAddress string) {
	t.Helper()
	store, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	bc, err := chain.New(ctx, store, minerAddress)
	require.NoError(t, err)

	srv := node.NewServer(nodeAddr, minerAddress, store, bc)
	go func() { _ = srv.ListenAndServe() }()
}

func TestCreateWalletThenGetBalanceOnFreshChain(t *testing.T) {
	cli := testCLI(t)

	require.NoError(t, cli.createWallet("alice"))
	require.NoError(t, cli.createChain("alice"))

	startNodeFor(t, cli.cfg.NodeAddr, mustAddress(t, cli, "alice"))
	require.NoError(t, cli.getBalance("alice"))
}

func TestGetBalanceRejectsUnknownWallet(t *testing.T) {
	cli := testCLI(t)
	err := cli.getBalance("nobody")
	require.Error(t, err)
}

func TestCreateChainTwiceFails(t *testing.T) {
	cli := testCLI(t)
	require.NoError(t, cli.createWallet("alice"))

	require.NoError(t, cli.createChain("alice"))
	require.Error(t, cli.createChain("alice"))
}

func TestPrintChainOnFreshChain(t *testing.T) {
	cli := testCLI(t)
	require.NoError(t, cli.createWallet("alice"))
	require.NoError(t, cli.createChain("alice"))

	startNodeFor(t, cli.cfg.NodeAddr, mustAddress(t, cli, "alice"))
	require.NoError(t, cli.printChain())
}

func mustAddress(t *testing.T, cli *CommandLine, name string) string {
	t.Helper()
	w, err := wallet.Load(cli.cfg.WalletDir, name)
	require.NoError(t, err)
	return w.Address()
}
