// Package cli implements the ledger command-line front end: one
// flag.FlagSet per subcommand, in the style of a classic Bitcoin-style
// tutorial CLI.
package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/kilimba/ledger/chain"
	"github.com/kilimba/ledger/config"
	"github.com/kilimba/ledger/ledgerr"
	"github.com/kilimba/ledger/node"
	"github.com/kilimba/ledger/storage"
	"github.com/kilimba/ledger/tx"
	"github.com/kilimba/ledger/wallet"
)

// CommandLine dispatches os.Args into one of the ledger subcommands.
type CommandLine struct {
	cfg config.Config
}

// New builds a CommandLine bound to cfg.
func New(cfg config.Config) *CommandLine {
	return &CommandLine{cfg: cfg}
}

func (cli *CommandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  createchain -wallet NAME            create the ledger, crediting NAME's wallet with the genesis reward")
	fmt.Println("  createwallet -name NAME              create a new wallet, saved as NAME.txt")
	fmt.Println("  getbalance -wallet NAME               get the balance of NAME's wallet")
	fmt.Println("  send -from NAME -to NAME -amount AMOUNT [-node ADDR]   send coins, routed through a mining node")
	fmt.Println("  printchain                           print every block in the chain")
	fmt.Println("  startserver -wallet NAME              start a mining node crediting NAME's wallet")
}

// Run parses os.Args[1:] and dispatches to the matching subcommand.
func (cli *CommandLine) Run() error {
	if len(os.Args) < 2 {
		cli.printUsage()
		return ledgerr.New(ledgerr.ProtocolError, "no subcommand given")
	}

	createChainCmd := flag.NewFlagSet("createchain", flag.ExitOnError)
	createWalletCmd := flag.NewFlagSet("createwallet", flag.ExitOnError)
	getBalanceCmd := flag.NewFlagSet("getbalance", flag.ExitOnError)
	sendCmd := flag.NewFlagSet("send", flag.ExitOnError)
	printChainCmd := flag.NewFlagSet("printchain", flag.ExitOnError)
	startServerCmd := flag.NewFlagSet("startserver", flag.ExitOnError)

	createChainWallet := createChainCmd.String("wallet", "", "name of the wallet to receive the genesis reward")
	createWalletName := createWalletCmd.String("name", "", "name the new wallet is saved under")
	getBalanceWallet := getBalanceCmd.String("wallet", "", "name of the wallet to report the balance of")
	sendFrom := sendCmd.String("from", "", "name of the sending wallet")
	sendTo := sendCmd.String("to", "", "name of the recipient wallet")
	sendAmount := sendCmd.Uint64("amount", 0, "amount to send")
	sendNode := sendCmd.String("node", cli.cfg.NodeAddr, "mining node to route the transaction through")
	startServerWallet := startServerCmd.String("wallet", "", "name of the wallet to receive mining rewards")

	switch os.Args[1] {
	case "createchain":
		if err := createChainCmd.Parse(os.Args[2:]); err != nil {
			return ledgerr.Wrap(ledgerr.ProtocolError, err)
		}
		if *createChainWallet == "" {
			createChainCmd.Usage()
			return ledgerr.New(ledgerr.BadAddress, "-wallet is required")
		}
		return cli.createChain(*createChainWallet)

	case "createwallet":
		if err := createWalletCmd.Parse(os.Args[2:]); err != nil {
			return ledgerr.Wrap(ledgerr.ProtocolError, err)
		}
		if *createWalletName == "" {
			createWalletCmd.Usage()
			return ledgerr.New(ledgerr.BadAddress, "-name is required")
		}
		return cli.createWallet(*createWalletName)

	case "getbalance":
		if err := getBalanceCmd.Parse(os.Args[2:]); err != nil {
			return ledgerr.Wrap(ledgerr.ProtocolError, err)
		}
		if *getBalanceWallet == "" {
			getBalanceCmd.Usage()
			return ledgerr.New(ledgerr.BadAddress, "-wallet is required")
		}
		return cli.getBalance(*getBalanceWallet)

	case "send":
		if err := sendCmd.Parse(os.Args[2:]); err != nil {
			return ledgerr.Wrap(ledgerr.ProtocolError, err)
		}
		if *sendFrom == "" || *sendTo == "" || *sendAmount == 0 {
			sendCmd.Usage()
			return ledgerr.New(ledgerr.ProtocolError, "-from, -to and -amount are required")
		}
		return cli.send(*sendFrom, *sendTo, *sendAmount, *sendNode)

	case "printchain":
		if err := printChainCmd.Parse(os.Args[2:]); err != nil {
			return ledgerr.Wrap(ledgerr.ProtocolError, err)
		}
		return cli.printChain()

	case "startserver":
		if err := startServerCmd.Parse(os.Args[2:]); err != nil {
			return ledgerr.Wrap(ledgerr.ProtocolError, err)
		}
		if *startServerWallet == "" {
			startServerCmd.Usage()
			return ledgerr.New(ledgerr.BadAddress, "-wallet is required")
		}
		return cli.startServer(*startServerWallet)

	default:
		cli.printUsage()
		return ledgerr.Newf(ledgerr.ProtocolError, "unknown subcommand %q", os.Args[1])
	}
}

func (cli *CommandLine) openStore() (*storage.Storage, error) {
	return storage.Open(cli.cfg.DBDir)
}

// reconcile pulls every block the node has past bc's current height and
// applies each to bc in order, folding its transactions into the local
// UTXO index, matching the original source's _pull_chain step at the top
// of send/print_chain/get_balance.
func (cli *CommandLine) reconcile(bc *chain.Blockchain, nodeAddr string) error {
	height, err := bc.Len()
	if err != nil {
		return err
	}

	client := node.NewClient(nodeAddr)
	blocks, err := client.PullChain(height, "")
	if err != nil {
		return err
	}
	for _, b := range blocks {
		if err := bc.AddBlock(b); err != nil {
			return err
		}
	}
	return nil
}

func (cli *CommandLine) createChain(walletName string) error {
	w, err := wallet.Load(cli.cfg.WalletDir, walletName)
	if err != nil {
		return err
	}

	store, err := cli.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if _, err := chain.New(ctx, store, w.Address()); err != nil {
		return err
	}
	fmt.Println("ledger created")
	return nil
}

func (cli *CommandLine) createWallet(name string) error {
	w, err := wallet.New()
	if err != nil {
		return err
	}
	if err := w.Save(cli.cfg.WalletDir, name); err != nil {
		return err
	}
	fmt.Printf("new wallet %q created with address: %s\n", name, w.Address())
	return nil
}

func (cli *CommandLine) getBalance(walletName string) error {
	w, err := wallet.Load(cli.cfg.WalletDir, walletName)
	if err != nil {
		return err
	}

	store, err := cli.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	bc, err := chain.Load(store)
	if err != nil {
		return err
	}
	if err := cli.reconcile(bc, cli.cfg.NodeAddr); err != nil {
		return err
	}

	balance, err := bc.Balance(w.Address())
	if err != nil {
		return err
	}
	fmt.Printf("Balance of %s: %.2f\n", walletName, float64(balance))
	return nil
}

func (cli *CommandLine) send(fromName, toName string, amount uint64, nodeAddr string) error {
	sender, err := wallet.Load(cli.cfg.WalletDir, fromName)
	if err != nil {
		return err
	}
	recipient, err := wallet.Load(cli.cfg.WalletDir, toName)
	if err != nil {
		return err
	}

	store, err := cli.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	bc, err := chain.Load(store)
	if err != nil {
		return err
	}
	if err := cli.reconcile(bc, nodeAddr); err != nil {
		return err
	}

	transfer, err := tx.New(sender, recipient.Address(), amount, bc)
	if err != nil {
		return err
	}
	if err := bc.UpdateUnspentTxsSet(*transfer); err != nil {
		return err
	}

	client := node.NewClient(nodeAddr)
	mined, err := client.SendTransactions([]tx.Transaction{*transfer})
	if err != nil {
		return err
	}
	if mined != nil {
		if err := bc.AddBlock(mined); err != nil {
			return err
		}
		fmt.Printf("Transaction done. It is included in block %s\n", mined.Hash)
	} else {
		fmt.Println("Transaction submitted. Waiting for the miner to process our transaction..")
	}
	return nil
}

func (cli *CommandLine) printChain() error {
	store, err := cli.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	bc, err := chain.Load(store)
	if err != nil {
		return err
	}
	if err := cli.reconcile(bc, cli.cfg.NodeAddr); err != nil {
		return err
	}

	it := bc.Iterator()
	for {
		b, err := it.Next()
		if err != nil {
			if ledgerr.Is(err, ledgerr.NotFound) {
				break
			}
			return err
		}
		fmt.Printf("prev hash: %s\n", b.PrevBlockHash)
		fmt.Printf("hash: %s\n", b.Hash)
		fmt.Printf("proof of work: %v\n", b.Validate())
		for _, t := range b.Transactions {
			fmt.Println(t.String())
		}
		fmt.Println()
	}
	return nil
}

func (cli *CommandLine) startServer(minerWalletName string) error {
	w, err := wallet.Load(cli.cfg.WalletDir, minerWalletName)
	if err != nil {
		return err
	}

	store, err := cli.openStore()
	if err != nil {
		return err
	}

	bc, err := chain.Load(store)
	if err != nil {
		store.Close()
		return err
	}

	srv := node.NewServer(cli.cfg.NodeAddr, w.Address(), store, bc)
	return srv.ListenAndServe()
}
