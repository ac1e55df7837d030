// Package node implements the mining server and the thin client used to
// talk to it: a one-request-per-connection protocol built on package
// protocol, pending-transaction batching, and graceful shutdown.
package node

import (
	"context"
	"errors"
	"log"
	"net"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	death "github.com/vrecan/death/v3"

	"github.com/kilimba/ledger/chain"
	"github.com/kilimba/ledger/ledgerr"
	"github.com/kilimba/ledger/protocol"
	"github.com/kilimba/ledger/storage"
	"github.com/kilimba/ledger/tx"
)

// pendingThreshold is the number of queued transactions that triggers a
// mining round, matching the source node's len(pending_transactions) >= 2.
const pendingThreshold = 2

// connDeadline bounds how long a single request/response exchange may take
// before it is abandoned with ledgerr.Timeout.
const connDeadline = 10 * time.Second

// Server accepts connections, answers pull-chain requests, and batches
// incoming transactions into blocks once enough have queued up.
type Server struct {
	addr         string
	minerAddress string
	store        *storage.Storage
	chain        *chain.Blockchain

	mu      sync.Mutex
	pending []tx.Transaction
}

// NewServer prepares a server bound to addr over an already-opened store
// and loaded chain, mining rewards to minerAddress.
func NewServer(addr, minerAddress string, store *storage.Storage, bc *chain.Blockchain) *Server {
	return &Server{addr: addr, minerAddress: minerAddress, store: store, chain: bc}
}

// ListenAndServe starts accepting connections on s.addr and runs until the
// process receives SIGINT/SIGTERM, at which point the database is closed
// and the listener is released.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return ledgerr.Wrap(ledgerr.IO, err)
	}
	defer ln.Close()

	log.Printf("node listening on %s", s.addr)

	d := death.NewDeath(syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	go d.WaitForDeathWithFunc(func() {
		log.Printf("shutting down, closing database")
		_ = s.store.Close()
		_ = ln.Close()
		os.Exit(0)
	})

	for {
		conn, err := ln.Accept()
		if err != nil {
			return ledgerr.Wrap(ledgerr.IO, err)
		}
		// Handled inline, not in a goroutine: the spec mandates one
		// connection at a time with non-preemptive mining, and
		// s.chain has no locking of its own to survive concurrent
		// mutation from overlapping connections.
		s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	connID := uuid.New().String()
	if err := conn.SetDeadline(time.Now().Add(connDeadline)); err != nil {
		log.Printf("conn %s: failed to set deadline: %v", connID, err)
		return
	}

	command, payload, err := protocol.ReadMessage(conn)
	if err != nil {
		log.Printf("conn %s: read failed: %v", connID, classify(err))
		return
	}
	log.Printf("conn %s: received command %q", connID, command)

	switch command {
	case protocol.CmdPullChain:
		s.handlePullChain(connID, conn, payload)
	case protocol.CmdSend:
		s.handleSend(connID, conn, payload)
	default:
		log.Printf("conn %s: unrecognized command %q", connID, command)
	}
}

func classify(err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ledgerr.Wrap(ledgerr.Timeout, err)
	}
	return err
}

func (s *Server) handlePullChain(connID string, conn net.Conn, payload []byte) {
	var version protocol.Version
	if err := protocol.DecodeGob(payload, &version); err != nil {
		log.Printf("conn %s: bad version payload: %v", connID, err)
		return
	}

	length, err := s.chain.Len()
	if err != nil {
		log.Printf("conn %s: failed to read chain length: %v", connID, err)
		return
	}
	if length <= version.Height {
		if err := protocol.WriteMessage(conn, protocol.CmdEmpty, nil); err != nil {
			log.Printf("conn %s: failed to send empty reply: %v", connID, err)
		}
		return
	}

	blocks, err := s.chain.TopNBlocks(length - version.Height)
	if err != nil {
		log.Printf("conn %s: failed to collect blocks: %v", connID, err)
		return
	}
	log.Printf("conn %s: sending %d block(s)", connID, len(blocks))

	data, err := protocol.EncodeGob(blocks)
	if err != nil {
		log.Printf("conn %s: failed to encode blocks: %v", connID, err)
		return
	}
	if err := protocol.WriteMessage(conn, protocol.CmdReply, data); err != nil {
		log.Printf("conn %s: failed to send reply: %v", connID, err)
	}
}

func (s *Server) handleSend(connID string, conn net.Conn, payload []byte) {
	var incoming []tx.Transaction
	if err := protocol.DecodeGob(payload, &incoming); err != nil {
		log.Printf("conn %s: bad transaction payload: %v", connID, err)
		return
	}
	log.Printf("conn %s: received %d transaction(s)", connID, len(incoming))

	s.mu.Lock()
	s.pending = append(s.pending, incoming...)
	pendingCount := len(s.pending)
	ready := pendingCount >= pendingThreshold
	var batch []tx.Transaction
	if ready {
		batch = s.pending
		s.pending = nil
	}
	s.mu.Unlock()

	if !ready {
		log.Printf("conn %s: only %d pending transaction(s), waiting for more", connID, pendingCount)
		_ = protocol.WriteMessage(conn, protocol.CmdEmpty, nil)
		return
	}

	log.Printf("conn %s: mining a new block", connID)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	b, err := s.chain.CreateBlock(ctx, batch, s.minerAddress)
	if err != nil {
		log.Printf("conn %s: mining failed: %v", connID, err)
		return
	}

	data, err := protocol.EncodeGob(b)
	if err != nil {
		log.Printf("conn %s: failed to encode mined block: %v", connID, err)
		return
	}
	if err := protocol.WriteMessage(conn, protocol.CmdReply, data); err != nil {
		log.Printf("conn %s: failed to send mined block: %v", connID, err)
	}
}
