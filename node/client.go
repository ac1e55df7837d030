package node

import (
	"net"
	"time"

	"github.com/kilimba/ledger/block"
	"github.com/kilimba/ledger/ledgerr"
	"github.com/kilimba/ledger/protocol"
	"github.com/kilimba/ledger/tx"
)

// dialTimeout bounds how long a client waits to connect to a node.
const dialTimeout = 5 * time.Second

// Client is a thin, connection-per-call peer of a mining Server.
type Client struct {
	addr string
}

// NewClient returns a client that talks to the node at addr.
func NewClient(addr string) *Client {
	return &Client{addr: addr}
}

func (c *Client) dial() (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", c.addr, dialTimeout)
	if err != nil {
		return nil, ledgerr.Wrap(ledgerr.IO, err)
	}
	if err := conn.SetDeadline(time.Now().Add(connDeadline)); err != nil {
		conn.Close()
		return nil, ledgerr.Wrap(ledgerr.IO, err)
	}
	return conn, nil
}

// PullChain asks the node for any blocks past height, reported from
// replyAddress, and returns the blocks it sent back (nil if already caught
// up).
func (c *Client) PullChain(height int, replyAddress string) ([]*block.Block, error) {
	conn, err := c.dial()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	version := protocol.Version{Height: height, AddressFrom: replyAddress}
	payload, err := protocol.EncodeGob(version)
	if err != nil {
		return nil, err
	}
	if err := protocol.WriteMessage(conn, protocol.CmdPullChain, payload); err != nil {
		return nil, err
	}

	command, reply, err := protocol.ReadMessage(conn)
	if err != nil {
		return nil, err
	}
	if command != protocol.CmdReply {
		return nil, nil
	}

	var blocks []*block.Block
	if err := protocol.DecodeGob(reply, &blocks); err != nil {
		return nil, err
	}
	return blocks, nil
}

// SendTransactions forwards txs to the node. It returns the newly mined
// block if the node's pending queue crossed its mining threshold, or nil
// if the node is still waiting for more transactions.
func (c *Client) SendTransactions(txs []tx.Transaction) (*block.Block, error) {
	conn, err := c.dial()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	payload, err := protocol.EncodeGob(txs)
	if err != nil {
		return nil, err
	}
	if err := protocol.WriteMessage(conn, protocol.CmdSend, payload); err != nil {
		return nil, err
	}

	command, reply, err := protocol.ReadMessage(conn)
	if err != nil {
		return nil, err
	}
	if command != protocol.CmdReply {
		return nil, nil
	}

	b, err := block.Deserialize(reply)
	if err != nil {
		return nil, err
	}
	return b, nil
}
