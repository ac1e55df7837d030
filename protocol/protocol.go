// Package protocol implements the node-to-node wire format: a 4-byte
// big-endian length prefix, a 12-byte space-padded command name, and an
// opaque gob-encoded payload, one request/response per connection.
package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"io"
	"strings"

	"github.com/kilimba/ledger/ledgerr"
)

const (
	commandLen = 12
	lengthLen  = 4

	// CmdPullChain asks a peer for any blocks past the sender's height.
	CmdPullChain = "pull chain"
	// CmdSend forwards newly created transactions to the mining node.
	CmdSend = "send"
	// CmdReply carries a payload back to whichever side initiated a command.
	CmdReply = "reply"
	// CmdEmpty acknowledges a command with no payload to return.
	CmdEmpty = "empty"
)

// Version announces a peer's chain height and reply address, sent as the
// payload of a CmdPullChain request.
type Version struct {
	Height      int
	AddressFrom string
}

func padCommand(command string) ([]byte, error) {
	if len(command) > commandLen {
		return nil, ledgerr.Newf(ledgerr.ProtocolError, "command %q longer than %d bytes", command, commandLen)
	}
	buf := make([]byte, commandLen)
	copy(buf, command)
	for i := len(command); i < commandLen; i++ {
		buf[i] = ' '
	}
	return buf, nil
}

// WriteMessage frames command and payload as length-prefix + padded
// command + payload, and writes it to w in a single call.
func WriteMessage(w io.Writer, command string, payload []byte) error {
	paddedCommand, err := padCommand(command)
	if err != nil {
		return err
	}

	var frame bytes.Buffer
	var lengthBytes [lengthLen]byte
	binary.BigEndian.PutUint32(lengthBytes[:], uint32(len(payload)))
	frame.Write(lengthBytes[:])
	frame.Write(paddedCommand)
	frame.Write(payload)

	if _, err := w.Write(frame.Bytes()); err != nil {
		return ledgerr.Wrap(ledgerr.IO, err)
	}
	return nil
}

// ReadMessage reads one framed message from r: the length prefix, the
// 12-byte command (trimmed of padding), and exactly length bytes of
// payload.
func ReadMessage(r io.Reader) (command string, payload []byte, err error) {
	header := make([]byte, lengthLen+commandLen)
	if _, err := io.ReadFull(r, header); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return "", nil, ledgerr.Wrap(ledgerr.ProtocolError, err)
		}
		return "", nil, ledgerr.Wrap(ledgerr.IO, err)
	}

	length := binary.BigEndian.Uint32(header[:lengthLen])
	command = strings.TrimSpace(string(header[lengthLen:]))

	payload = make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return "", nil, ledgerr.Wrap(ledgerr.ProtocolError, err)
			}
			return "", nil, ledgerr.Wrap(ledgerr.IO, err)
		}
	}
	return command, payload, nil
}

// EncodeGob gob-encodes v for use as a message payload.
func EncodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, ledgerr.Wrap(ledgerr.IO, err)
	}
	return buf.Bytes(), nil
}

// DecodeGob decodes payload into v, gob-encoded by EncodeGob.
func DecodeGob(payload []byte, v any) error {
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(v); err != nil {
		return ledgerr.Wrap(ledgerr.ProtocolError, err)
	}
	return nil
}
