package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, CmdSend, []byte("hello")))

	command, payload, err := ReadMessage(&buf)
	require.NoError(t, err)
	require.Equal(t, CmdSend, command)
	require.Equal(t, []byte("hello"), payload)
}

func TestWriteMessageEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, CmdEmpty, nil))

	command, payload, err := ReadMessage(&buf)
	require.NoError(t, err)
	require.Equal(t, CmdEmpty, command)
	require.Empty(t, payload)
}

func TestWriteMessageRejectsOverlongCommand(t *testing.T) {
	var buf bytes.Buffer
	err := WriteMessage(&buf, "this command name is far too long", nil)
	require.Error(t, err)
}

func TestGobPayloadRoundTrip(t *testing.T) {
	v := Version{Height: 7, AddressFrom: "localhost:4000"}
	data, err := EncodeGob(v)
	require.NoError(t, err)

	var decoded Version
	require.NoError(t, DecodeGob(data, &decoded))
	require.Equal(t, v, decoded)
}
