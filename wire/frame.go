// Package wire implements the Handshake P2P framing and message set:
// the frame envelope, the version/verack handshake payload, and the
// header/getproof request-response pairs (spec §4.5).
package wire

import (
	"encoding/binary"
	"io"

	"github.com/Acktarius/HNSGo-sub000/hnserrors"
)

// MainnetMagic is the mainnet magic constant every frame must carry;
// a mismatch drops the connection.
const MainnetMagic uint32 = 0x8e03ab6d

// MaxMessageSize is the default upper bound on a frame's declared
// payload size (spec §4.5, §6 max_message_size).
const MaxMessageSize = 8 * 1024 * 1024

// Cmd is the numeric message-type code carried in every frame.
type Cmd byte

const (
	CmdVersion     Cmd = 0
	CmdVerAck      Cmd = 1
	CmdPing        Cmd = 2
	CmdPong        Cmd = 3
	CmdGetAddr     Cmd = 4
	CmdAddr        Cmd = 5
	CmdGetHeaders  Cmd = 10
	CmdHeaders     Cmd = 11
	CmdSendHeaders Cmd = 12
	CmdGetProof    Cmd = 26
	CmdProof       Cmd = 27
)

var cmdNames = map[Cmd]string{
	CmdVersion:     "version",
	CmdVerAck:      "verack",
	CmdPing:        "ping",
	CmdPong:        "pong",
	CmdGetAddr:     "getaddr",
	CmdAddr:        "addr",
	CmdGetHeaders:  "getheaders",
	CmdHeaders:     "headers",
	CmdSendHeaders: "sendheaders",
	CmdGetProof:    "getproof",
	CmdProof:       "proof",
}

// Name returns the human-readable command name, or "unknown" for a
// numeric code this client doesn't recognize. Unknown codes are
// tolerated, never an error (spec §4.5).
func (c Cmd) Name() string {
	if n, ok := cmdNames[c]; ok {
		return n
	}
	return "unknown"
}

// Frame is a decoded wire frame: a command code plus its raw payload.
type Frame struct {
	Cmd     Cmd
	Payload []byte
}

// WriteFrame writes magic, cmd, size and payload to w.
func WriteFrame(w io.Writer, magic uint32, cmd Cmd, payload []byte) error {
	header := make([]byte, 9)
	binary.LittleEndian.PutUint32(header[0:4], magic)
	header[4] = byte(cmd)
	binary.LittleEndian.PutUint32(header[5:9], uint32(len(payload)))

	if _, err := w.Write(header); err != nil {
		return hnserrors.New(hnserrors.IOError, "write frame header", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return hnserrors.New(hnserrors.IOError, "write frame payload", err)
		}
	}
	return nil
}

// ReadFrame reads a single frame from r, enforcing magic and
// maxMessageSize. A magic mismatch or oversized declared payload
// drops the connection by returning a ProtocolError/FormatError; the
// caller is expected to close the connection on any error from this
// function.
func ReadFrame(r io.Reader, wantMagic uint32, maxMessageSize uint32) (Frame, error) {
	var header [9]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Frame{}, hnserrors.New(hnserrors.IOError, "read frame header", err)
	}

	magic := binary.LittleEndian.Uint32(header[0:4])
	if magic != wantMagic {
		return Frame{}, hnserrors.New(hnserrors.ProtocolError, "magic mismatch: got %#x want %#x", magic, wantMagic)
	}

	cmd := Cmd(header[4])
	size := binary.LittleEndian.Uint32(header[5:9])
	if size > maxMessageSize {
		return Frame{}, hnserrors.New(hnserrors.FormatError, "declared frame size %d exceeds max %d", size, maxMessageSize)
	}

	payload := make([]byte, size)
	if size > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, hnserrors.New(hnserrors.IOError, "read frame payload", err)
		}
	}
	return Frame{Cmd: cmd, Payload: payload}, nil
}
