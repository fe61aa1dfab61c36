package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/cyw0ng95/meshrpc/pkg/jsonutil"
)

// lengthPrefixSize is the width, in bytes, of the frame's length prefix: a
// 4-byte big-endian length followed by that many bytes of JSON. Chosen over
// newline-delimited framing because JSON payloads are not guaranteed
// newline-free.
const lengthPrefixSize = 4

// ErrFrameTooLarge is returned by ReadMessage when a peer's declared frame
// length exceeds jsonutil.MaxJSONSize.
var ErrFrameTooLarge = errors.New("wire: frame exceeds maximum message size")

// WriteMessage encodes msg as JSON and writes it as one length-prefixed
// frame. Safe to call concurrently only if w itself is safe for concurrent
// writes; callers (the per-peer writer goroutine) serialize writes
// themselves.
func WriteMessage(w io.Writer, msg *Message) error {
	data, err := jsonutil.Marshal(msg)
	if err != nil {
		return fmt.Errorf("wire: marshal message: %w", err)
	}
	if len(data) > jsonutil.MaxJSONSize {
		return ErrFrameTooLarge
	}

	var prefix [lengthPrefixSize]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(data)))

	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("wire: write length prefix: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("wire: write frame body: %w", err)
	}
	return nil
}

// ReadMessage blocks until one full length-prefixed frame has been read
// from r and decodes it into a Message. Returns io.EOF (or io.ErrUnexpectedEOF
// for a partial frame) when the peer closed the connection, which callers
// translate into wire.ErrDisconnected.
func ReadMessage(r io.Reader) (*Message, error) {
	var prefix [lengthPrefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}

	n := binary.BigEndian.Uint32(prefix[:])
	if int(n) > jsonutil.MaxJSONSize {
		return nil, ErrFrameTooLarge
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	var msg Message
	if err := jsonutil.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("wire: unmarshal frame body: %w", err)
	}
	return &msg, nil
}
