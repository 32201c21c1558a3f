package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Envelope is one length-delimited unit read off the wire: a command
// code and its payload, with the length prefix already consumed.
type Envelope struct {
	Command uint16
	Payload []byte
}

// ReadEnvelope reads one framed packet from r: a 2-byte little-endian
// length, then exactly that many bytes, of which the first two are the
// command code. A short read on the length prefix means the connection
// closed between envelopes and is reported as io.EOF; a short read on
// the body is a framing error.
func ReadEnvelope(r io.Reader) (*Envelope, error) {
	var length uint16
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, err
	}

	if length < 2 {
		return nil, fmt.Errorf("envelope too small: %d bytes", length)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("failed to read envelope body (%d bytes): %w", length, err)
	}

	return &Envelope{
		Command: binary.LittleEndian.Uint16(data[:2]),
		Payload: data[2:],
	}, nil
}

// WriteEnvelope writes one framed packet to w: length prefix, command
// code, payload. The length covers command and payload but not itself.
// This frames bytes for the wire; BuildWithLengthPrefix frames an
// application buffer that already contains its command word.
func WriteEnvelope(w io.Writer, cmd uint16, payload []byte) error {
	total := uint16(2 + len(payload))

	if err := binary.Write(w, binary.LittleEndian, total); err != nil {
		return fmt.Errorf("failed to write envelope length: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, cmd); err != nil {
		return fmt.Errorf("failed to write envelope command: %w", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("failed to write envelope payload: %w", err)
		}
	}
	return nil
}
