// Package protocol implements the binary codec, command catalog, and
// envelope framing for the chat server wire protocol. All integers are
// little-endian; strings are UTF-8 followed by a single 0x00 terminator;
// every envelope carries a 2-byte length prefix that covers the command
// word and payload but not itself.
package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrBufferUnderflow is returned when a read runs past the end of a
// packet buffer.
var ErrBufferUnderflow = errors.New("packet buffer underflow")

// PacketWriter accumulates the binary payload of an outbound packet.
type PacketWriter struct {
	buf bytes.Buffer
}

// NewPacketWriter creates an empty PacketWriter.
func NewPacketWriter() *PacketWriter {
	return &PacketWriter{}
}

// Reset clears the writer for reuse.
func (w *PacketWriter) Reset() {
	w.buf.Reset()
}

// WriteUint8 writes a single unsigned byte.
func (w *PacketWriter) WriteUint8(v uint8) *PacketWriter {
	w.buf.WriteByte(v)
	return w
}

// WriteInt8 writes a single signed byte.
func (w *PacketWriter) WriteInt8(v int8) *PacketWriter {
	w.buf.WriteByte(byte(v))
	return w
}

// WriteUint16 writes a uint16 in little-endian order.
func (w *PacketWriter) WriteUint16(v uint16) *PacketWriter {
	binary.Write(&w.buf, binary.LittleEndian, v)
	return w
}

// WriteInt16 writes an int16 in little-endian order.
func (w *PacketWriter) WriteInt16(v int16) *PacketWriter {
	binary.Write(&w.buf, binary.LittleEndian, v)
	return w
}

// WriteUint32 writes a uint32 in little-endian order.
func (w *PacketWriter) WriteUint32(v uint32) *PacketWriter {
	binary.Write(&w.buf, binary.LittleEndian, v)
	return w
}

// WriteInt32 writes an int32 in little-endian order.
func (w *PacketWriter) WriteInt32(v int32) *PacketWriter {
	binary.Write(&w.buf, binary.LittleEndian, v)
	return w
}

// WriteUint64 writes a uint64 in little-endian order.
func (w *PacketWriter) WriteUint64(v uint64) *PacketWriter {
	binary.Write(&w.buf, binary.LittleEndian, v)
	return w
}

// WriteInt64 writes an int64 in little-endian order.
func (w *PacketWriter) WriteInt64(v int64) *PacketWriter {
	binary.Write(&w.buf, binary.LittleEndian, v)
	return w
}

// WriteBool writes a boolean as a single byte (1 or 0).
func (w *PacketWriter) WriteBool(v bool) *PacketWriter {
	if v {
		w.buf.WriteByte(1)
	} else {
		w.buf.WriteByte(0)
	}
	return w
}

// WriteString writes the UTF-8 bytes of s followed by a single 0x00
// terminator. An empty string writes only the terminator.
func (w *PacketWriter) WriteString(s string) *PacketWriter {
	w.buf.WriteString(s)
	w.buf.WriteByte(0)
	return w
}

// WriteBytes writes raw bytes with no framing.
func (w *PacketWriter) WriteBytes(data []byte) *PacketWriter {
	w.buf.Write(data)
	return w
}

// WriteCommand writes a 2-byte command code. Alias for WriteUint16;
// kept separate so packet constructors read like the wire layout.
func (w *PacketWriter) WriteCommand(cmd uint16) *PacketWriter {
	return w.WriteUint16(cmd)
}

// Bytes returns the accumulated buffer without a length prefix.
func (w *PacketWriter) Bytes() []byte {
	return w.buf.Bytes()
}

// Len returns the current size of the accumulated buffer.
func (w *PacketWriter) Len() int {
	return w.buf.Len()
}

// BuildWithLengthPrefix returns [u16 length][buffer bytes] where length
// covers the already-written contents. Used for the outbound envelope,
// where the buffer already begins with the command code. The length
// field is 16 bits; buffers of 65536 bytes or more wrap, a limitation
// shared with the remote peer.
func (w *PacketWriter) BuildWithLengthPrefix() []byte {
	data := w.buf.Bytes()
	result := make([]byte, LengthPrefixSize+len(data))
	binary.LittleEndian.PutUint16(result[:LengthPrefixSize], uint16(len(data)))
	copy(result[LengthPrefixSize:], data)
	return result
}

// String returns a hex dump of the current buffer for debugging.
func (w *PacketWriter) String() string {
	data := w.buf.Bytes()
	return fmt.Sprintf("PacketWriter[%d bytes]: %x", len(data), data)
}

// PacketReader consumes a fixed byte slice with a cursor. All reads are
// symmetric to PacketWriter; reading past the end of the slice fails
// with ErrBufferUnderflow and leaves the cursor unchanged.
type PacketReader struct {
	data []byte
	pos  int
}

// NewPacketReader creates a reader over data. The slice is not copied.
func NewPacketReader(data []byte) *PacketReader {
	return &PacketReader{data: data}
}

// HasMore reports whether any unread bytes remain.
func (r *PacketReader) HasMore() bool {
	return r.pos < len(r.data)
}

// Remaining returns the number of unread bytes.
func (r *PacketReader) Remaining() int {
	return len(r.data) - r.pos
}

func (r *PacketReader) take(n int) ([]byte, error) {
	if r.pos+n > len(r.data) {
		return nil, ErrBufferUnderflow
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// ReadUint8 reads a single unsigned byte.
func (r *PacketReader) ReadUint8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadInt8 reads a single signed byte.
func (r *PacketReader) ReadInt8() (int8, error) {
	v, err := r.ReadUint8()
	return int8(v), err
}

// ReadUint16 reads a little-endian uint16.
func (r *PacketReader) ReadUint16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// ReadInt16 reads a little-endian int16.
func (r *PacketReader) ReadInt16() (int16, error) {
	v, err := r.ReadUint16()
	return int16(v), err
}

// ReadUint32 reads a little-endian uint32.
func (r *PacketReader) ReadUint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadInt32 reads a little-endian int32.
func (r *PacketReader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

// ReadUint64 reads a little-endian uint64.
func (r *PacketReader) ReadUint64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// ReadInt64 reads a little-endian int64.
func (r *PacketReader) ReadInt64() (int64, error) {
	v, err := r.ReadUint64()
	return int64(v), err
}

// ReadBool reads one byte and returns true for any non-zero value.
func (r *PacketReader) ReadBool() (bool, error) {
	v, err := r.ReadUint8()
	return v != 0, err
}

// ReadString scans forward to the next 0x00 terminator (or the end of
// the buffer if none follows) and returns the UTF-8 span, advancing
// past the terminator. One embedded 0x00 ends exactly one string.
// Reading with no bytes remaining fails with ErrBufferUnderflow.
func (r *PacketReader) ReadString() (string, error) {
	if r.pos >= len(r.data) {
		return "", ErrBufferUnderflow
	}
	end := bytes.IndexByte(r.data[r.pos:], 0)
	if end < 0 {
		s := string(r.data[r.pos:])
		r.pos = len(r.data)
		return s, nil
	}
	s := string(r.data[r.pos : r.pos+end])
	r.pos += end + 1
	return s, nil
}

// ReadBytes reads exactly n raw bytes. The returned slice aliases the
// underlying buffer.
func (r *PacketReader) ReadBytes(n int) ([]byte, error) {
	return r.take(n)
}

// ReadCommand reads a 2-byte command code. Alias for ReadUint16.
func (r *PacketReader) ReadCommand() (uint16, error) {
	return r.ReadUint16()
}
