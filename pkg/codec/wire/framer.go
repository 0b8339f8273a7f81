// Package wire implements WireFramer (spec §4.8): the primitives a
// ConnectionHandler needs over a duplex byte stream — varuint framing,
// length-prefixed strings, a non-blocking poll, and an optional
// lz4-compressed sub-stream for Data packet payloads. Grounded on the
// teacher's mysql_buffer.go Conn (a net.Conn wrapped with its own
// buffering and deadlines) and mysql_protocol.go's length-encoded
// int/string helpers (readIntLenEnc/appendStringLenEnc), generalized
// from MySQL's special-cased length encoding to the plain continuation-bit
// varuint spec §4.8 names.
package wire

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"time"

	"github.com/pierrec/lz4/v4"

	"github.com/colstream/colstream/pkg/common/dberr"
)

// Conn wraps a net.Conn with buffered reads/writes and the varuint/string
// framing primitives every packet on the wire is built from.
type Conn struct {
	raw net.Conn
	r   *bufio.Reader
	w   *bufio.Writer
}

// New wraps raw for framed reads and writes.
func New(raw net.Conn) *Conn {
	return &Conn{raw: raw, r: bufio.NewReader(raw), w: bufio.NewWriter(raw)}
}

// SetDeadlines applies the receive/send timeouts spec §4.9.1 requires at
// handshake, grounded on the teacher's Conn.timeout field applied via
// conn.SetReadDeadline in NewIOSession's caller.
func (c *Conn) SetDeadlines(receive, send time.Duration) error {
	if receive > 0 {
		if err := c.raw.SetReadDeadline(time.Now().Add(receive)); err != nil {
			return err
		}
	}
	if send > 0 {
		if err := c.raw.SetWriteDeadline(time.Now().Add(send)); err != nil {
			return err
		}
	}
	return nil
}

func (c *Conn) Close() error { return c.raw.Close() }

// Reader exposes the buffered reader directly, for collaborators like
// NativeCodec that decode a self-delimiting payload without needing the
// varuint/string framing helpers.
func (c *Conn) Reader() io.Reader { return c.r }

// Writer is the Reader counterpart for direct, unframed encoding.
func (c *Conn) Writer() io.Writer { return c.w }

// RemoteAddr returns the peer address, for connection logging.
func (c *Conn) RemoteAddr() string { return c.raw.RemoteAddr().String() }

// Flush pushes any buffered writes to the socket.
func (c *Conn) Flush() error { return c.w.Flush() }

// WriteVarUint writes v as a continuation-bit, little-endian-septet
// varuint (spec §4.8): each byte carries 7 value bits in its low bits and
// a continuation flag in its high bit, low septet first.
func (c *Conn) WriteVarUint(v uint64) error {
	var buf [10]byte
	n := 0
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		buf[n] = b
		n++
		if v == 0 {
			break
		}
	}
	_, err := c.w.Write(buf[:n])
	return err
}

// ReadVarUint is the mirror of WriteVarUint.
func (c *Conn) ReadVarUint() (uint64, error) {
	var v uint64
	var shift uint
	for {
		b, err := c.r.ReadByte()
		if err != nil {
			return 0, err
		}
		if shift >= 70 {
			return 0, dberr.NewCodecError("varuint too long")
		}
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, nil
		}
		shift += 7
	}
}

// WriteString writes a varuint length followed by s's raw bytes.
func (c *Conn) WriteString(s string) error {
	if err := c.WriteVarUint(uint64(len(s))); err != nil {
		return err
	}
	_, err := c.w.WriteString(s)
	return err
}

// ReadString is the mirror of WriteString.
func (c *Conn) ReadString() (string, error) {
	n, err := c.ReadVarUint()
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// WriteFixedU64 writes v as 8 raw little-endian bytes, the encoding spec
// §6 requires for query_id.
func (c *Conn) WriteFixedU64(v uint64) error {
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
	_, err := c.w.Write(buf[:])
	return err
}

func (c *Conn) ReadFixedU64() (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(c.r, buf[:]); err != nil {
		return 0, err
	}
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(buf[i]) << (8 * i)
	}
	return v, nil
}

func (c *Conn) WriteByte(b byte) error { return c.w.WriteByte(b) }

func (c *Conn) ReadByte() (byte, error) { return c.r.ReadByte() }

// WriteBytes writes p as a varuint length followed by the raw bytes —
// used to frame one self-delimiting lz4 sub-frame inside a Data packet.
func (c *Conn) WriteBytes(p []byte) error {
	if err := c.WriteVarUint(uint64(len(p))); err != nil {
		return err
	}
	_, err := c.w.Write(p)
	return err
}

func (c *Conn) ReadBytes() ([]byte, error) {
	n, err := c.ReadVarUint()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Poll reports whether at least one byte is readable without blocking
// longer than timeout (spec §4.8), by setting a short read deadline and
// attempting to peek a byte, then restoring blocking behavior. A timeout
// below one millisecond is raised to one millisecond: a deadline that has
// already passed fails the read before it looks at the socket at all.
func (c *Conn) Poll(timeout time.Duration) (bool, error) {
	if c.r.Buffered() > 0 {
		return true, nil
	}
	if timeout < time.Millisecond {
		timeout = time.Millisecond
	}
	if err := c.raw.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return false, err
	}
	defer c.raw.SetReadDeadline(time.Time{})

	_, err := c.r.Peek(1)
	if err == nil {
		return true, nil
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return false, nil
	}
	return false, err
}

// CompressWriter produces a self-delimiting lz4 frame for raw: a Data
// packet's payload, when compression is enabled for the query, is
// varuint uncompressed-length followed by this frame written with
// WriteBytes (varuint frame length + frame bytes), decompressed
// symmetrically by DecompressBlock. The lz4 frame format (rather than the bare block API)
// is used so an incompressible payload still round-trips without a
// separate fallback path — spec §9 leaves checksum/block-size framing
// details to this collaborator. Grounded on the teacher's lz4 import in
// pkg/sql/colexec/external (used there for reading compressed external
// files).
func (c *Conn) CompressWriter(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, dberr.NewCodecError("lz4 compress: %v", err)
	}
	if err := zw.Close(); err != nil {
		return nil, dberr.NewCodecError("lz4 compress: %v", err)
	}
	return buf.Bytes(), nil
}

// DecompressBlock decompresses a frame previously produced by
// CompressWriter, given the known uncompressed size.
func DecompressBlock(compressed []byte, uncompressedSize int) ([]byte, error) {
	zr := lz4.NewReader(bytes.NewReader(compressed))
	dst := make([]byte, uncompressedSize)
	if _, err := io.ReadFull(zr, dst); err != nil {
		return nil, dberr.NewCodecError("lz4 decompress: %v", err)
	}
	return dst, nil
}
