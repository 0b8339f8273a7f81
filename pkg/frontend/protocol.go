// Package frontend implements ConnectionHandler (spec §4.9): the
// per-connection state machine binding a socket to a running pipeline.
// Grounded on the teacher's mysql_protocol.go (packet type constants and
// the client/server handshake exchange) and routine_manager.go (the
// dispatch-by-packet-type main loop), generalized from MySQL's wire
// protocol to the packet set spec §6 defines.
package frontend

import (
	"github.com/colstream/colstream/pkg/codec/wire"
	"github.com/colstream/colstream/pkg/common/dberr"
)

// Packet type codes, client to server (spec §6).
const (
	PacketHello  uint64 = 0
	PacketQuery  uint64 = 1
	PacketData   uint64 = 2
	PacketCancel uint64 = 3
	PacketPing   uint64 = 4
)

// Packet type codes, server to client (spec §6). These occupy a disjoint
// numbering space from the client-to-server codes above; a connection
// never confuses the direction it is reading in, so reuse is harmless.
const (
	PacketServerHello       uint64 = 0
	PacketServerData        uint64 = 1
	PacketServerException   uint64 = 2
	PacketServerProgress    uint64 = 3
	PacketServerPong        uint64 = 4
	PacketServerEndOfStream uint64 = 5
)

// CompressionNone and CompressionLZ4 are the two values the Query packet's
// compression field (spec §6) may carry.
const (
	CompressionNone uint64 = 0
	CompressionLZ4  uint64 = 1
)

// HelloPacket is exchanged in both directions at handshake (spec §4.9.1,
// §6). DefaultDatabase is only meaningful client → server.
type HelloPacket struct {
	Name            string
	Major           uint64
	Minor           uint64
	Revision        uint64
	DefaultDatabase string
}

func writeHello(c *wire.Conn, h HelloPacket, withDatabase bool) error {
	if err := c.WriteString(h.Name); err != nil {
		return err
	}
	if err := c.WriteVarUint(h.Major); err != nil {
		return err
	}
	if err := c.WriteVarUint(h.Minor); err != nil {
		return err
	}
	if err := c.WriteVarUint(h.Revision); err != nil {
		return err
	}
	if withDatabase {
		if err := c.WriteString(h.DefaultDatabase); err != nil {
			return err
		}
	}
	return nil
}

func readHello(c *wire.Conn, withDatabase bool) (HelloPacket, error) {
	var h HelloPacket
	var err error
	if h.Name, err = c.ReadString(); err != nil {
		return h, err
	}
	if h.Major, err = c.ReadVarUint(); err != nil {
		return h, err
	}
	if h.Minor, err = c.ReadVarUint(); err != nil {
		return h, err
	}
	if h.Revision, err = c.ReadVarUint(); err != nil {
		return h, err
	}
	if withDatabase {
		if h.DefaultDatabase, err = c.ReadString(); err != nil {
			return h, err
		}
	}
	return h, nil
}

// QueryPacket is the client's request to run a query (spec §4.9.4, §6).
type QueryPacket struct {
	QueryID     uint64
	Stage       uint64
	Compression uint64
	QueryText   string
}

func readQuery(c *wire.Conn) (QueryPacket, error) {
	var q QueryPacket
	var err error
	if q.QueryID, err = c.ReadFixedU64(); err != nil {
		return q, err
	}
	if q.Stage, err = c.ReadVarUint(); err != nil {
		return q, err
	}
	if q.Compression, err = c.ReadVarUint(); err != nil {
		return q, err
	}
	if q.QueryText, err = c.ReadString(); err != nil {
		return q, err
	}
	return q, nil
}

// writeException encodes the Exception packet spec §6 describes: code,
// name, message, stack, a nested flag, and (if set) a nested Exception.
// This implementation never nests — the core does not model cause chains —
// so the nested flag is always written as 0.
func writeException(c *wire.Conn, err *dberr.Error) error {
	if werr := c.WriteVarUint(uint64(err.Code())); werr != nil {
		return werr
	}
	if werr := c.WriteString(err.Name()); werr != nil {
		return werr
	}
	if werr := c.WriteString(err.Message()); werr != nil {
		return werr
	}
	if werr := c.WriteString(""); werr != nil {
		return werr
	}
	return c.WriteByte(0)
}

func readException(c *wire.Conn) (*dberr.Error, error) {
	code, err := c.ReadVarUint()
	if err != nil {
		return nil, err
	}
	name, err := c.ReadString()
	if err != nil {
		return nil, err
	}
	message, err := c.ReadString()
	if err != nil {
		return nil, err
	}
	if _, err := c.ReadString(); err != nil { // stack, unused by this client role
		return nil, err
	}
	nested, err := c.ReadByte()
	if err != nil {
		return nil, err
	}
	if nested != 0 {
		if _, err := readException(c); err != nil {
			return nil, err
		}
	}
	return dberr.New(dberr.Kind(code), "%s: %s", name, message), nil
}

func writeProgress(c *wire.Conn, rows, bytes uint64) error {
	if err := c.WriteVarUint(rows); err != nil {
		return err
	}
	return c.WriteVarUint(bytes)
}
