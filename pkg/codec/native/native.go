// Package native implements NativeCodec (spec §4.7): the binary encoding
// of a Block for the wire. Grounded on the teacher's Batch.MarshalBinary/
// UnmarshalBinary (pkg/container/batch/batch.go), which also frames a
// batch as a row count plus a sequence of named, typed vectors — but
// written out as the flat little-endian/offset-table format spec §4.7
// specifies instead of the teacher's types.Encode gob-like envelope,
// since the wire format here is a contract with the client, not an
// internal Go-to-Go RPC encoding.
package native

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/colstream/colstream/pkg/common/dberr"
	"github.com/colstream/colstream/pkg/container/block"
	"github.com/colstream/colstream/pkg/container/column"
)

// Codec encodes and decodes Blocks. Decoding is driven by a
// DataTypeRegistry collaborator (spec §6) that turns a wire type name
// back into a constructible DataType.
type Codec struct {
	registry *column.Registry
}

func New(registry *column.Registry) *Codec {
	return &Codec{registry: registry}
}

func writeU32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func readU32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func writeString(w io.Writer, s string) error {
	if err := writeU32(w, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	n, err := readU32(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// Encode writes b as: u32 columns, u32 rows, then for each column a
// length-prefixed name, a length-prefixed type name, and a type-directed
// payload. Constant columns are expanded first — the wire format carries
// materialized data only; a column's const/materialized distinction is an
// in-process optimization, not a property the client needs to see.
func (c *Codec) Encode(w io.Writer, b *block.Block) error {
	entries := b.Columns()
	if err := writeU32(w, uint32(len(entries))); err != nil {
		return err
	}
	if err := writeU32(w, uint32(b.Rows())); err != nil {
		return err
	}
	for _, e := range entries {
		if err := writeString(w, e.Name); err != nil {
			return err
		}
		if err := writeString(w, e.Col.Type().Name()); err != nil {
			return err
		}
		if err := encodeColumn(w, e.Col.Expand()); err != nil {
			return dberr.NewCodecError("encoding column %q: %v", e.Name, err)
		}
	}
	return nil
}

func encodeColumn(w io.Writer, col column.Column) error {
	n := col.Len()
	switch col.Type().Name() {
	case "Int8":
		for i := 0; i < n; i++ {
			if _, err := w.Write([]byte{byte(col.Get(i).(int8))}); err != nil {
				return err
			}
		}
	case "Bool":
		for i := 0; i < n; i++ {
			v := byte(0)
			if col.Get(i).(bool) {
				v = 1
			}
			if _, err := w.Write([]byte{v}); err != nil {
				return err
			}
		}
	case "Int16":
		var buf [2]byte
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint16(buf[:], uint16(col.Get(i).(int16)))
			if _, err := w.Write(buf[:]); err != nil {
				return err
			}
		}
	case "Int32":
		var buf [4]byte
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint32(buf[:], uint32(col.Get(i).(int32)))
			if _, err := w.Write(buf[:]); err != nil {
				return err
			}
		}
	case "Float32":
		var buf [4]byte
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint32(buf[:], math.Float32bits(col.Get(i).(float32)))
			if _, err := w.Write(buf[:]); err != nil {
				return err
			}
		}
	case "Int64":
		var buf [8]byte
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint64(buf[:], uint64(col.Get(i).(int64)))
			if _, err := w.Write(buf[:]); err != nil {
				return err
			}
		}
	case "Float64":
		var buf [8]byte
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(col.Get(i).(float64)))
			if _, err := w.Write(buf[:]); err != nil {
				return err
			}
		}
	case "String":
		return encodeStringColumn(w, col)
	default:
		return dberr.NewCodecError("unknown type %q", col.Type().Name())
	}
	return nil
}

// encodeStringColumn writes the offset table first (n+1 cumulative u32
// offsets into the shared byte area) and then the concatenated bytes
// themselves, the variable-width "offset+bytes" layout spec §4.7 names.
func encodeStringColumn(w io.Writer, col column.Column) error {
	n := col.Len()
	offsets := make([]uint32, n+1)
	var total uint32
	values := make([]string, n)
	for i := 0; i < n; i++ {
		values[i] = col.Get(i).(string)
		total += uint32(len(values[i]))
		offsets[i+1] = total
	}
	for _, off := range offsets {
		if err := writeU32(w, off); err != nil {
			return err
		}
	}
	for _, v := range values {
		if _, err := io.WriteString(w, v); err != nil {
			return err
		}
	}
	return nil
}

// Decode is the mirror of Encode, using registry to turn each column's
// wire type name back into a constructible DataType.
func (c *Codec) Decode(r io.Reader) (*block.Block, error) {
	numColumns, err := readU32(r)
	if err != nil {
		return nil, err
	}
	rows, err := readU32(r)
	if err != nil {
		return nil, err
	}

	out := block.New()
	for i := uint32(0); i < numColumns; i++ {
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		typeName, err := readString(r)
		if err != nil {
			return nil, err
		}
		dt, ok := c.registry.ByName(typeName)
		if !ok {
			return nil, dberr.NewCodecError("unknown wire type %q for column %q", typeName, name)
		}
		col, err := decodeColumn(r, dt, int(rows))
		if err != nil {
			return nil, dberr.NewCodecError("decoding column %q: %v", name, err)
		}
		if err := out.Insert(name, col); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func decodeColumn(r io.Reader, dt column.DataType, rows int) (column.Column, error) {
	col := dt.NewEmpty()
	switch dt.Name() {
	case "Int8":
		var b [1]byte
		for i := 0; i < rows; i++ {
			if _, err := io.ReadFull(r, b[:]); err != nil {
				return nil, err
			}
			col.Append(int8(b[0]))
		}
	case "Bool":
		var b [1]byte
		for i := 0; i < rows; i++ {
			if _, err := io.ReadFull(r, b[:]); err != nil {
				return nil, err
			}
			col.Append(b[0] != 0)
		}
	case "Int16":
		var b [2]byte
		for i := 0; i < rows; i++ {
			if _, err := io.ReadFull(r, b[:]); err != nil {
				return nil, err
			}
			col.Append(int16(binary.LittleEndian.Uint16(b[:])))
		}
	case "Int32":
		var b [4]byte
		for i := 0; i < rows; i++ {
			if _, err := io.ReadFull(r, b[:]); err != nil {
				return nil, err
			}
			col.Append(int32(binary.LittleEndian.Uint32(b[:])))
		}
	case "Float32":
		var b [4]byte
		for i := 0; i < rows; i++ {
			if _, err := io.ReadFull(r, b[:]); err != nil {
				return nil, err
			}
			col.Append(math.Float32frombits(binary.LittleEndian.Uint32(b[:])))
		}
	case "Int64":
		var b [8]byte
		for i := 0; i < rows; i++ {
			if _, err := io.ReadFull(r, b[:]); err != nil {
				return nil, err
			}
			col.Append(int64(binary.LittleEndian.Uint64(b[:])))
		}
	case "Float64":
		var b [8]byte
		for i := 0; i < rows; i++ {
			if _, err := io.ReadFull(r, b[:]); err != nil {
				return nil, err
			}
			col.Append(math.Float64frombits(binary.LittleEndian.Uint64(b[:])))
		}
	case "String":
		return decodeStringColumn(r, dt, rows)
	default:
		return nil, dberr.NewCodecError("unknown type %q", dt.Name())
	}
	return col, nil
}

func decodeStringColumn(r io.Reader, dt column.DataType, rows int) (column.Column, error) {
	offsets := make([]uint32, rows+1)
	for i := range offsets {
		v, err := readU32(r)
		if err != nil {
			return nil, err
		}
		offsets[i] = v
	}
	total := offsets[rows]
	data := make([]byte, total)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	col := dt.NewEmpty()
	for i := 0; i < rows; i++ {
		col.Append(string(data[offsets[i]:offsets[i+1]]))
	}
	return col, nil
}
