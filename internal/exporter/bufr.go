package exporter

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/arpa-simc/provami/internal/dballe"
)

const (
	bufrEdition       = 4
	bufrMasterVersion = 24
	// Category 0: surface data, land
	bufrCategory = 0
)

// bitWriter packs values most significant bit first.
type bitWriter struct {
	buf   []byte
	nbits int
}

func (b *bitWriter) write(value uint64, width int) {
	for i := width - 1; i >= 0; i-- {
		if b.nbits%8 == 0 {
			b.buf = append(b.buf, 0)
		}
		if value>>uint(i)&1 == 1 {
			b.buf[len(b.buf)-1] |= 1 << uint(7-b.nbits%8)
		}
		b.nbits++
	}
}

func (b *bitWriter) writeMissing(width int) {
	for i := 0; i < width; i++ {
		b.write(1, 1)
	}
}

func (b *bitWriter) bytes() []byte {
	return b.buf
}

func put24(buf *bytes.Buffer, v int) {
	buf.WriteByte(byte(v >> 16))
	buf.WriteByte(byte(v >> 8))
	buf.WriteByte(byte(v))
}

// descriptor packs a table B code as F=0, X, Y in 16 bits.
func descriptor(code string) (uint16, error) {
	if !dballe.ValidVarcode(code) {
		return 0, fmt.Errorf("invalid varcode %q", code)
	}
	x, _ := strconv.Atoi(code[1:3])
	y, _ := strconv.Atoi(code[3:6])
	return uint16(x)<<8 | uint16(y), nil
}

func encodeBUFRValue(bw *bitWriter, it item) error {
	info := it.info
	if info.Type() == dballe.TypeString {
		width := info.Bits
		if it.value == nil {
			bw.writeMissing(width)
			return nil
		}
		s, err := info.Coerce(it.value)
		if err != nil {
			return err
		}
		text := []byte(s.(string))
		for i := 0; i < width/8; i++ {
			c := byte(' ')
			if i < len(text) {
				c = text[i]
			}
			bw.write(uint64(c), 8)
		}
		return nil
	}

	v, ok, err := scaled(info, it.value)
	if err != nil {
		return err
	}
	if !ok {
		bw.writeMissing(info.Bits)
		return nil
	}
	raw := v - info.Ref
	// All ones is reserved for missing values
	if raw < 0 || raw >= int64(1)<<uint(info.Bits)-1 {
		return fmt.Errorf("%s: value %v does not fit in %d bits", info.Code, it.value, info.Bits)
	}
	bw.write(uint64(raw), info.Bits)
	return nil
}

// EncodeBUFR encodes a message as an uncompressed, single subset, edition 4
// BUFR message.
func EncodeBUFR(msg *dballe.Message) ([]byte, error) {
	items, err := template(msg)
	if err != nil {
		return nil, err
	}

	// Section 1: identification
	dt := msg.Datetime.UTC()
	var sec1 bytes.Buffer
	put24(&sec1, 22)
	sec1.WriteByte(0)                                // master table
	binary.Write(&sec1, binary.BigEndian, uint16(0)) // originating centre
	binary.Write(&sec1, binary.BigEndian, uint16(0)) // originating subcentre
	sec1.WriteByte(0)                                // update sequence
	sec1.WriteByte(0)                                // no optional section
	sec1.WriteByte(bufrCategory)
	sec1.WriteByte(255) // international subcategory
	sec1.WriteByte(255) // local subcategory
	sec1.WriteByte(bufrMasterVersion)
	sec1.WriteByte(0) // local tables
	binary.Write(&sec1, binary.BigEndian, uint16(dt.Year()))
	sec1.Write([]byte{byte(dt.Month()), byte(dt.Day()), byte(dt.Hour()), byte(dt.Minute()), byte(dt.Second())})

	// Section 3: data description
	var sec3 bytes.Buffer
	put24(&sec3, 7+2*len(items))
	sec3.WriteByte(0)
	binary.Write(&sec3, binary.BigEndian, uint16(1)) // subsets
	sec3.WriteByte(0x80)                             // observed, uncompressed
	for _, it := range items {
		d, err := descriptor(it.info.Code)
		if err != nil {
			return nil, err
		}
		binary.Write(&sec3, binary.BigEndian, d)
	}

	// Section 4: data
	var bw bitWriter
	for _, it := range items {
		if err := encodeBUFRValue(&bw, it); err != nil {
			return nil, err
		}
	}
	data := bw.bytes()
	var sec4 bytes.Buffer
	put24(&sec4, 4+len(data))
	sec4.WriteByte(0)
	sec4.Write(data)

	total := 8 + sec1.Len() + sec3.Len() + sec4.Len() + 4
	var out bytes.Buffer
	out.Grow(total)
	out.WriteString("BUFR")
	put24(&out, total)
	out.WriteByte(bufrEdition)
	out.Write(sec1.Bytes())
	out.Write(sec3.Bytes())
	out.Write(sec4.Bytes())
	out.WriteString("7777")
	return out.Bytes(), nil
}
