package frame

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Reader walks the argument bytes of a method frame. All read methods are
// sticky: after the first failure every further read returns the zero value
// and Err reports the original cause.
type Reader struct {
	buf []byte
	pos int
	err error
}

func NewReader(args []byte) *Reader {
	return &Reader{buf: args}
}

func (r *Reader) Err() error { return r.err }

func (r *Reader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
	}
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.pos+n > len(r.buf) {
		r.fail("need %d bytes at offset %d, have %d", n, r.pos, len(r.buf)-r.pos)
		return nil
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *Reader) Octet() byte {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) Short() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *Reader) Long() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *Reader) LongLong() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

// Bit reads a single packed bit octet. AMQP packs up to eight consecutive
// bit arguments into one octet; callers that expect several bits should read
// the octet once via Octet and mask.
func (r *Reader) Bit() bool {
	return r.Octet()&0x01 != 0
}

func (r *Reader) ShortString() string {
	n := int(r.Octet())
	b := r.take(n)
	if b == nil {
		return ""
	}
	return string(b)
}

func (r *Reader) LongString() []byte {
	n := int(r.Long())
	b := r.take(n)
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

// Table reads a field table.
func (r *Reader) Table() map[string]any {
	n := int(r.Long())
	b := r.take(n)
	if r.err != nil {
		return nil
	}
	t, err := decodeTable(b)
	if err != nil {
		r.fail("field table: %v", err)
		return nil
	}
	return t
}

// Builder marshals method frame arguments. Like Reader it is sticky; the
// only operation that can fail is encoding a field table with an
// unsupported value type.
type Builder struct {
	buf bytes.Buffer
	err error
}

func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) Err() error { return b.err }

func (b *Builder) Bytes() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.buf.Bytes(), nil
}

func (b *Builder) Octet(v byte) *Builder {
	b.buf.WriteByte(v)
	return b
}

func (b *Builder) Short(v uint16) *Builder {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	b.buf.Write(tmp[:])
	return b
}

func (b *Builder) Long(v uint32) *Builder {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	b.buf.Write(tmp[:])
	return b
}

func (b *Builder) LongLong(v uint64) *Builder {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	b.buf.Write(tmp[:])
	return b
}

// Bits packs up to eight bit arguments into a single octet.
func (b *Builder) Bits(bits ...bool) *Builder {
	var v byte
	for i, set := range bits {
		if set {
			v |= 1 << uint(i)
		}
	}
	return b.Octet(v)
}

func (b *Builder) ShortString(s string) *Builder {
	if len(s) > 255 {
		if b.err == nil {
			b.err = fmt.Errorf("short string longer than 255 bytes: %d", len(s))
		}
		return b
	}
	b.buf.WriteByte(byte(len(s)))
	b.buf.WriteString(s)
	return b
}

func (b *Builder) LongString(s []byte) *Builder {
	b.Long(uint32(len(s)))
	b.buf.Write(s)
	return b
}

func (b *Builder) Table(t map[string]any) *Builder {
	enc, err := encodeTable(t)
	if err != nil {
		if b.err == nil {
			b.err = err
		}
		return b
	}
	b.Long(uint32(len(enc)))
	b.buf.Write(enc)
	return b
}
