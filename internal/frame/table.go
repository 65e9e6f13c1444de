package frame

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Field table codec. The value-type letters follow RabbitMQ's dialect of
// AMQP 0-9-1 ('l' signed 64-bit, 'x' byte array), which is what every
// broker in practice speaks. Encoding fails immediately on a value of an
// unsupported Go type rather than guessing a representation.

func encodeTable(t map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	for key, value := range t {
		if len(key) > 255 {
			return nil, fmt.Errorf("field table key longer than 255 bytes: %q", key[:32])
		}
		buf.WriteByte(byte(len(key)))
		buf.WriteString(key)
		if err := encodeFieldValue(&buf, value); err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
	}
	return buf.Bytes(), nil
}

func encodeFieldValue(buf *bytes.Buffer, value any) error {
	switch v := value.(type) {
	case nil:
		buf.WriteByte('V')
	case bool:
		buf.WriteByte('t')
		if v {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case int8:
		buf.WriteByte('b')
		buf.WriteByte(byte(v))
	case int16:
		buf.WriteByte('s')
		writeUint16(buf, uint16(v))
	case int32:
		buf.WriteByte('I')
		writeUint32(buf, uint32(v))
	case int:
		if v < math.MinInt32 || v > math.MaxInt32 {
			buf.WriteByte('l')
			writeUint64(buf, uint64(v))
		} else {
			buf.WriteByte('I')
			writeUint32(buf, uint32(int32(v)))
		}
	case int64:
		buf.WriteByte('l')
		writeUint64(buf, uint64(v))
	case float32:
		buf.WriteByte('f')
		writeUint32(buf, math.Float32bits(v))
	case float64:
		buf.WriteByte('d')
		writeUint64(buf, math.Float64bits(v))
	case string:
		buf.WriteByte('S')
		writeUint32(buf, uint32(len(v)))
		buf.WriteString(v)
	case []byte:
		buf.WriteByte('x')
		writeUint32(buf, uint32(len(v)))
		buf.Write(v)
	case time.Time:
		buf.WriteByte('T')
		writeUint64(buf, uint64(v.Unix()))
	case map[string]any:
		enc, err := encodeTable(v)
		if err != nil {
			return err
		}
		buf.WriteByte('F')
		writeUint32(buf, uint32(len(enc)))
		buf.Write(enc)
	case []any:
		var inner bytes.Buffer
		for _, elem := range v {
			if err := encodeFieldValue(&inner, elem); err != nil {
				return err
			}
		}
		buf.WriteByte('A')
		writeUint32(buf, uint32(inner.Len()))
		buf.Write(inner.Bytes())
	default:
		return fmt.Errorf("unsupported field table value type %T", value)
	}
	return nil
}

func decodeTable(data []byte) (map[string]any, error) {
	t := make(map[string]any)
	pos := 0
	for pos < len(data) {
		if pos+1 > len(data) {
			return nil, fmt.Errorf("truncated field table key")
		}
		keyLen := int(data[pos])
		pos++
		if pos+keyLen > len(data) {
			return nil, fmt.Errorf("truncated field table key")
		}
		key := string(data[pos : pos+keyLen])
		pos += keyLen

		value, n, err := decodeFieldValue(data[pos:])
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		pos += n
		t[key] = value
	}
	return t, nil
}

func decodeFieldValue(data []byte) (any, int, error) {
	if len(data) < 1 {
		return nil, 0, fmt.Errorf("truncated field value")
	}
	tag := data[0]
	rest := data[1:]
	need := func(n int) error {
		if len(rest) < n {
			return fmt.Errorf("truncated %q field value", tag)
		}
		return nil
	}

	switch tag {
	case 'V':
		return nil, 1, nil
	case 't':
		if err := need(1); err != nil {
			return nil, 0, err
		}
		return rest[0] != 0, 2, nil
	case 'b':
		if err := need(1); err != nil {
			return nil, 0, err
		}
		return int8(rest[0]), 2, nil
	case 's':
		if err := need(2); err != nil {
			return nil, 0, err
		}
		return int16(binary.BigEndian.Uint16(rest)), 3, nil
	case 'I':
		if err := need(4); err != nil {
			return nil, 0, err
		}
		return int32(binary.BigEndian.Uint32(rest)), 5, nil
	case 'l':
		if err := need(8); err != nil {
			return nil, 0, err
		}
		return int64(binary.BigEndian.Uint64(rest)), 9, nil
	case 'f':
		if err := need(4); err != nil {
			return nil, 0, err
		}
		return math.Float32frombits(binary.BigEndian.Uint32(rest)), 5, nil
	case 'd':
		if err := need(8); err != nil {
			return nil, 0, err
		}
		return math.Float64frombits(binary.BigEndian.Uint64(rest)), 9, nil
	case 'S':
		if err := need(4); err != nil {
			return nil, 0, err
		}
		n := int(binary.BigEndian.Uint32(rest))
		if err := need(4 + n); err != nil {
			return nil, 0, err
		}
		return string(rest[4 : 4+n]), 5 + n, nil
	case 'x':
		if err := need(4); err != nil {
			return nil, 0, err
		}
		n := int(binary.BigEndian.Uint32(rest))
		if err := need(4 + n); err != nil {
			return nil, 0, err
		}
		out := make([]byte, n)
		copy(out, rest[4:4+n])
		return out, 5 + n, nil
	case 'T':
		if err := need(8); err != nil {
			return nil, 0, err
		}
		return time.Unix(int64(binary.BigEndian.Uint64(rest)), 0), 9, nil
	case 'F':
		if err := need(4); err != nil {
			return nil, 0, err
		}
		n := int(binary.BigEndian.Uint32(rest))
		if err := need(4 + n); err != nil {
			return nil, 0, err
		}
		inner, err := decodeTable(rest[4 : 4+n])
		if err != nil {
			return nil, 0, err
		}
		return inner, 5 + n, nil
	case 'A':
		if err := need(4); err != nil {
			return nil, 0, err
		}
		n := int(binary.BigEndian.Uint32(rest))
		if err := need(4 + n); err != nil {
			return nil, 0, err
		}
		var arr []any
		sub := rest[4 : 4+n]
		for len(sub) > 0 {
			elem, consumed, err := decodeFieldValue(sub)
			if err != nil {
				return nil, 0, err
			}
			arr = append(arr, elem)
			sub = sub[consumed:]
		}
		return arr, 5 + n, nil
	default:
		return nil, 0, fmt.Errorf("unknown field table value tag %q", tag)
	}
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	buf.Write(tmp[:])
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	buf.Write(tmp[:])
}
