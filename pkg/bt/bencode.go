// Package bt implements a bencode codec and a bencode<->JSON dict
// converter. Bencode has no library representation anywhere in the
// dependency graph this module draws on, so this is a deliberate
// standard-library-only piece: there is nothing in the ecosystem to wire
// in for it.
package bt

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
)

// Value is a decoded bencode node: int64, []byte, []Value, or
// map[string]Value (dict keys are always plain byte-strings; we require
// them to be presentable as Go strings for use as map keys).
type Value interface{}

// Encode serializes v as bencode. Dict keys are ASCII-sorted per bencode's
// canonical form.
func Encode(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeInto(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeInto(buf *bytes.Buffer, v Value) error {
	switch t := v.(type) {
	case int64:
		buf.WriteByte('i')
		buf.WriteString(strconv.FormatInt(t, 10))
		buf.WriteByte('e')
	case int:
		return encodeInto(buf, int64(t))
	case []byte:
		buf.WriteString(strconv.Itoa(len(t)))
		buf.WriteByte(':')
		buf.Write(t)
	case string:
		return encodeInto(buf, []byte(t))
	case []Value:
		buf.WriteByte('l')
		for _, item := range t {
			if err := encodeInto(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte('e')
	case map[string]Value:
		buf.WriteByte('d')
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := encodeInto(buf, []byte(k)); err != nil {
				return err
			}
			if err := encodeInto(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('e')
	default:
		return fmt.Errorf("bt: unsupported value type %T", v)
	}
	return nil
}

// Decode parses a single bencode value from the front of b, returning the
// value and the number of bytes consumed.
func Decode(b []byte) (Value, int, error) {
	if len(b) == 0 {
		return nil, 0, fmt.Errorf("bt: empty input")
	}
	switch b[0] {
	case 'i':
		end := bytes.IndexByte(b, 'e')
		if end < 0 {
			return nil, 0, fmt.Errorf("bt: unterminated integer")
		}
		n, err := strconv.ParseInt(string(b[1:end]), 10, 64)
		if err != nil {
			return nil, 0, fmt.Errorf("bt: bad integer: %w", err)
		}
		return n, end + 1, nil
	case 'l':
		pos := 1
		list := []Value{}
		for pos < len(b) && b[pos] != 'e' {
			v, n, err := Decode(b[pos:])
			if err != nil {
				return nil, 0, err
			}
			list = append(list, v)
			pos += n
		}
		if pos >= len(b) {
			return nil, 0, fmt.Errorf("bt: unterminated list")
		}
		return list, pos + 1, nil
	case 'd':
		pos := 1
		dict := map[string]Value{}
		for pos < len(b) && b[pos] != 'e' {
			kv, n, err := Decode(b[pos:])
			if err != nil {
				return nil, 0, err
			}
			keyBytes, ok := kv.([]byte)
			if !ok {
				return nil, 0, fmt.Errorf("bt: dict key must be a byte-string")
			}
			pos += n
			val, n2, err := Decode(b[pos:])
			if err != nil {
				return nil, 0, err
			}
			dict[string(keyBytes)] = val
			pos += n2
		}
		if pos >= len(b) {
			return nil, 0, fmt.Errorf("bt: unterminated dict")
		}
		return dict, pos + 1, nil
	default:
		if b[0] < '0' || b[0] > '9' {
			return nil, 0, fmt.Errorf("bt: invalid leading byte %q", b[0])
		}
		colon := bytes.IndexByte(b, ':')
		if colon < 0 {
			return nil, 0, fmt.Errorf("bt: malformed byte-string length")
		}
		length, err := strconv.Atoi(string(b[:colon]))
		if err != nil || length < 0 {
			return nil, 0, fmt.Errorf("bt: bad byte-string length")
		}
		start := colon + 1
		if start+length > len(b) {
			return nil, 0, fmt.Errorf("bt: byte-string exceeds input")
		}
		out := make([]byte, length)
		copy(out, b[start:start+length])
		return out, start + length, nil
	}
}

// DecodeFull parses b as exactly one bencode value with no trailing data.
func DecodeFull(b []byte) (Value, error) {
	v, n, err := Decode(b)
	if err != nil {
		return nil, err
	}
	if n != len(b) {
		return nil, fmt.Errorf("bt: %d trailing bytes after value", len(b)-n)
	}
	return v, nil
}
