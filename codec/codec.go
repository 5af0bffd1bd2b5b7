// Package codec implements the opaque binary value format used to persist
// LoopContext key/value entries. It is a length-prefixed tagged union over
// a closed set of shapes (nil, bool, int64, float64, string, bytes, list,
// map, and registered event records), deliberately not a source-language
// pickle for scalars, bytes, lists and maps. Event records are the
// exception: their body is an encoding/gob stream inside the envelope, so
// decoding one needs a gob decoder.
package codec

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
)

// tag identifies the shape that follows in the stream.
type tag byte

const (
	tagNil tag = iota
	tagBool
	tagInt64
	tagFloat64
	tagString
	tagBytes
	tagList
	tagMap
	tagEvent
)

// Event is the shape codec uses for registered event records embedded in
// context values, kept structurally minimal and decoupled from package
// fastloop to avoid an import cycle; callers adapt to/from fastloop.Event.
type Event struct {
	Type      string
	LoopID    string
	Sender    string
	Nonce     int64
	Payload   map[string]any
	CreatedAt int64
}

func init() {
	gob.Register(Event{})
	gob.Register(map[string]any{})
	gob.Register([]any{})
}

// Marshal serializes v into the tagged binary format. Supported dynamic
// types: nil, bool, int64 (and int, which is widened), float64, string,
// []byte, []any, map[string]any, and codec.Event. Any other shape returns
// an error rather than silently falling back to a richer encoder — the
// codec's contract is a closed, auditable set of wire shapes.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := marshalInto(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func marshalInto(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteByte(byte(tagNil))
		return nil
	case bool:
		buf.WriteByte(byte(tagBool))
		if val {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
		return nil
	case int:
		return marshalInto(buf, int64(val))
	case int64:
		buf.WriteByte(byte(tagInt64))
		return binary.Write(buf, binary.BigEndian, val)
	case float64:
		buf.WriteByte(byte(tagFloat64))
		return binary.Write(buf, binary.BigEndian, val)
	case string:
		buf.WriteByte(byte(tagString))
		writeLenPrefixed(buf, []byte(val))
		return nil
	case []byte:
		buf.WriteByte(byte(tagBytes))
		writeLenPrefixed(buf, val)
		return nil
	case []any:
		buf.WriteByte(byte(tagList))
		if err := binary.Write(buf, binary.BigEndian, uint32(len(val))); err != nil {
			return err
		}
		for _, item := range val {
			if err := marshalInto(buf, item); err != nil {
				return err
			}
		}
		return nil
	case map[string]any:
		buf.WriteByte(byte(tagMap))
		if err := binary.Write(buf, binary.BigEndian, uint32(len(val))); err != nil {
			return err
		}
		for k, item := range val {
			writeLenPrefixed(buf, []byte(k))
			if err := marshalInto(buf, item); err != nil {
				return err
			}
		}
		return nil
	case Event:
		buf.WriteByte(byte(tagEvent))
		var inner bytes.Buffer
		if err := gob.NewEncoder(&inner).Encode(val); err != nil {
			return fmt.Errorf("codec: encode event: %w", err)
		}
		writeLenPrefixed(buf, inner.Bytes())
		return nil
	default:
		return fmt.Errorf("codec: unsupported value type %T", v)
	}
}

func writeLenPrefixed(buf *bytes.Buffer, b []byte) {
	_ = binary.Write(buf, binary.BigEndian, uint32(len(b)))
	buf.Write(b)
}

// Unmarshal decodes a value previously produced by Marshal.
func Unmarshal(data []byte) (any, error) {
	buf := bytes.NewReader(data)
	v, err := unmarshalFrom(buf)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func unmarshalFrom(buf *bytes.Reader) (any, error) {
	t, err := buf.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("codec: read tag: %w", err)
	}
	switch tag(t) {
	case tagNil:
		return nil, nil
	case tagBool:
		b, err := buf.ReadByte()
		if err != nil {
			return nil, err
		}
		return b == 1, nil
	case tagInt64:
		var v int64
		if err := binary.Read(buf, binary.BigEndian, &v); err != nil {
			return nil, err
		}
		return v, nil
	case tagFloat64:
		var v float64
		if err := binary.Read(buf, binary.BigEndian, &v); err != nil {
			return nil, err
		}
		return v, nil
	case tagString:
		b, err := readLenPrefixed(buf)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case tagBytes:
		return readLenPrefixed(buf)
	case tagList:
		var n uint32
		if err := binary.Read(buf, binary.BigEndian, &n); err != nil {
			return nil, err
		}
		out := make([]any, 0, n)
		for i := uint32(0); i < n; i++ {
			item, err := unmarshalFrom(buf)
			if err != nil {
				return nil, err
			}
			out = append(out, item)
		}
		return out, nil
	case tagMap:
		var n uint32
		if err := binary.Read(buf, binary.BigEndian, &n); err != nil {
			return nil, err
		}
		out := make(map[string]any, n)
		for i := uint32(0); i < n; i++ {
			kb, err := readLenPrefixed(buf)
			if err != nil {
				return nil, err
			}
			item, err := unmarshalFrom(buf)
			if err != nil {
				return nil, err
			}
			out[string(kb)] = item
		}
		return out, nil
	case tagEvent:
		b, err := readLenPrefixed(buf)
		if err != nil {
			return nil, err
		}
		var ev Event
		if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&ev); err != nil {
			return nil, fmt.Errorf("codec: decode event: %w", err)
		}
		return ev, nil
	default:
		return nil, fmt.Errorf("codec: unknown tag %d", t)
	}
}

func readLenPrefixed(buf *bytes.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(buf, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(buf, out); err != nil {
		return nil, err
	}
	return out, nil
}
