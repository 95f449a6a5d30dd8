package wire

import "encoding/binary"

// writer accumulates an encoded packet. All multi-byte integers are
// little-endian per the wire format (spec.md §4.1), unlike the teacher's
// RakNet BitStream which is big-endian for header fields and little-endian
// only for 24-bit sequence numbers — this protocol is little-endian
// throughout, so the helper methods below don't need the teacher's
// per-field endianness split.
type writer struct {
	buf []byte
}

func newWriter() *writer {
	return &writer{buf: make([]byte, 0, 256)}
}

func (w *writer) bytes() []byte { return w.buf }

func (w *writer) writeByte(b byte) { w.buf = append(w.buf, b) }

func (w *writer) writeBytes(b []byte) { w.buf = append(w.buf, b...) }

func (w *writer) writeUint16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) writeUint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) writeUint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// writeString32 writes a 4-byte length prefix followed by the UTF-8 bytes.
func (w *writer) writeString32(s string) {
	w.writeUint32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

// writeString8 writes a 1-byte length prefix followed by the UTF-8 bytes.
// Callers must ensure len(s) <= 255 before calling.
func (w *writer) writeString8(s string) {
	w.writeByte(byte(len(s)))
	w.buf = append(w.buf, s...)
}

// writeString16 writes a 2-byte length prefix followed by the UTF-8 bytes.
func (w *writer) writeString16(s string) {
	w.writeUint16(uint16(len(s)))
	w.buf = append(w.buf, s...)
}

// reader decodes a buffer front-to-back, refusing to read past the end.
// Every read is bounds-checked before touching the underlying slice —
// decode must be total, never panicking on adversarial input (spec.md §4.1).
type reader struct {
	buf    []byte
	offset int
}

func newReader(buf []byte) *reader {
	return &reader{buf: buf}
}

func (r *reader) remaining() int { return len(r.buf) - r.offset }

func (r *reader) readByte() (byte, error) {
	if r.remaining() < 1 {
		return 0, malformed("buffer underflow reading byte")
	}
	b := r.buf[r.offset]
	r.offset++
	return b, nil
}

func (r *reader) readBytes(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, malformed("buffer underflow reading bytes")
	}
	b := r.buf[r.offset : r.offset+n]
	r.offset += n
	return b, nil
}

func (r *reader) readUint16() (uint16, error) {
	b, err := r.readBytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *reader) readUint32() (uint32, error) {
	b, err := r.readBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) readUint64() (uint64, error) {
	b, err := r.readBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *reader) readStringN(lengthBytes int) (string, error) {
	var n int
	switch lengthBytes {
	case 1:
		b, err := r.readByte()
		if err != nil {
			return "", err
		}
		n = int(b)
	case 2:
		v, err := r.readUint16()
		if err != nil {
			return "", err
		}
		n = int(v)
	case 4:
		v, err := r.readUint32()
		if err != nil {
			return "", err
		}
		n = int(v)
	default:
		return "", malformed("unsupported string length prefix size")
	}
	b, err := r.readBytes(n)
	if err != nil {
		return "", err
	}
	if !isValidUTF8(b) {
		return "", malformed("invalid UTF-8 in string field")
	}
	return string(b), nil
}
