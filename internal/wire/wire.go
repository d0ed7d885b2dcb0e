// Package wire frames cache entries for provider-backed tiers.
//
// Entry: magic(4) | ver(1) | flags(1) | version(u64) | checksum(u64) |
//
//	createdAt(i64 unix nanos) | ttl(i64 nanos) | priority(u8) |
//	ntags(u16) | [len(u16) tag]... | ndeps(u16) | [len(u16) dep]... |
//	vlen(u32) | payload(vlen)
//
// All integers are big endian. Decoding is strict: short buffers, bad
// lengths and trailing bytes are all ErrCorrupt.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	version byte = 1

	FlagCompressed byte = 1 << 0
)

var (
	ErrCorrupt = errors.New("tiercache: corrupt entry")
	magic4     = [...]byte{'T', 'I', 'E', 'R'}
)

// Header is everything in the envelope except the payload.
type Header struct {
	Flags     byte
	Version   uint64
	Checksum  uint64
	CreatedAt int64
	TTL       int64
	Priority  uint8
	Tags      []string
	Deps      []string
}

func (h Header) Compressed() bool { return h.Flags&FlagCompressed != 0 }

func EncodeEntry(h Header, payload []byte) ([]byte, error) {
	size := 4 + 1 + 1 + 8 + 8 + 8 + 8 + 1 + 2 + 2 + 4 + len(payload)
	for _, s := range h.Tags {
		size += 2 + len(s)
	}
	for _, s := range h.Deps {
		size += 2 + len(s)
	}

	var buf bytes.Buffer
	buf.Grow(size)
	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(h.Flags)

	var u8 [8]byte
	binary.BigEndian.PutUint64(u8[:], h.Version)
	buf.Write(u8[:])
	binary.BigEndian.PutUint64(u8[:], h.Checksum)
	buf.Write(u8[:])
	binary.BigEndian.PutUint64(u8[:], uint64(h.CreatedAt))
	buf.Write(u8[:])
	binary.BigEndian.PutUint64(u8[:], uint64(h.TTL))
	buf.Write(u8[:])
	buf.WriteByte(h.Priority)

	if err := writeStrings(&buf, h.Tags); err != nil {
		return nil, fmt.Errorf("tags: %w", err)
	}
	if err := writeStrings(&buf, h.Deps); err != nil {
		return nil, fmt.Errorf("dependencies: %w", err)
	}

	var u4 [4]byte
	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])
	buf.Write(payload)
	return buf.Bytes(), nil
}

func writeStrings(buf *bytes.Buffer, ss []string) error {
	if len(ss) > 0xFFFF {
		return fmt.Errorf("too many strings: %d", len(ss))
	}
	var u2 [2]byte
	binary.BigEndian.PutUint16(u2[:], uint16(len(ss)))
	buf.Write(u2[:])
	for _, s := range ss {
		if len(s) > 0xFFFF {
			return fmt.Errorf("string too long: %d", len(s))
		}
		binary.BigEndian.PutUint16(u2[:], uint16(len(s)))
		buf.Write(u2[:])
		buf.WriteString(s)
	}
	return nil
}

type reader struct {
	b   []byte
	off int
}

func (r *reader) take(n int) ([]byte, bool) {
	if n < 0 || n > len(r.b)-r.off {
		return nil, false
	}
	out := r.b[r.off : r.off+n]
	r.off += n
	return out, true
}

func (r *reader) u64() (uint64, bool) {
	b, ok := r.take(8)
	if !ok {
		return 0, false
	}
	return binary.BigEndian.Uint64(b), true
}

func (r *reader) strings() ([]string, bool) {
	b, ok := r.take(2)
	if !ok {
		return nil, false
	}
	n := int(binary.BigEndian.Uint16(b))
	if n == 0 {
		return nil, true
	}
	// every string needs at least its 2-byte length
	if n*2 > len(r.b)-r.off {
		return nil, false
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		lb, ok := r.take(2)
		if !ok {
			return nil, false
		}
		s, ok := r.take(int(binary.BigEndian.Uint16(lb)))
		if !ok {
			return nil, false
		}
		out = append(out, string(s))
	}
	return out, true
}

func DecodeEntry(b []byte) (Header, []byte, error) {
	var h Header
	if len(b) < 6 || !bytes.Equal(b[:4], magic4[:]) || b[4] != version {
		return h, nil, ErrCorrupt
	}
	h.Flags = b[5]
	r := &reader{b: b, off: 6}

	var ok bool
	if h.Version, ok = r.u64(); !ok {
		return h, nil, ErrCorrupt
	}
	if h.Checksum, ok = r.u64(); !ok {
		return h, nil, ErrCorrupt
	}
	created, ok := r.u64()
	if !ok {
		return h, nil, ErrCorrupt
	}
	h.CreatedAt = int64(created)
	ttl, ok := r.u64()
	if !ok {
		return h, nil, ErrCorrupt
	}
	h.TTL = int64(ttl)
	pb, ok := r.take(1)
	if !ok {
		return h, nil, ErrCorrupt
	}
	h.Priority = pb[0]
	if h.Tags, ok = r.strings(); !ok {
		return h, nil, ErrCorrupt
	}
	if h.Deps, ok = r.strings(); !ok {
		return h, nil, ErrCorrupt
	}
	lb, ok := r.take(4)
	if !ok {
		return h, nil, ErrCorrupt
	}
	payload, ok := r.take(int(binary.BigEndian.Uint32(lb)))
	if !ok || r.off != len(b) {
		return h, nil, ErrCorrupt
	}
	return h, payload, nil
}
