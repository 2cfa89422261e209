// Package wire frames cache entries for the persistent tier. The format is
// strict: bad magic, bad version, short buffers and trailing bytes are all
// ErrCorrupt, so foreign or damaged values under our keyspace are detected
// and can be self-healed (deleted) by the cache.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const version byte = 1

var (
	ErrCorrupt = errors.New("bastion: corrupt envelope")
	magic4     = [...]byte{'B', 'S', 'T', 'N'}
)

// Envelope is the full persisted entry: metadata plus the codec payload.
// Timestamps are Unix nanoseconds.
type Envelope struct {
	Key          string
	Source       byte
	CreatedAt    int64
	ExpiresAt    int64
	LastAccessed int64
	HitCount     uint32
	Tags         []string
	Payload      []byte
}

// Layout:
//
//	magic(4) | ver(1) | source(1)
//	createdAt(i64 be) | expiresAt(i64 be) | lastAccessed(i64 be) | hitCount(u32 be)
//	keyLen(u16 be) | key
//	nTags(u16 be) | { tagLen(u16 be) | tag } * nTags
//	vlen(u32 be) | payload
func Encode(e Envelope) ([]byte, error) {
	if l := len(e.Key); l == 0 || l > 0xFFFF {
		return nil, errors.New("bastion: invalid key length in envelope")
	}
	if len(e.Tags) > 0xFFFF {
		return nil, errors.New("bastion: too many tags in envelope")
	}
	for _, t := range e.Tags {
		if l := len(t); l == 0 || l > 0xFFFF {
			return nil, errors.New("bastion: invalid tag length in envelope")
		}
	}

	total := 4 + 1 + 1 + 8*3 + 4 + 2 + len(e.Key) + 2
	for _, t := range e.Tags {
		total += 2 + len(t)
	}
	total += 4 + len(e.Payload)

	var buf bytes.Buffer
	buf.Grow(total)

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(e.Source)

	var u8 [8]byte
	var u4 [4]byte
	var u2 [2]byte

	for _, ts := range [...]int64{e.CreatedAt, e.ExpiresAt, e.LastAccessed} {
		binary.BigEndian.PutUint64(u8[:], uint64(ts))
		buf.Write(u8[:])
	}

	binary.BigEndian.PutUint32(u4[:], e.HitCount)
	buf.Write(u4[:])

	binary.BigEndian.PutUint16(u2[:], uint16(len(e.Key)))
	buf.Write(u2[:])
	buf.WriteString(e.Key)

	binary.BigEndian.PutUint16(u2[:], uint16(len(e.Tags)))
	buf.Write(u2[:])
	for _, t := range e.Tags {
		binary.BigEndian.PutUint16(u2[:], uint16(len(t)))
		buf.Write(u2[:])
		buf.WriteString(t)
	}

	binary.BigEndian.PutUint32(u4[:], uint32(len(e.Payload)))
	buf.Write(u4[:])
	buf.Write(e.Payload)

	return buf.Bytes(), nil
}

func Decode(b []byte) (Envelope, error) {
	var e Envelope
	const hdr = 4 + 1 + 1 + 8*3 + 4
	if len(b) < hdr || !bytes.Equal(b[:4], magic4[:]) || b[4] != version {
		return e, ErrCorrupt
	}
	e.Source = b[5]

	off := 6
	e.CreatedAt = int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8
	e.ExpiresAt = int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8
	e.LastAccessed = int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8
	e.HitCount = binary.BigEndian.Uint32(b[off : off+4])
	off += 4

	// key
	if off+2 > len(b) {
		return e, ErrCorrupt
	}
	klen := int(binary.BigEndian.Uint16(b[off : off+2]))
	off += 2
	if klen <= 0 || klen > len(b)-off {
		return e, ErrCorrupt
	}
	e.Key = string(b[off : off+klen])
	off += klen

	// tags
	if off+2 > len(b) {
		return e, ErrCorrupt
	}
	n := int(binary.BigEndian.Uint16(b[off : off+2]))
	off += 2
	if n > 0 {
		e.Tags = make([]string, 0, n)
	}
	for i := 0; i < n; i++ {
		if off+2 > len(b) {
			return e, ErrCorrupt
		}
		tlen := int(binary.BigEndian.Uint16(b[off : off+2]))
		off += 2
		if tlen <= 0 || tlen > len(b)-off {
			return e, ErrCorrupt
		}
		e.Tags = append(e.Tags, string(b[off:off+tlen]))
		off += tlen
	}

	// payload
	if off+4 > len(b) {
		return e, ErrCorrupt
	}
	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen > len(b)-off {
		return e, ErrCorrupt
	}
	e.Payload = b[off : off+vlen]
	off += vlen

	if off != len(b) { // strict framing: no trailing bytes
		return e, ErrCorrupt
	}
	return e, nil
}
