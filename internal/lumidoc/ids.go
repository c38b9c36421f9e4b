package lumidoc

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
	"time"
)

// Unique-ID generation for spans, content nodes and inner tags. IDs are
// 26-character Crockford Base32 ULIDs with a timestamp prefix, so ids
// minted within one import run sort in creation order.

var (
	ulidMu  sync.Mutex
	lastTS  uint64
	lastSeq uint16
)

const crockford = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// NewID returns a fresh globally-unique id.
func NewID() string {
	ulidMu.Lock()
	defer ulidMu.Unlock()

	ts := uint64(time.Now().UnixMilli())
	if ts == lastTS {
		lastSeq++
	} else {
		lastTS = ts
		lastSeq = 0
	}

	var b [16]byte
	// Timestamp in first 6 bytes (big-endian 48-bit).
	b[0] = byte(ts >> 40)
	b[1] = byte(ts >> 32)
	b[2] = byte(ts >> 24)
	b[3] = byte(ts >> 16)
	b[4] = byte(ts >> 8)
	b[5] = byte(ts)
	// Random in remaining 10 bytes.
	rand.Read(b[6:])
	// Embed sequence in bytes 6-7 to ensure uniqueness within same ms.
	binary.BigEndian.PutUint16(b[6:8], lastSeq)

	return encode(b)
}

// encode renders 128 bits as 26 Crockford Base32 characters, filling the
// output from the least significant end. 26 characters hold 130 bits, so
// the leading character carries only the top 3 bits.
func encode(b [16]byte) string {
	var out [26]byte
	acc, bits := uint32(0), 0
	j := len(out) - 1
	for i := len(b) - 1; i >= 0; i-- {
		acc |= uint32(b[i]) << bits
		bits += 8
		for bits >= 5 {
			out[j] = crockford[acc&31]
			acc >>= 5
			bits -= 5
			j--
		}
	}
	out[j] = crockford[acc&31]
	return string(out[:])
}
