// Package rand produces the short base62 tokens used for revision
// suffixes and request ids.
package rand

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sync"
)

const (
	bytesInUint64 = 8
	charset       = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

var charsetLen = len(charset)

var defaultSource = newSource()

func newSource() *source {
	seed := make([]byte, bytesInUint64*2)

	if _, err := cryptorand.Read(seed); err != nil {
		panic("unreachable")
	}

	return &source{
		//nolint:gosec // tokens are identifiers, not secrets
		rng: rand.New(rand.NewPCG(
			binary.LittleEndian.Uint64(seed[:8]),
			binary.LittleEndian.Uint64(seed[8:]),
		)),
	}
}

type source struct {
	mut sync.Mutex
	rng *rand.Rand
}

// read fills buf entirely.
func (s *source) read(buf []byte) {
	s.mut.Lock()
	defer s.mut.Unlock()

	var chunk [bytesInUint64]byte
	for i := 0; i < len(buf); i += bytesInUint64 {
		binary.LittleEndian.PutUint64(chunk[:], s.rng.Uint64())
		copy(buf[i:], chunk[:])
	}
}

func (s *source) base62(length int) string {
	buf := make([]byte, length)

	s.mut.Lock()
	for i := range buf {
		buf[i] = charset[s.rng.IntN(charsetLen)]
	}
	s.mut.Unlock()

	return string(buf)
}

// Token returns a uniformly distributed base62 string of the given length.
func Token(length int) string {
	return defaultSource.base62(length)
}

// NewRequestID is faster than Token but its distribution is not uniform.
// Request ids only have to be unique among in-flight calls.
func NewRequestID(length int) string {
	buf := make([]byte, length)
	defaultSource.read(buf)

	for i, b := range buf {
		buf[i] = charset[int(b)%charsetLen]
	}

	return string(buf)
}
