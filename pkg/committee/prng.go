package committee

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
)

// stream is an HMAC-SHA256 counter-mode generator.
type stream struct {
	seed    []byte
	counter uint64
}

func (s *stream) uint64() uint64 {
	s.counter++
	var ctr [8]byte
	binary.BigEndian.PutUint64(ctr[:], s.counter)
	h := hmac.New(sha256.New, s.seed)
	h.Write(ctr[:])
	return binary.BigEndian.Uint64(h.Sum(nil)[:8])
}

// intn returns a value in [0, n) without modulo bias.
func (s *stream) intn(n int) int {
	bound := uint64(n)
	limit := ^uint64(0) - (^uint64(0) % bound)
	for {
		v := s.uint64()
		if v < limit {
			return int(v % bound)
		}
	}
}

// shuffle permutes ids in place with Fisher-Yates.
func shuffle(ids []string, seed []byte) {
	s := &stream{seed: seed}
	for i := len(ids) - 1; i > 0; i-- {
		j := s.intn(i + 1)
		ids[i], ids[j] = ids[j], ids[i]
	}
}
