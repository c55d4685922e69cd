package core

import (
	"crypto/sha256"
	"encoding/binary"
)

const GenesisHashSeed = "MarketLedger:genesis:v1"

// StateHasher chains a hash over every logged operation
type StateHasher struct {
	prevHash [32]byte
}

// NewStateHasher initializes with genesis hash
func NewStateHasher() *StateHasher {
	return &StateHasher{
		prevHash: sha256.Sum256([]byte(GenesisHashSeed)),
	}
}

// ComputeHash calculates hash[N] = SHA-256(hash[N-1] || sequence || digest)
func (h *StateHasher) ComputeHash(sequence int64, digest []byte) [32]byte {
	hasher := sha256.New()
	hasher.Write(h.prevHash[:])

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])

	hasher.Write(digest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	h.prevHash = hash
	return hash
}

// GetPrevHash returns current chain tip
func (h *StateHasher) GetPrevHash() [32]byte {
	return h.prevHash
}

// SetPrevHash resumes the chain from a snapshot.
func (h *StateHasher) SetPrevHash(hash [32]byte) {
	h.prevHash = hash
}

// operationDigest is the canonical byte form of one logged operation:
// length-prefixed event type, idempotency key, rejection and encoded vops.
func operationDigest(eventType, key, rejection string, vops []byte) []byte {
	digest := make([]byte, 0, 16+len(eventType)+len(key)+len(rejection)+len(vops))
	for _, part := range [][]byte{[]byte(eventType), []byte(key), []byte(rejection), vops} {
		digest = binary.LittleEndian.AppendUint32(digest, uint32(len(part)))
		digest = append(digest, part...)
	}
	return digest
}
