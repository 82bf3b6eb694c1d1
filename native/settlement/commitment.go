package settlement

import (
	"crypto/sha256"
	"math/big"
)

// CommitmentHasher computes the fixed-size one-way hash hiding a sealed bid
// until its reveal. The hash covers the bid amount and a bidder-chosen salt.
type CommitmentHasher interface {
	Commitment(amount *big.Int, salt [32]byte) [32]byte
}

// SHA256Hasher is the default commitment scheme: SHA-256 over the big-endian
// 16-byte amount followed by the 32-byte salt.
type SHA256Hasher struct{}

// Commitment implements CommitmentHasher.
func (SHA256Hasher) Commitment(amount *big.Int, salt [32]byte) [32]byte {
	var buf [16]byte
	if amount != nil && amount.Sign() > 0 && amount.Cmp(maxAmount) <= 0 {
		amount.FillBytes(buf[:])
	}
	h := sha256.New()
	h.Write(buf[:])
	h.Write(salt[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
