package term

import (
	"encoding/binary"

	"github.com/zeebo/blake3"
)

// ContentHash computes the stable 64-bit hash of a screen's plain-text
// rendering: the first 8 bytes of the BLAKE3 digest, big-endian. Used for
// equality comparison only; collisions merely cause a missed change
// notification on a hash-identical screen.
func ContentHash(text string) uint64 {
	sum := blake3.Sum256([]byte(text))
	return binary.BigEndian.Uint64(sum[:8])
}
