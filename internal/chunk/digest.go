package chunk

import (
	"github.com/zeebo/blake3"

	"github.com/meigma/zpak/internal/imagetype"
)

// Sum computes the block-content BLAKE3 digest of data. The digest is
// deterministic across platforms and invocations (BLAKE3 is unkeyed
// and unseeded here), which is a precondition for deduplication
// correctness: equal content must always map to the same digest.
//
// At 32 bytes the accidental collision probability is negligible for
// any realistic corpus; colliding blocks would silently deduplicate,
// a documented and accepted risk of the format.
func Sum(data []byte) imagetype.Digest {
	return imagetype.Digest(blake3.Sum256(data))
}
