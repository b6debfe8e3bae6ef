package colmena

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// SegmentHashLength is the length of a generated segment hash in
	// hex characters.
	SegmentHashLength = 32

	// MinSegmentHashLength is the shortest segment hash the gate
	// accepts as irreversible.
	MinSegmentHashLength = 16

	// segmentHashIterations is the PBKDF2 iteration count. The repeated
	// hashing is what makes the cohort identifier impractical to
	// reverse from the sector name.
	segmentHashIterations = 100000

	segmentSaltSize = 32
)

// NewSegmentHash derives an opaque, irreversible cohort identifier from
// a business sector and an organization id. The salt is random per
// call, so the same inputs produce unrelated hashes and the pool cannot
// link two submissions to one organization.
func NewSegmentHash(sector, orgID string) (string, error) {
	salt := make([]byte, segmentSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	key := pbkdf2.Key([]byte(sector+"_"+orgID), salt, segmentHashIterations, sha256.Size, sha256.New)
	return hex.EncodeToString(key)[:SegmentHashLength], nil
}
