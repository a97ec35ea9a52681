package streams

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"github.com/google/uuid"
)

// Identity derives stream ids from one session discriminator, so a media
// line keeps its id for the life of the session even if its track is torn
// down and recreated.
type Identity struct {
	digest string
}

// NewIdentity hashes uri, or a generated token when the signaller has no URI.
func NewIdentity(uri string) Identity {
	if uri == "" {
		uri = uuid.NewString()
	}
	sum := sha256.Sum256([]byte(uri))
	return Identity{digest: hex.EncodeToString(sum[:])}
}

// StreamID is "<sha256 hex>:<mline>".
func (i Identity) StreamID(mline int) string {
	return i.digest + ":" + strconv.Itoa(mline)
}
