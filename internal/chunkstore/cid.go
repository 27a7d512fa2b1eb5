package chunkstore

import (
	cid "github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"

	"github.com/potato-weijie-li/chiral-network-sub000/internal/errs"
)

// cidFromDigest wraps an existing SHA-256 digest into a CIDv1 (raw
// codec) multihash string, giving each stored chunk and manifest an
// interoperable content identifier alongside its local hex key, the
// way the teacher's Storage.Pin derives a CID from a multihash sum
// before handing bytes to the gateway.
func cidFromDigest(digest []byte) (string, error) {
	encoded, err := mh.Encode(digest, mh.SHA2_256)
	if err != nil {
		return "", errs.Wrap(err, "encode multihash")
	}
	return cid.NewCidV1(cid.Raw, encoded).String(), nil
}
