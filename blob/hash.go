// Package blob implements the content-addressed object store underlying
// the commit layer (cow): blobs, trees, and commits are all just bytes
// identified by the SHA-256 hash of their framed content, the same
// object-store shape git and git-alike tools use internally.
package blob

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Hash is a 32-byte content digest. The zero Hash is the NULL_HASH
// sentinel used for "no parent" / "no value" references.
type Hash [32]byte

// NullHash is returned by operations that have no object to point to
// (an unborn branch's parent, an absent tree entry).
var NullHash = Hash{}

func (h Hash) IsNull() bool { return h == NullHash }

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// ParseHash decodes a hex string into a Hash.
func ParseHash(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, fmt.Errorf("blob: invalid hash %q: %w", s, err)
	}
	if len(b) != len(Hash{}) {
		return Hash{}, fmt.Errorf("blob: hash %q has wrong length", s)
	}
	var h Hash
	copy(h[:], b)
	return h, nil
}

// ObjectKind distinguishes the three object shapes stored in the object
// database: raw blobs, trees (path→entry maps), and commits.
type ObjectKind string

const (
	KindBlob   ObjectKind = "blob"
	KindTree   ObjectKind = "tree"
	KindCommit ObjectKind = "commit"
)

// ComputeHash frames the payload with its kind and length before hashing,
// mirroring git's "<type> <len>\x00<data>" object framing so that a blob
// and a tree holding the same raw bytes never collide.
func ComputeHash(kind ObjectKind, data []byte) Hash {
	header := fmt.Sprintf("%s %d\x00", kind, len(data))
	h := sha256.New()
	h.Write([]byte(header))
	h.Write(data)
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}
