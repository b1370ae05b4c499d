package filestore

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"
)

// HashAlgorithm names the digest used to address blobs.
type HashAlgorithm string

const (
	// SHA256 is the default content hash.
	SHA256 HashAlgorithm = "sha256"
	// MD5 reads stores laid out by older deployments that addressed blobs by md5.
	MD5 HashAlgorithm = "md5"
)

// Default shard layout.
const (
	DefaultDepth = 3
	DefaultWidth = 2
)

// ParseHashAlgorithm resolves a configured algorithm name. Empty means SHA256.
func ParseHashAlgorithm(s string) (HashAlgorithm, error) {
	switch HashAlgorithm(strings.ToLower(s)) {
	case "", SHA256:
		return SHA256, nil
	case MD5:
		return MD5, nil
	default:
		return "", fmt.Errorf("%w: unsupported hash algorithm %q", ErrValidation, s)
	}
}

// New returns a fresh hash.Hash for the algorithm.
func (a HashAlgorithm) New() hash.Hash {
	if a == MD5 {
		return md5.New()
	}
	return sha256.New()
}

// HexLen is the length of a hex encoded digest.
func (a HashAlgorithm) HexLen() int {
	return a.New().Size() * 2
}

// Sum returns the hex digest of b.
func (a HashAlgorithm) Sum(b []byte) string {
	h := a.New()
	h.Write(b)
	return hex.EncodeToString(h.Sum(nil))
}

// Validate checks that hash is a lowercase hex digest of the algorithm.
func (a HashAlgorithm) Validate(hash string) error {
	if len(hash) != a.HexLen() {
		return fmt.Errorf("%w: hash %q has length %d, want %d", ErrValidation, hash, len(hash), a.HexLen())
	}
	for i := 0; i < len(hash); i++ {
		c := hash[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return fmt.Errorf("%w: hash %q is not lowercase hex", ErrValidation, hash)
		}
	}
	return nil
}

// ShardSegments splits hash into depth prefix segments of width characters.
// Segments beyond the end of the hash are dropped.
func ShardSegments(hash string, depth, width int) []string {
	segments := make([]string, 0, depth)
	for i := 0; i < depth; i++ {
		start := i * width
		end := start + width
		if end > len(hash) {
			break
		}
		segments = append(segments, hash[start:end])
	}
	return segments
}
