// Package evidence models the cryptographic evidence embedded into XAdES
// signatures: certificates, revocation proofs and timestamp tokens.
package evidence

import (
	"crypto"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedDigest is returned for digest algorithms that cannot be used
// in references.
var ErrUnsupportedDigest = errors.New("unsupported digest algorithm")

// DigestAlgorithm identifies a digest algorithm used for evidence references.
type DigestAlgorithm string

const (
	SHA1   DigestAlgorithm = "sha1"
	SHA256 DigestAlgorithm = "sha256"
	SHA384 DigestAlgorithm = "sha384"
	SHA512 DigestAlgorithm = "sha512"
)

// XML Signature algorithm identifiers.
const (
	DigestURISHA1   = "http://www.w3.org/2000/09/xmldsig#sha1"
	DigestURISHA256 = "http://www.w3.org/2001/04/xmlenc#sha256"
	DigestURISHA384 = "http://www.w3.org/2001/04/xmldsig-more#sha384"
	DigestURISHA512 = "http://www.w3.org/2001/04/xmlenc#sha512"
)

// URI returns the XML Signature identifier of the algorithm.
func (a DigestAlgorithm) URI() string {
	switch a {
	case SHA1:
		return DigestURISHA1
	case SHA256:
		return DigestURISHA256
	case SHA384:
		return DigestURISHA384
	case SHA512:
		return DigestURISHA512
	default:
		return ""
	}
}

// Hash returns the crypto.Hash for the algorithm.
func (a DigestAlgorithm) Hash() crypto.Hash {
	switch a {
	case SHA1:
		return crypto.SHA1
	case SHA256:
		return crypto.SHA256
	case SHA384:
		return crypto.SHA384
	case SHA512:
		return crypto.SHA512
	default:
		return 0
	}
}

// Sum computes the digest of data. Unknown algorithms fall back to SHA-256.
func (a DigestAlgorithm) Sum(data []byte) []byte {
	switch a {
	case SHA1:
		h := sha1.Sum(data)
		return h[:]
	case SHA384:
		h := sha512.Sum384(data)
		return h[:]
	case SHA512:
		h := sha512.Sum512(data)
		return h[:]
	default:
		h := sha256.Sum256(data)
		return h[:]
	}
}

// String returns the short name of the algorithm.
func (a DigestAlgorithm) String() string {
	return string(a)
}

// ParseDigestAlgorithm accepts a short name ("sha256", "SHA-256") or an XML
// Signature algorithm URI.
func ParseDigestAlgorithm(s string) (DigestAlgorithm, error) {
	switch s {
	case DigestURISHA1:
		return SHA1, nil
	case DigestURISHA256:
		return SHA256, nil
	case DigestURISHA384:
		return SHA384, nil
	case DigestURISHA512:
		return SHA512, nil
	}

	name := strings.ToLower(strings.ReplaceAll(s, "-", ""))
	switch DigestAlgorithm(name) {
	case SHA1, SHA256, SHA384, SHA512:
		return DigestAlgorithm(name), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedDigest, s)
}

// Fingerprint returns the hex encoded SHA-256 digest of data. It is the
// identity used for every token kind.
func Fingerprint(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
