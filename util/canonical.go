package util

import (
	"github.com/fxamacker/cbor/v2"
)

var canonicalEncMode cbor.EncMode

func init() {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	canonicalEncMode = em
}

// CanonicalBytes encodes v with CBOR core deterministic encoding (sorted map keys, shortest form).
// The same value always produces the same bytes.
func CanonicalBytes(v interface{}) ([]byte, error) {
	return canonicalEncMode.Marshal(v)
}

// ContentHash is the sha256 hex digest of the canonical bytes of v
func ContentHash(v interface{}) (string, []byte, error) {
	b, err := CanonicalBytes(v)
	if err != nil {
		return "", nil, err
	}
	return Sha256Hex(b), b, nil
}
