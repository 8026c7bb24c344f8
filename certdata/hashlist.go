package certdata

import (
	"bytes"

	"github.com/mozilla-services/cert-storage/certerr"
)

// HashLength is the width of a SHA-256 digest in bytes.
const HashLength = 32

// CertHashList is a raw concatenation of fixed-width SHA-256 digests. It
// behaves as an insertion-ordered set: Add is a no-op if the hash is
// already present, and Remove drops every occurrence.
type CertHashList []byte

// NewCertHashList validates that data's length is a multiple of
// HashLength and returns it as a CertHashList.
func NewCertHashList(data []byte) (CertHashList, error) {
	if len(data)%HashLength != 0 {
		return nil, certerr.User(certerr.KindMalformedList,
			"hash list length is not a multiple of the hash size", nil)
	}
	return CertHashList(data), nil
}

// Contains reports whether h appears in the list.
func (l CertHashList) Contains(h []byte) (bool, error) {
	if len(h) != HashLength {
		return false, certerr.User(certerr.KindMalformedList, "hash has wrong length", nil)
	}
	for i := 0; i+HashLength <= len(l); i += HashLength {
		if bytes.Equal(l[i:i+HashLength], h) {
			return true, nil
		}
	}
	return false, nil
}

// Add returns l unchanged if h is already present, else l with h
// appended.
func (l CertHashList) Add(h []byte) (CertHashList, error) {
	if len(h) != HashLength {
		return nil, certerr.User(certerr.KindMalformedList, "hash has wrong length", nil)
	}
	found, err := l.Contains(h)
	if err != nil {
		return nil, err
	}
	if found {
		return l, nil
	}
	out := make(CertHashList, len(l)+HashLength)
	copy(out, l)
	copy(out[len(l):], h)
	return out, nil
}

// Remove returns a new list with every occurrence of h removed, preserving
// the relative order of the remaining elements.
func (l CertHashList) Remove(h []byte) (CertHashList, error) {
	if len(h) != HashLength {
		return nil, certerr.User(certerr.KindMalformedList, "hash has wrong length", nil)
	}
	out := make(CertHashList, 0, len(l))
	for i := 0; i+HashLength <= len(l); i += HashLength {
		elem := l[i : i+HashLength]
		if !bytes.Equal(elem, h) {
			out = append(out, elem...)
		}
	}
	return out, nil
}

// Len returns the number of hashes in the list.
func (l CertHashList) Len() int { return len(l) / HashLength }

// At returns the i-th hash in the list.
func (l CertHashList) At(i int) []byte {
	return l[i*HashLength : (i+1)*HashLength]
}
