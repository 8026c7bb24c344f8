// Package certdata implements the certificate record codec and the
// subject-hash-list set operations used by the certificate index.
package certdata

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/mozilla-services/cert-storage/certerr"
)

const certRecordVersion = 1

// MaxFieldLength is the largest DER or subject payload the binary record
// can carry; both length fields are 16 bits wide.
const MaxFieldLength = 1<<16 - 1

// Cert is the serialized form of a certificate retained by the index:
// its DER bytes, its subject distinguished name, and a caller-assigned
// trust level.
type Cert struct {
	DER     []byte
	Subject []byte
	Trust   int16
}

// Encode renders a Cert using the fixed binary layout:
// u8 version=1 | u16 der_len | der | u16 subj_len | subj | i16 trust.
func (c Cert) Encode() ([]byte, error) {
	if len(c.DER) > MaxFieldLength {
		return nil, certerr.User(certerr.KindTooLong, "der exceeds maximum field length", nil)
	}
	if len(c.Subject) > MaxFieldLength {
		return nil, certerr.User(certerr.KindTooLong, "subject exceeds maximum field length", nil)
	}

	buf := bytes.NewBuffer(make([]byte, 0, 1+2+len(c.DER)+2+len(c.Subject)+2))
	buf.WriteByte(certRecordVersion)
	if err := binary.Write(buf, binary.BigEndian, uint16(len(c.DER))); err != nil {
		return nil, certerr.Internal(certerr.KindInternal, "writing der length", err)
	}
	buf.Write(c.DER)
	if err := binary.Write(buf, binary.BigEndian, uint16(len(c.Subject))); err != nil {
		return nil, certerr.Internal(certerr.KindInternal, "writing subject length", err)
	}
	buf.Write(c.Subject)
	if err := binary.Write(buf, binary.BigEndian, c.Trust); err != nil {
		return nil, certerr.Internal(certerr.KindInternal, "writing trust", err)
	}
	return buf.Bytes(), nil
}

// DecodeCert parses the binary layout produced by Encode. It fails with a
// MalformedRecord error on a missing/unsupported version, a truncated
// length or body, or trailing bytes.
func DecodeCert(data []byte) (Cert, error) {
	r := bytes.NewReader(data)

	version, err := r.ReadByte()
	if err != nil {
		return Cert{}, certerr.User(certerr.KindMalformedRecord, "missing version byte", err)
	}
	if version != certRecordVersion {
		return Cert{}, certerr.User(certerr.KindMalformedRecord,
			fmt.Sprintf("unsupported cert record version %d", version), nil)
	}

	derLen, err := readU16(r)
	if err != nil {
		return Cert{}, certerr.User(certerr.KindMalformedRecord, "truncated der length", err)
	}
	der := make([]byte, derLen)
	if _, err := readFull(r, der); err != nil {
		return Cert{}, certerr.User(certerr.KindMalformedRecord, "truncated der body", err)
	}

	subjLen, err := readU16(r)
	if err != nil {
		return Cert{}, certerr.User(certerr.KindMalformedRecord, "truncated subject length", err)
	}
	subj := make([]byte, subjLen)
	if _, err := readFull(r, subj); err != nil {
		return Cert{}, certerr.User(certerr.KindMalformedRecord, "truncated subject body", err)
	}

	var trust int16
	if err := binary.Read(r, binary.BigEndian, &trust); err != nil {
		return Cert{}, certerr.User(certerr.KindMalformedRecord, "truncated trust field", err)
	}

	if r.Len() != 0 {
		return Cert{}, certerr.User(certerr.KindMalformedRecord, "trailing bytes after cert record", nil)
	}

	return Cert{DER: der, Subject: subj, Trust: trust}, nil
}

func readU16(r *bytes.Reader) (uint16, error) {
	var v uint16
	if err := binary.Read(r, binary.BigEndian, &v); err != nil {
		return 0, err
	}
	return v, nil
}

func readFull(r *bytes.Reader, dst []byte) (int, error) {
	n, err := r.Read(dst)
	if err != nil && len(dst) != 0 {
		return n, err
	}
	if n != len(dst) {
		return n, fmt.Errorf("short read: got %d want %d", n, len(dst))
	}
	return n, nil
}
