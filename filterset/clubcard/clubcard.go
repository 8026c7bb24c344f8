// Package clubcard is a minimal, from-scratch decoder and evaluator for a
// clubcard-like serialized revocation filter. It exists to give the
// filterset.Filter interface a concrete implementation: the real CRLite
// evaluator is a Rust-only, Mozilla-internal library with no Go
// ecosystem equivalent, so this format is original to this module and
// intentionally simple rather than a faithful port of Mozilla's cuckoo
// table construction.
//
// Wire format (all integers big-endian):
//
//	magic      [4]byte = "CLUB"
//	universeLo uint64  // inclusive start of the covered timestamp window
//	universeHi uint64  // inclusive end of the covered timestamp window
//	logIDCount uint16
//	logIDs     [logIDCount][32]byte   // enrolled CT log IDs
//	entryCount uint32
//	entries    [entryCount]{
//	    keyHash  [32]byte  // sha256(issuerSPKIHash ‖ serial)
//	    status   byte      // 0=good 1=not_enrolled 2=revoked
//	}
//	crc32      uint32      // over every preceding byte
package clubcard

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"hash/crc32"

	"github.com/mozilla-services/cert-storage/certerr"
	"github.com/mozilla-services/cert-storage/filterset"
)

var magic = [4]byte{'C', 'L', 'U', 'B'}

// Filter is a decoded in-memory clubcard filter.
type Filter struct {
	universeLo, universeHi uint64
	logIDs                 map[[32]byte]struct{}
	entries                map[[32]byte]filterset.Status
}

// Decode parses raw bytes into a Filter. It returns an InvalidFilter error
// if the header, length fields, or trailing checksum don't validate.
func Decode(raw []byte) (*Filter, error) {
	if len(raw) < 4+8+8+2+4+4 {
		return nil, certerr.User(certerr.KindInvalidFilter, "filter too short", nil)
	}
	if !bytes.Equal(raw[:4], magic[:]) {
		return nil, certerr.User(certerr.KindInvalidFilter, "bad magic", nil)
	}

	body := raw[:len(raw)-4]
	wantCRC := binary.BigEndian.Uint32(raw[len(raw)-4:])
	if crc32.ChecksumIEEE(body) != wantCRC {
		return nil, certerr.User(certerr.KindInvalidFilter, "checksum mismatch", nil)
	}

	r := bytes.NewReader(raw[4:])

	var lo, hi uint64
	if err := binary.Read(r, binary.BigEndian, &lo); err != nil {
		return nil, certerr.User(certerr.KindInvalidFilter, "truncated universe low", err)
	}
	if err := binary.Read(r, binary.BigEndian, &hi); err != nil {
		return nil, certerr.User(certerr.KindInvalidFilter, "truncated universe high", err)
	}

	var logIDCount uint16
	if err := binary.Read(r, binary.BigEndian, &logIDCount); err != nil {
		return nil, certerr.User(certerr.KindInvalidFilter, "truncated log id count", err)
	}
	logIDs := make(map[[32]byte]struct{}, logIDCount)
	for i := 0; i < int(logIDCount); i++ {
		var id [32]byte
		if _, err := readFull(r, id[:]); err != nil {
			return nil, certerr.User(certerr.KindInvalidFilter, "truncated log id", err)
		}
		logIDs[id] = struct{}{}
	}

	var entryCount uint32
	if err := binary.Read(r, binary.BigEndian, &entryCount); err != nil {
		return nil, certerr.User(certerr.KindInvalidFilter, "truncated entry count", err)
	}
	entries := make(map[[32]byte]filterset.Status, entryCount)
	for i := 0; i < int(entryCount); i++ {
		var keyHash [32]byte
		if _, err := readFull(r, keyHash[:]); err != nil {
			return nil, certerr.User(certerr.KindInvalidFilter, "truncated entry key", err)
		}
		statusByte, err := r.ReadByte()
		if err != nil {
			return nil, certerr.User(certerr.KindInvalidFilter, "truncated entry status", err)
		}
		status, err := decodeStatus(statusByte)
		if err != nil {
			return nil, err
		}
		entries[keyHash] = status
	}

	return &Filter{universeLo: lo, universeHi: hi, logIDs: logIDs, entries: entries}, nil
}

func decodeStatus(b byte) (filterset.Status, error) {
	switch b {
	case 0:
		return filterset.StatusGood, nil
	case 1:
		return filterset.StatusNotEnrolled, nil
	case 2:
		return filterset.StatusRevoked, nil
	default:
		return 0, certerr.User(certerr.KindInvalidFilter, "unknown entry status byte", nil)
	}
}

func readFull(r *bytes.Reader, dst []byte) (int, error) {
	return r.Read(dst)
}

// CoverageCount counts how many of the given timestamps fall within the
// filter's declared universe and enrolled log set.
func (f *Filter) CoverageCount(timestamps []filterset.Timestamp) int {
	count := 0
	for _, ts := range timestamps {
		var logID [32]byte
		copy(logID[:], ts.LogID)
		if _, enrolled := f.logIDs[logID]; !enrolled {
			continue
		}
		if ts.Time >= f.universeLo && ts.Time <= f.universeHi {
			count++
		}
	}
	return count
}

// Has returns this filter's verdict for key. A key found in the entries
// table gets its stored status. This package has no notion of per-issuer
// enrollment independent of the entries table: an absent key is "good"
// when the filter lists at least one enrolled log ID, and "not enrolled"
// when it lists none.
func (f *Filter) Has(key filterset.Key) filterset.Status {
	h := sha256.Sum256(append(append([]byte{}, key.IssuerSPKIHash[:]...), key.Serial...))
	if status, ok := f.entries[h]; ok {
		return status
	}
	if len(f.logIDs) == 0 {
		return filterset.StatusNotEnrolled
	}
	return filterset.StatusGood
}

// Encode serializes a universe window, log ID set and entries table to
// the wire format, primarily for tests that construct filters
// programmatically.
func Encode(universeLo, universeHi uint64, logIDs [][32]byte, entries map[[32]byte]filterset.Status) []byte {
	buf := new(bytes.Buffer)
	buf.Write(magic[:])
	binary.Write(buf, binary.BigEndian, universeLo)
	binary.Write(buf, binary.BigEndian, universeHi)
	binary.Write(buf, binary.BigEndian, uint16(len(logIDs)))
	for _, id := range logIDs {
		buf.Write(id[:])
	}
	binary.Write(buf, binary.BigEndian, uint32(len(entries)))
	for k, v := range entries {
		buf.Write(k[:])
		switch v {
		case filterset.StatusGood:
			buf.WriteByte(0)
		case filterset.StatusNotEnrolled:
			buf.WriteByte(1)
		case filterset.StatusRevoked:
			buf.WriteByte(2)
		default:
			buf.WriteByte(0)
		}
	}
	crc := crc32.ChecksumIEEE(buf.Bytes()[:])
	out := buf.Bytes()
	crcBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(crcBuf, crc)
	return append(out, crcBuf...)
}
