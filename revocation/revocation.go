// Package revocation implements the administrator/vendor-pushed
// revocation store: batch writes keyed by issuer+serial or subject+SPKI
// hash, the "has prior data" flags, and the CRLite freshness clock.
package revocation

import (
	"crypto/sha256"
	"encoding/base64"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/mozilla-services/cert-storage/certdata/keying"
	"github.com/mozilla-services/cert-storage/certerr"
	"github.com/mozilla-services/cert-storage/kvstore"
)

// State is the revocation state code stored for an entry. Exact numeric
// values are part of the on-disk/external contract.
type State int16

const (
	StateUnset       State = 0
	StateEnforce     State = 1
	StateNotEnrolled State = 2
	StateNotCovered  State = 3
	StateNoFilter    State = 4
)

// DataType is the one-byte tag identifying what kind of record a
// "has prior data" flag refers to.
type DataType byte

const (
	DataTypeCertificate       DataType = 0
	DataTypeRevocation        DataType = 1
	DataTypeCRLiteFullFilter  DataType = 2
	DataTypeCRLiteIncremental DataType = 3
)

// freshnessWindow is how long after note_crlite_update_time a prior
// update is still considered fresh.
const freshnessWindow = 10 * 24 * time.Hour

// Base64Entry is one line of an incoming revocation batch: two base64
// fields whose meaning (issuer+serial or subject+SPKI-hash) is determined
// by the caller-selected prefix, plus the state to store.
type Base64Entry struct {
	Part1B64 string
	Part2B64 string
	State    State
}

// SetBatch decodes and writes every entry in one transaction. Entries
// that fail to base64-decode are skipped and logged, not fatal to the
// batch; the per-entry problems are accumulated in a multierror only to
// log their count, and are not returned. SetBatch's return reflects only
// whether the transaction committed.
func SetBatch(store *kvstore.Store, log hclog.Logger, prefix keying.Prefix, entries []Base64Entry, typeByte DataType) error {
	if log == nil {
		log = hclog.NewNullLogger()
	}

	var skipped *multierror.Error
	err := store.Update(func(tx *kvstore.Tx) error {
		if err := tx.Put(keying.Key(keying.PrefixDataType, []byte{byte(typeByte)}), kvstore.BoolValue(true)); err != nil {
			return certerr.Internal(certerr.KindIO, "marking data type as populated", err)
		}

		for _, e := range entries {
			p1, err := base64.StdEncoding.DecodeString(e.Part1B64)
			if err != nil {
				skipped = multierror.Append(skipped, err)
				log.Warn("skipping revocation entry with bad base64 part1", "error", err)
				continue
			}
			p2, err := base64.StdEncoding.DecodeString(e.Part2B64)
			if err != nil {
				skipped = multierror.Append(skipped, err)
				log.Warn("skipping revocation entry with bad base64 part2", "error", err)
				continue
			}
			key := keying.Key(prefix, p1, p2)
			if err := tx.Put(key, kvstore.Int64Value(int64(e.State))); err != nil {
				return certerr.Internal(certerr.KindIO, "writing revocation entry", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if skipped != nil {
		log.Warn("some revocation entries were skipped", "count", skipped.Len())
	}
	return nil
}

// GetRevocationState looks up (issuer, serial) first; if present and
// non-UNSET, that wins. Otherwise it falls back to (subject,
// sha256(pubkey)).
func GetRevocationState(store *kvstore.Store, issuer, serial, subject, pubkey []byte) (State, error) {
	isKey := keying.Key(keying.PrefixIssuerSerial, issuer, serial)
	v, ok, err := store.Get(isKey)
	if err != nil {
		return StateUnset, err
	}
	if ok {
		n, err := v.AsInt64()
		if err != nil {
			return StateUnset, err
		}
		if State(n) != StateUnset {
			return State(n), nil
		}
	}

	spkiHash := sha256.Sum256(pubkey)
	spkKey := keying.Key(keying.PrefixSubjectSPKI, subject, spkiHash[:])
	v, ok, err = store.Get(spkKey)
	if err != nil {
		return StateUnset, err
	}
	if !ok {
		return StateUnset, nil
	}
	n, err := v.AsInt64()
	if err != nil {
		return StateUnset, err
	}
	return State(n), nil
}

// GetHasPriorData reports whether any data of the given type has ever
// been written, by reading the stored datatype flag. It does not apply
// the CRLite filter-set rule; securitystate.State.GetHasPriorData answers
// the two CRLite types from its in-memory filter set instead of calling
// this.
func GetHasPriorData(store *kvstore.Store, typeByte DataType) (bool, error) {
	key := keying.Key(keying.PrefixDataType, []byte{byte(typeByte)})
	v, ok, err := store.Get(key)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return v.AsBool()
}

// NoteCRLiteUpdateTime writes the current Unix time as the last CRLite
// update timestamp.
func NoteCRLiteUpdateTime(store *kvstore.Store, now time.Time) error {
	if now.Before(time.Unix(0, 0)) {
		return certerr.Internal(certerr.KindClock, "system clock before unix epoch", nil)
	}
	return store.Update(func(tx *kvstore.Tx) error {
		return tx.Put([]byte(keying.LastCRLiteUpdateKey), kvstore.Uint64Value(uint64(now.Unix())))
	})
}

// IsCRLiteFresh reports whether the last recorded CRLite update is
// within the freshness window of now. A missing key, a stored value
// whose high bit is set (>= 2^63, treated as nonsense), or a clock
// failure are all treated as not fresh.
func IsCRLiteFresh(store *kvstore.Store, now time.Time) (bool, error) {
	if now.Before(time.Unix(0, 0)) {
		return false, nil
	}
	v, ok, err := store.Get([]byte(keying.LastCRLiteUpdateKey))
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	stamp, err := v.AsUint64()
	if err != nil {
		return false, err
	}
	if stamp >= 1<<63 {
		return false, nil
	}
	return uint64(now.Unix()) < stamp+uint64(freshnessWindow.Seconds()), nil
}
