// Package certindex persists the certificate catalog: the serialized
// Cert record keyed by sha256(DER), and the per-subject deduplicated list
// of hashes.
package certindex

import (
	"crypto/sha256"
	"encoding/base64"

	"github.com/hashicorp/go-hclog"

	"github.com/mozilla-services/cert-storage/certdata"
	"github.com/mozilla-services/cert-storage/certdata/keying"
	"github.com/mozilla-services/cert-storage/certerr"
	"github.com/mozilla-services/cert-storage/kvstore"
)

// Base64CertEntry is one incoming certificate: DER and subject arrive
// base64-encoded from the batch caller.
type Base64CertEntry struct {
	DERB64     string
	SubjectB64 string
	Trust      int16
}

// AddCerts decodes and stores every entry in one transaction. Entries
// that fail to base64-decode are skipped with a warning, not fatal to the
// batch.
func AddCerts(store *kvstore.Store, log hclog.Logger, entries []Base64CertEntry) error {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return store.Update(func(tx *kvstore.Tx) error {
		for _, e := range entries {
			der, err := base64.StdEncoding.DecodeString(e.DERB64)
			if err != nil {
				log.Warn("skipping cert entry with bad base64 der", "error", err)
				continue
			}
			subject, err := base64.StdEncoding.DecodeString(e.SubjectB64)
			if err != nil {
				log.Warn("skipping cert entry with bad base64 subject", "error", err)
				continue
			}

			hash := sha256.Sum256(der)
			encoded, err := certdata.Cert{DER: der, Subject: subject, Trust: e.Trust}.Encode()
			if err != nil {
				log.Warn("skipping cert entry that failed to encode", "error", err)
				continue
			}
			if err := tx.Put(keying.Key(keying.PrefixCert, hash[:]), kvstore.BlobValue(encoded)); err != nil {
				return certerr.Internal(certerr.KindIO, "writing cert record", err)
			}

			if err := appendToSubjectIndex(tx, subject, hash[:]); err != nil {
				return err
			}
		}
		return nil
	})
}

func appendToSubjectIndex(tx *kvstore.Tx, subject, hash []byte) error {
	subjectKey := keying.Key(keying.PrefixSubject, subject)
	current, err := loadSubjectList(tx, subjectKey)
	if err != nil {
		return err
	}
	updated, err := current.Add(hash)
	if err != nil {
		return err
	}
	if len(updated) == len(current) {
		return nil
	}
	return tx.Put(subjectKey, kvstore.BlobValue(updated))
}

func loadSubjectList(tx *kvstore.Tx, subjectKey []byte) (certdata.CertHashList, error) {
	v, ok, err := tx.Get(subjectKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	blob, err := v.AsBlob()
	if err != nil {
		return certdata.CertHashList{}, nil
	}
	return certdata.NewCertHashList(blob)
}

// RemoveCertsByHashes decodes each base64 hash, looks up its cert record
// to recover the subject, removes it from the subject index (observing
// any same-batch updates already written to the transaction), and
// deletes the cert record. A hash with no existing cert record is not an
// error.
func RemoveCertsByHashes(store *kvstore.Store, log hclog.Logger, hashesB64 []string) error {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return store.Update(func(tx *kvstore.Tx) error {
		for _, hb64 := range hashesB64 {
			hash, err := base64.StdEncoding.DecodeString(hb64)
			if err != nil {
				log.Warn("skipping remove entry with bad base64 hash", "error", err)
				continue
			}

			certKey := keying.Key(keying.PrefixCert, hash)
			v, ok, err := tx.Get(certKey)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			blob, err := v.AsBlob()
			if err != nil {
				return err
			}
			cert, err := certdata.DecodeCert(blob)
			if err != nil {
				log.Warn("cert record failed to decode during removal", "error", err)
			} else {
				subjectKey := keying.Key(keying.PrefixSubject, cert.Subject)
				current, err := loadSubjectList(tx, subjectKey)
				if err != nil {
					return err
				}
				updated, err := current.Remove(hash)
				if err != nil {
					return err
				}
				if len(updated) != len(current) {
					if err := tx.Put(subjectKey, kvstore.BlobValue(updated)); err != nil {
						return err
					}
				}
			}

			if err := tx.Delete(certKey); err != nil {
				return certerr.Internal(certerr.KindIO, "deleting cert record", err)
			}
		}
		return nil
	})
}

// FindCertsBySubject returns the DER of every certificate currently
// indexed under subject. Per-entry inconsistencies (a hash with no cert
// record) are skipped; partial results are returned rather than an
// error.
func FindCertsBySubject(store *kvstore.Store, subject []byte) ([][]byte, error) {
	var out [][]byte
	err := store.View(func(tx *kvstore.Tx) error {
		list, err := loadSubjectList(tx, keying.Key(keying.PrefixSubject, subject))
		if err != nil {
			return err
		}
		for i := 0; i < list.Len(); i++ {
			hash := list.At(i)
			v, ok, err := tx.Get(keying.Key(keying.PrefixCert, hash))
			if err != nil || !ok {
				continue
			}
			blob, err := v.AsBlob()
			if err != nil {
				continue
			}
			cert, err := certdata.DecodeCert(blob)
			if err != nil {
				continue
			}
			out = append(out, cert.DER)
		}
		return nil
	})
	return out, err
}

// FindCertByHash looks up a single cert record by its SHA-256 hash.
func FindCertByHash(store *kvstore.Store, hash []byte) (der []byte, found bool, err error) {
	err = store.View(func(tx *kvstore.Tx) error {
		v, ok, err := tx.Get(keying.Key(keying.PrefixCert, hash))
		if err != nil || !ok {
			found = false
			return err
		}
		blob, err := v.AsBlob()
		if err != nil {
			return err
		}
		cert, err := certdata.DecodeCert(blob)
		if err != nil {
			return err
		}
		der = cert.DER
		found = true
		return nil
	})
	return der, found, err
}

// HasAllCertsByHash short-circuits false on the first miss; a decode or
// lookup error is surfaced rather than treated as a miss.
func HasAllCertsByHash(store *kvstore.Store, hashes [][]byte) (bool, error) {
	all := true
	err := store.View(func(tx *kvstore.Tx) error {
		for _, h := range hashes {
			_, ok, err := tx.Get(keying.Key(keying.PrefixCert, h))
			if err != nil {
				return err
			}
			if !ok {
				all = false
				return nil
			}
		}
		return nil
	})
	return all, err
}
