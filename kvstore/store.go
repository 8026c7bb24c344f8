// Package kvstore wraps a bbolt database with the tagged value union the
// engine's on-disk contract requires: readers must fail loudly on a type
// mismatch rather than silently coerce between integers, booleans, and
// blobs.
package kvstore

import (
	"encoding/binary"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"
	bolt "go.etcd.io/bbolt"

	"github.com/mozilla-services/cert-storage/certerr"
)

// Kind tags the type of a stored Value.
type Kind byte

const (
	KindInt64  Kind = 1
	KindUint64 Kind = 2
	KindBool   Kind = 3
	KindBlob   Kind = 4
)

// Value is the tagged union stored at every key. Exactly one accessor is
// valid for a given Kind; callers that call the wrong accessor get a typed
// mismatch error rather than a silently coerced zero value.
type Value struct {
	Kind Kind
	I64  int64
	U64  uint64
	Bool bool
	Blob []byte
}

func Int64Value(v int64) Value   { return Value{Kind: KindInt64, I64: v} }
func Uint64Value(v uint64) Value { return Value{Kind: KindUint64, U64: v} }
func BoolValue(v bool) Value     { return Value{Kind: KindBool, Bool: v} }
func BlobValue(v []byte) Value   { return Value{Kind: KindBlob, Blob: v} }

func (v Value) encode() []byte {
	switch v.Kind {
	case KindInt64:
		buf := make([]byte, 9)
		buf[0] = byte(KindInt64)
		binary.BigEndian.PutUint64(buf[1:], uint64(v.I64))
		return buf
	case KindUint64:
		buf := make([]byte, 9)
		buf[0] = byte(KindUint64)
		binary.BigEndian.PutUint64(buf[1:], v.U64)
		return buf
	case KindBool:
		b := byte(0)
		if v.Bool {
			b = 1
		}
		return []byte{byte(KindBool), b}
	case KindBlob:
		buf := make([]byte, 1+len(v.Blob))
		buf[0] = byte(KindBlob)
		copy(buf[1:], v.Blob)
		return buf
	default:
		panic("kvstore: unknown value kind")
	}
}

func decodeValue(raw []byte) (Value, error) {
	if len(raw) == 0 {
		return Value{}, certerr.Internal(certerr.KindInternal, "empty stored value", nil)
	}
	kind := Kind(raw[0])
	body := raw[1:]
	switch kind {
	case KindInt64:
		if len(body) != 8 {
			return Value{}, certerr.Internal(certerr.KindInternal, "malformed int64 value", nil)
		}
		return Int64Value(int64(binary.BigEndian.Uint64(body))), nil
	case KindUint64:
		if len(body) != 8 {
			return Value{}, certerr.Internal(certerr.KindInternal, "malformed uint64 value", nil)
		}
		return Uint64Value(binary.BigEndian.Uint64(body)), nil
	case KindBool:
		if len(body) != 1 {
			return Value{}, certerr.Internal(certerr.KindInternal, "malformed bool value", nil)
		}
		return BoolValue(body[0] != 0), nil
	case KindBlob:
		return BlobValue(body), nil
	default:
		return Value{}, certerr.Internal(certerr.KindInternal, "unknown stored value kind", nil)
	}
}

// AsInt64 returns the value's int64 payload, or a typed-mismatch error.
func (v Value) AsInt64() (int64, error) {
	if v.Kind != KindInt64 {
		return 0, certerr.Internal(certerr.KindInternal, "value is not an int64", nil)
	}
	return v.I64, nil
}

// AsUint64 returns the value's uint64 payload, or a typed-mismatch error.
func (v Value) AsUint64() (uint64, error) {
	if v.Kind != KindUint64 {
		return 0, certerr.Internal(certerr.KindInternal, "value is not a uint64", nil)
	}
	return v.U64, nil
}

// AsBool returns the value's bool payload, or a typed-mismatch error.
func (v Value) AsBool() (bool, error) {
	if v.Kind != KindBool {
		return false, certerr.Internal(certerr.KindInternal, "value is not a bool", nil)
	}
	return v.Bool, nil
}

// AsBlob returns the value's blob payload, or a typed-mismatch error.
func (v Value) AsBlob() ([]byte, error) {
	if v.Kind != KindBlob {
		return nil, certerr.Internal(certerr.KindInternal, "value is not a blob", nil)
	}
	return v.Blob, nil
}

var bucketName = []byte("security_state")

// Store is a single-bucket bbolt database with tagged values.
type Store struct {
	path string
	log  hclog.Logger
	db   *bolt.DB
}

// Open creates or opens the store at path, ensuring the parent directory
// exists and the backing bucket is present. If the database fails to
// open, the file at path is removed and opened once more. Every call
// returns a new Store; Open does not track stores it has already opened.
func Open(path string, log hclog.Logger) (*Store, error) {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	s := &Store{path: path, log: log}
	if err := s.openOrRecover(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) openOrRecover() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return certerr.Internal(certerr.KindIO, "creating security state directory", err)
	}

	db, err := bolt.Open(s.path, 0o600, nil)
	if err != nil {
		s.log.Warn("security state database failed to open, attempting recovery", "error", err)
		if rmErr := os.Remove(s.path); rmErr != nil && !os.IsNotExist(rmErr) {
			return certerr.Internal(certerr.KindIO, "removing corrupt security state database", rmErr)
		}
		db, err = bolt.Open(s.path, 0o600, nil)
		if err != nil {
			return certerr.Internal(certerr.KindIO, "opening security state database after recovery", err)
		}
		s.log.Info("security state database recovered; prior data was lost")
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		db.Close()
		return certerr.Internal(certerr.KindIO, "creating security state bucket", err)
	}

	s.db = db
	return nil
}

// Close releases the underlying bbolt database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get reads a single value, returning ok=false if the key is absent.
func (s *Store) Get(key []byte) (Value, bool, error) {
	var v Value
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketName).Get(key)
		if raw == nil {
			return nil
		}
		ok = true
		decoded, err := decodeValue(raw)
		if err != nil {
			return err
		}
		v = decoded
		return nil
	})
	if err != nil {
		return Value{}, false, err
	}
	return v, ok, nil
}

// Tx is a single transaction against the bucket: read-write under
// Update, read-only under View.
type Tx struct {
	bucket *bolt.Bucket
}

func (t *Tx) Get(key []byte) (Value, bool, error) {
	raw := t.bucket.Get(key)
	if raw == nil {
		return Value{}, false, nil
	}
	v, err := decodeValue(raw)
	if err != nil {
		return Value{}, false, err
	}
	return v, true, nil
}

func (t *Tx) Put(key []byte, v Value) error {
	return t.bucket.Put(key, v.encode())
}

func (t *Tx) Delete(key []byte) error {
	return t.bucket.Delete(key)
}

// ForEach walks every key/value pair currently in the bucket.
func (t *Tx) ForEach(fn func(key []byte, v Value) error) error {
	return t.bucket.ForEach(func(k, raw []byte) error {
		v, err := decodeValue(raw)
		if err != nil {
			return err
		}
		return fn(k, v)
	})
}

// Update runs fn inside a writable transaction, committing atomically if
// fn returns nil and rolling back otherwise.
func (s *Store) Update(fn func(*Tx) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(&Tx{bucket: tx.Bucket(bucketName)})
	})
}

// View runs fn inside a read-only snapshot transaction.
func (s *Store) View(fn func(*Tx) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return fn(&Tx{bucket: tx.Bucket(bucketName)})
	})
}
