// Package securitystate owns the embedded KV environment, the in-memory
// CRLite filter set, and the outstanding-operation counter. It implements
// lazy database initialization, the legacy revocations.txt migration, and
// the public query/mutation operations the dispatcher wraps.
package securitystate

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	atomicfile "github.com/natefinch/atomic"
	deadlock "github.com/sasha-s/go-deadlock"

	"github.com/mozilla-services/cert-storage/certdata/keying"
	"github.com/mozilla-services/cert-storage/certerr"
	"github.com/mozilla-services/cert-storage/certindex"
	"github.com/mozilla-services/cert-storage/filterset"
	"github.com/mozilla-services/cert-storage/filterset/clubcard"
	"github.com/mozilla-services/cert-storage/kvstore"
	"github.com/mozilla-services/cert-storage/revocation"
)

const (
	securityStateDirName = "security_state"
	kvFileName           = "data.safe.bin"
	fullFilterFileName   = "crlite.filter"
	legacyFileName       = "revocations.txt"
	deltaExtension       = "delta"
)

// legacyCleanupExtensions are removed, along with the named deltas, before
// a new full filter is installed. Legacy extensions from older store
// generations are included so upgrades clean them up too.
var legacyCleanupExtensions = map[string]bool{
	"coverage":   true,
	"delta":      true,
	"enrollment": true,
	"filter":     true,
	"stash":      true,
}

// Config configures a State. There is no on-disk config file for the
// core: every field here is supplied by the embedding host at
// construction time.
type Config struct {
	// ProfileDir is the directory under which security_state/ and
	// revocations.txt live.
	ProfileDir string
	// MinCoverage is the minimum number of covered timestamps a filter
	// must see before it's consulted at all.
	MinCoverage int
	// Logger receives structured diagnostics; defaults to a null logger.
	Logger hclog.Logger
	// Clock returns the current time; defaults to time.Now. Tests
	// override it to exercise freshness edge cases.
	Clock func() time.Time
}

// State is the engine's core: one KV environment, one filter set, one
// outstanding-operation counter. It is safe for concurrent use; callers
// needing the dispatcher's thread-affinity and serialization guarantees
// should go through package dispatch instead of using State directly.
type State struct {
	cfg Config
	log hclog.Logger

	mu      deadlock.RWMutex
	store   *kvstore.Store
	filters *filterset.Set

	outstandingOps int32
}

// New constructs a State without opening the database; the database opens
// lazily on first use, per the engine's concurrency model.
func New(cfg Config) *State {
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &State{
		cfg:     cfg,
		log:     cfg.Logger,
		filters: filterset.NewSet(cfg.MinCoverage),
	}
}

func (s *State) securityStateDir() string {
	return filepath.Join(s.cfg.ProfileDir, securityStateDirName)
}

// IncrementOutstandingOps is called by the dispatcher at task submission
// time. Arithmetic wraps rather than panics, matching the engine's
// counter discipline; callers only ever compare against zero near
// quiescence.
func (s *State) IncrementOutstandingOps() {
	atomic.AddInt32(&s.outstandingOps, 1)
}

// DecrementOutstandingOps is called by the dispatcher at task completion.
func (s *State) DecrementOutstandingOps() {
	atomic.AddInt32(&s.outstandingOps, -1)
}

// RemainingOps returns the current outstanding-operation count.
func (s *State) RemainingOps() int32 {
	return atomic.LoadInt32(&s.outstandingOps)
}

// EnsureOpen performs the lazy single-initializer dance described in the
// engine's design notes: callers take a shared lock, check whether the
// store is open, and if not, drop the shared lock, call EnsureOpen (which
// takes the exclusive lock itself), then re-acquire the shared lock.
// EnsureOpen is idempotent, so two callers racing to open the database
// both converge on a single open.
func (s *State) EnsureOpen() error {
	s.mu.RLock()
	open := s.store != nil
	s.mu.RUnlock()
	if open {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store != nil {
		return nil
	}
	return s.openLocked()
}

// openLocked must be called with mu held exclusively.
func (s *State) openLocked() error {
	dir := s.securityStateDir()
	store, err := kvstore.Open(filepath.Join(dir, kvFileName), s.log)
	if err != nil {
		return err
	}
	s.store = store

	if err := s.migrateLegacyLocked(); err != nil {
		return err
	}

	if err := s.loadFullFilterLocked(); err != nil {
		return err
	}
	if err := s.loadDeltasLocked(); err != nil {
		return err
	}

	return nil
}

// migrateLegacyLocked runs the one-time revocations.txt migration if the
// file is present, then removes it. Must be called with mu held.
func (s *State) migrateLegacyLocked() error {
	path := filepath.Join(s.cfg.ProfileDir, legacyFileName)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return certerr.Internal(certerr.KindIO, "opening legacy revocations file", err)
	}
	defer f.Close()

	s.log.Info("migrating legacy revocations file into security state")

	var skipped *multierror.Error
	err = s.store.Update(func(tx *kvstore.Tx) error {
		var currentDN []byte
		haveDN := false

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}

			switch line[0] {
			case '\t':
				if !haveDN {
					continue
				}
				decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(line[1:]))
				if err != nil {
					skipped = multierror.Append(skipped, err)
					continue
				}
				key := keying.Key(keying.PrefixSubjectSPKI, currentDN, decoded)
				if err := tx.Put(key, kvstore.Int64Value(int64(revocation.StateEnforce))); err != nil {
					return err
				}
			case ' ':
				if !haveDN {
					continue
				}
				decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(line[1:]))
				if err != nil {
					skipped = multierror.Append(skipped, err)
					continue
				}
				key := keying.Key(keying.PrefixIssuerSerial, currentDN, decoded)
				if err := tx.Put(key, kvstore.Int64Value(int64(revocation.StateEnforce))); err != nil {
					return err
				}
			default:
				// A new distinguished name. On decode failure the
				// previously active DN is left in place, exactly as the
				// source migration routine does: only a successful
				// decode updates currentDN.
				decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(line))
				if err != nil {
					skipped = multierror.Append(skipped, err)
					continue
				}
				currentDN = decoded
				haveDN = true
			}
		}
		return scanner.Err()
	})
	if err != nil {
		return certerr.Internal(certerr.KindIO, "migrating legacy revocations", err)
	}
	if skipped != nil {
		s.log.Warn("legacy migration skipped malformed lines", "count", skipped.Len())
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return certerr.Internal(certerr.KindIO, "removing legacy revocations file after migration", err)
	}
	return nil
}

func (s *State) loadFullFilterLocked() error {
	path := filepath.Join(s.securityStateDir(), fullFilterFileName)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return certerr.Internal(certerr.KindIO, "reading full crlite filter", err)
	}
	f, err := clubcard.Decode(raw)
	if err != nil {
		s.log.Warn("full crlite filter failed to parse", "error", err)
		return nil
	}
	s.filters.Reset()
	s.filters.AppendFull(f)
	return nil
}

// loadDeltasLocked is the background delta loader: it scans the store
// directory for files whose extension is exactly "delta" and appends
// every one that parses, in directory order. It runs as part of the same
// open that installs the full filter, so later mutations on the serial
// worker always observe the deltas.
func (s *State) loadDeltasLocked() error {
	dir := s.securityStateDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return certerr.Internal(certerr.KindIO, "scanning security state directory", err)
	}

	var loadErrs *multierror.Error
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if filepath.Ext(entry.Name()) != "."+deltaExtension {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			loadErrs = multierror.Append(loadErrs, err)
			continue
		}
		f, err := clubcard.Decode(raw)
		if err != nil {
			loadErrs = multierror.Append(loadErrs, err)
			continue
		}
		s.filters.AppendDelta(f)
	}
	if loadErrs != nil {
		s.log.Warn("some delta filters failed to load", "count", loadErrs.Len())
	}
	return nil
}

// SetFullCRLiteFilter clears the in-memory filter set, removes every
// filter-family file on disk (current and legacy extensions alike),
// writes the new full filter atomically, records the update time, and
// reloads the filter set from the freshly written file.
func (s *State) SetFullCRLiteFilter(bytesIn []byte) error {
	if err := s.EnsureOpen(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.filters.Reset()

	dir := s.securityStateDir()
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		return certerr.Internal(certerr.KindIO, "scanning security state directory", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.TrimPrefix(filepath.Ext(entry.Name()), ".")
		if legacyCleanupExtensions[ext] {
			if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil && !os.IsNotExist(err) {
				return certerr.Internal(certerr.KindIO, "removing old filter file", err)
			}
		}
	}

	fullPath := filepath.Join(dir, fullFilterFileName)
	if err := atomicfile.WriteFile(fullPath, bytes.NewReader(bytesIn)); err != nil {
		return certerr.Internal(certerr.KindIO, "writing full crlite filter", err)
	}

	if err := revocation.NoteCRLiteUpdateTime(s.store, s.cfg.Clock()); err != nil {
		return err
	}

	return s.loadFullFilterLocked()
}

// AddCRLiteDelta writes bytesIn to filename under the store directory; if
// it parses as a filter it is appended to the in-memory chain. The
// filename's extension is not checked, while the loader run at open only
// reads files ending in ".delta".
func (s *State) AddCRLiteDelta(bytesIn []byte, filename string) error {
	if err := s.EnsureOpen(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.securityStateDir(), filename)
	if err := os.WriteFile(path, bytesIn, 0o600); err != nil {
		return certerr.Internal(certerr.KindIO, "writing crlite delta", err)
	}

	if f, err := clubcard.Decode(bytesIn); err == nil {
		s.filters.AppendDelta(f)
	} else {
		s.log.Warn("crlite delta failed to parse; stored but not loaded", "filename", filename, "error", err)
	}

	return revocation.NoteCRLiteUpdateTime(s.store, s.cfg.Clock())
}

// GetCRLiteRevocationState aggregates the verdict for (issuerSPKI,
// serial, timestamps) across the loaded filter chain, after checking
// freshness.
func (s *State) GetCRLiteRevocationState(issuerSPKI, serial []byte, timestamps []filterset.Timestamp) (revocation.State, error) {
	if err := s.EnsureOpen(); err != nil {
		return revocation.StateNoFilter, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	fresh, err := revocation.IsCRLiteFresh(s.store, s.cfg.Clock())
	if err != nil {
		return revocation.StateNoFilter, err
	}
	if !fresh || s.filters.Len() == 0 {
		return revocation.StateNoFilter, nil
	}

	key := filterset.Key{IssuerSPKIHash: sha256Of(issuerSPKI), Serial: serial}
	switch s.filters.Query(key, timestamps) {
	case filterset.StatusRevoked:
		return revocation.StateEnforce, nil
	case filterset.StatusGood:
		return revocation.StateUnset, nil
	case filterset.StatusNotEnrolled:
		return revocation.StateNotEnrolled, nil
	default:
		return revocation.StateNotCovered, nil
	}
}

// GetRevocationState delegates to the revocation package after ensuring
// the database is open.
func (s *State) GetRevocationState(issuer, serial, subject, pubkey []byte) (revocation.State, error) {
	if err := s.EnsureOpen(); err != nil {
		return revocation.StateUnset, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return revocation.GetRevocationState(s.store, issuer, serial, subject, pubkey)
}

// SetBatchRevocationState delegates to the revocation package under the
// exclusive lock, since it is a mutation.
func (s *State) SetBatchRevocationState(prefix keying.Prefix, entries []revocation.Base64Entry, typeByte revocation.DataType) error {
	if err := s.EnsureOpen(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return revocation.SetBatch(s.store, s.log, prefix, entries, typeByte)
}

// GetHasPriorData reports whether any data of the given type has ever
// been recorded; the two CRLite types are answered from the in-memory
// filter set rather than a stored flag.
func (s *State) GetHasPriorData(typeByte revocation.DataType) (bool, error) {
	if err := s.EnsureOpen(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch typeByte {
	case revocation.DataTypeCRLiteFullFilter:
		return s.filters.HasFull(), nil
	case revocation.DataTypeCRLiteIncremental:
		return s.filters.Len() > 1, nil
	default:
		return revocation.GetHasPriorData(s.store, typeByte)
	}
}

// AddCerts delegates to certindex under the exclusive lock.
func (s *State) AddCerts(entries []certindex.Base64CertEntry) error {
	if err := s.EnsureOpen(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return certindex.AddCerts(s.store, s.log, entries)
}

// RemoveCertsByHashes delegates to certindex under the exclusive lock.
func (s *State) RemoveCertsByHashes(hashesB64 []string) error {
	if err := s.EnsureOpen(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return certindex.RemoveCertsByHashes(s.store, s.log, hashesB64)
}

// FindCertsBySubject is read-only and runs under the shared lock.
func (s *State) FindCertsBySubject(subject []byte) ([][]byte, error) {
	if err := s.EnsureOpen(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return certindex.FindCertsBySubject(s.store, subject)
}

// FindCertByHash is read-only and runs under the shared lock.
func (s *State) FindCertByHash(hash []byte) ([]byte, bool, error) {
	if err := s.EnsureOpen(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return certindex.FindCertByHash(s.store, hash)
}

// HasAllCertsByHash is read-only and runs under the shared lock.
func (s *State) HasAllCertsByHash(hashes [][]byte) (bool, error) {
	if err := s.EnsureOpen(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return certindex.HasAllCertsByHash(s.store, hashes)
}

// Close releases the underlying KV database handle, if open.
func (s *State) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store == nil {
		return nil
	}
	err := s.store.Close()
	s.store = nil
	return err
}

// StoreForMemoryReport exposes the KV store to package memreport without
// widening State's own public surface to every caller.
func (s *State) StoreForMemoryReport() (*kvstore.Store, func(), error) {
	if err := s.EnsureOpen(); err != nil {
		return nil, nil, err
	}
	s.mu.RLock()
	return s.store, s.mu.RUnlock, nil
}

// FilterCount reports how many filters (full + deltas) are loaded, for
// the memory reporter's approximate size estimate.
func (s *State) FilterCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filters.Len()
}

func sha256Of(b []byte) [32]byte {
	return sha256.Sum256(b)
}
