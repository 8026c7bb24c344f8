// Package memreport implements the engine's on-demand memory usage
// report: a single walk over the KV store summing key and value sizes,
// plus an approximate per-filter size, reported under a fixed path.
package memreport

import (
	"github.com/mozilla-services/cert-storage/kvstore"
)

// ReportPath is the fixed path under which the engine's memory usage is
// reported in the host's memory reporter registry.
const ReportPath = "explicit/cert-storage/storage"

// approxFilterOverhead is a fixed per-filter estimate standing in for the
// real clubcard structure's in-memory footprint, which this module does
// not track precisely.
const approxFilterOverhead = 256

// Sink receives a single memory-usage sample. An embedding host supplies
// a concrete Sink wired to its own telemetry system.
type Sink interface {
	Report(path string, bytes int64)
}

// Reporter collects and emits a memory usage sample.
type Reporter struct {
	sink Sink
}

func New(sink Sink) *Reporter {
	return &Reporter{sink: sink}
}

// KVSizer is satisfied by anything that can hand memreport a read-only
// view of the current KV contents; securitystate.State.StoreForMemoryReport
// returns one.
type KVSizer interface {
	View(func(*kvstore.Tx) error) error
}

// Collect walks the store once, summing key_len + serialized(value)_len,
// adds filterCount*approxFilterOverhead, and reports the total via the
// configured Sink.
func (r *Reporter) Collect(store KVSizer, filterCount int) error {
	var total int64

	err := store.View(func(tx *kvstore.Tx) error {
		return tx.ForEach(func(key []byte, v kvstore.Value) error {
			total += int64(len(key))
			total += 1 // the stored kind tag byte
			switch v.Kind {
			case kvstore.KindInt64, kvstore.KindUint64:
				total += 8
			case kvstore.KindBool:
				total += 1
			case kvstore.KindBlob:
				total += int64(len(v.Blob))
			}
			return nil
		})
	})
	if err != nil {
		return err
	}

	total += int64(filterCount) * approxFilterOverhead

	if r.sink != nil {
		r.sink.Report(ReportPath, total)
	}
	return nil
}
