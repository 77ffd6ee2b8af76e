// Package archive keeps the append-only, time-partitioned record of every
// message ever classified as new. Partitions are calendar months. Writes are
// idempotent under the identity hash: re-appending a batch after a crash
// merges instead of duplicating, which is what lets the poll controller
// archive before saving state without risking double records.
//
// Two backends exist behind the Store interface: monthly JSON files (the
// default, no infrastructure needed) and a Postgres table for installations
// that already run a database.
package archive

import (
	"context"
	"time"

	"smsrelay/internal/types"
)

// Record is one archived message plus its identity hash. The hash is stored
// so readers and merges never need to recompute it against re-encoded content.
type Record struct {
	types.Message
	Hash string `json:"hash"`
}

// NewRecord builds a Record from a message.
func NewRecord(m types.Message) Record {
	return Record{Message: m, Hash: types.IdentityHash(m)}
}

// Month is a calendar partition key, derived from wall-clock time.
type Month struct {
	Year  int
	Month time.Month
}

// MonthOf returns the partition for a point in time.
func MonthOf(t time.Time) Month {
	return Month{Year: t.Year(), Month: t.Month()}
}

// String renders the partition as YYYY-MM, the form used in file names.
func (m Month) String() string {
	return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC).Format("2006-01")
}

// Before reports whether m is an earlier partition than other.
func (m Month) Before(other Month) bool {
	if m.Year != other.Year {
		return m.Year < other.Year
	}
	return m.Month < other.Month
}

// Store is the archive contract. Append merges records into the partition
// idempotently by hash and reports how many were actually added. Read returns
// a partition's records in first-seen order.
type Store interface {
	Append(ctx context.Context, month Month, records []Record) (added int, err error)
	Read(ctx context.Context, month Month) ([]Record, error)
}
