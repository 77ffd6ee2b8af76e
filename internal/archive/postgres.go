package archive

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"smsrelay/internal/codec"
	"smsrelay/internal/types"
)

// DBTX is the minimal interface shared by *pgxpool.Pool and pgx.Tx, so the
// same store works inside or outside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore archives messages in a single table, partition-keyed by
// month. Idempotence comes from the primary key on the identity hash:
// INSERT ... ON CONFLICT DO NOTHING. Schema:
//
//	CREATE TABLE IF NOT EXISTS sms_archive (
//	    hash        TEXT PRIMARY KEY,
//	    partition   TEXT NOT NULL,
//	    device_id   BIGINT NOT NULL,
//	    sender      TEXT NOT NULL,
//	    received_at TEXT NOT NULL,
//	    content     TEXT NOT NULL,
//	    read        BOOLEAN NOT NULL,
//	    seq         BIGSERIAL,
//	    archived_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
//	CREATE INDEX IF NOT EXISTS sms_archive_partition_idx ON sms_archive (partition, seq);
type PostgresStore struct {
	db     DBTX
	codec  codec.Codec
	logger *slog.Logger
}

// NewPostgresStore creates a PostgresStore backed by the given connection
// (pool or transaction).
func NewPostgresStore(db DBTX, contentCodec codec.Codec, logger *slog.Logger) *PostgresStore {
	if contentCodec == nil {
		contentCodec = codec.PlainCodec{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{db: db, codec: contentCodec, logger: logger}
}

// EnsureSchema creates the archive table if it does not exist. Called once at
// startup by the factory.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS sms_archive (
		    hash        TEXT PRIMARY KEY,
		    partition   TEXT NOT NULL,
		    device_id   BIGINT NOT NULL,
		    sender      TEXT NOT NULL,
		    received_at TEXT NOT NULL,
		    content     TEXT NOT NULL,
		    read        BOOLEAN NOT NULL,
		    seq         BIGSERIAL,
		    archived_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return types.NewAppError(types.ErrCodeArchive, "creating sms_archive table failed", err)
	}
	_, err = s.db.Exec(ctx,
		`CREATE INDEX IF NOT EXISTS sms_archive_partition_idx ON sms_archive (partition, seq)`)
	if err != nil {
		return types.NewAppError(types.ErrCodeArchive, "creating sms_archive index failed", err)
	}
	return nil
}

// Append inserts records idempotently; existing hashes are skipped by the
// database, never by a racy pre-check.
func (s *PostgresStore) Append(ctx context.Context, month Month, records []Record) (int, error) {
	added := 0
	for _, r := range records {
		stored, err := s.codec.Encode(r.Content)
		if err != nil {
			return added, types.NewAppError(types.ErrCodeArchive, "encoding archived content failed", err)
		}

		tag, err := s.db.Exec(ctx,
			`INSERT INTO sms_archive (hash, partition, device_id, sender, received_at, content, read)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (hash) DO NOTHING`,
			r.Hash,
			month.String(),
			r.ID,
			r.Sender,
			r.ReceivedAt,
			stored.Tagged(),
			r.Read,
		)
		if err != nil {
			return added, types.NewAppError(types.ErrCodeArchive, "archive insert failed", err)
		}
		added += int(tag.RowsAffected())
	}

	if added > 0 {
		s.logger.InfoContext(ctx, "messages archived",
			"partition", month.String(),
			"added", added,
			"offered", len(records),
		)
	}
	return added, nil
}

// Read returns a partition's records in first-seen (seq) order.
func (s *PostgresStore) Read(ctx context.Context, month Month) ([]Record, error) {
	rows, err := s.db.Query(ctx,
		`SELECT hash, device_id, sender, received_at, content, read
		 FROM sms_archive
		 WHERE partition = $1
		 ORDER BY seq`,
		month.String(),
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeArchive, "archive query failed", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var tagged string
		if err := rows.Scan(&r.Hash, &r.ID, &r.Sender, &r.ReceivedAt, &tagged, &r.Read); err != nil {
			return nil, types.NewAppError(types.ErrCodeArchive, "archive row scan failed", err)
		}
		content, err := s.codec.Decode(codec.ParseStored(tagged))
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeArchive, "undecodable archived content", err)
		}
		r.Content = content
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeArchive, "archive rows failed", err)
	}
	return records, nil
}
