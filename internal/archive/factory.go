package archive

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"smsrelay/internal/codec"
	"smsrelay/internal/config"
	"smsrelay/internal/types"
)

// NewStore builds the archive backend selected by configuration. The returned
// close function releases backend resources (a no-op for the file backend)
// and must be called on shutdown.
func NewStore(ctx context.Context, cfg *config.Config, contentCodec codec.Codec, logger *slog.Logger) (Store, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Archive.Backend {
	case "file":
		return NewFileStore(cfg.ArchiveDir(), contentCodec, logger), func() {}, nil

	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Archive.DatabaseURL.Unmask())
		if err != nil {
			return nil, nil, types.NewAppError(types.ErrCodeArchive, "connecting to archive database failed", err)
		}
		store := NewPostgresStore(pool, contentCodec, logger)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil

	default:
		// Unreachable when config validation ran, kept for direct construction.
		return nil, nil, types.NewAppError(types.ErrCodeConfigInvalid,
			fmt.Sprintf("unknown archive backend %q", cfg.Archive.Backend), nil)
	}
}
