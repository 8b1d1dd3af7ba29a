package database

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

//go:embed schema.sql
var schemaSQL string

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// EnsureSchema creates the storefront tables when they are missing. Statements are idempotent.
func EnsureSchema(ctx context.Context, db execer, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure storefront schema: %w", err)
	}
	log.Info("storefront schema ready", zap.String("schema", Schema))
	return nil
}
