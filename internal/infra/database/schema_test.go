package database

import (
	"context"
	"errors"
	"strings"
	"testing"

	pgxmock "github.com/pashagolub/pgxmock/v2"
	"go.uber.org/zap/zaptest"
)

func TestEnsureSchema(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec(`CREATE SCHEMA IF NOT EXISTS storefront`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	if err := EnsureSchema(context.Background(), mock, zaptest.NewLogger(t)); err != nil {
		t.Fatalf("EnsureSchema returned error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestEnsureSchemaPropagatesError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec(`CREATE SCHEMA`).WillReturnError(errors.New("permission denied"))

	err = EnsureSchema(context.Background(), mock, nil)
	if err == nil || !strings.Contains(err.Error(), "permission denied") {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestSchemaDeclaresTables(t *testing.T) {
	for _, table := range []string{"storefront.credentials", "storefront.profiles"} {
		if !strings.Contains(schemaSQL, table) {
			t.Fatalf("schema missing %s", table)
		}
	}
}
