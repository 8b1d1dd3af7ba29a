package postgres

import (
	"context"
	"errors"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/wre314954-sudo/wirenew/internal/core/domain"
	"github.com/wre314954-sudo/wirenew/internal/core/port"
	"github.com/wre314954-sudo/wirenew/internal/repository"
)

const credentialsTable = "storefront.credentials"

// CredentialRepository implements port.CredentialRepository using PostgreSQL.
type CredentialRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewCredentialRepository wires a PostgreSQL-backed credential repository.
func NewCredentialRepository(exec pgExecutor) *CredentialRepository {
	return &CredentialRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Create inserts a credential. A duplicate email yields repository.ErrConflict.
func (r *CredentialRepository) Create(ctx context.Context, credential domain.Credential) error {
	stmt, args, err := r.builder.Insert(credentialsTable).
		Columns("account_id", "email", "password_hash", "created_at").
		Values(credential.AccountID, credential.Email, credential.PasswordHash, credential.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert credential sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

// GetByEmail retrieves the credential registered for email.
func (r *CredentialRepository) GetByEmail(ctx context.Context, email string) (*domain.Credential, error) {
	return r.getBy(ctx, squirrel.Eq{"email": email})
}

// GetByID retrieves the credential owned by id.
func (r *CredentialRepository) GetByID(ctx context.Context, id domain.AccountID) (*domain.Credential, error) {
	return r.getBy(ctx, squirrel.Eq{"account_id": id})
}

func (r *CredentialRepository) getBy(ctx context.Context, pred squirrel.Eq) (*domain.Credential, error) {
	stmt, args, err := r.builder.
		Select("account_id", "email", "password_hash", "created_at").
		From(credentialsTable).
		Where(pred).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select credential sql: %w", err)
	}

	var credential domain.Credential
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(
		&credential.AccountID,
		&credential.Email,
		&credential.PasswordHash,
		&credential.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan credential: %w", err)
	}
	return &credential, nil
}

var _ port.CredentialRepository = (*CredentialRepository)(nil)
