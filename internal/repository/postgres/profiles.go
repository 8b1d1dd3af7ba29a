package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/wre314954-sudo/wirenew/internal/core/domain"
	"github.com/wre314954-sudo/wirenew/internal/core/port"
	"github.com/wre314954-sudo/wirenew/internal/repository"
)

const profilesTable = "storefront.profiles"

var profileSelectColumns = []string{
	"account_id",
	"display_name",
	"email",
	"phone",
	"address_line1",
	"address_line2",
	"address_city",
	"address_state",
	"address_postal_code",
	"address_country",
	"company_name",
	"company_tax_id",
	"verified",
	"is_admin",
	"created_at",
	"updated_at",
	"last_login_at",
}

// ProfileRepository implements port.ProfileRepository using PostgreSQL.
type ProfileRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewProfileRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewProfileRepository(exec pgExecutor) *ProfileRepository {
	return &ProfileRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Get retrieves a profile by account identifier.
func (r *ProfileRepository) Get(ctx context.Context, id domain.AccountID) (*domain.Profile, error) {
	stmt, args, err := r.builder.
		Select(profileSelectColumns...).
		From(profilesTable).
		Where(squirrel.Eq{"account_id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select profile sql: %w", err)
	}

	profile, err := scanProfile(r.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return profile, nil
}

// FindByPhone returns the best matching profile for phone, preferring verified and recently updated rows.
func (r *ProfileRepository) FindByPhone(ctx context.Context, phone string) (*domain.Profile, error) {
	stmt, args, err := r.builder.
		Select(profileSelectColumns...).
		From(profilesTable).
		Where(squirrel.Eq{"phone": phone}).
		OrderBy("verified DESC", "updated_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select profile by phone sql: %w", err)
	}

	profile, err := scanProfile(r.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		return nil, fmt.Errorf("find profile by phone: %w", err)
	}
	return profile, nil
}

// Merge inserts the profile when absent and otherwise overwrites only the columns present in patch.
// updated_at is always stamped with at; created_at is only written on insert.
func (r *ProfileRepository) Merge(ctx context.Context, id domain.AccountID, patch domain.ProfilePatch, at time.Time) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("merge profile: account id is required")
	}

	columns, values := patchColumns(patch)

	insertColumns := append([]string{"account_id"}, columns...)
	insertColumns = append(insertColumns, "created_at", "updated_at")
	insertValues := append([]any{id}, values...)
	insertValues = append(insertValues, at, at)

	assignments := make([]string, 0, len(columns)+1)
	for _, column := range columns {
		assignments = append(assignments, fmt.Sprintf("%s = EXCLUDED.%s", column, column))
	}
	assignments = append(assignments, "updated_at = EXCLUDED.updated_at")

	stmt, args, err := r.builder.
		Insert(profilesTable).
		Columns(insertColumns...).
		Values(insertValues...).
		Suffix("ON CONFLICT (account_id) DO UPDATE SET " + strings.Join(assignments, ", ")).
		ToSql()
	if err != nil {
		return fmt.Errorf("build merge profile sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("merge profile: %w", err)
	}
	return nil
}

func patchColumns(patch domain.ProfilePatch) ([]string, []any) {
	columns := make([]string, 0, 14)
	values := make([]any, 0, 14)
	add := func(column string, value any) {
		columns = append(columns, column)
		values = append(values, value)
	}

	if patch.DisplayName != nil {
		add("display_name", *patch.DisplayName)
	}
	if patch.Email != nil {
		add("email", *patch.Email)
	}
	if patch.Phone != nil {
		add("phone", *patch.Phone)
	}
	if patch.Address != nil {
		add("address_line1", patch.Address.Line1)
		add("address_line2", patch.Address.Line2)
		add("address_city", patch.Address.City)
		add("address_state", patch.Address.State)
		add("address_postal_code", patch.Address.PostalCode)
		add("address_country", patch.Address.Country)
	}
	if patch.Company != nil {
		add("company_name", patch.Company.Name)
		add("company_tax_id", patch.Company.TaxID)
	}
	if patch.Verified != nil {
		add("verified", *patch.Verified)
	}
	if patch.IsAdmin != nil {
		add("is_admin", *patch.IsAdmin)
	}
	if patch.LastLoginAt != nil {
		add("last_login_at", patch.LastLoginAt.UTC())
	}

	return columns, values
}

func scanProfile(row pgx.Row) (*domain.Profile, error) {
	var (
		profile   domain.Profile
		lastLogin *time.Time
	)

	if err := row.Scan(
		&profile.AccountID,
		&profile.DisplayName,
		&profile.Email,
		&profile.Phone,
		&profile.Address.Line1,
		&profile.Address.Line2,
		&profile.Address.City,
		&profile.Address.State,
		&profile.Address.PostalCode,
		&profile.Address.Country,
		&profile.Company.Name,
		&profile.Company.TaxID,
		&profile.Verified,
		&profile.IsAdmin,
		&profile.CreatedAt,
		&profile.UpdatedAt,
		&lastLogin,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan profile: %w", err)
	}

	profile.LastLoginAt = lastLogin
	return &profile, nil
}

var _ port.ProfileRepository = (*ProfileRepository)(nil)
