package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v2"

	"github.com/wre314954-sudo/wirenew/internal/core/domain"
	"github.com/wre314954-sudo/wirenew/internal/repository"
)

func profileRows() *pgxmock.Rows {
	return pgxmock.NewRows(profileSelectColumns)
}

func TestProfileRepository_Get(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewProfileRepository(mock)

	createdAt := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	lastLogin := createdAt.Add(time.Hour)
	rows := profileRows().AddRow(
		"acct-1", "Asha Rao", "asha@example.com", "9876543210",
		"12 Wire Rd", "", "Pune", "MH", "411001", "IN",
		"Rao Cables", "GST123",
		true, false, createdAt, createdAt, &lastLogin,
	)

	mock.ExpectQuery(`SELECT .* FROM storefront\.profiles WHERE account_id = \$1`).
		WithArgs("acct-1").
		WillReturnRows(rows)

	profile, err := repo.Get(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if profile.DisplayName != "Asha Rao" || profile.Address.City != "Pune" || profile.Company.TaxID != "GST123" {
		t.Fatalf("unexpected profile: %+v", profile)
	}
	if !profile.Verified || profile.IsAdmin {
		t.Fatalf("unexpected flags: verified=%v admin=%v", profile.Verified, profile.IsAdmin)
	}
	if profile.LastLoginAt == nil || !profile.LastLoginAt.Equal(lastLogin) {
		t.Fatalf("unexpected last login: %v", profile.LastLoginAt)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestProfileRepository_GetNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewProfileRepository(mock)

	mock.ExpectQuery(`SELECT .* FROM storefront\.profiles`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	if _, err := repo.Get(context.Background(), "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestProfileRepository_FindByPhonePrefersVerified(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewProfileRepository(mock)

	now := time.Now().UTC()
	rows := profileRows().AddRow(
		"acct-2", "", "b@example.com", "9876543210",
		"", "", "", "", "", "",
		"", "",
		true, false, now, now, nil,
	)

	mock.ExpectQuery(`FROM storefront\.profiles WHERE phone = \$1 ORDER BY verified DESC, updated_at DESC LIMIT 1`).
		WithArgs("9876543210").
		WillReturnRows(rows)

	profile, err := repo.FindByPhone(context.Background(), "9876543210")
	if err != nil {
		t.Fatalf("FindByPhone returned error: %v", err)
	}
	if profile.AccountID != "acct-2" {
		t.Fatalf("unexpected account %s", profile.AccountID)
	}
	if profile.LastLoginAt != nil {
		t.Fatalf("expected nil last login, got %v", profile.LastLoginAt)
	}
}

func TestProfileRepository_MergeWritesOnlyPresentColumns(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewProfileRepository(mock)

	at := time.Date(2025, 5, 6, 7, 8, 9, 0, time.UTC)
	verified := true

	expected := "INSERT INTO storefront.profiles (account_id,verified,created_at,updated_at) VALUES ($1,$2,$3,$4) " +
		"ON CONFLICT (account_id) DO UPDATE SET verified = EXCLUDED.verified, updated_at = EXCLUDED.updated_at"

	mock.ExpectExec(regexp.QuoteMeta(expected)).
		WithArgs("acct-1", true, at, at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := repo.Merge(context.Background(), "acct-1", domain.ProfilePatch{Verified: &verified}, at); err != nil {
		t.Fatalf("Merge returned error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestProfileRepository_MergeExpandsAddress(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewProfileRepository(mock)

	at := time.Now().UTC()
	name := "Asha"
	address := domain.Address{Line1: "12 Wire Rd", City: "Pune", Country: "IN"}

	mock.ExpectExec(`INSERT INTO storefront\.profiles \(account_id,display_name,address_line1,address_line2,address_city,address_state,address_postal_code,address_country,created_at,updated_at\)`).
		WithArgs("acct-1", "Asha", "12 Wire Rd", "", "Pune", "", "", "IN", at, at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = repo.Merge(context.Background(), "acct-1", domain.ProfilePatch{DisplayName: &name, Address: &address}, at)
	if err != nil {
		t.Fatalf("Merge returned error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestProfileRepository_MergeRequiresAccountID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewProfileRepository(mock)
	if err := repo.Merge(context.Background(), " ", domain.ProfilePatch{}, time.Now()); err == nil {
		t.Fatal("expected error for empty account id")
	}
}
