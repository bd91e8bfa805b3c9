package postgres_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/geocoder89/feedbackhub/internal/db"
	"github.com/geocoder89/feedbackhub/internal/domain/account"
	"github.com/geocoder89/feedbackhub/internal/repo/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

func setupAccountsRepo(t *testing.T) (*postgres.AccountsRepo, *pgxpool.Pool) {
	t.Helper()

	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN not set")
	}

	ctx := context.Background()

	pool, err := db.NewPool(ctx, dsn, 5)
	if err != nil {
		t.Fatalf("Failed to create pgx pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := db.EnsureSchema(ctx, pool); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	if _, err := pool.Exec(ctx, `TRUNCATE accounts`); err != nil {
		t.Fatalf("failed to truncate accounts: %v", err)
	}

	return postgres.NewAccountsRepo(pool, nil), pool
}

func newAccount(email string) account.Account {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return account.Account{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: "$2a$04$placeholderplaceholderplaceholderplaceholderplacehold",
		Role:         account.RoleStaff,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestAccountsRepo_InsertAndLookup(t *testing.T) {
	repo, _ := setupAccountsRepo(t)
	ctx := context.Background()

	a, err := repo.Insert(ctx, newAccount("a@x.com"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := repo.GetByEmail(ctx, "a@x.com")
	if err != nil || got.ID != a.ID {
		t.Fatalf("GetByEmail = %+v, %v", got, err)
	}

	if _, err := repo.GetByEmail(ctx, "A@x.com"); !errors.Is(err, account.ErrNotFound) {
		t.Fatalf("lookup must be exact-match, got %v", err)
	}

	got, err = repo.GetByID(ctx, a.ID)
	if err != nil || got.Email != "a@x.com" {
		t.Fatalf("GetByID = %+v, %v", got, err)
	}

	n, err := repo.Count(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Count = %d, %v", n, err)
	}

	if err := repo.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestAccountsRepo_DuplicateEmail(t *testing.T) {
	repo, _ := setupAccountsRepo(t)
	ctx := context.Background()

	if _, err := repo.Insert(ctx, newAccount("dup@x.com")); err != nil {
		t.Fatalf("insert: %v", err)
	}

	_, err := repo.Insert(ctx, newAccount("dup@x.com"))
	if !errors.Is(err, account.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestAccountsRepo_ConcurrentInsertOneWins(t *testing.T) {
	repo, _ := setupAccountsRepo(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 4)

	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = repo.Insert(ctx, newAccount("race@x.com"))
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case !errors.Is(err, account.ErrDuplicate):
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if ok != 1 {
		t.Fatalf("expected exactly one insert to win, got %d", ok)
	}
}

func TestAccountsRepo_UpdateCredentials(t *testing.T) {
	repo, _ := setupAccountsRepo(t)
	ctx := context.Background()

	a, err := repo.Insert(ctx, newAccount("u@x.com"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	at := time.Now().UTC().Add(time.Minute).Truncate(time.Microsecond)
	updated, err := repo.UpdateCredentials(ctx, a.ID, "$2a$04$newhash", account.RoleAdmin, at)
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	if updated.PasswordHash != "$2a$04$newhash" || updated.Role != account.RoleAdmin || !updated.UpdatedAt.Equal(at) {
		t.Fatalf("unexpected update result: %+v", updated)
	}

	if _, err := repo.UpdateCredentials(ctx, uuid.NewString(), "x", account.RoleStaff, at); !errors.Is(err, account.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
