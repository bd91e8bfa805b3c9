package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/geocoder89/feedbackhub/internal/domain/account"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// DBObserver wraps each logical DB operation (observability.Prom satisfies it).
type DBObserver interface {
	ObserveDB(op string, fn func() error) error
}

type noopObserver struct{}

func (noopObserver) ObserveDB(_ string, fn func() error) error { return fn() }

type AccountsRepo struct {
	pool *pgxpool.Pool
	obs  DBObserver
}

func NewAccountsRepo(pool *pgxpool.Pool, obs DBObserver) *AccountsRepo {
	if obs == nil {
		obs = noopObserver{}
	}
	return &AccountsRepo{pool: pool, obs: obs}
}

const accountColumns = `id, email, password_hash, role, created_at, updated_at`

func scanAccount(row pgx.Row) (account.Account, error) {
	var a account.Account

	err := row.Scan(
		&a.ID,
		&a.Email,
		&a.PasswordHash,
		&a.Role,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return account.Account{}, account.ErrNotFound
		}
		return account.Account{}, err
	}

	return a, nil
}

func (r *AccountsRepo) GetByEmail(ctx context.Context, email string) (account.Account, error) {
	var a account.Account

	err := r.obs.ObserveDB("accounts.get_by_email", func() error {
		var err error
		a, err = scanAccount(r.pool.QueryRow(ctx,
			`SELECT `+accountColumns+`
			FROM accounts
			WHERE email = $1`,
			email,
		))
		if errors.Is(err, account.ErrNotFound) {
			// a miss is not a DB error
			return nil
		}
		return err
	})
	if err != nil {
		return account.Account{}, err
	}

	if a.ID == "" {
		return account.Account{}, account.ErrNotFound
	}

	return a, nil
}

func (r *AccountsRepo) GetByID(ctx context.Context, id string) (account.Account, error) {
	var a account.Account

	err := r.obs.ObserveDB("accounts.get_by_id", func() error {
		var err error
		a, err = scanAccount(r.pool.QueryRow(ctx,
			`SELECT `+accountColumns+`
			FROM accounts
			WHERE id = $1`,
			id,
		))
		if errors.Is(err, account.ErrNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return account.Account{}, err
	}

	if a.ID == "" {
		return account.Account{}, account.ErrNotFound
	}

	return a, nil
}

func (r *AccountsRepo) Count(ctx context.Context) (int, error) {
	var n int

	err := r.obs.ObserveDB("accounts.count", func() error {
		return r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&n)
	})

	return n, err
}

// Insert writes a new account inside its own transaction.
func (r *AccountsRepo) Insert(ctx context.Context, a account.Account) (account.Account, error) {
	err := r.obs.ObserveDB("accounts.insert", func() error {
		return r.inTx(ctx, func(tx pgx.Tx) error {
			_, err := tx.Exec(ctx,
				`INSERT INTO accounts (id, email, password_hash, role, created_at, updated_at)
				VALUES ($1,$2,$3,$4,$5,$6)`,
				a.ID, a.Email, a.PasswordHash, a.Role, a.CreatedAt, a.UpdatedAt,
			)
			return err
		})
	})
	if err != nil {
		if isUniqueViolation(err) {
			return account.Account{}, account.ErrDuplicate
		}
		return account.Account{}, err
	}

	return a, nil
}

// UpdateCredentials overwrites the hash and role of one account; the row is locked for the duration.
func (r *AccountsRepo) UpdateCredentials(ctx context.Context, id, passwordHash, role string, at time.Time) (account.Account, error) {
	var updated account.Account

	err := r.obs.ObserveDB("accounts.update_credentials", func() error {
		return r.inTx(ctx, func(tx pgx.Tx) error {
			var err error
			updated, err = scanAccount(tx.QueryRow(ctx,
				`UPDATE accounts
				SET password_hash = $2, role = $3, updated_at = $4
				WHERE id = $1
				RETURNING `+accountColumns,
				id, passwordHash, role, at,
			))
			return err
		})
	})
	if err != nil {
		return account.Account{}, err
	}

	return updated, nil
}

func (r *AccountsRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *AccountsRepo) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
