package memory

import (
	"context"
	"sync"
	"time"

	"github.com/geocoder89/feedbackhub/internal/domain/account"
)

// AccountsRepo is an in-process accounts table for tests and local dev.
type AccountsRepo struct {
	mu      sync.RWMutex
	byID    map[string]account.Account
	byEmail map[string]string // email -> id
}

func NewAccountsRepo() *AccountsRepo {
	return &AccountsRepo{
		byID:    make(map[string]account.Account),
		byEmail: make(map[string]string),
	}
}

func (r *AccountsRepo) GetByEmail(_ context.Context, email string) (account.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[email]
	if !ok {
		return account.Account{}, account.ErrNotFound
	}

	return r.byID[id], nil
}

func (r *AccountsRepo) GetByID(_ context.Context, id string) (account.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.byID[id]
	if !ok {
		return account.Account{}, account.ErrNotFound
	}

	return a, nil
}

func (r *AccountsRepo) Count(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.byID), nil
}

// Insert mirrors the unique index on accounts.email.
func (r *AccountsRepo) Insert(_ context.Context, a account.Account) (account.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byEmail[a.Email]; taken {
		return account.Account{}, account.ErrDuplicate
	}
	if _, taken := r.byID[a.ID]; taken {
		return account.Account{}, account.ErrDuplicate
	}

	r.byID[a.ID] = a
	r.byEmail[a.Email] = a.ID

	return a, nil
}

func (r *AccountsRepo) UpdateCredentials(_ context.Context, id, passwordHash, role string, at time.Time) (account.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.byID[id]
	if !ok {
		return account.Account{}, account.ErrNotFound
	}

	a.PasswordHash = passwordHash
	a.Role = role
	a.UpdatedAt = at
	r.byID[id] = a

	return a, nil
}

func (r *AccountsRepo) Ping(context.Context) error {
	return nil
}
