// Package reconcile makes sure the configured administrator account exists.
//
// Two policies are supported and exactly one is chosen at startup:
//
//   - create_only: create the account when missing, never touch an existing one.
//   - create_or_update: additionally bring an existing account's password and
//     role in line with configuration. The password check uses bcrypt verify,
//     not hash equality, so an unchanged password does not cause a write.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/geocoder89/feedbackhub/internal/domain/account"
)

type Policy string

const (
	PolicyCreateOnly     Policy = "create_only"
	PolicyCreateOrUpdate Policy = "create_or_update"
)

func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyCreateOnly:
		return PolicyCreateOnly, nil
	case PolicyCreateOrUpdate:
		return PolicyCreateOrUpdate, nil
	default:
		return "", fmt.Errorf("unknown admin reconcile policy %q (want %s or %s)", s, PolicyCreateOnly, PolicyCreateOrUpdate)
	}
}

type Outcome string

const (
	OutcomeSkipped   Outcome = "skipped"
	OutcomeExisting  Outcome = "existing"
	OutcomeCreated   Outcome = "created"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeUpdated   Outcome = "updated"
)

var ErrAlreadyBootstrapped = errors.New("accounts already exist")

type Input struct {
	Email    string
	Password string
	Role     string
}

type Result struct {
	Outcome Outcome
	Account account.Account
}

// Accounts is the slice of accounts.Service the reconciler needs.
type Accounts interface {
	FindByEmail(ctx context.Context, email string) (account.Account, error)
	Count(ctx context.Context) (int, error)
	Create(ctx context.Context, email, password, role string) (account.Account, error)
	UpdateCredentials(ctx context.Context, id, password, role string) (account.Account, error)
}

type Verifier interface {
	Verify(ctx context.Context, plain, hash string) bool
}

// OutcomeMetric is notified once per Run.
type OutcomeMetric func(outcome Outcome)

type Reconciler struct {
	policy   Policy
	accounts Accounts
	verifier Verifier
	log      *slog.Logger
	observe  OutcomeMetric
}

func New(policy Policy, accounts Accounts, verifier Verifier, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	if policy == "" {
		policy = PolicyCreateOnly
	}

	return &Reconciler{
		policy:   policy,
		accounts: accounts,
		verifier: verifier,
		log:      log.With("component", "admin_reconciler", "policy", string(policy)),
	}
}

func (r *Reconciler) OnOutcome(fn OutcomeMetric) {
	r.observe = fn
}

func (r *Reconciler) Policy() Policy {
	return r.policy
}

// Run applies the configured policy once. Password and hash are never logged.
func (r *Reconciler) Run(ctx context.Context, in Input) (Result, error) {
	res, err := r.run(ctx, in)

	if r.observe != nil {
		outcome := res.Outcome
		if err != nil && outcome == "" {
			outcome = "error"
		}
		r.observe(outcome)
	}

	return res, err
}

func (r *Reconciler) run(ctx context.Context, in Input) (Result, error) {
	if in.Email == "" || in.Password == "" {
		r.log.InfoContext(ctx, "admin reconcile skipped: ADMIN_EMAIL or ADMIN_PASSWORD not set")
		return Result{Outcome: OutcomeSkipped}, nil
	}

	role := in.Role
	if role == "" {
		role = account.RoleAdmin
	}

	existing, err := r.accounts.FindByEmail(ctx, in.Email)
	if err != nil && !errors.Is(err, account.ErrNotFound) {
		return Result{}, fmt.Errorf("lookup admin account: %w", err)
	}

	if errors.Is(err, account.ErrNotFound) {
		return r.create(ctx, in.Email, in.Password, role)
	}

	if r.policy == PolicyCreateOnly {
		r.log.InfoContext(ctx, "admin account already exists", "email", in.Email, "account_id", existing.ID)
		return Result{Outcome: OutcomeExisting, Account: existing}, nil
	}

	if r.verifier.Verify(ctx, in.Password, existing.PasswordHash) && existing.Role == role {
		r.log.InfoContext(ctx, "admin account unchanged", "email", in.Email, "account_id", existing.ID)
		return Result{Outcome: OutcomeUnchanged, Account: existing}, nil
	}

	updated, err := r.accounts.UpdateCredentials(ctx, existing.ID, in.Password, role)
	if err != nil {
		return Result{}, fmt.Errorf("update admin account: %w", err)
	}

	r.log.InfoContext(ctx, "admin account updated", "email", in.Email, "account_id", updated.ID)
	return Result{Outcome: OutcomeUpdated, Account: updated}, nil
}

func (r *Reconciler) create(ctx context.Context, email, password, role string) (Result, error) {
	created, err := r.accounts.Create(ctx, email, password, role)
	if err != nil {
		if errors.Is(err, account.ErrDuplicate) {
			// another reconciliation won the race
			return Result{Outcome: OutcomeExisting}, fmt.Errorf("create admin account: %w", err)
		}
		return Result{}, fmt.Errorf("create admin account: %w", err)
	}

	r.log.InfoContext(ctx, "admin account created", "email", email, "account_id", created.ID)
	return Result{Outcome: OutcomeCreated, Account: created}, nil
}

// Bootstrap creates the first administrator only while the accounts table is empty.
func (r *Reconciler) Bootstrap(ctx context.Context, in Input) (Result, error) {
	if in.Email == "" || in.Password == "" {
		return Result{Outcome: OutcomeSkipped}, nil
	}

	n, err := r.accounts.Count(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("count accounts: %w", err)
	}

	if n > 0 {
		r.log.InfoContext(ctx, "admin bootstrap skipped", "accounts", n)
		return Result{Outcome: OutcomeSkipped}, ErrAlreadyBootstrapped
	}

	role := in.Role
	if role == "" {
		role = account.RoleAdmin
	}

	return r.create(ctx, in.Email, in.Password, role)
}
