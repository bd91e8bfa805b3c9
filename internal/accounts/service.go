// Package accounts is the single entry point for reading and mutating account records.
// Duplicate-email protection is a lookup before insert; the store's unique index backs it up.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/geocoder89/feedbackhub/internal/domain/account"
	"github.com/geocoder89/feedbackhub/internal/events"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Repository is the persistence port (repo/postgres and repo/memory implement it).
type Repository interface {
	GetByEmail(ctx context.Context, email string) (account.Account, error)
	GetByID(ctx context.Context, id string) (account.Account, error)
	Count(ctx context.Context) (int, error)
	Insert(ctx context.Context, a account.Account) (account.Account, error)
	UpdateCredentials(ctx context.Context, id, passwordHash, role string, at time.Time) (account.Account, error)
}

type PasswordHasher interface {
	Hash(ctx context.Context, plain string) (string, error)
}

type Service struct {
	repo   Repository
	hasher PasswordHasher
	events events.Publisher
	log    *slog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

func NewService(repo Repository, hasher PasswordHasher, pub events.Publisher, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if pub == nil {
		pub = events.NewLogPublisher(log)
	}

	return &Service{
		repo:   repo,
		hasher: hasher,
		events: pub,
		log:    log,
		tracer: otel.Tracer("github.com/geocoder89/feedbackhub/internal/accounts"),
		now:    time.Now,
	}
}

func (s *Service) FindByEmail(ctx context.Context, email string) (account.Account, error) {
	ctx, span := s.tracer.Start(ctx, "accounts.FindByEmail")
	defer span.End()

	a, err := s.repo.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, account.ErrNotFound) {
		span.SetStatus(codes.Error, err.Error())
	}
	return a, err
}

func (s *Service) FindByID(ctx context.Context, id string) (account.Account, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}

// Create registers a new account. An empty role means staff.
func (s *Service) Create(ctx context.Context, email, password, role string) (account.Account, error) {
	ctx, span := s.tracer.Start(ctx, "accounts.Create")
	defer span.End()

	if role == "" {
		role = account.RoleStaff
	}
	span.SetAttributes(attribute.String("account.role", role))

	_, err := s.repo.GetByEmail(ctx, email)
	if err == nil {
		return account.Account{}, account.ErrDuplicate
	}
	if !errors.Is(err, account.ErrNotFound) {
		span.SetStatus(codes.Error, err.Error())
		return account.Account{}, fmt.Errorf("lookup account: %w", err)
	}

	hash, err := s.hasher.Hash(ctx, password)
	if err != nil {
		span.SetStatus(codes.Error, "hash failed")
		return account.Account{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()

	a, err := s.repo.Insert(ctx, account.Account{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		if errors.Is(err, account.ErrDuplicate) {
			return account.Account{}, account.ErrDuplicate
		}
		span.SetStatus(codes.Error, err.Error())
		return account.Account{}, fmt.Errorf("insert account: %w", err)
	}

	s.publish(ctx, events.AccountCreated, a)

	return a, nil
}

// UpdateCredentials rehashes password and overwrites the stored hash and role in one write.
func (s *Service) UpdateCredentials(ctx context.Context, id, password, role string) (account.Account, error) {
	ctx, span := s.tracer.Start(ctx, "accounts.UpdateCredentials")
	defer span.End()

	if role == "" {
		current, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return account.Account{}, err
		}
		role = current.Role
	}

	hash, err := s.hasher.Hash(ctx, password)
	if err != nil {
		span.SetStatus(codes.Error, "hash failed")
		return account.Account{}, fmt.Errorf("hash password: %w", err)
	}

	a, err := s.repo.UpdateCredentials(ctx, id, hash, role, s.now().UTC())
	if err != nil {
		if !errors.Is(err, account.ErrNotFound) {
			span.SetStatus(codes.Error, err.Error())
			err = fmt.Errorf("update credentials: %w", err)
		}
		return account.Account{}, err
	}

	s.publish(ctx, events.AccountCredentialsUpdated, a)

	return a, nil
}

func (s *Service) publish(ctx context.Context, eventType string, a account.Account) {
	err := s.events.PublishAccountEvent(ctx, events.AccountEvent{
		Type:       eventType,
		AccountID:  a.ID,
		Email:      a.Email,
		Role:       a.Role,
		OccurredAt: s.now().UTC(),
	})
	if err != nil {
		s.log.WarnContext(ctx, "account event publish failed", "type", eventType, "account_id", a.ID, "err", err)
	}
}
