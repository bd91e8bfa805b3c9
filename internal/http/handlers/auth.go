package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/geocoder89/feedbackhub/internal/auth"
	"github.com/geocoder89/feedbackhub/internal/domain/account"
	"github.com/geocoder89/feedbackhub/internal/http/middlewares"
	"github.com/geocoder89/feedbackhub/internal/reconcile"
	"github.com/gin-gonic/gin"
)

type AccountService interface {
	FindByEmail(ctx context.Context, email string) (account.Account, error)
	FindByID(ctx context.Context, id string) (account.Account, error)
	Create(ctx context.Context, email, password, role string) (account.Account, error)
	UpdateCredentials(ctx context.Context, id, password, role string) (account.Account, error)
}

type PasswordVerifier interface {
	Verify(ctx context.Context, plain, hash string) bool
}

type TokenIssuer interface {
	IssuePair(a account.Account) (auth.Pair, error)
	VerifyRefreshToken(token string) (auth.Claims, error)
}

type AdminBootstrapper interface {
	Bootstrap(ctx context.Context, in reconcile.Input) (reconcile.Result, error)
}

type AuthHandler struct {
	accounts  AccountService
	passwords PasswordVerifier
	tokens    TokenIssuer
	log       *slog.Logger

	bootstrap      AdminBootstrapper
	bootstrapInput reconcile.Input

	// verified against when the email is unknown so both failure paths cost one bcrypt compare
	dummyHash string
	onLogin   func(result string)
}

func NewAuthHandler(accounts AccountService, passwords PasswordVerifier, tokens TokenIssuer, log *slog.Logger) *AuthHandler {
	if log == nil {
		log = slog.Default()
	}

	return &AuthHandler{
		accounts:  accounts,
		passwords: passwords,
		tokens:    tokens,
		log:       log,
		onLogin:   func(string) {},
	}
}

func (h *AuthHandler) WithBootstrap(b AdminBootstrapper, in reconcile.Input) *AuthHandler {
	h.bootstrap = b
	h.bootstrapInput = in
	return h
}

func (h *AuthHandler) WithDummyHash(hash string) *AuthHandler {
	h.dummyHash = hash
	return h
}

func (h *AuthHandler) OnLogin(fn func(result string)) *AuthHandler {
	h.onLogin = fn
	return h
}

type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email,max=254"`
	Password string `json:"password" binding:"required,min=8,max=128"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required,min=8,max=128"`
}

type SetCredentialsRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8,max=128"`
	Role     string `json:"role" binding:"omitempty,oneof=admin staff"`
}

type TokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
	ExpiresIn    int64  `json:"expiresIn"`
}

func tokenResponse(p auth.Pair) TokenResponse {
	return TokenResponse{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		TokenType:    "bearer",
		ExpiresIn:    int64(p.ExpiresIn.Seconds()),
	}
}

// Register creates a staff account. Roles are assigned by admins, never requested.
func (h *AuthHandler) Register(ctx *gin.Context) {
	var req RegisterRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 5*time.Second)
	defer cancel()

	a, err := h.accounts.Create(cctx, req.Email, req.Password, account.RoleStaff)
	if err != nil {
		if errors.Is(err, account.ErrDuplicate) {
			RespondConflict(ctx, "email_taken", "Email is already in use.")
			return
		}

		h.log.ErrorContext(cctx, "register failed", "email", req.Email, "err", err)
		RespondInternal(ctx, "Could not create account")
		return
	}

	ctx.JSON(http.StatusCreated, a)
}

func (h *AuthHandler) Login(ctx *gin.Context) {
	var req LoginRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 5*time.Second)
	defer cancel()

	found, err := h.accounts.FindByEmail(cctx, req.Email)
	if err != nil {
		if !errors.Is(err, account.ErrNotFound) {
			h.onLogin("error")
			h.log.ErrorContext(cctx, "login lookup failed", "err", err)
			RespondInternal(ctx, "Could not sign in")
			return
		}

		h.passwords.Verify(cctx, req.Password, h.dummyHash)
		h.onLogin("invalid_credentials")
		RespondUnAuthorized(ctx, "invalid_credentials", "Email or password is incorrect.")
		return
	}

	if !h.passwords.Verify(cctx, req.Password, found.PasswordHash) {
		h.onLogin("invalid_credentials")
		RespondUnAuthorized(ctx, "invalid_credentials", "Email or password is incorrect.")
		return
	}

	h.upgradeHash(cctx, found, req.Password)

	pair, err := h.tokens.IssuePair(found)
	if err != nil {
		h.onLogin("error")
		h.log.ErrorContext(cctx, "token signing failed", "account_id", found.ID, "err", err)
		RespondInternal(ctx, "Could not generate tokens")
		return
	}

	h.onLogin("success")
	ctx.JSON(http.StatusOK, tokenResponse(pair))
}

type rehasher interface {
	NeedsRehash(hash string) bool
}

// upgradeHash re-hashes a just-verified password stored at an older cost. Failure only logs.
func (h *AuthHandler) upgradeHash(ctx context.Context, a account.Account, password string) {
	r, ok := h.passwords.(rehasher)
	if !ok || !r.NeedsRehash(a.PasswordHash) {
		return
	}

	if _, err := h.accounts.UpdateCredentials(ctx, a.ID, password, ""); err != nil {
		h.log.WarnContext(ctx, "password rehash failed", "account_id", a.ID, "err", err)
		return
	}
	h.log.InfoContext(ctx, "password rehashed at current cost", "account_id", a.ID)
}

// Refresh exchanges a valid refresh token for a new pair carrying the account's current role.
func (h *AuthHandler) Refresh(ctx *gin.Context) {
	var req RefreshRequest

	if !BindJSON(ctx, &req) {
		return
	}

	claims, err := h.tokens.VerifyRefreshToken(req.RefreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			RespondUnAuthorized(ctx, "expired_refresh", "Refresh token expired.")
			return
		}
		RespondUnAuthorized(ctx, "invalid_refresh", "Invalid refresh token.")
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	a, err := h.accounts.FindByID(cctx, claims.Subject)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			RespondUnAuthorized(ctx, "invalid_refresh", "Invalid refresh token.")
			return
		}
		h.log.ErrorContext(cctx, "refresh lookup failed", "account_id", claims.Subject, "err", err)
		RespondInternal(ctx, "Could not refresh session")
		return
	}

	pair, err := h.tokens.IssuePair(a)
	if err != nil {
		h.log.ErrorContext(cctx, "token signing failed", "account_id", a.ID, "err", err)
		RespondInternal(ctx, "Could not generate tokens")
		return
	}

	ctx.JSON(http.StatusOK, tokenResponse(pair))
}

func (h *AuthHandler) Me(ctx *gin.Context) {
	claims, ok := middlewares.ClaimsFromContext(ctx)
	if !ok {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity context")
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	a, err := h.accounts.FindByID(cctx, claims.Subject)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			RespondNotFound(ctx, "Account not found")
			return
		}
		RespondInternal(ctx, "Could not load account")
		return
	}

	ctx.JSON(http.StatusOK, a)
}

func (h *AuthHandler) ChangePassword(ctx *gin.Context) {
	var req ChangePasswordRequest

	if !BindJSON(ctx, &req) {
		return
	}

	id, ok := middlewares.AccountIDFromContext(ctx)
	if !ok {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity context")
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 5*time.Second)
	defer cancel()

	a, err := h.accounts.FindByID(cctx, id)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			RespondNotFound(ctx, "Account not found")
			return
		}
		RespondInternal(ctx, "Could not change password")
		return
	}

	if !h.passwords.Verify(cctx, req.CurrentPassword, a.PasswordHash) {
		RespondUnAuthorized(ctx, "invalid_credentials", "Current password is incorrect.")
		return
	}

	if _, err := h.accounts.UpdateCredentials(cctx, a.ID, req.NewPassword, ""); err != nil {
		h.log.ErrorContext(cctx, "change password failed", "account_id", a.ID, "err", err)
		RespondInternal(ctx, "Could not change password")
		return
	}

	ctx.Status(http.StatusNoContent)
}

// AdminSetCredentials lets an admin reset another account's password and role.
func (h *AuthHandler) AdminSetCredentials(ctx *gin.Context) {
	var req SetCredentialsRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 5*time.Second)
	defer cancel()

	target, err := h.accounts.FindByEmail(cctx, req.Email)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			RespondNotFound(ctx, "Account not found")
			return
		}
		RespondInternal(ctx, "Could not update credentials")
		return
	}

	updated, err := h.accounts.UpdateCredentials(cctx, target.ID, req.Password, req.Role)
	if err != nil {
		h.log.ErrorContext(cctx, "admin credential update failed", "account_id", target.ID, "err", err)
		RespondInternal(ctx, "Could not update credentials")
		return
	}

	actor, _ := middlewares.AccountIDFromContext(ctx)
	h.log.InfoContext(cctx, "credentials updated by admin", "account_id", updated.ID, "actor_id", actor, "role", updated.Role)

	ctx.JSON(http.StatusOK, updated)
}

// BootstrapAdmin creates the configured administrator while no accounts exist.
func (h *AuthHandler) BootstrapAdmin(ctx *gin.Context) {
	if h.bootstrap == nil || h.bootstrapInput.Email == "" || h.bootstrapInput.Password == "" {
		RespondError(ctx, http.StatusBadRequest, "admin_not_configured", "ADMIN_EMAIL and ADMIN_PASSWORD are not configured.", nil)
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 10*time.Second)
	defer cancel()

	res, err := h.bootstrap.Bootstrap(cctx, h.bootstrapInput)
	if err != nil {
		if errors.Is(err, reconcile.ErrAlreadyBootstrapped) || errors.Is(err, account.ErrDuplicate) {
			RespondConflict(ctx, "already_bootstrapped", "Accounts already exist.")
			return
		}
		h.log.ErrorContext(cctx, "admin bootstrap failed", "err", err)
		RespondInternal(ctx, "Could not bootstrap admin")
		return
	}

	if res.Outcome != reconcile.OutcomeCreated {
		RespondError(ctx, http.StatusBadRequest, "admin_not_configured", "ADMIN_EMAIL and ADMIN_PASSWORD are not configured.", nil)
		return
	}

	ctx.JSON(http.StatusCreated, res.Account)
}
