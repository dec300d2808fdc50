package transport

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/pitabwire/dastyar/internal/config"
	"github.com/pitabwire/dastyar/internal/observability"
	"github.com/pitabwire/dastyar/internal/store"
	"github.com/pitabwire/dastyar/model"
)

// Login and logout messages.
const (
	MsgLoginSucceeded  = "با موفقیت وارد شدید. در حال انتقال ..."
	MsgLoginFailed     = "ورود موفقیت آمیز نبود دوباره تلاش کنید."
	MsgLogoutSucceeded = "با موفقیت خارج شدید."
	MsgLogoutFailed    = "خروج موفقیت آمیز نبود دوباره تلاش کنید."
)

// LoginResult is the data of a successful login.
type LoginResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Email     string    `json:"email"`
	Roles     []string  `json:"roles"`
}

// Accounts signs operators in and out.
type Accounts struct {
	operators store.Operators
	tokens    *TokenIssuer
	deny      Denylist
	cfg       config.AuthConfig
	logger    *zap.Logger
	metrics   *observability.Metrics
}

// NewAccounts creates the account service. logger and metrics may be nil.
func NewAccounts(operators store.Operators, tokens *TokenIssuer, deny Denylist, cfg config.AuthConfig, logger *zap.Logger, metrics *observability.Metrics) *Accounts {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BcryptCost < bcrypt.MinCost {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	return &Accounts{operators: operators, tokens: tokens, deny: deny, cfg: cfg, logger: logger, metrics: metrics}
}

// Login checks the password of the operator with email. An unknown email
// signs up a new operator when signup is allowed. Every failure carries the
// same message.
func (a *Accounts) Login(ctx context.Context, email, password string) model.ActionState[*LoginResult] {
	state := a.login(ctx, strings.ToLower(strings.TrimSpace(email)), password)
	a.metrics.RecordAuthAttempt("login", state.Success)
	return state
}

func (a *Accounts) login(ctx context.Context, email, password string) model.ActionState[*LoginResult] {
	logger := observability.RequestLogger(ctx, a.logger)
	if email == "" || password == "" {
		return model.Failed[*LoginResult](MsgLoginFailed)
	}

	op, err := a.operators.OperatorByEmail(ctx, email)
	switch {
	case errors.Is(err, store.ErrNotFound) && a.cfg.AllowSignup:
		op, err = a.signup(ctx, email, password)
		if err != nil {
			logger.Warn("signup failed", zap.Error(err))
			return model.Failed[*LoginResult](MsgLoginFailed)
		}
		logger.Info("operator signed up", zap.String("operator_id", op.ID))
	case err != nil:
		if !errors.Is(err, store.ErrNotFound) {
			logger.Error("operator lookup failed", zap.Error(err))
		}
		return model.Failed[*LoginResult](MsgLoginFailed)
	default:
		if bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(password)) != nil {
			return model.Failed[*LoginResult](MsgLoginFailed)
		}
	}

	token, expiresAt, err := a.tokens.Issue(op)
	if err != nil {
		logger.Error("token issue failed", zap.Error(err))
		return model.Failed[*LoginResult](MsgLoginFailed)
	}
	return model.Succeeded(MsgLoginSucceeded, &LoginResult{
		Token:     token,
		ExpiresAt: expiresAt,
		Email:     op.Email,
		Roles:     op.Roles,
	})
}

func (a *Accounts) signup(ctx context.Context, email, password string) (store.Operator, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cfg.BcryptCost)
	if err != nil {
		return store.Operator{}, err
	}
	return a.operators.CreateOperator(ctx, store.Operator{
		Email:        email,
		PasswordHash: string(hash),
		Roles:        a.cfg.DefaultRoles,
	})
}

// Logout revokes the bearer token of the signed-in operator until it
// expires.
func (a *Accounts) Logout(ctx context.Context, rctx *model.RequestContext) model.ActionState[string] {
	if rctx == nil || rctx.TokenID == "" || a.deny == nil {
		a.metrics.RecordAuthAttempt("logout", false)
		return model.Failed[string](MsgLogoutFailed)
	}
	if err := a.deny.Revoke(ctx, rctx.TokenID, rctx.ExpiresAt); err != nil {
		observability.RequestLogger(ctx, a.logger).Error("token revoke failed", zap.Error(err))
		a.metrics.RecordAuthAttempt("logout", false)
		return model.Failed[string](MsgLogoutFailed)
	}
	a.metrics.RecordAuthAttempt("logout", true)
	return model.Succeeded(MsgLogoutSucceeded, "")
}

// HashPassword hashes a password with the configured cost, for seeding
// operators.
func (a *Accounts) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cfg.BcryptCost)
	return string(hash), err
}
