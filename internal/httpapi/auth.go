package httpapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"blankpos/backend/internal/domain"
	"blankpos/backend/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactiveAccount    = errors.New("account is inactive")
)

// AuthManager issues and verifies access tokens for accounts kept in the
// user store.
type AuthManager struct {
	secret   []byte
	tokenTTL time.Duration
	users    store.UserStore
	now      func() time.Time
}

type posCustomClaims struct {
	jwtlib.RegisteredClaims
	Email string `json:"email"`
	Role  string `json:"role"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, users store.UserStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	return &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		users:    users,
		now:      time.Now,
	}
}

func (a *AuthManager) Register(ctx context.Context, req domain.RegisterRequest) (domain.LoginResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || len(req.Password) < 6 {
		return domain.LoginResponse{}, fmt.Errorf("%w: email and a password of at least 6 characters are required", store.ErrInvalidRecord)
	}
	hash, err := hashPassword(req.Password)
	if err != nil {
		return domain.LoginResponse{}, fmt.Errorf("hash password: %w", err)
	}

	account, err := a.users.CreateUser(ctx, domain.UserAccount{
		Email:    email,
		Password: hash,
		Role:     "user",
		Active:   true,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.LoginResponse{}, fmt.Errorf("email already registered: %w", err)
		}
		return domain.LoginResponse{}, err
	}
	return a.issue(account)
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	account, err := a.users.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.LoginResponse{}, ErrInvalidCredentials
		}
		return domain.LoginResponse{}, err
	}
	if !verifyPassword(account.Password, req.Password) {
		return domain.LoginResponse{}, ErrInvalidCredentials
	}
	if !account.Active {
		return domain.LoginResponse{}, ErrInactiveAccount
	}
	return a.issue(account)
}

func (a *AuthManager) CurrentUser(ctx context.Context, userID string) (domain.UserAccount, error) {
	return a.users.GetUserByID(ctx, userID)
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &posCustomClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" || sub == domain.GuestUserID {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	return domain.Actor{UserID: sub, Email: claims.Email, Role: claims.Role}, nil
}

func (a *AuthManager) issue(account domain.UserAccount) (domain.LoginResponse, error) {
	expiresAt := a.now().UTC().Add(a.tokenTTL)
	token, err := a.sign(account, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}
	return domain.LoginResponse{
		AccessToken: token,
		UserID:      account.ID,
		Email:       account.Email,
		Role:        account.Role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) sign(account domain.UserAccount, expiresAt time.Time) (string, error) {
	claims := posCustomClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   account.ID,
			IssuedAt:  jwtlib.NewNumericDate(a.now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "blankpos",
		},
		Email: account.Email,
		Role:  account.Role,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
