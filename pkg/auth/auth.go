// Package auth issues and verifies the bearer tokens of the API and
// manages local users.
package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/bizflycloud/edna/pkg/store"
)

const (
	RoleAdmin = "admin"
	RoleUser  = "user"

	TokenType = "bearer"

	defaultAdmin         = "admin"
	defaultAdminPassword = "admin"
)

var (
	ErrInvalidCredentials = errors.New("incorrect username or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrInvalidRole        = errors.New("invalid role")
)

// UserStore is the part of the state store used for accounts.
type UserStore interface {
	GetUser(ctx context.Context, username string) (*store.User, error)
	CreateUser(ctx context.Context, u store.User) error
	CountUsers(ctx context.Context) (int, error)
}

// Claims are the JWT claims of an access token.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Token is the login response.
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	Username    string    `json:"username"`
	Role        string    `json:"role"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Authenticator checks credentials against the user store and signs
// HS256 tokens.
type Authenticator struct {
	users  UserStore
	secret []byte
	expire time.Duration
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	revoked map[string]time.Time
}

// New returns an Authenticator. An empty secret is replaced by a random
// one, so tokens do not survive a restart.
func New(users UserStore, secret string, expire time.Duration, logger *zap.Logger) (*Authenticator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate jwt secret: %w", err)
		}
		logger.Warn("auth.jwt.secret_key is not set, using a random key")
	}
	if expire <= 0 {
		expire = 24 * time.Hour
	}
	return &Authenticator{
		users:   users,
		secret:  key,
		expire:  expire,
		logger:  logger,
		now:     time.Now,
		revoked: make(map[string]time.Time),
	}, nil
}

// Login verifies the password of username and issues a token.
func (a *Authenticator) Login(ctx context.Context, username, password string) (*Token, error) {
	u, err := a.users.GetUser(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		a.logger.Info("Rejected login", zap.String("username", username))
		return nil, ErrInvalidCredentials
	}
	return a.Issue(u.Username, u.Role)
}

// Issue signs a token for username.
func (a *Authenticator) Issue(username, role string) (*Token, error) {
	now := a.now()
	exp := now.Add(a.expire)
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &Token{
		AccessToken: signed,
		TokenType:   TokenType,
		Username:    username,
		Role:        role,
		ExpiresAt:   exp,
	}, nil
}

// Verify parses and validates a token.
func (a *Authenticator) Verify(tokenString string) (*Claims, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	token, err := parser.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	a.mu.Lock()
	_, revoked := a.revoked[claims.ID]
	a.mu.Unlock()
	if revoked {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Logout revokes a token until it expires.
func (a *Authenticator) Logout(c *Claims) {
	if c == nil || c.ID == "" {
		return
	}
	now := a.now()
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, exp := range a.revoked {
		if exp.Before(now) {
			delete(a.revoked, id)
		}
	}
	exp := now.Add(a.expire)
	if c.ExpiresAt != nil {
		exp = c.ExpiresAt.Time
	}
	a.revoked[c.ID] = exp
}

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// CreateUser adds a local account.
func (a *Authenticator) CreateUser(ctx context.Context, username, password, role string) error {
	if role != RoleAdmin && role != RoleUser {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	if username == "" || password == "" {
		return errors.New("username and password are required")
	}
	h, err := HashPassword(password)
	if err != nil {
		return err
	}
	return a.users.CreateUser(ctx, store.User{Username: username, PasswordHash: h, Role: role, CreatedAt: a.now()})
}

// EnsureAdmin creates the admin account when the store has no user yet.
func (a *Authenticator) EnsureAdmin(ctx context.Context, password string) (bool, error) {
	n, err := a.users.CountUsers(ctx)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	if password == "" {
		password = defaultAdminPassword
		a.logger.Warn("Created admin user with the default password, change it")
	}
	if err := a.CreateUser(ctx, defaultAdmin, password, RoleAdmin); err != nil {
		return false, err
	}
	a.logger.Info("Created admin user", zap.String("username", defaultAdmin))
	return true, nil
}
