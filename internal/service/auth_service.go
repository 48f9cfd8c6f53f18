package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"aquasync/internal/config"
	"aquasync/internal/models"
	"aquasync/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// SignUpInput is a registration request. One account is created per user.
type SignUpInput struct {
	FirstName  string
	LastName   string
	Email      string
	Password   string
	Phone      string // admin contact for alerts, optional
	DeviceName string
	OwnerCode  string
}

// Identity is what a dashboard token proves.
type Identity struct {
	UserID    string `json:"user_id"`
	AccountID string `json:"account_id"`
}

// AuthService handles user auth logic
type AuthService struct {
	repo         *repository.Repository
	cfg          config.AuthConfig
	timeout      time.Duration
	defaultAdmin string
	now          func() time.Time
}

func NewAuthService(repo *repository.Repository, cfg *config.Config) *AuthService {
	return &AuthService{
		repo:         repo,
		cfg:          cfg.Auth,
		timeout:      cfg.Store.Timeout,
		defaultAdmin: cfg.SMS.DefaultAdmin,
		now:          time.Now,
	}
}

func shortID(prefix string) string {
	return prefix + "_" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// SignUp hashes the password and creates the user together with its account.
func (s *AuthService) SignUp(ctx context.Context, in SignUpInput) (Identity, error) {
	if s.cfg.OwnerCode != "" && in.OwnerCode != s.cfg.OwnerCode {
		return Identity{}, ErrInvalidOwnerCode
	}
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		return Identity{}, fmt.Errorf("%w: email %q", ErrInvalidSignUp, in.Email)
	}
	hash, err := hashPassword(in.Password)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidSignUp, err)
	}

	contact := strings.TrimSpace(in.Phone)
	if contact == "" {
		contact = s.defaultAdmin
	}
	id := Identity{UserID: shortID("USER"), AccountID: shortID("ACC")}
	device := strings.TrimSpace(in.DeviceName)
	if device == "" {
		device = "Water pump " + id.AccountID
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	err = s.repo.Tx.Atomic(ctx, func(tx *repository.Repository) error {
		existing, err := tx.Users.GetByEmail(ctx, email)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrEmailTaken
		}
		if err := tx.Accounts.Create(ctx, models.Account{
			ID:           id.AccountID,
			UserID:       id.UserID,
			Active:       true,
			DeviceName:   device,
			AdminContact: contact,
			CreatedAt:    s.now().UTC(),
		}); err != nil {
			return err
		}
		return tx.Users.Create(ctx, models.User{
			ID:           id.UserID,
			FirstName:    strings.TrimSpace(in.FirstName),
			LastName:     strings.TrimSpace(in.LastName),
			Email:        email,
			PasswordHash: hash,
			AccountID:    id.AccountID,
		})
	})
	if err != nil {
		return Identity{}, classifyStoreErr(err)
	}
	return id, nil
}

// ProvisionAccount creates a standalone account if it does not exist yet.
func (s *AuthService) ProvisionAccount(ctx context.Context, a models.Account) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	err := s.repo.Tx.Atomic(ctx, func(tx *repository.Repository) error {
		existing, err := tx.Accounts.Get(ctx, a.ID)
		if err != nil || existing != nil {
			return err
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = s.now().UTC()
		}
		return tx.Accounts.Create(ctx, a)
	})
	return classifyStoreErr(err)
}

// Claims defines JWT claims
type Claims struct {
	jwt.RegisteredClaims
	UserID    string `json:"user_id"`
	AccountID string `json:"account_id"`
}

// GenerateToken validates credentials and returns JWT
func (s *AuthService) GenerateToken(ctx context.Context, email, password string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	u, err := s.repo.Users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return "", classifyStoreErr(err)
	}
	if u == nil {
		return "", ErrUserNotFound
	}

	if err := verifyPassword(u.PasswordHash, password); err != nil {
		return "", ErrInvalidPassword
	}

	return s.issueToken(Identity{UserID: u.ID, AccountID: u.AccountID})
}

// ParseToken parses JWT and returns the identity it carries
func (s *AuthService) ParseToken(accessToken string) (Identity, error) {
	token, err := jwt.ParseWithClaims(accessToken, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Ensure HMAC signing is used
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.cfg.SigningKey), nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.AccountID == "" {
		return Identity{}, ErrInvalidToken
	}

	return Identity{UserID: claims.UserID, AccountID: claims.AccountID}, nil
}

// helper: hash password safely
func hashPassword(password string) (string, error) {
	if strings.TrimSpace(password) == "" {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// helper: verify password against hash
func verifyPassword(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// helper: issue a signed JWT for an identity
func (s *AuthService) issueToken(id Identity) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   id.UserID,
		},
		UserID:    id.UserID,
		AccountID: id.AccountID,
	})
	return token.SignedString([]byte(s.cfg.SigningKey))
}
