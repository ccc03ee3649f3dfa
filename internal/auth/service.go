// Package auth issues access tokens and manages credentials.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/sudo-init-do/nearhub/internal/apperr"
	"github.com/sudo-init-do/nearhub/internal/logger"
	"github.com/sudo-init-do/nearhub/internal/models"
	"github.com/sudo-init-do/nearhub/internal/utils"
)

const (
	RoleUser  = models.RoleUser
	RoleAdmin = models.RoleAdmin

	tokenTTL = 72 * time.Hour
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountSuspended   = errors.New("account suspended")
	ErrInvalidResetToken  = errors.New("invalid or expired token")
)

// Users is the credential side of the user table.
type Users interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	SetPassword(ctx context.Context, userID, hash string) error
	SetRoleByEmail(ctx context.Context, email, role string) error
	CreatePasswordReset(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	ConsumePasswordReset(ctx context.Context, tokenHash string, at time.Time) (string, error)
}

// Wallets creates the wallet on first sight of a user.
type Wallets interface {
	GetOrCreate(ctx context.Context, userID string) (*models.Wallet, error)
}

// Emails queues account emails.
type Emails interface {
	EnqueueWelcomeEmail(ctx context.Context, userID, email, name string) error
	EnqueuePasswordReset(ctx context.Context, userID, email, name, token string) error
}

type Config struct {
	Secret          []byte
	ResetTTL        time.Duration
	BootstrapSecret string
}

type Service struct {
	users   Users
	wallets Wallets
	emails  Emails
	cfg     Config
	cost    int
	now     func() time.Time
	log     *logrus.Entry
}

func NewService(users Users, wallets Wallets, emails Emails, cfg Config) *Service {
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = 30 * time.Minute
	}
	return &Service{
		users:   users,
		wallets: wallets,
		emails:  emails,
		cfg:     cfg,
		cost:    bcrypt.DefaultCost,
		now:     time.Now,
		log:     logger.Component("auth"),
	}
}

// Session is what signup and login hand back.
type Session struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Service) issue(u *models.User) (*Session, error) {
	tok, err := utils.IssueToken(s.cfg.Secret, u.ID, u.Role, tokenTTL)
	if err != nil {
		return nil, fmt.Errorf("token generation failed: %w", err)
	}
	return &Session{Token: tok, User: u}, nil
}

// ensureWallet is best effort; the wallet is created lazily on first use anyway.
func (s *Service) ensureWallet(ctx context.Context, userID string) {
	if s.wallets == nil {
		return
	}
	if _, err := s.wallets.GetOrCreate(ctx, userID); err != nil {
		s.log.WithError(err).WithField("user_id", userID).Warn("wallet creation failed")
	}
}

type SignupInput struct {
	Name     string `json:"name" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

func (s *Service) Signup(ctx context.Context, in SignupInput) (*Session, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &models.User{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(in.Name),
		Email:     normalizeEmail(in.Email),
		Password:  string(hashed),
		Role:      RoleUser,
		IsActive:  true,
		CreatedAt: s.now(),
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	s.ensureWallet(ctx, u.ID)

	if s.emails != nil {
		if err := s.emails.EnqueueWelcomeEmail(ctx, u.ID, u.Email, u.Name); err != nil {
			s.log.WithError(err).WithField("user_id", u.ID).Warn("welcome email not queued")
		}
	}
	s.log.WithField("user_id", u.ID).Info("user signed up")
	return s.issue(u)
}

type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (s *Service) Login(ctx context.Context, in LoginInput) (*Session, error) {
	u, err := s.users.GetUserByEmail(ctx, normalizeEmail(in.Email))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(in.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !u.IsActive {
		return nil, ErrAccountSuspended
	}
	s.ensureWallet(ctx, u.ID)
	return s.issue(u)
}

func (s *Service) Me(ctx context.Context, userID string) (*models.User, error) {
	return s.users.GetUser(ctx, userID)
}

// RequestPasswordReset never reveals whether the email exists.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	u, err := s.users.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil
		}
		return err
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return fmt.Errorf("generate reset token: %w", err)
	}
	token := hex.EncodeToString(raw)
	if err := s.users.CreatePasswordReset(ctx, hashToken(token), u.ID, s.now().Add(s.cfg.ResetTTL)); err != nil {
		return err
	}
	if s.emails != nil {
		if err := s.emails.EnqueuePasswordReset(ctx, u.ID, u.Email, u.Name, token); err != nil {
			return err
		}
	}
	s.log.WithField("user_id", u.ID).Info("password reset requested")
	return nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

type ResetInput struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=6"`
}

// ResetPassword consumes a single use token.
func (s *Service) ResetPassword(ctx context.Context, in ResetInput) error {
	userID, err := s.users.ConsumePasswordReset(ctx, hashToken(in.Token), s.now())
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return ErrInvalidResetToken
		}
		return err
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(in.NewPassword), s.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.SetPassword(ctx, userID, string(hashed)); err != nil {
		return err
	}
	s.log.WithField("user_id", userID).Info("password reset")
	return nil
}

var (
	ErrBootstrapDisabled = errors.New("bootstrap disabled")
	ErrBadSecret         = errors.New("invalid secret")
)

// BootstrapAdmin promotes an existing user when the shared secret matches.
func (s *Service) BootstrapAdmin(ctx context.Context, email, secret string) error {
	if s.cfg.BootstrapSecret == "" {
		return ErrBootstrapDisabled
	}
	if subtle.ConstantTimeCompare([]byte(secret), []byte(s.cfg.BootstrapSecret)) != 1 {
		return ErrBadSecret
	}
	if err := s.users.SetRoleByEmail(ctx, normalizeEmail(email), RoleAdmin); err != nil {
		return err
	}
	s.log.WithField("email", email).Warn("user promoted to admin via bootstrap")
	return nil
}
