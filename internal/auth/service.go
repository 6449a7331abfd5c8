package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telecrm/backend/internal/db"
	"github.com/telecrm/backend/internal/models"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrRegistrationClosed = errors.New("public registration is disabled")
	ErrAdminRegistration  = errors.New("only an admin can create admin accounts")
	ErrInvalidRole        = errors.New("userType must be one of Admin, Agent, TeleCaller")
)

type UserStore interface {
	GetUser(ctx context.Context, id string) (models.User, error)
	GetUserByUsername(ctx context.Context, username string) (models.User, error)
	CreateUser(ctx context.Context, u *models.User) error
	// CreateFirstUser inserts u only while the directory is empty.
	CreateFirstUser(ctx context.Context, u *models.User) error
}

type RegisterInput struct {
	Username string
	Password string
	UserType string
}

type Service struct {
	Users             UserStore
	Tokens            *TokenManager
	Revoker           Revoker
	AllowRegistration bool
	Logger            zerolog.Logger
}

func NewService(users UserStore, tokens *TokenManager, revoker Revoker, allowRegistration bool, logger zerolog.Logger) *Service {
	if revoker == nil {
		revoker = NewMemoryRevoker()
	}
	return &Service{
		Users:             users,
		Tokens:            tokens,
		Revoker:           revoker,
		AllowRegistration: allowRegistration,
		Logger:            logger.With().Str("component", "auth").Logger(),
	}
}

// Register creates a user. An admin session may create any role. Without one,
// registration must be enabled, and an Admin account can only be created
// while the directory is still empty.
func (s *Service) Register(ctx context.Context, in RegisterInput, actor *Session) (models.User, error) {
	role, ok := models.ParseRole(in.UserType)
	if !ok {
		return models.User{}, ErrInvalidRole
	}

	bootstrap := false
	if actor == nil || !Allowed(actor.Role, OpCreateUser) {
		if !s.AllowRegistration {
			return models.User{}, ErrRegistrationClosed
		}
		bootstrap = role == models.RoleAdmin
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return models.User{}, err
	}
	u := models.User{
		ID:           uuid.NewString(),
		Username:     strings.TrimSpace(in.Username),
		PasswordHash: hash,
		UserType:     role,
	}
	create := s.Users.CreateUser
	if bootstrap {
		create = s.Users.CreateFirstUser
	}
	if err := create(ctx, &u); err != nil {
		switch {
		case errors.Is(err, db.ErrNotEmpty):
			return models.User{}, ErrAdminRegistration
		case errors.Is(err, db.ErrConflict):
			return models.User{}, ErrUsernameTaken
		}
		return models.User{}, fmt.Errorf("create user: %w", err)
	}

	s.Logger.Info().Str("user_id", u.ID).Str("user_type", string(u.UserType)).Msg("user registered")
	return u, nil
}

func (s *Service) Login(ctx context.Context, username, password string) (string, Session, error) {
	u, err := s.Users.GetUserByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, db.ErrNotFound) {
		return "", Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return "", Session{}, fmt.Errorf("get user: %w", err)
	}
	if !CheckPassword(u.PasswordHash, password) {
		return "", Session{}, ErrInvalidCredentials
	}
	return s.Tokens.Issue(u)
}

// Logout revokes the session's token until its natural expiry.
func (s *Service) Logout(ctx context.Context, sess Session) error {
	if err := s.Revoker.Revoke(ctx, sess.TokenID, sess.ExpiresAt); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// Authenticate turns a bearer token into a live session. The role is re-read
// from the directory so a changed or deleted user loses access immediately.
func (s *Service) Authenticate(ctx context.Context, token string) (Session, error) {
	sess, err := s.Tokens.Parse(token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.Revoker.IsRevoked(ctx, sess.TokenID)
	if err != nil {
		return Session{}, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return Session{}, ErrInvalidToken
	}

	u, err := s.Users.GetUser(ctx, sess.UserID)
	if errors.Is(err, db.ErrNotFound) {
		return Session{}, ErrInvalidToken
	}
	if err != nil {
		return Session{}, fmt.Errorf("get user: %w", err)
	}
	sess.Username = u.Username
	sess.Role = u.UserType
	return sess, nil
}
