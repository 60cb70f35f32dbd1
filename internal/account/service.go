package account

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/congo-pay/rewards_auth/internal/apperr"
	"github.com/congo-pay/rewards_auth/internal/credential"
	"github.com/congo-pay/rewards_auth/internal/phone"
)

// Service manages the account lifecycle.
type Service struct {
	repo   Repository
	cost   int
	now    func() time.Time
	admins map[phone.Number]bool
}

// NewService creates a new account service. A zero cost selects bcrypt.DefaultCost.
func NewService(repo Repository, cost int) *Service {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Service{repo: repo, cost: cost, now: time.Now, admins: map[phone.Number]bool{}}
}

// WithAdmins makes accounts registered from these phones admins.
func (s *Service) WithAdmins(phones ...phone.Number) *Service {
	for _, p := range phones {
		s.admins[p] = true
	}
	return s
}

// Register creates a verified user. The caller has already proven ownership of the phone.
func (s *Service) Register(ctx context.Context, in RegisterInput) (User, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return User{}, ErrNameMissing
	}
	if err := credential.ValidatePassword(in.Password); err != nil {
		return User{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return User{}, apperr.Internal(err)
	}

	id := in.ID
	if id == "" {
		id = uuid.New().String()
	}
	user := User{
		ID:           id,
		Name:         name,
		Phone:        in.Phone,
		Role:         s.roleFor(in.Phone),
		IsVerified:   true,
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *Service) roleFor(p phone.Number) Role {
	if s.admins[p] {
		return RoleAdmin
	}
	return RoleUser
}

// Authenticate checks a phone/password pair. Unknown phones and wrong
// passwords produce the same error.
func (s *Service) Authenticate(ctx context.Context, p phone.Number, password string) (User, error) {
	user, err := s.repo.FindByPhone(ctx, p)
	if errors.Is(err, ErrNotFound) {
		return User{}, ErrBadLogin
	}
	if err != nil {
		return User{}, err
	}
	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)); err != nil {
		return User{}, ErrBadLogin
	}

	now := s.now().UTC()
	if err := s.repo.TouchLogin(ctx, user.ID, now); err != nil {
		return User{}, err
	}
	user.LastLogin = &now
	return user, nil
}

// Exists reports whether a phone is already registered.
func (s *Service) Exists(ctx context.Context, p phone.Number) (bool, error) {
	_, err := s.repo.FindByPhone(ctx, p)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Get returns a user by ID.
func (s *Service) Get(ctx context.Context, id string) (User, error) {
	return s.repo.FindByID(ctx, id)
}

// GetByPhone returns a user by phone.
func (s *Service) GetByPhone(ctx context.Context, p phone.Number) (User, error) {
	return s.repo.FindByPhone(ctx, p)
}

// ResetPassword replaces the password of the account registered to p.
// Tokens issued before the reset stop validating.
func (s *Service) ResetPassword(ctx context.Context, p phone.Number, password string) error {
	if err := credential.ValidatePassword(password); err != nil {
		return err
	}
	user, err := s.repo.FindByPhone(ctx, p)
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return apperr.Internal(err)
	}
	return s.repo.UpdatePassword(ctx, user.ID, hash)
}

// RevokeTokens increments the token version so older tokens become invalid.
func (s *Service) RevokeTokens(ctx context.Context, id string) error {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	return s.repo.UpdateTokenVersion(ctx, user.ID, user.TokenVersion+1)
}
