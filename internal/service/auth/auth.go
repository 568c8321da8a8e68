// Package auth covers the account contract the core depends on: sign-up,
// log-in, token resolution and user existence checks.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"
	"unicode"

	"haine/internal/apperr"
	"haine/internal/model"
	"haine/internal/repository"
	"haine/internal/utils/log"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	minNameLen     = 4
	minPasswordLen = 8
	maxPasswordLen = 72 // bcrypt input limit, in bytes
	tokenBytes     = 32
)

type (
	TokenCache interface {
		Get(ctx context.Context, token string) (userID int64, ok bool, err error)
		Set(ctx context.Context, token string, userID int64) error
	}

	Service struct {
		users  repository.UserStore
		tokens repository.TokenStore
		cache  TokenCache
		cost   int
		now    func() time.Time
	}

	Option func(*Service)
)

func WithCache(cache TokenCache) Option {
	return func(s *Service) { s.cache = cache }
}

func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.cost = cost }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(users repository.UserStore, tokens repository.TokenStore, opts ...Option) *Service {
	s := &Service{
		users:  users,
		tokens: tokens,
		cost:   bcrypt.DefaultCost,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) SignUp(ctx context.Context, name, password string) (int64, error) {
	name = strings.TrimSpace(name)
	if len([]rune(name)) < minNameLen {
		return 0, apperr.ShortName()
	}
	if !passwordSatisfied(password) {
		return 0, apperr.WeakPassword()
	}
	if len(password) > maxPasswordLen {
		return 0, apperr.InvalidParam("password")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return 0, errors.Wrap(err, "hash password")
	}

	id, err := s.users.Create(ctx, &model.User{
		Name:         name,
		PasswordHash: hash,
		LastSeen:     s.now().Unix(),
	})
	if errors.Is(err, repository.ErrDuplicate) {
		return 0, apperr.UserExists(name)
	}
	if err != nil {
		return 0, err
	}

	log.Info("user signed up", zap.Int64("user", id))
	return id, nil
}

func (s *Service) LogIn(ctx context.Context, name, password string) (*model.Token, error) {
	user, err := s.users.GetByName(ctx, strings.TrimSpace(name))
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperr.WrongCredentials()
	}
	if bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)) != nil {
		return nil, apperr.WrongCredentials()
	}

	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, errors.Wrap(err, "generate token")
	}

	token := &model.Token{
		Token:   hex.EncodeToString(raw),
		UserID:  user.ID,
		Created: s.now().Unix(),
	}
	if err := s.tokens.Create(ctx, token); err != nil {
		return nil, err
	}
	return token, nil
}

// Authenticate resolves token to a user id and refreshes the user's
// last-seen time.
func (s *Service) Authenticate(ctx context.Context, token string) (int64, error) {
	if token == "" {
		return 0, apperr.Unauthorized()
	}

	userID, err := s.resolve(ctx, token)
	if err != nil {
		return 0, err
	}

	if err := s.users.TouchLastSeen(ctx, userID, s.now().Unix()); err != nil {
		log.Warn("refresh last seen failed", zap.Int64("user", userID), zap.Error(err))
	}
	return userID, nil
}

func (s *Service) resolve(ctx context.Context, token string) (int64, error) {
	if s.cache != nil {
		id, ok, err := s.cache.Get(ctx, token)
		if err != nil {
			log.Warn("token cache get failed", zap.Error(err))
		} else if ok {
			return id, nil
		}
	}

	t, err := s.tokens.Get(ctx, token)
	if err != nil {
		return 0, err
	}
	if t == nil {
		return 0, apperr.Unauthorized()
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, token, t.UserID); err != nil {
			log.Warn("token cache set failed", zap.Error(err))
		}
	}
	return t.UserID, nil
}

func (s *Service) GetUser(ctx context.Context, id int64) (*model.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperr.UserNotFound(id)
	}
	return user, nil
}

// RequireUser returns a NotFound error unless user id exists.
func (s *Service) RequireUser(ctx context.Context, id int64) error {
	ok, err := s.users.Exists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.UserNotFound(id)
	}
	return nil
}

func passwordSatisfied(password string) bool {
	if len(password) < minPasswordLen {
		return false
	}

	var upper, lower bool
	for _, r := range password {
		upper = upper || unicode.IsUpper(r)
		lower = lower || unicode.IsLower(r)
	}
	return upper && lower
}
