package service

import (
	"crypto/subtle"
	"errors"
	"time"

	configs "github.com/dvalenciano/igflow/configs"
	"github.com/dvalenciano/igflow/pkg/utils"
)

var ErrBadCredentials = errors.New("invalid credentials")

const sessionDuration = 7 * 24 * time.Hour

// AuthService issues operator session tokens. This is a single-operator
// system: one admin password, no user accounts.
type AuthService interface {
	Login(password string) (token string, expiresAt time.Time, err error)
}

type authService struct {
	cfg *configs.Config
}

func NewAuthService(cfg *configs.Config) AuthService {
	return &authService{cfg: cfg}
}

func (s *authService) Login(password string) (string, time.Time, error) {
	if s.cfg.AdminPassword == "" ||
		subtle.ConstantTimeCompare([]byte(password), []byte(s.cfg.AdminPassword)) != 1 {
		return "", time.Time{}, ErrBadCredentials
	}

	expiresAt := time.Now().Add(sessionDuration)
	token, err := utils.GenerateToken(s.cfg.SecretKey, "admin", sessionDuration)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}
