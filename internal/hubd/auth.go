package hubd

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// ErrBadCredentials covers both unknown email and wrong password, so a
// caller cannot probe which accounts exist.
var ErrBadCredentials = errors.New("invalid email or password")

const sessionTTL = 30 * 24 * time.Hour

// HashPassword produces a bcrypt hash for storage.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func checkPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Authenticate verifies the email/password pair and issues a session token.
func (s *Store) Authenticate(ctx context.Context, email, password string) (userID, token string, err error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return "", "", ErrBadCredentials
	}

	user, err := s.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", "", ErrBadCredentials
		}
		return "", "", err
	}
	if !checkPassword(user.PasswordHash, password) {
		return "", "", ErrBadCredentials
	}

	token = uuid.NewString()
	if err := s.SaveSession(ctx, token, user.ID, time.Now().Add(sessionTTL)); err != nil {
		return "", "", err
	}
	return user.ID, token, nil
}
