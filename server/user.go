package server

import (
	"crypto/subtle"
	"strings"

	"github.com/migadu/ftrd/config"
	"golang.org/x/crypto/bcrypt"
)

// User is a configured account as seen by a session.
type User struct {
	Username string
	Root     string
	password string
}

func NewUser(cfg config.UserConfig) *User {
	return &User{
		Username: cfg.Username,
		Root:     cfg.Root,
		password: cfg.Password,
	}
}

// IsHashed reports whether the stored password is a bcrypt hash.
func (u *User) IsHashed() bool {
	return strings.HasPrefix(u.password, "$2a$") ||
		strings.HasPrefix(u.password, "$2b$") ||
		strings.HasPrefix(u.password, "$2y$")
}

// CheckPassword compares pass against the stored password. An empty stored
// password never matches.
func (u *User) CheckPassword(pass string) bool {
	if u == nil || u.password == "" {
		return false
	}
	if u.IsHashed() {
		return bcrypt.CompareHashAndPassword([]byte(u.password), []byte(pass)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(u.password), []byte(pass)) == 1
}
