package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"

	"rip-sage/internal/config"
)

// HashCost is the bcrypt cost used by HashPassword.
const HashCost = 12

var ErrInvalidCredentials = errors.New("invalid username or password")

// User is an account allowed to log in.
type User struct {
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
	Role         string `json:"role"`
}

// Users is the fixed account list from the web configuration.
type Users struct {
	byName map[string]User
	// dummy is compared against when the username is unknown so that a
	// miss costs the same as a wrong password.
	dummy []byte
}

func NewUsers(cfg []config.WebUser) *Users {
	u := &Users{byName: make(map[string]User, len(cfg))}
	for _, c := range cfg {
		u.byName[c.Username] = User{Username: c.Username, PasswordHash: c.PasswordHash, Role: c.Role}
	}
	u.dummy, _ = bcrypt.GenerateFromPassword([]byte("rip-web"), bcrypt.MinCost)
	return u
}

// Len returns the number of configured accounts.
func (u *Users) Len() int { return len(u.byName) }

// Authenticate checks password against the stored bcrypt hash.
func (u *Users) Authenticate(username, password string) (User, error) {
	user, ok := u.byName[username]
	if !ok {
		_ = bcrypt.CompareHashAndPassword(u.dummy, []byte(password))
		return User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return User{}, ErrInvalidCredentials
	}
	return user, nil
}

// HashPassword returns a bcrypt hash suitable for web.users[].password_hash.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), HashCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
