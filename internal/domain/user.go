// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"slices"
	"strings"
)

const (
	MaxUserIDLen   = 64
	MaxUsernameLen = 36
)

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
	ErrIdentityEmpty   = errors.New("identity empty")
)

const RoleViewer = "viewer"

// Actor is an authenticated user as seen by the server and by a client session.
// Identity is the media-session identity, UserID the account id behind it.
type Actor struct {
	Identity  string `json:"identity"`
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Role      string `json:"role"`
	Level     int    `json:"level"`
}

// ValidIdentity rejects the placeholder values browsers tend to leak into tokens.
func ValidIdentity(identity string) bool {
	identity = strings.TrimSpace(identity)
	return identity != "" && identity != "undefined" && identity != "null" && len(identity) <= MaxUserIDLen
}

func (a Actor) Occupant() Occupant {
	return Occupant{
		UserID:    a.UserID,
		Username:  a.Username,
		AvatarURL: a.AvatarURL,
		Role:      a.Role,
		Metadata:  map[string]any{"identity": a.Identity, "level": a.Level},
	}
}

func (a Actor) HasRole(roles []string) bool {
	return a.Role != "" && slices.Contains(roles, strings.ToLower(a.Role))
}

func CheckUsername(username string) error {
	if len(username) == 0 {
		return ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	return nil
}
