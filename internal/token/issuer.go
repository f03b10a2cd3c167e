// Package token issues media access tokens and verifies user bearer tokens.
package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dkeye/Stage/internal/domain"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
	ErrBadRequest   = errors.New("room and identity are required")
)

const defaultTTL = 6 * time.Hour

// VideoGrant mirrors the grant layout media servers expect under the "video" claim.
type VideoGrant struct {
	Room                 string `json:"room,omitempty"`
	RoomJoin             bool   `json:"roomJoin,omitempty"`
	CanPublish           *bool  `json:"canPublish,omitempty"`
	CanSubscribe         *bool  `json:"canSubscribe,omitempty"`
	CanPublishData       *bool  `json:"canPublishData,omitempty"`
	CanUpdateOwnMetadata bool   `json:"canUpdateOwnMetadata,omitempty"`
}

type AccessClaims struct {
	jwt.RegisteredClaims
	Name     string      `json:"name,omitempty"`
	Video    *VideoGrant `json:"video,omitempty"`
	Metadata string      `json:"metadata,omitempty"`
}

type Issuer struct {
	apiKey    string
	apiSecret []byte
	ttl       time.Duration
	now       func() time.Time
}

func NewIssuer(apiKey, apiSecret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Issuer{apiKey: apiKey, apiSecret: []byte(apiSecret), ttl: ttl, now: time.Now}
}

// Issue signs an access token for req. Viewers get a subscribe-only grant.
func (i *Issuer) Issue(req domain.TokenRequest) (string, error) {
	if req.Room == "" || !domain.ValidIdentity(req.Identity) {
		return "", ErrBadRequest
	}
	meta, err := json.Marshal(map[string]any{
		"user_id": req.UserID,
		"role":    req.Role,
		"level":   req.Level,
	})
	if err != nil {
		return "", err
	}

	canPublish := req.Role != domain.RoleViewer
	yes := true
	now := i.now()
	claims := &AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.apiKey,
			Subject:   req.Identity,
			NotBefore: jwt.NewNumericDate(now.Add(-10 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		Name: req.Identity,
		Video: &VideoGrant{
			Room:                 string(req.Room),
			RoomJoin:             true,
			CanPublish:           &canPublish,
			CanSubscribe:         &yes,
			CanPublishData:       &yes,
			CanUpdateOwnMetadata: true,
		},
		Metadata: string(meta),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.apiSecret)
}

// Token lets the issuer serve in-process clients directly.
func (i *Issuer) Token(_ context.Context, req domain.TokenRequest) (string, error) {
	tok, err := i.Issue(req)
	if errors.Is(err, ErrBadRequest) {
		return "", domain.ErrNoSession
	}
	return tok, err
}

// Parse validates a token signed by this issuer.
func (i *Issuer) Parse(raw string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return i.apiSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(i.apiKey))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}
