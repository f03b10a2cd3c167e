package token

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Stage/internal/domain"
)

func TestIssuerGrant(t *testing.T) {
	iss := NewIssuer("devkey", "secret", 0)
	fixed := time.Now().Truncate(time.Second)
	iss.now = func() time.Time { return fixed }

	raw, err := iss.Issue(domain.TokenRequest{Room: "officer-stream", Identity: "id-1", UserID: "u1", Role: "officer", Level: 7})
	require.NoError(t, err)

	claims, err := iss.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "id-1", claims.Subject)
	assert.Equal(t, "devkey", claims.Issuer)
	assert.Equal(t, fixed.Add(-10*time.Second).Unix(), claims.NotBefore.Unix())
	assert.Equal(t, fixed.Add(6*time.Hour).Unix(), claims.ExpiresAt.Unix())
	require.NotNil(t, claims.Video)
	assert.Equal(t, "officer-stream", claims.Video.Room)
	assert.True(t, claims.Video.RoomJoin)
	assert.True(t, *claims.Video.CanPublish)

	var meta map[string]any
	require.NoError(t, json.Unmarshal([]byte(claims.Metadata), &meta))
	assert.Equal(t, "u1", meta["user_id"])
}

func TestIssuerViewerCannotPublish(t *testing.T) {
	iss := NewIssuer("devkey", "secret", time.Hour)
	raw, err := iss.Issue(domain.TokenRequest{Room: "r", Identity: "id-2", Role: domain.RoleViewer})
	require.NoError(t, err)

	claims, err := iss.Parse(raw)
	require.NoError(t, err)
	assert.False(t, *claims.Video.CanPublish)
	assert.True(t, *claims.Video.CanSubscribe)
}

func TestIssuerRejectsPlaceholderIdentity(t *testing.T) {
	iss := NewIssuer("devkey", "secret", time.Hour)
	for _, id := range []string{"", "undefined", "null"} {
		_, err := iss.Issue(domain.TokenRequest{Room: "r", Identity: id})
		assert.ErrorIs(t, err, ErrBadRequest, id)
	}
	_, err := iss.Token(context.Background(), domain.TokenRequest{Room: "r"})
	assert.ErrorIs(t, err, domain.ErrNoSession)
}

func TestVerifier(t *testing.T) {
	v := NewVerifier("s3cret", "accounts")
	actor := domain.Actor{Identity: "id-1", UserID: "u1", Username: "alice", Role: "officer", Level: 3}

	raw, err := v.Mint(actor, time.Minute)
	require.NoError(t, err)

	got, err := v.Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, actor, got)

	_, err = NewVerifier("other", "accounts").Verify(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := v.Mint(actor, -time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(expired)
	assert.ErrorIs(t, err, ErrExpiredToken)
}
