package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pocketwebanalytics/internal/users"
)

func TestJWTManager(t *testing.T) {
	siteID := uint(7)
	user := &users.User{ID: 3, Email: "viewer@example.com", Role: users.RoleViewer, SiteID: &siteID}

	t.Run("round trips claims", func(t *testing.T) {
		m, err := NewJWTManager("secret-secret-secret-secret-1234", time.Hour)
		require.NoError(t, err)

		token, expiresAt, err := m.GenerateToken(user)
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

		claims, err := m.ValidateToken(token)
		require.NoError(t, err)
		assert.Equal(t, uint(3), claims.UserID)
		assert.Equal(t, users.RoleViewer, claims.Role)
		require.NotNil(t, claims.SiteID)
		assert.Equal(t, siteID, *claims.SiteID)
		assert.True(t, claims.User().CanReadSite(7))
		assert.False(t, claims.User().CanReadSite(8))
	})

	t.Run("rejects expired tokens", func(t *testing.T) {
		m, err := NewJWTManager("secret", time.Minute)
		require.NoError(t, err)
		m.now = func() time.Time { return time.Now().Add(-time.Hour) }

		token, _, err := m.GenerateToken(user)
		require.NoError(t, err)

		m.now = time.Now
		_, err = m.ValidateToken(token)
		assert.ErrorIs(t, err, ErrTokenExpired)
	})

	t.Run("rejects tokens signed with another secret", func(t *testing.T) {
		a, _ := NewJWTManager("secret-a", time.Hour)
		b, _ := NewJWTManager("secret-b", time.Hour)

		token, _, err := a.GenerateToken(user)
		require.NoError(t, err)

		_, err = b.ValidateToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("rejects garbage", func(t *testing.T) {
		m, _ := NewJWTManager("secret", time.Hour)
		_, err := m.ValidateToken("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("requires a secret", func(t *testing.T) {
		_, err := NewJWTManager("", time.Hour)
		assert.Error(t, err)
	})
}
