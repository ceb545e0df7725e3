package users_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"pocketwebanalytics/internal/sites"
	"pocketwebanalytics/internal/testsupport"
	"pocketwebanalytics/internal/users"
)

func TestFindByEmail(t *testing.T) {
	dbManager, _ := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()

	t.Run("finds existing user", func(t *testing.T) {
		testUser := testsupport.CreateTestUser(t, db, "test@example.com", "password123", users.RoleAdmin, nil)

		foundUser, err := users.FindByEmail(db, "test@example.com")

		require.NoError(t, err)
		assert.Equal(t, testUser.ID, foundUser.ID)
		assert.Equal(t, users.RoleAdmin, foundUser.Role)
	})

	t.Run("returns error for non-existent user", func(t *testing.T) {
		foundUser, err := users.FindByEmail(db, "nonexistent@example.com")

		assert.Nil(t, foundUser)
		assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	})
}

func TestCreate(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	site := testsupport.CreateTestSite(t, db, "acme", sites.Settings{})

	t.Run("normalizes email and defaults to viewer", func(t *testing.T) {
		user, err := users.Create(db, logger, "  Viewer@Example.com ", "password123", "", &site.ID)
		require.NoError(t, err)

		assert.Equal(t, "viewer@example.com", user.Email)
		assert.Equal(t, users.RoleViewer, user.Role)
		require.NotNil(t, user.SiteID)
		assert.Equal(t, site.ID, *user.SiteID)
		assert.NotEqual(t, "password123", user.EncryptedPassword)
	})

	t.Run("rejects duplicates", func(t *testing.T) {
		_, err := users.Create(db, logger, "dup@example.com", "password123", users.RoleEditor, &site.ID)
		require.NoError(t, err)

		_, err = users.Create(db, logger, "DUP@example.com", "password123", users.RoleEditor, &site.ID)
		assert.ErrorIs(t, err, users.ErrUserExists)
	})

	t.Run("rejects invalid input", func(t *testing.T) {
		tests := []struct {
			name     string
			email    string
			password string
			role     string
		}{
			{"empty email", "", "password123", users.RoleAdmin},
			{"empty password", "x@example.com", "", users.RoleAdmin},
			{"unknown role", "y@example.com", "password123", "owner"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := users.Create(db, logger, tt.email, tt.password, tt.role, nil)
				assert.Error(t, err)
			})
		}
	})

	t.Run("create admin user", func(t *testing.T) {
		require.NoError(t, users.CreateAdminUser(db, "root@example.com", "securepassword123"))
		assert.ErrorIs(t, users.CreateAdminUser(db, "root@example.com", "other"), users.ErrUserExists)
	})
}

func TestAuthenticate(t *testing.T) {
	dbManager, _ := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	testsupport.CreateTestUser(t, db, "login@example.com", "correct-horse", users.RoleAdmin, nil)

	tests := []struct {
		name     string
		email    string
		password string
		wantErr  error
	}{
		{"valid credentials", "login@example.com", "correct-horse", nil},
		{"email is case insensitive", " LOGIN@example.com", "correct-horse", nil},
		{"wrong password", "login@example.com", "wrong", users.ErrInvalidCredentials},
		{"unknown email", "nobody@example.com", "correct-horse", users.ErrInvalidCredentials},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, err := users.Authenticate(db, tt.email, tt.password)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, user)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "login@example.com", user.Email)
		})
	}
}

func TestChangePassword(t *testing.T) {
	dbManager, _ := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	testsupport.CreateTestUser(t, db, "change@example.com", "old-password", users.RoleAdmin, nil)

	t.Run("updates the password", func(t *testing.T) {
		require.NoError(t, users.ChangePassword(db, "change@example.com", "new-password"))

		_, err := users.Authenticate(db, "change@example.com", "new-password")
		assert.NoError(t, err)
		_, err = users.Authenticate(db, "change@example.com", "old-password")
		assert.ErrorIs(t, err, users.ErrInvalidCredentials)
	})

	t.Run("rejects empty password", func(t *testing.T) {
		assert.Error(t, users.ChangePassword(db, "change@example.com", ""))
	})

	t.Run("unknown user", func(t *testing.T) {
		assert.ErrorIs(t, users.ChangePassword(db, "ghost@example.com", "password"), gorm.ErrRecordNotFound)
	})
}

func TestPermissions(t *testing.T) {
	own, other := uint(1), uint(2)

	tests := []struct {
		name      string
		user      users.User
		canRead   bool
		canWrite  bool
		readsAll  bool
		otherRead bool
	}{
		{"admin", users.User{Role: users.RoleAdmin}, true, true, true, true},
		{"support", users.User{Role: users.RoleSupport}, true, false, true, true},
		{"editor", users.User{Role: users.RoleEditor, SiteID: &own}, true, true, false, false},
		{"viewer", users.User{Role: users.RoleViewer, SiteID: &own}, true, false, false, false},
		{"viewer without site", users.User{Role: users.RoleViewer}, false, false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.canRead, tt.user.CanReadSite(own))
			assert.Equal(t, tt.canWrite, tt.user.CanWriteSite(own))
			assert.Equal(t, tt.readsAll, tt.user.ReadsAllSites())
			assert.Equal(t, tt.otherRead, tt.user.CanReadSite(other))
		})
	}
}
