package users

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/karloscodes/cartridge/crypto"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

// Roles
const (
	RoleAdmin   = "admin"
	RoleSupport = "support"
	RoleEditor  = "editor"
	RoleViewer  = "viewer"
)

// bcrypt hash of "dummy", verified when the email is unknown so that login
// timing does not reveal which accounts exist.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

type User struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	Email             string    `gorm:"uniqueIndex" json:"email"`
	EncryptedPassword string    `json:"-"`
	Role              string    `gorm:"not null;default:'viewer'" json:"role"`
	SiteID            *uint     `gorm:"index" json:"site_id"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// ErrUserExists is returned when attempting to create a user that already exists.
var ErrUserExists = errors.New("user already exists")

// ErrUserNotFound is returned when a user lookup fails.
var ErrUserNotFound = gorm.ErrRecordNotFound

// ErrInvalidCredentials is returned by Authenticate for an unknown email or a
// wrong password.
var ErrInvalidCredentials = errors.New("invalid email or password")

// ErrInvalidRole is returned for a role outside the known set.
var ErrInvalidRole = errors.New("invalid role")

// ValidRole reports whether role is one of the known roles.
func ValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleSupport, RoleEditor, RoleViewer:
		return true
	}
	return false
}

// ReadsAllSites reports whether the user may read every site.
func (u *User) ReadsAllSites() bool {
	return u.Role == RoleAdmin || u.Role == RoleSupport
}

// CanReadSite reports whether the user may read a site's data.
func (u *User) CanReadSite(siteID uint) bool {
	if u.ReadsAllSites() {
		return true
	}
	return u.SiteID != nil && *u.SiteID == siteID
}

// CanWriteSite reports whether the user may change a site's settings.
func (u *User) CanWriteSite(siteID uint) bool {
	if u.Role == RoleAdmin {
		return true
	}
	return u.Role == RoleEditor && u.SiteID != nil && *u.SiteID == siteID
}

// FindByEmail retrieves a user by email.
func FindByEmail(db *gorm.DB, email string) (*User, error) {
	var user User
	if err := db.Where("email = ?", email).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByID retrieves a user by ID.
func FindByID(db *gorm.DB, id uint) (*User, error) {
	var user User
	if err := db.Where("id = ?", id).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// Create adds a user with the given role, optionally scoped to a site. It
// returns ErrUserExists if the email is taken.
func Create(dbConn *gorm.DB, logger *slog.Logger, email, password, role string, siteID *uint) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, errors.New("email cannot be empty")
	}
	if password == "" {
		return nil, errors.New("password cannot be empty")
	}
	if role == "" {
		role = RoleViewer
	}
	if !ValidRole(role) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRole, role)
	}

	if _, err := FindByEmail(dbConn, email); err == nil {
		return nil, ErrUserExists
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	hashedPassword, err := crypto.GeneratePasswordHash(password)
	if err != nil {
		return nil, err
	}

	newUser := &User{
		Email:             email,
		EncryptedPassword: string(hashedPassword),
		Role:              role,
		SiteID:            siteID,
	}
	err = sqlite.PerformWrite(logger, dbConn, func(tx *gorm.DB) error {
		return tx.Create(newUser).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return newUser, nil
}

// CreateAdminUser creates a new admin user with the supplied credentials. It returns ErrUserExists if the user already exists.
func CreateAdminUser(dbConn *gorm.DB, email, password string) error {
	_, err := Create(dbConn, slog.Default(), email, password, RoleAdmin, nil)
	return err
}

// Authenticate checks an email and password pair.
func Authenticate(db *gorm.DB, email, password string) (*User, error) {
	user, err := FindByEmail(db, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		crypto.VerifyPassword(dummyHash, password)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !crypto.VerifyPassword(user.EncryptedPassword, password) {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// ChangePassword updates a user's password given their email.
func ChangePassword(dbConn *gorm.DB, email, password string) error {
	if password == "" {
		return errors.New("password cannot be empty")
	}

	user, err := FindByEmail(dbConn, email)
	if err != nil {
		return err
	}

	hashedPassword, err := crypto.GeneratePasswordHash(password)
	if err != nil {
		return err
	}

	logger := slog.Default()
	return sqlite.PerformWrite(logger, dbConn, func(tx *gorm.DB) error {
		return tx.Model(user).Update("encrypted_password", string(hashedPassword)).Error
	})
}
