package services

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/cppla/meritboard/models"
	"github.com/cppla/meritboard/utils"
)

// EnsureAdmin creates an ADMIN account named username unless a user with that name
// exists. It reports whether an account was created. A same-named user with another
// role is an error and is left untouched.
func EnsureAdmin(ctx context.Context, db *gorm.DB, username, password string) (bool, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return false, nil
	}

	var existing models.User
	err := db.WithContext(ctx).Where("username = ?", username).Take(&existing).Error
	if err == nil {
		if existing.Role != models.RoleAdmin {
			return false, errors.Errorf("bootstrap admin %q exists with role %s", username, existing.Role)
		}
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, storeErr(err, "look up bootstrap admin")
	}

	hash, err := utils.HashPassword(password)
	if err != nil {
		return false, errors.Wrap(err, "hash bootstrap admin password")
	}
	admin := &models.User{Username: username, PasswordHash: hash, Role: models.RoleAdmin}
	if err := db.WithContext(ctx).Create(admin).Error; err != nil {
		return false, storeErr(err, "create bootstrap admin")
	}
	return true, nil
}
