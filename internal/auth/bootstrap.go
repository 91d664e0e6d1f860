package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// BootstrapConfig describes the initial administrator account.
type BootstrapConfig struct {
	Username string
	Email    string
	// PasswordPath receives the generated password (mode 0600).
	PasswordPath string
	// LogPassword logs the password once instead of writing PasswordPath.
	LogPassword bool
}

// BootstrapAdmin creates an active administrator holding the ADMIN role when
// no user with cfg.Username exists. It is idempotent.
func (s *Service) BootstrapAdmin(ctx context.Context, cfg BootstrapConfig) error {
	username := Normalize(cfg.Username)
	email := Normalize(cfg.Email)
	if username == "" || email == "" {
		return fmt.Errorf("%w: bootstrap admin username and email are required", ErrInvalidInput)
	}

	if _, err := s.users.FindByUsernameOrEmail(ctx, username); err == nil {
		return nil
	} else if !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("check admin: %w", err)
	}

	path := strings.TrimSpace(cfg.PasswordPath)
	if path == "" && !cfg.LogPassword {
		return fmt.Errorf("%w: bootstrap admin password path is required", ErrInvalidInput)
	}

	role, err := s.users.FindRoleByName(ctx, RoleAdmin)
	if err != nil {
		return fmt.Errorf("load %s role: %w", RoleAdmin, err)
	}

	password, err := generatePassword(24)
	if err != nil {
		return err
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	now := s.now().UTC()
	admin := &User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
		Roles:        []Role{*role},
	}
	if err := s.users.Save(ctx, admin); err != nil {
		return fmt.Errorf("create admin: %w", err)
	}

	if !cfg.LogPassword {
		if err := os.WriteFile(path, []byte(password+"\n"), 0o600); err != nil {
			return fmt.Errorf("write admin password: %w", err)
		}
		s.logger.InfoContext(ctx, "initial admin created", "username", username, "password_path", path)
		return nil
	}
	s.logger.WarnContext(ctx, "initial admin created", "username", username, "password", password,
		"created_at", now.Format(time.RFC3339))
	return nil
}

func generatePassword(length int) (string, error) {
	if length <= 0 {
		return "", errors.New("password length must be positive")
	}
	raw := make([]byte, length)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw)[:length], nil
}
