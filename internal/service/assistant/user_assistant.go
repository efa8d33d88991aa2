package assistant

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"beepgenesis/internal/models"
)

// Service handles user lifecycle, persona selection, and history persistence.
type Service struct {
	db *sql.DB
	// adminEmail bootstraps the admin role at registration time only.
	adminEmail string
}

// NewService builds a new assistant service.
func NewService(db *sql.DB, adminEmail string) *Service {
	return &Service{db: db, adminEmail: strings.ToLower(strings.TrimSpace(adminEmail))}
}

// RegisterUser creates a user with the supplied credentials. A registration
// matching the configured admin email receives the admin role claim.
func (s *Service) RegisterUser(ctx context.Context, username, email, password, persona string) (*models.User, error) {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))
	password = strings.TrimSpace(password)
	if username == "" || password == "" {
		return nil, errors.New("username and password are required")
	}
	selected, err := models.ParsePersona(persona)
	if err != nil {
		return nil, err
	}

	role := models.RoleMember
	if s.adminEmail != "" && email == s.adminEmail {
		role = models.RoleAdmin
	}

	hash := hashPassword(password)
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, email, password_hash, role, persona, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		username, email, hash, string(role), string(selected), now,
	)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("user id: %w", err)
	}
	return &models.User{
		ID:           id,
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Persona:      selected,
		CreatedAt:    now,
	}, nil
}

// CreateGuest registers an ephemeral identity with the guest role and no
// password. Guests can chat but hold no other capability.
func (s *Service) CreateGuest(ctx context.Context) (*models.User, error) {
	username := "guest-" + strings.Split(uuid.NewString(), "-")[0]
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, email, password_hash, role, persona, created_at) VALUES (?, '', '', ?, ?, ?)`,
		username, string(models.RoleGuest), string(models.DefaultPersona), now,
	)
	if err != nil {
		return nil, fmt.Errorf("create guest: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("guest id: %w", err)
	}
	return &models.User{
		ID:        id,
		Username:  username,
		Role:      models.RoleGuest,
		Persona:   models.DefaultPersona,
		CreatedAt: now,
	}, nil
}

// Login validates credentials and returns the user profile.
func (s *Service) Login(ctx context.Context, username, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	password = strings.TrimSpace(password)
	if username == "" || password == "" {
		return nil, errors.New("username and password are required")
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, email, password_hash, role, persona, created_at FROM users WHERE username = ?`, username,
	)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.New("invalid credentials")
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	if user.Role == models.RoleGuest {
		return nil, errors.New("invalid credentials")
	}
	if user.PasswordHash != hashPassword(password) {
		return nil, errors.New("invalid credentials")
	}
	return user, nil
}

// GetUser fetches one user by id.
func (s *Service) GetUser(ctx context.Context, id int64) (*models.User, error) {
	if id <= 0 {
		return nil, errors.New("invalid user id")
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, email, password_hash, role, persona, created_at FROM users WHERE id = ?`, id,
	)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return user, nil
}

// SetPersona persists the user's chosen persona. Persona is a first-class
// field; nothing in the system re-derives it from message text.
func (s *Service) SetPersona(ctx context.Context, userID int64, persona string) (models.Persona, error) {
	if userID <= 0 {
		return "", errors.New("invalid user id")
	}
	selected, err := models.ParsePersona(persona)
	if err != nil {
		return "", err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE users SET persona = ? WHERE id = ?`, string(selected), userID)
	if err != nil {
		return "", fmt.Errorf("update persona: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return "", sql.ErrNoRows
	}
	return selected, nil
}

// DeleteUser removes a user and cascaded data.
func (s *Service) DeleteUser(ctx context.Context, id int64) error {
	if id <= 0 {
		return errors.New("invalid user id")
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListUsers returns every registered identity for the admin surface.
func (s *Service) ListUsers(ctx context.Context) ([]models.UserSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, username, email, role, persona, created_at FROM users ORDER BY id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make([]models.UserSummary, 0)
	for rows.Next() {
		var u models.UserSummary
		var role, persona string
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &role, &persona, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		u.Role = models.UserRole(role)
		u.Persona = models.Persona(persona)
		users = append(users, u)
	}
	return users, rows.Err()
}

func scanUser(row *sql.Row) (*models.User, error) {
	var user models.User
	var role, persona string
	if err := row.Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &role, &persona, &user.CreatedAt); err != nil {
		return nil, err
	}
	user.Role = models.UserRole(role)
	user.Persona = models.Persona(persona)
	return &user, nil
}

func hashPassword(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}
