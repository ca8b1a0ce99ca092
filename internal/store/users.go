package store

import (
	"database/sql"

	"github.com/cityscope/cityscope/internal/models"
)

func (s *Store) CreateUser(email, hashedPassword string) (*models.User, error) {
	res, err := s.db.Exec(`
		INSERT INTO users (email, hashed_password) VALUES (?, ?)
	`, email, hashedPassword)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &models.User{ID: id, Email: email, HashedPassword: hashedPassword, IsActive: true}, nil
}

// GetUserByEmail returns nil when no user has the email.
func (s *Store) GetUserByEmail(email string) (*models.User, error) {
	row := s.db.QueryRow(`
		SELECT id, email, hashed_password, is_active, created_at FROM users WHERE email = ?
	`, email)

	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.HashedPassword, &u.IsActive, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
