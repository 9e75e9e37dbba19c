package repositories

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"github.com/jmoiron/sqlx"

	"studychat/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

// UserRepository stores the display profiles joined onto messages.
type UserRepository interface {
	UserDirectory
	UpsertUser(ctx context.Context, profile models.UserProfile) error
}

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

// UpsertUser inserts or refreshes a profile.
func (r *UserRepo) UpsertUser(ctx context.Context, p models.UserProfile) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`INSERT INTO users (id, username, full_name, profile_picture) VALUES (?, ?, ?, ?)
        ON CONFLICT (id) DO UPDATE SET username = excluded.username, full_name = excluded.full_name, profile_picture = excluded.profile_picture`),
		p.ID, p.Username, p.FullName, p.ProfilePicture)
	return err
}

// GetUser fetches one profile.
func (r *UserRepo) GetUser(ctx context.Context, userID int64) (models.UserProfile, error) {
	var p models.UserProfile
	err := r.db.GetContext(ctx, &p, r.db.Rebind(`SELECT id, username, full_name, profile_picture FROM users WHERE id = ?`), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.UserProfile{}, ErrUserNotFound
	}
	return p, err
}

// MemoryUserRepo is an in-process UserRepository.
type MemoryUserRepo struct {
	mu    sync.RWMutex
	users map[int64]models.UserProfile
}

func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{users: make(map[int64]models.UserProfile)}
}

func (r *MemoryUserRepo) UpsertUser(_ context.Context, p models.UserProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[p.ID] = p
	return nil
}

func (r *MemoryUserRepo) GetUser(_ context.Context, userID int64) (models.UserProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.users[userID]
	if !ok {
		return models.UserProfile{}, ErrUserNotFound
	}
	return p, nil
}
