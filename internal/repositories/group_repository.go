package repositories

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"studychat/internal/models"
)

var ErrGroupNotFound = errors.New("group not found")

// GroupRepository resolves study groups for display.
type GroupRepository interface {
	CreateGroup(ctx context.Context, name string) (models.Group, error)
	GetGroup(ctx context.Context, groupID int64) (models.Group, error)
}

// GroupRepo is a sqlx implementation of GroupRepository.
type GroupRepo struct {
	db *sqlx.DB
}

// NewGroupRepo constructs a GroupRepo.
func NewGroupRepo(db *sqlx.DB) *GroupRepo {
	return &GroupRepo{db: db}
}

// CreateGroup inserts a group row.
func (r *GroupRepo) CreateGroup(ctx context.Context, name string) (models.Group, error) {
	var group models.Group
	err := r.db.QueryRowxContext(ctx, r.db.Rebind(`INSERT INTO study_groups (name, created_at) VALUES (?, ?) RETURNING id, name, created_at`), name, time.Now().UTC()).
		Scan(&group.ID, &group.Name, &group.CreatedAt)
	return group, err
}

// GetGroup fetches a single group.
func (r *GroupRepo) GetGroup(ctx context.Context, groupID int64) (models.Group, error) {
	var group models.Group
	err := r.db.GetContext(ctx, &group, r.db.Rebind(`SELECT id, name, created_at FROM study_groups WHERE id = ?`), groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Group{}, ErrGroupNotFound
	}
	return group, err
}

// MemoryGroupRepo is an in-process GroupRepository.
type MemoryGroupRepo struct {
	mu     sync.RWMutex
	nextID int64
	groups map[int64]models.Group
}

func NewMemoryGroupRepo() *MemoryGroupRepo {
	return &MemoryGroupRepo{groups: make(map[int64]models.Group)}
}

func (r *MemoryGroupRepo) CreateGroup(_ context.Context, name string) (models.Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	group := models.Group{ID: r.nextID, Name: name, CreatedAt: time.Now()}
	r.groups[group.ID] = group
	return group, nil
}

func (r *MemoryGroupRepo) GetGroup(_ context.Context, groupID int64) (models.Group, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	group, ok := r.groups[groupID]
	if !ok {
		return models.Group{}, ErrGroupNotFound
	}
	return group, nil
}
