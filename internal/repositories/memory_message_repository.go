package repositories

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"studychat/internal/models"
)

// MemoryMessageRepo keeps messages in process memory. Display fields are
// resolved from an optional UserDirectory at insert time.
type MemoryMessageRepo struct {
	mu       sync.RWMutex
	nextID   int64
	messages map[int64]models.Message
	users    UserDirectory
	now      func() time.Time
}

// UserDirectory resolves a user's display profile.
type UserDirectory interface {
	GetUser(ctx context.Context, userID int64) (models.UserProfile, error)
}

// NewMemoryMessageRepo constructs an empty in-memory repository. users may be nil.
func NewMemoryMessageRepo(users UserDirectory) *MemoryMessageRepo {
	return &MemoryMessageRepo{
		messages: make(map[int64]models.Message),
		users:    users,
		now:      time.Now,
	}
}

// WithClock overrides the creation timestamp source.
func (r *MemoryMessageRepo) WithClock(now func() time.Time) *MemoryMessageRepo {
	r.now = now
	return r
}

func (r *MemoryMessageRepo) Insert(ctx context.Context, senderID, groupID int64, content string) (models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return models.Message{}, ErrEmptyContent
	}

	msg := models.Message{
		SenderID:  senderID,
		GroupID:   groupID,
		Content:   content,
		CreatedAt: r.now(),
	}
	if r.users != nil {
		if profile, err := r.users.GetUser(ctx, senderID); err == nil {
			msg.SenderUsername = profile.Username
			msg.SenderFullName = profile.FullName
			msg.SenderProfilePicture = profile.ProfilePicture
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	msg.ID = r.nextID
	r.messages[msg.ID] = msg
	return msg, nil
}

func (r *MemoryMessageRepo) FindByID(_ context.Context, id int64) (models.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	msg, ok := r.messages[id]
	if !ok {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, nil
}

func (r *MemoryMessageRepo) FindByGroup(_ context.Context, groupID int64) ([]models.Message, error) {
	msgs := r.groupMessages(groupID, func(models.Message) bool { return true })
	sort.Slice(msgs, func(i, j int) bool { return lessMessage(msgs[i], msgs[j]) })
	return msgs, nil
}

func (r *MemoryMessageRepo) FindByGroupBefore(_ context.Context, groupID int64, before time.Time, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	msgs := r.groupMessages(groupID, func(m models.Message) bool { return m.CreatedAt.Before(before) })
	sort.Slice(msgs, func(i, j int) bool { return lessMessage(msgs[j], msgs[i]) })
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func (r *MemoryMessageRepo) Update(_ context.Context, msg models.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.messages[msg.ID]
	if !ok {
		return ErrMessageNotFound
	}
	stored.Content = msg.Content
	stored.ModifiedAt = msg.ModifiedAt
	stored.Edited = msg.Edited
	r.messages[msg.ID] = stored
	return nil
}

func (r *MemoryMessageRepo) Delete(_ context.Context, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.messages[id]; !ok {
		return false, nil
	}
	delete(r.messages, id)
	return true, nil
}

func (r *MemoryMessageRepo) CanEdit(_ context.Context, id, userID int64) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	msg, ok := r.messages[id]
	return ok && msg.SenderID == userID, nil
}

func (r *MemoryMessageRepo) CanDelete(ctx context.Context, id, userID int64, isModerator bool) (bool, error) {
	if isModerator {
		return true, nil
	}
	return r.CanEdit(ctx, id, userID)
}

func (r *MemoryMessageRepo) groupMessages(groupID int64, keep func(models.Message) bool) []models.Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	msgs := []models.Message{}
	for _, m := range r.messages {
		if m.GroupID == groupID && keep(m) {
			msgs = append(msgs, m)
		}
	}
	return msgs
}

func lessMessage(a, b models.Message) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID < b.ID
	}
	return a.CreatedAt.Before(b.CreatedAt)
}
