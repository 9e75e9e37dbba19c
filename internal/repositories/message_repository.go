package repositories

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"studychat/internal/models"
)

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrEmptyContent    = errors.New("message content is empty")
)

// DefaultPageSize is used by FindByGroupBefore when no positive limit is given.
const DefaultPageSize = 50

// MessageRepository defines durable storage and ownership checks for group messages.
type MessageRepository interface {
	Insert(ctx context.Context, senderID, groupID int64, content string) (models.Message, error)
	FindByID(ctx context.Context, id int64) (models.Message, error)
	FindByGroup(ctx context.Context, groupID int64) ([]models.Message, error)
	FindByGroupBefore(ctx context.Context, groupID int64, before time.Time, limit int) ([]models.Message, error)
	Update(ctx context.Context, msg models.Message) error
	Delete(ctx context.Context, id int64) (bool, error)
	CanEdit(ctx context.Context, id, userID int64) (bool, error)
	CanDelete(ctx context.Context, id, userID int64, isModerator bool) (bool, error)
}

// MessageRepo is a sqlx-backed MessageRepository. Queries are written with '?'
// placeholders and rebound for the connected driver.
type MessageRepo struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewMessageRepo constructs a MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db, now: time.Now}
}

// WithClock overrides the creation timestamp source.
func (r *MessageRepo) WithClock(now func() time.Time) *MessageRepo {
	r.now = now
	return r
}

const selectMessage = `SELECT m.id, m.group_id, m.sender_id, m.content, m.created_at, m.modified_at, m.edited,
        COALESCE(u.username, '') AS sender_username,
        COALESCE(u.full_name, '') AS sender_full_name,
        COALESCE(u.profile_picture, '') AS sender_profile_picture
        FROM group_messages m
        LEFT JOIN users u ON u.id = m.sender_id`

// Insert stores a new message and returns it with the sender's display fields.
func (r *MessageRepo) Insert(ctx context.Context, senderID, groupID int64, content string) (models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return models.Message{}, ErrEmptyContent
	}

	var id int64
	query := r.db.Rebind(`INSERT INTO group_messages (group_id, sender_id, content, created_at, edited) VALUES (?, ?, ?, ?, ?) RETURNING id`)
	if err := r.db.QueryRowxContext(ctx, query, groupID, senderID, content, r.now().UTC(), false).Scan(&id); err != nil {
		return models.Message{}, err
	}
	return r.FindByID(ctx, id)
}

// FindByID fetches a single message.
func (r *MessageRepo) FindByID(ctx context.Context, id int64) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, r.db.Rebind(selectMessage+` WHERE m.id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// FindByGroup returns every message of a group, oldest first.
func (r *MessageRepo) FindByGroup(ctx context.Context, groupID int64) ([]models.Message, error) {
	msgs := []models.Message{}
	err := r.db.SelectContext(ctx, &msgs, r.db.Rebind(selectMessage+` WHERE m.group_id = ? ORDER BY m.created_at ASC, m.id ASC`), groupID)
	return msgs, err
}

// FindByGroupBefore pages backwards from the cursor, newest first.
func (r *MessageRepo) FindByGroupBefore(ctx context.Context, groupID int64, before time.Time, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	msgs := []models.Message{}
	err := r.db.SelectContext(ctx, &msgs, r.db.Rebind(selectMessage+` WHERE m.group_id = ? AND m.created_at < ? ORDER BY m.created_at DESC, m.id DESC LIMIT ?`), groupID, before.UTC(), limit)
	return msgs, err
}

// Update persists content, modified_at and edited in place.
func (r *MessageRepo) Update(ctx context.Context, msg models.Message) error {
	var modified interface{}
	if msg.ModifiedAt != nil {
		modified = msg.ModifiedAt.UTC()
	}
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE group_messages SET content = ?, modified_at = ?, edited = ? WHERE id = ?`), msg.Content, modified, msg.Edited, msg.ID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// Delete physically removes a message and reports whether a row was removed.
func (r *MessageRepo) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM group_messages WHERE id = ?`), id)
	if err != nil {
		return false, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// CanEdit reports whether userID authored the message.
func (r *MessageRepo) CanEdit(ctx context.Context, id, userID int64) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, r.db.Rebind(`SELECT EXISTS(SELECT 1 FROM group_messages WHERE id = ? AND sender_id = ?)`), id, userID)
	return exists, err
}

// CanDelete reports whether userID may delete the message.
func (r *MessageRepo) CanDelete(ctx context.Context, id, userID int64, isModerator bool) (bool, error) {
	if isModerator {
		return true, nil
	}
	return r.CanEdit(ctx, id, userID)
}
