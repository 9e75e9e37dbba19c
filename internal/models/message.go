package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// LocalDateTimeLayout is the wire layout for message timestamps: an ISO-8601
// local date-time without zone designator.
const LocalDateTimeLayout = "2006-01-02T15:04:05.999999999"

// Message represents a chat message posted to a study group.
type Message struct {
	ID                   int64      `db:"id" json:"id"`
	SenderID             int64      `db:"sender_id" json:"senderId"`
	GroupID              int64      `db:"group_id" json:"groupId"`
	Content              string     `db:"content" json:"content"`
	CreatedAt            time.Time  `db:"created_at" json:"-"`
	ModifiedAt           *time.Time `db:"modified_at" json:"-"`
	Edited               bool       `db:"edited" json:"edited"`
	SenderUsername       string     `db:"sender_username" json:"senderUsername"`
	SenderFullName       string     `db:"sender_full_name" json:"senderFullName"`
	SenderProfilePicture string     `db:"sender_profile_picture" json:"senderProfilePicture"`
}

type messageAlias Message

type messageJSON struct {
	messageAlias
	CreatedAt  *string `json:"createdAt"`
	ModifiedAt *string `json:"modifiedAt"`
}

// MarshalJSON renders timestamps as local date-time strings.
func (m Message) MarshalJSON() ([]byte, error) {
	out := messageJSON{messageAlias: messageAlias(m)}
	if !m.CreatedAt.IsZero() {
		created := FormatLocal(m.CreatedAt)
		out.CreatedAt = &created
	}
	if m.ModifiedAt != nil {
		modified := FormatLocal(*m.ModifiedAt)
		out.ModifiedAt = &modified
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts local date-time strings as well as RFC 3339 timestamps.
func (m *Message) UnmarshalJSON(data []byte) error {
	var in messageJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*m = Message(in.messageAlias)
	m.CreatedAt = time.Time{}
	m.ModifiedAt = nil
	if in.CreatedAt != nil && *in.CreatedAt != "" {
		t, err := ParseLocal(*in.CreatedAt)
		if err != nil {
			return fmt.Errorf("createdAt: %w", err)
		}
		m.CreatedAt = t
	}
	if in.ModifiedAt != nil && *in.ModifiedAt != "" {
		t, err := ParseLocal(*in.ModifiedAt)
		if err != nil {
			return fmt.Errorf("modifiedAt: %w", err)
		}
		m.ModifiedAt = &t
	}
	return nil
}

// FormatLocal formats t in the process's local zone without zone designator.
func FormatLocal(t time.Time) string {
	return t.In(time.Local).Format(LocalDateTimeLayout)
}

// ParseLocal parses a local date-time string, falling back to RFC 3339.
func ParseLocal(s string) (time.Time, error) {
	if t, err := time.ParseInLocation(LocalDateTimeLayout, s, time.Local); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// UserProfile carries the display fields denormalized onto messages.
type UserProfile struct {
	ID             int64  `db:"id" json:"id"`
	Username       string `db:"username" json:"username"`
	FullName       string `db:"full_name" json:"fullName"`
	ProfilePicture string `db:"profile_picture" json:"profilePicture"`
}
