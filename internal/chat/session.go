// Package chat sequences durable message writes before their live
// notifications: nothing is announced until the store has accepted it.
package chat

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"studychat/internal/models"
	"studychat/internal/repositories"
	"studychat/internal/telemetry"
)

// Notifier transmits an envelope to the other participants.
type Notifier interface {
	SendEvent(ctx context.Context, env models.Envelope) error
}

// Session is the facade used by user-facing surfaces to send, edit and
// delete messages.
type Session struct {
	store    repositories.MessageRepository
	notifier Notifier
	audit    *telemetry.AuditEmitter
	now      func() time.Time
	tracer   trace.Tracer
}

// Option configures a Session.
type Option func(*Session)

// WithAudit records every successful mutation through emitter.
func WithAudit(emitter *telemetry.AuditEmitter) Option {
	return func(s *Session) { s.audit = emitter }
}

// WithClock overrides the modification timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// NewSession constructs a Session. notifier may be nil, in which case every
// mutation reports ErrTransport after the durable write.
func NewSession(store repositories.MessageRepository, notifier Notifier, opts ...Option) *Session {
	s := &Session{
		store:    store,
		notifier: notifier,
		now:      time.Now,
		tracer:   otel.Tracer("studychat/chat"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send stores a new message and announces it. On a transport failure the
// stored message is still returned together with an ErrTransport error.
func (s *Session) Send(ctx context.Context, senderID, groupID int64, content string) (models.Message, error) {
	const op = "send"
	ctx, span := s.tracer.Start(ctx, "chat.send", trace.WithAttributes(
		attribute.Int64("chat.sender_id", senderID),
		attribute.Int64("chat.group_id", groupID),
	))
	defer span.End()

	content = strings.TrimSpace(content)
	if content == "" {
		return models.Message{}, s.fail(span, newError(op, KindValidation, nil))
	}

	msg, err := s.store.Insert(ctx, senderID, groupID, content)
	if err != nil {
		if errors.Is(err, repositories.ErrEmptyContent) {
			return models.Message{}, s.fail(span, newError(op, KindValidation, err))
		}
		return models.Message{}, s.fail(span, newError(op, KindInternal, err))
	}
	span.SetAttributes(attribute.Int64("chat.message_id", msg.ID))
	s.audit.Emit(ctx, telemetry.AuditRecord{Action: telemetry.ActionSend, UserID: senderID, GroupID: groupID, MessageID: msg.ID})

	if err := s.notify(ctx, models.NewMessageEnvelope(msg)); err != nil {
		return msg, s.fail(span, newError(op, KindTransport, err))
	}
	return msg, nil
}

// Edit replaces the content of a message authored by userID and announces the
// change by id only.
func (s *Session) Edit(ctx context.Context, messageID, userID int64, content string) (models.Message, error) {
	const op = "edit"
	ctx, span := s.tracer.Start(ctx, "chat.edit", trace.WithAttributes(
		attribute.Int64("chat.message_id", messageID),
		attribute.Int64("chat.user_id", userID),
	))
	defer span.End()

	content = strings.TrimSpace(content)
	if content == "" {
		return models.Message{}, s.fail(span, newError(op, KindValidation, nil))
	}

	msg, err := s.store.FindByID(ctx, messageID)
	if err != nil {
		return models.Message{}, s.fail(span, storeError(op, err))
	}

	allowed, err := s.store.CanEdit(ctx, messageID, userID)
	if err != nil {
		return models.Message{}, s.fail(span, storeError(op, err))
	}
	if !allowed {
		return models.Message{}, s.fail(span, newError(op, KindPermission, nil))
	}

	modified := s.now()
	if modified.Before(msg.CreatedAt) {
		modified = msg.CreatedAt
	}
	msg.Content = content
	msg.ModifiedAt = &modified
	msg.Edited = true

	if err := s.store.Update(ctx, msg); err != nil {
		return models.Message{}, s.fail(span, storeError(op, err))
	}
	s.audit.Emit(ctx, telemetry.AuditRecord{Action: telemetry.ActionEdit, UserID: userID, GroupID: msg.GroupID, MessageID: messageID})

	if err := s.notify(ctx, models.EditEnvelope(messageID)); err != nil {
		return msg, s.fail(span, newError(op, KindTransport, err))
	}
	return msg, nil
}

// Delete removes a message on behalf of its author or a moderator.
func (s *Session) Delete(ctx context.Context, messageID, userID int64, isModerator bool) error {
	const op = "delete"
	ctx, span := s.tracer.Start(ctx, "chat.delete", trace.WithAttributes(
		attribute.Int64("chat.message_id", messageID),
		attribute.Int64("chat.user_id", userID),
		attribute.Bool("chat.moderator", isModerator),
	))
	defer span.End()

	msg, err := s.store.FindByID(ctx, messageID)
	if err != nil {
		return s.fail(span, storeError(op, err))
	}

	allowed, err := s.store.CanDelete(ctx, messageID, userID, isModerator)
	if err != nil {
		return s.fail(span, storeError(op, err))
	}
	if !allowed {
		return s.fail(span, newError(op, KindPermission, nil))
	}

	removed, err := s.store.Delete(ctx, messageID)
	if err != nil {
		return s.fail(span, storeError(op, err))
	}
	if !removed {
		return s.fail(span, newError(op, KindNotFound, nil))
	}
	s.audit.Emit(ctx, telemetry.AuditRecord{
		Action:    telemetry.ActionDelete,
		Text:      moderationNote(isModerator, msg.SenderID != userID),
		UserID:    userID,
		GroupID:   msg.GroupID,
		MessageID: messageID,
	})

	if err := s.notify(ctx, models.DeleteEnvelope(messageID)); err != nil {
		return s.fail(span, newError(op, KindTransport, err))
	}
	return nil
}

// Message re-fetches one message, e.g. after an edit notification.
func (s *Session) Message(ctx context.Context, messageID int64) (models.Message, error) {
	msg, err := s.store.FindByID(ctx, messageID)
	if err != nil {
		return models.Message{}, storeError("fetch", err)
	}
	return msg, nil
}

// History returns the whole conversation of a group, oldest first.
func (s *Session) History(ctx context.Context, groupID int64) ([]models.Message, error) {
	msgs, err := s.store.FindByGroup(ctx, groupID)
	if err != nil {
		return nil, storeError("history", err)
	}
	return msgs, nil
}

// HistoryBefore pages backwards from before, newest first.
func (s *Session) HistoryBefore(ctx context.Context, groupID int64, before time.Time, limit int) ([]models.Message, error) {
	msgs, err := s.store.FindByGroupBefore(ctx, groupID, before, limit)
	if err != nil {
		return nil, storeError("history", err)
	}
	return msgs, nil
}

func (s *Session) notify(ctx context.Context, env models.Envelope) error {
	if s.notifier == nil {
		return errors.New("no notifier configured")
	}
	if err := s.notifier.SendEvent(ctx, env); err != nil {
		log.Printf("chat: broadcast failed type=%s id=%d err=%v", env.Type, env.MessageID(), err)
		return err
	}
	return nil
}

func (s *Session) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(KindOf(err)))
	return err
}

func moderationNote(isModerator, foreign bool) string {
	if isModerator && foreign {
		return "removed by moderator"
	}
	return ""
}

func storeError(op string, err error) error {
	switch {
	case errors.Is(err, repositories.ErrMessageNotFound):
		return newError(op, KindNotFound, err)
	case errors.Is(err, repositories.ErrEmptyContent):
		return newError(op, KindValidation, err)
	default:
		return newError(op, KindInternal, err)
	}
}
