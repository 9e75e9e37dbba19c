package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"studychat/internal/chat"
	"studychat/internal/telemetry"
)

// MessageHandler exposes edits and deletions of individual messages.
type MessageHandler struct {
	session *chat.Session
	audit   *telemetry.AuditEmitter
}

// NewMessageHandler constructs a MessageHandler.
func NewMessageHandler(session *chat.Session, audit *telemetry.AuditEmitter) *MessageHandler {
	return &MessageHandler{session: session, audit: audit}
}

// EditMessage handles PATCH /messages/:message_id.
func (h *MessageHandler) EditMessage(c *gin.Context) {
	messageID, ok := parseID(c, "message_id")
	if !ok {
		return
	}

	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.emitAudit(c, "invalid request payload", messageID)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.session.Edit(c.Request.Context(), messageID, userIDFromContext(c), req.Content)
	if err != nil {
		if chat.KindOf(err) == chat.KindTransport {
			respondChatError(c, err, gin.H{"message": msg})
			return
		}
		h.emitAudit(c, "edit: "+string(chat.KindOf(err)), messageID)
		respondChatError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

// DeleteMessage handles DELETE /messages/:message_id. Moderators may delete
// any message.
func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	messageID, ok := parseID(c, "message_id")
	if !ok {
		return
	}

	err := h.session.Delete(c.Request.Context(), messageID, userIDFromContext(c), moderatorFromContext(c))
	if err != nil {
		if chat.KindOf(err) != chat.KindTransport {
			h.emitAudit(c, "delete: "+string(chat.KindOf(err)), messageID)
		}
		respondChatError(c, err, nil)
		return
	}
	c.Status(http.StatusNoContent)
}

// emitAudit records a rejected request; accepted mutations are audited by the
// session itself.
func (h *MessageHandler) emitAudit(c *gin.Context, text string, messageID int64) {
	h.audit.Emit(c.Request.Context(), telemetry.AuditRecord{
		Level:     "ERROR",
		Action:    telemetry.ActionRejected,
		Text:      text,
		RequestID: requestIDFromContext(c),
		UserID:    userIDFromContext(c),
		MessageID: messageID,
	})
}

func parseID(c *gin.Context, param string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(param), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + param})
		return 0, false
	}
	return id, true
}
