package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"studychat/internal/chat"
	"studychat/internal/models"
	"studychat/internal/repositories"
	"studychat/internal/telemetry"
)

const maxPageSize = 500

// GroupHandler manages group lookups and the group conversation.
type GroupHandler struct {
	groupRepo repositories.GroupRepository
	session   *chat.Session
	audit     *telemetry.AuditEmitter
}

// NewGroupHandler constructs a GroupHandler.
func NewGroupHandler(groupRepo repositories.GroupRepository, session *chat.Session, audit *telemetry.AuditEmitter) *GroupHandler {
	return &GroupHandler{
		groupRepo: groupRepo,
		session:   session,
		audit:     audit,
	}
}

// CreateGroup handles POST /groups.
func (h *GroupHandler) CreateGroup(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.emitAudit(c, "ERROR", telemetry.ActionRejected, "invalid request payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	group, err := h.groupRepo.CreateGroup(c.Request.Context(), req.Name)
	if err != nil {
		h.emitAudit(c, "ERROR", telemetry.ActionGroup, "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create group"})
		return
	}

	h.emitAudit(c, "INFO", telemetry.ActionGroup, "group "+group.Name)
	c.JSON(http.StatusCreated, gin.H{"group": group})
}

// GetGroup handles GET /groups/:group_id.
func (h *GroupHandler) GetGroup(c *gin.Context) {
	groupID, ok := parseID(c, "group_id")
	if !ok {
		return
	}

	group, err := h.groupRepo.GetGroup(c.Request.Context(), groupID)
	if err != nil {
		if errors.Is(err, repositories.ErrGroupNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "group not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load group"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"group": group})
}

// GetGroupMessages returns the conversation oldest first, or with ?before= a
// page of older messages newest first.
func (h *GroupHandler) GetGroupMessages(c *gin.Context) {
	groupID, ok := parseID(c, "group_id")
	if !ok {
		return
	}

	before := c.Query("before")
	if before == "" {
		msgs, err := h.session.History(c.Request.Context(), groupID)
		if err != nil {
			respondChatError(c, err, nil)
			return
		}
		c.JSON(http.StatusOK, gin.H{"messages": nonNil(msgs)})
		return
	}

	cursor, err := models.ParseLocal(before)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid before timestamp"})
		return
	}
	limit := repositories.DefaultPageSize
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > maxPageSize {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
	}

	msgs, err := h.session.HistoryBefore(c.Request.Context(), groupID, cursor, limit)
	if err != nil {
		respondChatError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": nonNil(msgs)})
}

// PostGroupMessage stores a message and announces it to every connected peer.
func (h *GroupHandler) PostGroupMessage(c *gin.Context) {
	groupID, ok := parseID(c, "group_id")
	if !ok {
		return
	}

	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.emitAudit(c, "ERROR", telemetry.ActionRejected, "invalid request payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.session.Send(c.Request.Context(), userIDFromContext(c), groupID, req.Content)
	if err != nil {
		if chat.KindOf(err) == chat.KindTransport {
			respondChatError(c, err, gin.H{"message": msg})
			return
		}
		h.emitAudit(c, "ERROR", telemetry.ActionRejected, "send: "+string(chat.KindOf(err)))
		respondChatError(c, err, nil)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

func (h *GroupHandler) emitAudit(c *gin.Context, level, action, text string) {
	h.audit.Emit(c.Request.Context(), telemetry.AuditRecord{
		Level:     level,
		Action:    action,
		Text:      text,
		RequestID: requestIDFromContext(c),
		UserID:    userIDFromContext(c),
	})
}

func nonNil(msgs []models.Message) []models.Message {
	if msgs == nil {
		return []models.Message{}
	}
	return msgs
}
